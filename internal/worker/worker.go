package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/sessions"
	"github.com/classlive/coordinator/pkg/queue"
	"github.com/classlive/coordinator/pkg/storage"
)

// HarvestProcessor turns stopped sessions into harvested ones: it moves the
// session through HARVESTING while the recording is collected, then marks it
// HARVESTED. The transition happens server-side, independent of any client.
type HarvestProcessor struct {
	sessionRepo *sessions.Repository
	s3          *storage.S3
	queue       *queue.Queue
	logger      *zap.Logger
}

// NewHarvestProcessor creates a harvest processor. s3 may be nil; the
// recording presence check is then skipped.
func NewHarvestProcessor(sessionRepo *sessions.Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *HarvestProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HarvestProcessor{sessionRepo: sessionRepo, s3: s3, queue: q, logger: logger}
}

// Process executes one harvest job.
func (p *HarvestProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeHarvest {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.HarvestPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	s, err := p.sessionRepo.GetByID(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s.LiveState == models.LiveHarvested {
		p.logger.Info("session already harvested", zap.String("session_id", s.ID.String()))
		return nil
	}

	// HARVESTING is allowed as a source so a retried job can resume.
	if _, err := p.sessionRepo.UpdateLiveState(ctx, payload.SessionID,
		[]models.LiveState{models.LiveStopped, models.LiveHarvesting}, models.LiveHarvesting); err != nil {
		return fmt.Errorf("enter harvesting: %w", err)
	}

	// The distribution segments are collected into the recording object by
	// the media pipeline; wait for it to land before flipping to harvested.
	if p.s3 != nil {
		if err := p.awaitRecording(ctx, payload.SessionID.String()); err != nil {
			return err
		}
	}

	if _, err := p.sessionRepo.UpdateLiveState(ctx, payload.SessionID,
		[]models.LiveState{models.LiveHarvesting}, models.LiveHarvested); err != nil {
		return fmt.Errorf("finish harvesting: %w", err)
	}

	p.logger.Info("session harvested", zap.String("session_id", payload.SessionID.String()))
	return nil
}

func (p *HarvestProcessor) awaitRecording(ctx context.Context, sessionID string) error {
	// Reuse the manifest probe: once the manifest is gone the pipeline has
	// finalized the recording. Bounded wait; the job retries on failure.
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		ready, err := p.s3.ManifestReady(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("probe manifest: %w", err)
		}
		if !ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return fmt.Errorf("recording for session %s not finalized in time", sessionID)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *HarvestProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("harvest worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
