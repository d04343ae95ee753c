package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classlive/coordinator/internal/models"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid live state transition")
)

// Repository handles session persistence. The participant lists are stored
// as jsonb and mutated only through add/remove-by-id, so duplicate delivery
// of the same broadcast never duplicates entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, title, live_state, live_type, join_mode, has_chat, channel_config, asking_to_join, in_discussion, created_by, created_at, updated_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var channel, asking, discussion []byte
	err := row.Scan(&s.ID, &s.Title, &s.LiveState, &s.LiveType, &s.JoinMode, &s.HasChat,
		&channel, &asking, &discussion, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(channel, &s.Channel); err != nil {
		return nil, fmt.Errorf("decode channel config: %w", err)
	}
	if err := json.Unmarshal(asking, &s.AskingToJoin); err != nil {
		return nil, fmt.Errorf("decode asking list: %w", err)
	}
	if err := json.Unmarshal(discussion, &s.InDiscussion); err != nil {
		return nil, fmt.Errorf("decode discussion list: %w", err)
	}
	return &s, nil
}

// Create inserts a new session.
func (r *Repository) Create(ctx context.Context, s *models.Session) error {
	channel, err := json.Marshal(s.Channel)
	if err != nil {
		return fmt.Errorf("encode channel config: %w", err)
	}
	const q = `INSERT INTO sessions (id, title, live_state, live_type, join_mode, has_chat, channel_config, created_by)
		VALUES (gen_random_uuid(), $1, 'IDLE', $2, $3, $4, $5, $6)
		RETURNING id, live_state, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.Title, s.LiveType, s.JoinMode, s.HasChat, channel, s.CreatedBy).
		Scan(&s.ID, &s.LiveState, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, q, id))
}

// List returns all sessions, newest first.
func (r *Repository) List(ctx context.Context) ([]models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// mutateLists applies fn to the two participant lists under a row lock and
// writes the result back. fn must be idempotent; applying it twice leaves the
// lists identical to applying it once.
func (r *Repository) mutateLists(ctx context.Context, id uuid.UUID, fn func(asking, discussion []models.Participant) ([]models.Participant, []models.Participant)) (*models.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	s, err := scanSession(tx.QueryRow(ctx, q, id))
	if err != nil {
		return nil, err
	}

	s.AskingToJoin, s.InDiscussion = fn(s.AskingToJoin, s.InDiscussion)
	asking, err := json.Marshal(listOrEmpty(s.AskingToJoin))
	if err != nil {
		return nil, err
	}
	discussion, err := json.Marshal(listOrEmpty(s.InDiscussion))
	if err != nil {
		return nil, err
	}

	const upd = `UPDATE sessions SET asking_to_join = $1, in_discussion = $2, updated_at = NOW() WHERE id = $3 RETURNING updated_at`
	if err := tx.QueryRow(ctx, upd, asking, discussion, id).Scan(&s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// AddAsking upserts a participant into the asking-to-join list. The id is
// removed from the discussion list first so the two sets stay disjoint.
func (r *Repository) AddAsking(ctx context.Context, id uuid.UUID, p models.Participant) (*models.Session, error) {
	return r.mutateLists(ctx, id, func(asking, discussion []models.Participant) ([]models.Participant, []models.Participant) {
		asking, discussion = models.MoveParticipant(asking, discussion, p)
		return asking, discussion
	})
}

// RemoveAsking removes a participant id from the asking-to-join list.
func (r *Repository) RemoveAsking(ctx context.Context, id uuid.UUID, participantID string) (*models.Session, error) {
	return r.mutateLists(ctx, id, func(asking, discussion []models.Participant) ([]models.Participant, []models.Participant) {
		return models.RemoveParticipant(asking, participantID), discussion
	})
}

// AddDiscussion upserts a participant into the discussion list and removes
// the id from the asking-to-join list.
func (r *Repository) AddDiscussion(ctx context.Context, id uuid.UUID, p models.Participant) (*models.Session, error) {
	return r.mutateLists(ctx, id, func(asking, discussion []models.Participant) ([]models.Participant, []models.Participant) {
		discussion, asking = models.MoveParticipant(discussion, asking, p)
		return asking, discussion
	})
}

// RemoveDiscussion removes a participant id from the discussion list.
func (r *Repository) RemoveDiscussion(ctx context.Context, id uuid.UUID, participantID string) (*models.Session, error) {
	return r.mutateLists(ctx, id, func(asking, discussion []models.Participant) ([]models.Participant, []models.Participant) {
		return asking, models.RemoveParticipant(discussion, participantID)
	})
}

// UpdateLiveState moves a session from one of the allowed states to the new
// state. Returns ErrInvalidTransition when the current state is not allowed.
func (r *Repository) UpdateLiveState(ctx context.Context, id uuid.UUID, from []models.LiveState, to models.LiveState) (*models.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	s, err := scanSession(tx.QueryRow(ctx, q, id))
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, st := range from {
		if s.LiveState == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.LiveState, to)
	}

	const upd = `UPDATE sessions SET live_state = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at`
	if err := tx.QueryRow(ctx, upd, to, id).Scan(&s.UpdatedAt); err != nil {
		return nil, err
	}
	s.LiveState = to
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func listOrEmpty(list []models.Participant) []models.Participant {
	if list == nil {
		return []models.Participant{}
	}
	return list
}
