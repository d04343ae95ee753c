package attendance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classlive/coordinator/internal/models"
)

// Repository handles attendance_records. A record's buckets column is merged
// with the jsonb concatenation operator, so a later push for the same bucket
// overwrites the earlier sample (last write wins per bucket) and pushing the
// same mapping twice is a no-op.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert merges the pushed buckets into the viewer's record, creating the
// record lazily on first push.
func (r *Repository) Upsert(ctx context.Context, sessionID uuid.UUID, viewerID string, buckets map[int64]models.AttendanceSample) error {
	raw, err := json.Marshal(buckets)
	if err != nil {
		return fmt.Errorf("encode buckets: %w", err)
	}
	const q = `INSERT INTO attendance_records (session_id, viewer_id, buckets) VALUES ($1, $2, $3)
		ON CONFLICT (session_id, viewer_id)
		DO UPDATE SET buckets = attendance_records.buckets || EXCLUDED.buckets, updated_at = NOW()`
	_, err = r.pool.Exec(ctx, q, sessionID, viewerID, raw)
	return err
}

// ListBySession returns all attendance records for a session.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error) {
	const q = `SELECT viewer_id, buckets FROM attendance_records WHERE session_id = $1 ORDER BY viewer_id`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.AttendanceRecord
	for rows.Next() {
		var rec models.AttendanceRecord
		var raw []byte
		if err := rows.Scan(&rec.ViewerID, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &rec.Buckets); err != nil {
			return nil, fmt.Errorf("decode buckets: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// Get returns one viewer's record, or nil when none exists yet.
func (r *Repository) Get(ctx context.Context, sessionID uuid.UUID, viewerID string) (*models.AttendanceRecord, error) {
	const q = `SELECT viewer_id, buckets FROM attendance_records WHERE session_id = $1 AND viewer_id = $2`
	var rec models.AttendanceRecord
	var raw []byte
	err := r.pool.QueryRow(ctx, q, sessionID, viewerID).Scan(&rec.ViewerID, &raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &rec.Buckets); err != nil {
		return nil, fmt.Errorf("decode buckets: %w", err)
	}
	return &rec, nil
}
