package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voicelink-backend/internal/domain"
	apperrors "voicelink-backend/pkg/errors"
)

// CallRepository handles call history persistence
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Record writes one finished call to history
func (r *CallRepository) Record(ctx context.Context, rec *domain.CallRecord) error {
	query := `
		INSERT INTO calls (
			call_id, room_id, caller_id, status, started_at, ended_at, duration
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		rec.CallID,
		rec.RoomID,
		rec.CallerID,
		rec.Status,
		rec.StartedAt,
		rec.EndedAt,
		rec.Duration,
	)

	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}

	return nil
}

// GetByID retrieves a call record by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error) {
	query := `
		SELECT call_id, room_id, caller_id, status, started_at, ended_at, duration
		FROM calls
		WHERE call_id = $1
	`

	rec := &domain.CallRecord{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&rec.CallID,
		&rec.RoomID,
		&rec.CallerID,
		&rec.Status,
		&rec.StartedAt,
		&rec.EndedAt,
		&rec.Duration,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	return rec, nil
}

// GetRoomCalls retrieves the call history of a room, newest first
func (r *CallRepository) GetRoomCalls(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error) {
	query := `
		SELECT call_id, room_id, caller_id, status, started_at, ended_at, duration
		FROM calls
		WHERE room_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, roomID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get room calls: %w", err)
	}
	defer rows.Close()

	return scanCallRecords(rows)
}

// GetUserCalls retrieves all calls a user initiated, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error) {
	query := `
		SELECT call_id, room_id, caller_id, status, started_at, ended_at, duration
		FROM calls
		WHERE caller_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	return scanCallRecords(rows)
}

func scanCallRecords(rows pgx.Rows) ([]*domain.CallRecord, error) {
	var records []*domain.CallRecord
	for rows.Next() {
		rec := &domain.CallRecord{}
		err := rows.Scan(
			&rec.CallID,
			&rec.RoomID,
			&rec.CallerID,
			&rec.Status,
			&rec.StartedAt,
			&rec.EndedAt,
			&rec.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		records = append(records, rec)
	}

	return records, nil
}
