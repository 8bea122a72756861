package database

import (
	"context"
	"errors"
	"fmt"

	"dharani-backend/internal/models"

	"github.com/oklog/ulid/v2"
)

// RequestPatch carries the document fields a lifecycle step writes alongside
// its status. Nil fields are left untouched.
type RequestPatch struct {
	WasteCategory    *string
	Priority         *string
	AssignedWorkerID *string
	Analysis         *models.WasteAnalysis
	Assignment       *models.Assignment
	Completion       *models.Completion
	Impact           *models.EnvironmentalImpact
}

func (p *RequestPatch) empty() bool {
	return p == nil || (p.WasteCategory == nil && p.Priority == nil && p.AssignedWorkerID == nil &&
		p.Analysis == nil && p.Assignment == nil && p.Completion == nil && p.Impact == nil)
}

// RecordStep appends entry to the request's timeline and moves the request to
// status in one transaction. A status lower than the current one is rejected
// with ErrInvalidTransition and nothing is written, as is a second entry for a
// step the request already recorded. On success entry.ID,
// entry.Seq and entry.CreatedAt are filled in.
func (s *Store) RecordStep(ctx context.Context, entry *models.TimelineEntry, status models.RequestStatus, patch *RequestPatch) error {
	rank := status.Rank()
	if rank == 0 {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now().Unix()

	// The conditional update also row-locks the request, serializing
	// sequence allocation for concurrent writers.
	res, err := tx.ExecContext(ctx, `
		UPDATE service_requests SET
			status = $2,
			status_rank = $3,
			updated_at = $4,
			completed_at = CASE WHEN $2 = 'completed' THEN COALESCE(completed_at, $4) ELSE completed_at END
		WHERE request_id = $1 AND status_rank <= $3
	`, entry.RequestID, string(status), rank, now)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM service_requests WHERE request_id = $1)`, entry.RequestID); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return fmt.Errorf("%w: to %s", ErrInvalidTransition, status)
	}

	if !patch.empty() {
		_, err := tx.ExecContext(ctx, `
			UPDATE service_requests SET
				waste_category = COALESCE($2, waste_category),
				priority = COALESCE($3, priority),
				assigned_worker_id = COALESCE($4, assigned_worker_id),
				analysis = COALESCE($5, analysis),
				assignment = COALESCE($6, assignment),
				completion = COALESCE($7, completion),
				environmental_impact = COALESCE($8, environmental_impact)
			WHERE request_id = $1
		`, entry.RequestID, patch.WasteCategory, patch.Priority, patch.AssignedWorkerID,
			patch.Analysis, patch.Assignment, patch.Completion, patch.Impact)
		if err != nil {
			return fmt.Errorf("update request fields: %w", err)
		}
	}

	var seq int
	if err := tx.GetContext(ctx, &seq,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM request_timeline WHERE request_id = $1`, entry.RequestID); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	entry.ID = ulid.Make().String()
	entry.Seq = seq
	entry.CreatedAt = now
	if entry.Context == nil {
		entry.Context = models.JSONMap{}
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO request_timeline (id, request_id, seq, step, message, context,
			submitter_visible, worker_visible, oversight_visible, processing_seconds, created_at)
		VALUES (:id, :request_id, :seq, :step, :message, :context,
			:submitter_visible, :worker_visible, :oversight_visible, :processing_seconds, :created_at)
	`, entry)
	if err != nil {
		if errors.Is(duplicate(err), ErrDuplicate) {
			return fmt.Errorf("%w: step %s already recorded", ErrInvalidTransition, entry.Step)
		}
		return fmt.Errorf("insert timeline entry: %w", err)
	}

	return tx.Commit()
}

// GetTimeline returns every entry for the request in append order.
func (s *Store) GetTimeline(ctx context.Context, requestID string) ([]models.TimelineEntry, error) {
	var entries []models.TimelineEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, request_id, seq, step, message, context, submitter_visible, worker_visible,
			oversight_visible, processing_seconds, created_at
		FROM request_timeline WHERE request_id = $1 ORDER BY seq
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("get timeline: %w", err)
	}
	return entries, nil
}
