package database

import (
	"context"
	"fmt"

	"dharani-backend/internal/models"

	"github.com/shopspring/decimal"
)

const requestColumns = `request_id, user_id, user_role, description, images, latitude, longitude,
	address, area, city, waste_category, priority, status, status_rank, assigned_worker_id,
	analysis, assignment, completion, environmental_impact, created_at, updated_at, completed_at`

// CreateRequest persists a freshly submitted request.
func (s *Store) CreateRequest(ctx context.Context, r *models.ServiceRequest) error {
	r.StatusRank = r.Status.Rank()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO service_requests (request_id, user_id, user_role, description, images,
			latitude, longitude, address, area, city, priority, status, status_rank,
			created_at, updated_at)
		VALUES (:request_id, :user_id, :user_role, :description, :images,
			:latitude, :longitude, :address, :area, :city, :priority, :status, :status_rank,
			:created_at, :updated_at)
	`, r)
	if err != nil {
		return fmt.Errorf("insert request: %w", duplicate(err))
	}
	return nil
}

// CountRequestsBetween counts requests created in [from, to).
func (s *Store) CountRequestsBetween(ctx context.Context, from, to int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM service_requests WHERE created_at >= $1 AND created_at < $2`, from, to)
	return count, err
}

func (s *Store) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	var r models.ServiceRequest
	err := s.db.GetContext(ctx, &r, `SELECT `+requestColumns+` FROM service_requests WHERE request_id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// RequestFilter narrows ListRequests. Empty fields match everything.
type RequestFilter struct {
	UserID   string
	WorkerID string
	City     string
	Status   string
	Limit    int

	// OldestFirst pages in (created_at, request_id) order, resuming after
	// After when it is set.
	OldestFirst bool
	After       *RequestCursor
}

// RequestCursor is the last row of a previous OldestFirst page.
type RequestCursor struct {
	CreatedAt int64
	RequestID string
}

// where renders the scoping fields of f as AND clauses.
func (f RequestFilter) where() (string, []interface{}) {
	var clauses string
	args := []interface{}{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		clauses += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if f.WorkerID != "" {
		args = append(args, f.WorkerID)
		clauses += fmt.Sprintf(` AND assigned_worker_id = $%d`, len(args))
	}
	if f.City != "" {
		args = append(args, f.City)
		clauses += fmt.Sprintf(` AND LOWER(city) = LOWER($%d)`, len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		clauses += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	return clauses, args
}

func (s *Store) ListRequests(ctx context.Context, f RequestFilter) ([]models.ServiceRequest, error) {
	clauses, args := f.where()
	query := `SELECT ` + requestColumns + ` FROM service_requests WHERE 1=1` + clauses

	if f.OldestFirst && f.After != nil {
		args = append(args, f.After.CreatedAt, f.After.RequestID)
		query += fmt.Sprintf(` AND (created_at, request_id) > ($%d, $%d)`, len(args)-1, len(args))
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	order := `created_at DESC`
	if f.OldestFirst {
		order = `created_at, request_id`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY %s LIMIT $%d`, order, len(args))

	var out []models.ServiceRequest
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

// StatusTotals is one status row of RequestStatusTotals. Impact sums only
// cover requests that recorded an environmental impact.
type StatusTotals struct {
	Status             string          `db:"status"`
	Requests           int             `db:"requests"`
	WasteCollectedKg   decimal.Decimal `db:"waste_collected_kg"`
	CO2SavedKg         decimal.Decimal `db:"co2_saved_kg"`
	TreesEquivalent    decimal.Decimal `db:"trees_equivalent"`
	WaterSavedLiters   decimal.Decimal `db:"water_saved_liters"`
	RecyclingValue     decimal.Decimal `db:"recycling_value"`
	EnvironmentalScore decimal.Decimal `db:"environmental_score"`
}

// RequestStatusTotals counts the requests matching f per status and sums
// their environmental impact. Limit and paging fields are ignored.
func (s *Store) RequestStatusTotals(ctx context.Context, f RequestFilter) ([]StatusTotals, error) {
	clauses, args := f.where()
	var out []StatusTotals
	err := s.db.SelectContext(ctx, &out, `
		SELECT status, COUNT(*) AS requests,
			COALESCE(SUM((environmental_impact->>'waste_collected_kg')::numeric), 0) AS waste_collected_kg,
			COALESCE(SUM((environmental_impact->>'co2_saved_kg')::numeric), 0) AS co2_saved_kg,
			COALESCE(SUM((environmental_impact->>'trees_equivalent')::numeric), 0) AS trees_equivalent,
			COALESCE(SUM((environmental_impact->>'water_saved_liters')::numeric), 0) AS water_saved_liters,
			COALESCE(SUM((environmental_impact->>'recycling_value')::numeric), 0) AS recycling_value,
			COALESCE(SUM((environmental_impact->>'environmental_score')::numeric), 0) AS environmental_score
		FROM service_requests WHERE 1=1`+clauses+`
		GROUP BY status
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("request totals: %w", err)
	}
	return out, nil
}
