package database

import (
	"context"
	"database/sql"
	"fmt"

	"dharani-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const binColumns = `id, area, city, pincode, landmark, address, latitude, longitude, bin_type,
	capacity_liters, fill_level, status, last_collected_at, assigned_worker_id, waste_types,
	collection_frequency, peak_hours, avg_daily_waste_kg, total_collections,
	total_waste_collected_kg, created_at, updated_at`

func (s *Store) CountBinsInArea(ctx context.Context, area, city string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM bins WHERE LOWER(area) = LOWER($1) AND LOWER(city) = LOWER($2)`, area, city)
	return count, err
}

func (s *Store) ListBinsInArea(ctx context.Context, area, city string) ([]models.Bin, error) {
	var bins []models.Bin
	err := s.db.SelectContext(ctx, &bins, `
		SELECT `+binColumns+` FROM bins
		WHERE LOWER(area) = LOWER($1) AND LOWER(city) = LOWER($2)
		ORDER BY id
	`, area, city)
	if err != nil {
		return nil, fmt.Errorf("list bins: %w", err)
	}
	return bins, nil
}

func (s *Store) GetBin(ctx context.Context, id string) (*models.Bin, error) {
	var b models.Bin
	if err := s.db.GetContext(ctx, &b, `SELECT `+binColumns+` FROM bins WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// InsertBins writes a generated batch in one transaction. Rows whose id
// already exists are skipped, so a lost generation race cannot duplicate bins.
func (s *Store) InsertBins(ctx context.Context, bins []models.Bin) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for i := range bins {
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO bins (id, area, city, pincode, landmark, address, latitude, longitude,
				bin_type, capacity_liters, fill_level, status, waste_types, collection_frequency,
				peak_hours, created_at, updated_at)
			VALUES (:id, :area, :city, :pincode, :landmark, :address, :latitude, :longitude,
				:bin_type, :capacity_liters, :fill_level, :status, :waste_types, :collection_frequency,
				:peak_hours, :created_at, :updated_at)
			ON CONFLICT (id) DO NOTHING
		`, &bins[i])
		if err != nil {
			return 0, fmt.Errorf("insert bin %s: %w", bins[i].ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// UpdateFillLevel stores a citizen-reported fill level and the status it implies.
func (s *Store) UpdateFillLevel(ctx context.Context, id string, fill int, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bins SET fill_level = $2, status = $3, updated_at = $4
		WHERE id = $1 AND status <> 'under_maintenance'
	`, id, fill, status, s.now().Unix())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetBin(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// RecordCollection empties the bin and appends to its history. When
// expectedFill is set the update only applies if the stored fill level still
// matches, otherwise ErrConflict is returned and nothing is written.
func (s *Store) RecordCollection(ctx context.Context, c models.BinCollection, expectedFill *int) (*models.Bin, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var expected sql.NullInt64
	if expectedFill != nil {
		expected = sql.NullInt64{Int64: int64(*expectedFill), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE bins SET
			fill_level = 0,
			status = 'active',
			last_collected_at = $2,
			total_collections = total_collections + 1,
			total_waste_collected_kg = total_waste_collected_kg + $3,
			updated_at = $2
		WHERE id = $1 AND ($4::INT IS NULL OR fill_level = $4)
	`, c.BinID, c.CollectedAt, c.WasteCollectedKg, expected)
	if err != nil {
		return nil, fmt.Errorf("update bin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM bins WHERE id = $1)`, c.BinID); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}

	if c.ID == "" {
		c.ID = "COL_" + uuid.New().String()[:8]
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bin_collections (id, bin_id, worker_id, waste_collected_kg, duration_minutes, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.BinID, c.WorkerID, c.WasteCollectedKg, c.DurationMinutes, c.CollectedAt); err != nil {
		return nil, fmt.Errorf("insert collection: %w", err)
	}

	if err := recalculateAverage(ctx, tx, c.BinID); err != nil {
		return nil, err
	}

	var b models.Bin
	if err := tx.GetContext(ctx, &b, `SELECT `+binColumns+` FROM bins WHERE id = $1`, c.BinID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &b, nil
}

type collectionStats struct {
	Count int     `db:"count"`
	Total float64 `db:"total"`
	First int64   `db:"first"`
	Last  int64   `db:"last"`
}

// AverageDailyWaste spreads the collected total over the days the history
// covers, with a one-day floor. A single collection counts as one day.
func AverageDailyWaste(count int, totalKg float64, first, last int64) float64 {
	if count == 0 {
		return 0
	}
	days := int64(1)
	if count > 1 {
		days = max((last-first)/86400, 1)
	}
	return decimal.NewFromFloat(totalKg / float64(days)).Round(2).InexactFloat64()
}

func recalculateAverage(ctx context.Context, tx *sqlx.Tx, binID string) error {
	var st collectionStats
	err := tx.GetContext(ctx, &st, `
		SELECT COUNT(*) AS count,
			COALESCE(SUM(waste_collected_kg), 0) AS total,
			COALESCE(MIN(collected_at), 0) AS first,
			COALESCE(MAX(collected_at), 0) AS last
		FROM bin_collections WHERE bin_id = $1
	`, binID)
	if err != nil {
		return fmt.Errorf("collection stats: %w", err)
	}
	avg := AverageDailyWaste(st.Count, st.Total, st.First, st.Last)
	_, err = tx.ExecContext(ctx, `UPDATE bins SET avg_daily_waste_kg = $2 WHERE id = $1`, binID, avg)
	return err
}

func (s *Store) ListCollections(ctx context.Context, binID string) ([]models.BinCollection, error) {
	var out []models.BinCollection
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, bin_id, worker_id, waste_collected_kg, duration_minutes, collected_at
		FROM bin_collections WHERE bin_id = $1 ORDER BY collected_at DESC
	`, binID)
	return out, err
}
