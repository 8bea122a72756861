package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dharani-backend/internal/database"
	"dharani-backend/internal/geo"
	"dharani-backend/internal/metrics"
	"dharani-backend/internal/models"

	"go.uber.org/zap"
)

// BinStore is the persistence BinService needs.
type BinStore interface {
	ListBinsInArea(ctx context.Context, area, city string) ([]models.Bin, error)
	InsertBins(ctx context.Context, bins []models.Bin) (int, error)
	GetBin(ctx context.Context, id string) (*models.Bin, error)
	UpdateFillLevel(ctx context.Context, id string, fill int, status string) error
	RecordCollection(ctx context.Context, c models.BinCollection, expectedFill *int) (*models.Bin, error)
}

// BinService owns collection points: cold-start generation, prioritized
// views for workers, fill reports and collection events.
type BinService struct {
	store     BinStore
	generator *BinGenerator
	locker    AreaLocker
	router    *RouteOptimizer
	logger    *zap.Logger
	now       func() time.Time
}

func NewBinService(store BinStore, generator *BinGenerator, locker AreaLocker, logger *zap.Logger) *BinService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &BinService{
		store:     store,
		generator: generator,
		locker:    locker,
		router:    NewRouteOptimizer(logger),
		logger:    logger,
		now:       time.Now,
	}
}

// WorkerArea builds the generation input from a worker's profile.
func WorkerArea(u *models.User) (AreaLocation, error) {
	if u.Latitude == nil || u.Longitude == nil {
		return AreaLocation{}, fmt.Errorf("%w: worker has no location", ErrValidation)
	}
	if strings.TrimSpace(u.Area) == "" || strings.TrimSpace(u.City) == "" {
		return AreaLocation{}, fmt.Errorf("%w: worker has no area or city", ErrValidation)
	}
	return AreaLocation{
		Area:      u.Area,
		City:      u.City,
		Pincode:   u.Pincode,
		Latitude:  *u.Latitude,
		Longitude: *u.Longitude,
	}, nil
}

func areaKey(area, city string) string {
	return strings.ToLower(strings.TrimSpace(city)) + "/" + strings.ToLower(strings.TrimSpace(area))
}

// EnsureAreaBins returns the bins for (area, city), generating them the first
// time the area is seen. Concurrent callers for the same area wait on the area
// lock and then read the batch the winner wrote.
func (s *BinService) EnsureAreaBins(ctx context.Context, loc AreaLocation) ([]models.Bin, error) {
	bins, err := s.store.ListBinsInArea(ctx, loc.Area, loc.City)
	if err != nil {
		return nil, err
	}
	if len(bins) > 0 {
		return bins, nil
	}

	unlock, err := s.locker.Lock(ctx, areaKey(loc.Area, loc.City))
	if err != nil {
		return nil, err
	}
	defer unlock()

	bins, err = s.store.ListBinsInArea(ctx, loc.Area, loc.City)
	if err != nil {
		return nil, err
	}
	if len(bins) > 0 {
		return bins, nil
	}

	generated, err := s.generator.Generate(loc)
	if err != nil {
		return nil, err
	}
	inserted, err := s.store.InsertBins(ctx, generated)
	if err != nil {
		return nil, fmt.Errorf("store generated bins: %w", err)
	}
	metrics.BinsGeneratedTotal.Add(float64(inserted))
	if inserted < len(generated) {
		s.logger.Warn("⚠️  [BINS] Some generated bin ids already existed",
			zap.String("area", loc.Area), zap.String("city", loc.City),
			zap.Int("skipped", len(generated)-inserted))
	}
	s.logger.Info("🗑️  [BINS] Generated bins for new area",
		zap.String("area", loc.Area),
		zap.String("city", loc.City),
		zap.Int("generated", len(generated)),
		zap.Int("inserted", inserted))

	return s.store.ListBinsInArea(ctx, loc.Area, loc.City)
}

// AreaBins returns every bin in the worker's area with derived fields and the
// distance from the worker.
func (s *BinService) AreaBins(ctx context.Context, worker *models.User) ([]models.BinWithPriority, error) {
	loc, err := WorkerArea(worker)
	if err != nil {
		return nil, err
	}
	bins, err := s.EnsureAreaBins(ctx, loc)
	if err != nil {
		return nil, err
	}

	now := s.now()
	origin := geo.Point{Latitude: loc.Latitude, Longitude: loc.Longitude}
	out := make([]models.BinWithPriority, 0, len(bins))
	for _, b := range bins {
		p := Prioritize(b, now)
		withDistance(&p, origin)
		out = append(out, p)
	}
	return out, nil
}

// PriorityBins returns the bins in the worker's area that need collection,
// most urgent first.
func (s *BinService) PriorityBins(ctx context.Context, worker *models.User) ([]models.BinWithPriority, error) {
	loc, err := WorkerArea(worker)
	if err != nil {
		return nil, err
	}
	bins, err := s.EnsureAreaBins(ctx, loc)
	if err != nil {
		return nil, err
	}

	origin := geo.Point{Latitude: loc.Latitude, Longitude: loc.Longitude}
	ranked := RankForCollection(bins, s.now())
	for i := range ranked {
		withDistance(&ranked[i], origin)
	}
	return ranked, nil
}

// Route orders the worker's priority bins into a nearest-neighbour route.
func (s *BinService) Route(ctx context.Context, worker *models.User) (CollectionRoute, error) {
	ranked, err := s.PriorityBins(ctx, worker)
	if err != nil {
		return CollectionRoute{}, err
	}
	start := geo.Point{Latitude: *worker.Latitude, Longitude: *worker.Longitude}
	return s.router.OptimizeRoute(ranked, start), nil
}

// StatusForReportedFill maps a reported fill level onto a stored status.
func StatusForReportedFill(fill int) string {
	switch {
	case fill > 90:
		return models.BinStatusOverflowing
	case fill > 75:
		return models.BinStatusNeedsCollection
	}
	return models.BinStatusActive
}

// ReportFill records a citizen's fill-level report. Out-of-range values are
// rejected, not clamped.
func (s *BinService) ReportFill(ctx context.Context, binID string, fill int) (*models.BinWithPriority, error) {
	if fill < 0 || fill > 100 {
		return nil, fmt.Errorf("%w: fill_level must be between 0 and 100", ErrValidation)
	}
	if err := s.store.UpdateFillLevel(ctx, binID, fill, StatusForReportedFill(fill)); err != nil {
		return nil, err
	}
	b, err := s.store.GetBin(ctx, binID)
	if err != nil {
		return nil, err
	}
	p := Prioritize(*b, s.now())
	return &p, nil
}

// Collect marks a bin emptied by workerID. With ExpectedFillLevel set, a
// concurrent change to the bin yields database.ErrConflict.
func (s *BinService) Collect(ctx context.Context, binID, workerID string, req models.CollectBinRequest) (*models.BinWithPriority, error) {
	if req.WasteCollectedKg < 0 || req.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: waste_collected_kg and duration_minutes must not be negative", ErrValidation)
	}
	if req.ExpectedFillLevel != nil && (*req.ExpectedFillLevel < 0 || *req.ExpectedFillLevel > 100) {
		return nil, fmt.Errorf("%w: expected_fill_level must be between 0 and 100", ErrValidation)
	}

	now := s.now()
	b, err := s.store.RecordCollection(ctx, models.BinCollection{
		BinID:            binID,
		WorkerID:         workerID,
		WasteCollectedKg: req.WasteCollectedKg,
		DurationMinutes:  req.DurationMinutes,
		CollectedAt:      now.Unix(),
	}, req.ExpectedFillLevel)
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			metrics.CollectionConflictsTotal.Inc()
			s.logger.Warn("⚠️  [BINS] Collection lost a race", zap.String("bin_id", binID), zap.String("worker_id", workerID))
		}
		return nil, err
	}

	s.logger.Info("✅ [BINS] Bin collected",
		zap.String("bin_id", binID),
		zap.String("worker_id", workerID),
		zap.Float64("kg", req.WasteCollectedKg))

	p := Prioritize(*b, now)
	return &p, nil
}

func withDistance(p *models.BinWithPriority, origin geo.Point) {
	d, err := geo.Distance(origin, geo.Point{Latitude: p.Latitude, Longitude: p.Longitude})
	if err != nil {
		return
	}
	d = round2(d)
	p.DistanceKm = &d
}
