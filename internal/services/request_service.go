package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"dharani-backend/internal/database"
	"dharani-backend/internal/geo"
	"dharani-backend/internal/lifecycle"
	"dharani-backend/internal/metrics"
	"dharani-backend/internal/models"
	"dharani-backend/internal/storage"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxDescriptionLen = 2000
	maxRequestImages  = 5
	uploadConcurrency = 3
)

// ErrForbidden is returned when the caller may not see or act on a request.
var ErrForbidden = errors.New("forbidden")

// RequestStore is the persistence RequestService needs.
type RequestStore interface {
	RequestCounter
	CreateRequest(ctx context.Context, r *models.ServiceRequest) error
	GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error)
	ListRequests(ctx context.Context, f database.RequestFilter) ([]models.ServiceRequest, error)
	GetTimeline(ctx context.Context, requestID string) ([]models.TimelineEntry, error)
	RequestStatusTotals(ctx context.Context, f database.RequestFilter) ([]database.StatusTotals, error)
}

// ReverseGeocoder resolves coordinates to an address. *GeocodingService
// satisfies it.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (*Address, error)
}

// Caller identifies who is asking.
type Caller struct {
	UserID string
	Role   string
	Area   string
	City   string
}

// ImageUpload is one image attached to a new request.
type ImageUpload struct {
	Filename    string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

type CreateRequestInput struct {
	Description string
	Latitude    float64
	Longitude   float64
	Address     string
	Images      []ImageUpload
}

// RequestService accepts citizen reports, persists them and hands them to
// the background lifecycle. It also serves role-filtered reads.
type RequestService struct {
	store      RequestStore
	ids        *RequestIDGenerator
	images     storage.ImageStore
	geocoder   ReverseGeocoder
	dispatcher lifecycle.Dispatcher
	logger     *zap.Logger
	now        func() time.Time

	dispatchTimeout time.Duration
}

// NewRequestService wires the service. images and geocoder may be nil.
func NewRequestService(store RequestStore, ids *RequestIDGenerator, images storage.ImageStore, geocoder ReverseGeocoder, dispatcher lifecycle.Dispatcher, logger *zap.Logger) *RequestService {
	return &RequestService{
		store:           store,
		ids:             ids,
		images:          images,
		geocoder:        geocoder,
		dispatcher:      dispatcher,
		logger:          logger,
		now:             time.Now,
		dispatchTimeout: 2 * time.Second,
	}
}

func validateCreate(in CreateRequestInput) error {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return fmt.Errorf("%w: description is required", ErrValidation)
	}
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return fmt.Errorf("%w: description must be at most %d characters", ErrValidation, maxDescriptionLen)
	}
	if err := (geo.Point{Latitude: in.Latitude, Longitude: in.Longitude}).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(in.Images) > maxRequestImages {
		return fmt.Errorf("%w: at most %d images are allowed", ErrValidation, maxRequestImages)
	}
	return nil
}

// Create persists a new request in status submitted and dispatches its
// lifecycle. The returned request is what the caller gets back immediately.
func (s *RequestService) Create(ctx context.Context, caller Caller, in CreateRequestInput) (*models.ServiceRequest, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	now := s.now().Unix()
	req := &models.ServiceRequest{
		RequestID:   s.ids.Next(ctx),
		UserID:      caller.UserID,
		UserRole:    caller.Role,
		Description: strings.TrimSpace(in.Description),
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Address:     strings.TrimSpace(in.Address),
		Area:        caller.Area,
		City:        caller.City,
		Priority:    models.PriorityMedium,
		Status:      models.StatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.resolveAddress(ctx, req)
	req.Images = s.upload(ctx, req.RequestID, in.Images)

	err := s.store.CreateRequest(ctx, req)
	if errors.Is(err, database.ErrDuplicate) {
		// Two submissions counted the same sequence number.
		s.logger.Warn("⚠️  [REQUESTS] Request id collision, retrying with random suffix", zap.String("request_id", req.RequestID))
		req.RequestID = s.ids.Fallback()
		err = s.store.CreateRequest(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.logger.Info("✅ [REQUESTS] Request submitted",
		zap.String("request_id", req.RequestID),
		zap.String("user_id", req.UserID),
		zap.Int("images", len(req.Images)))

	s.dispatch(ctx, req.RequestID)
	return req, nil
}

// dispatch hands the request to the lifecycle without tying it to the HTTP
// request's lifetime. A request that cannot be dispatched stays submitted and
// is picked up by ResumePending on the next start.
func (s *RequestService) dispatch(ctx context.Context, id string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)
	defer cancel()
	if err := s.dispatcher.Dispatch(dctx, id); err != nil {
		s.logger.Error("❌ [REQUESTS] Failed to dispatch lifecycle", zap.String("request_id", id), zap.Error(err))
	}
}

const resumePageSize = 200

// ResumePending re-dispatches requests still in submitted, oldest first, e.g.
// after a restart interrupted them before pickup.
func (s *RequestService) ResumePending(ctx context.Context) (int, error) {
	f := database.RequestFilter{Status: string(models.StatusSubmitted), Limit: resumePageSize, OldestFirst: true}
	total := 0
	for {
		page, err := s.store.ListRequests(ctx, f)
		if err != nil {
			return total, err
		}
		for _, r := range page {
			s.dispatch(ctx, r.RequestID)
		}
		total += len(page)
		if len(page) < resumePageSize {
			break
		}
		last := page[len(page)-1]
		f.After = &database.RequestCursor{CreatedAt: last.CreatedAt, RequestID: last.RequestID}
	}
	if total > 0 {
		s.logger.Info("🔁 [REQUESTS] Resumed pending lifecycles", zap.Int("count", total))
	}
	return total, nil
}

// resolveAddress fills a missing address, area or city from reverse
// geocoding. Failures leave the fields as the caller supplied them.
func (s *RequestService) resolveAddress(ctx context.Context, req *models.ServiceRequest) {
	if req.Address != "" && req.Area != "" && req.City != "" {
		return
	}
	if s.geocoder == nil {
		return
	}
	addr, err := s.geocoder.ReverseGeocode(ctx, req.Latitude, req.Longitude)
	if err != nil {
		metrics.FallbacksTotal.WithLabelValues("address").Inc()
		s.logger.Warn("⚠️  [REQUESTS] Reverse geocoding failed", zap.Error(err))
		return
	}
	if req.Address == "" {
		req.Address = addr.FormattedAddress
	}
	if req.Area == "" {
		req.Area = addr.Area
	}
	if req.City == "" {
		req.City = addr.City
	}
}

// upload stores images concurrently. A failed upload omits that URL; the
// order of the successful ones is preserved.
func (s *RequestService) upload(ctx context.Context, requestID string, images []ImageUpload) []string {
	if len(images) == 0 {
		return []string{}
	}
	if s.images == nil {
		s.logger.Warn("⚠️  [REQUESTS] Image storage not configured, dropping images", zap.Int("count", len(images)))
		return []string{}
	}

	urls := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i, img := range images {
		g.Go(func() error {
			url, err := s.uploadOne(gctx, requestID, img)
			if err != nil {
				s.logger.Warn("⚠️  [REQUESTS] Image upload failed",
					zap.String("request_id", requestID), zap.String("file", img.Filename), zap.Error(err))
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

func (s *RequestService) uploadOne(ctx context.Context, requestID string, img ImageUpload) (string, error) {
	r, err := img.Open()
	if err != nil {
		return "", err
	}
	defer r.Close()
	return s.images.Upload(ctx, "requests/"+requestID, img.Filename, img.ContentType, r)
}

// canSee reports whether caller may read req. Workers see requests assigned
// to them and requests waiting for a worker in their own city.
func canSee(caller Caller, req *models.ServiceRequest) bool {
	switch caller.Role {
	case models.RoleGovernment:
		return true
	case models.RoleWorker:
		if req.AssignedWorkerID != nil {
			return *req.AssignedWorkerID == caller.UserID
		}
		return req.Status == models.StatusMatching && sameCity(caller.City, req.City)
	default:
		return req.UserID == caller.UserID
	}
}

func sameCity(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Get returns the request with its timeline filtered for the caller's role.
func (s *RequestService) Get(ctx context.Context, caller Caller, id string) (*models.ServiceRequestResponse, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSee(caller, req) {
		return nil, ErrForbidden
	}
	timeline, err := s.store.GetTimeline(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := req.ToResponse(models.FilterTimeline(timeline, caller.Role))
	return &resp, nil
}

// Timeline returns only the entries the caller's role may see.
func (s *RequestService) Timeline(ctx context.Context, caller Caller, id string) ([]models.TimelineEntryResponse, error) {
	resp, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return resp.Timeline, nil
}

// List returns the caller's requests: citizens their own, workers those
// assigned to them, government everything. status optionally narrows it.
func (s *RequestService) List(ctx context.Context, caller Caller, status string) ([]models.ServiceRequest, error) {
	if status != "" && !models.RequestStatus(status).Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	f := database.RequestFilter{Status: status}
	switch caller.Role {
	case models.RoleGovernment:
	case models.RoleWorker:
		if status == string(models.StatusMatching) {
			// open jobs in the worker's city; they are unassigned by definition
			f.City = caller.City
			break
		}
		f.WorkerID = caller.UserID
	default:
		f.UserID = caller.UserID
	}
	return s.store.ListRequests(ctx, f)
}

var lifecycleStatuses = []models.RequestStatus{
	models.StatusSubmitted, models.StatusAnalyzing, models.StatusMatching, models.StatusAssigned,
	models.StatusInProgress, models.StatusCompleted, models.StatusError,
}

// Stats counts the caller's requests per status and totals their
// environmental impact. Citizens get their own requests, workers those
// assigned to them and government everything, optionally narrowed to city.
func (s *RequestService) Stats(ctx context.Context, caller Caller, city string) (*models.RequestStats, error) {
	var f database.RequestFilter
	switch caller.Role {
	case models.RoleGovernment:
		f.City = strings.TrimSpace(city)
	case models.RoleWorker:
		f.WorkerID = caller.UserID
	default:
		f.UserID = caller.UserID
	}

	rows, err := s.store.RequestStatusTotals(ctx, f)
	if err != nil {
		return nil, err
	}

	stats := &models.RequestStats{ByStatus: make(map[string]int, len(lifecycleStatuses))}
	for _, st := range lifecycleStatuses {
		stats.ByStatus[string(st)] = 0
	}
	var waste, co2, trees, water, recycling, score decimal.Decimal
	for _, row := range rows {
		stats.ByStatus[row.Status] += row.Requests
		stats.Total += row.Requests
		switch models.RequestStatus(row.Status) {
		case models.StatusCompleted:
			stats.Completed += row.Requests
		case models.StatusError:
			stats.Failed += row.Requests
		default:
			stats.Active += row.Requests
		}
		waste = waste.Add(row.WasteCollectedKg)
		co2 = co2.Add(row.CO2SavedKg)
		trees = trees.Add(row.TreesEquivalent)
		water = water.Add(row.WaterSavedLiters)
		recycling = recycling.Add(row.RecyclingValue)
		score = score.Add(row.EnvironmentalScore)
	}
	stats.Impact = models.EnvironmentalImpact{
		WasteCollectedKg:   waste.Round(2).InexactFloat64(),
		CO2SavedKg:         co2.Round(2).InexactFloat64(),
		TreesEquivalent:    trees.Round(2).InexactFloat64(),
		WaterSavedLiters:   water.Round(2).InexactFloat64(),
		RecyclingValue:     recycling.Round(2).InexactFloat64(),
		EnvironmentalScore: score.Round(1).InexactFloat64(),
	}
	return stats, nil
}
