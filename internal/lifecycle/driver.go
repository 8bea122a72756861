// Package lifecycle advances a service request through
// submitted → analyzing → matching → assigned → in_progress → completed,
// recording one role-scoped timeline entry per step.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"dharani-backend/internal/database"
	"dharani-backend/internal/geo"
	"dharani-backend/internal/metrics"
	"dharani-backend/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrNotAssigned is returned when a worker acts on a request assigned to
	// someone else.
	ErrNotAssigned = errors.New("request is not assigned to this worker")

	// ErrWrongState is returned when a worker action does not apply to the
	// request's current status.
	ErrWrongState = errors.New("request is not in a state that allows this action")
)

// Store is the persistence the driver needs.
type Store interface {
	GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error)
	RecordStep(ctx context.Context, entry *models.TimelineEntry, status models.RequestStatus, patch *database.RequestPatch) error
	ListAvailableWorkers(ctx context.Context, city string) ([]models.User, error)
}

// MessagePrompt asks the text collaborator for one timeline message.
type MessagePrompt struct {
	Role    string
	Step    string
	Context map[string]interface{}
}

// MessageGenerator produces the human-readable text of a timeline entry.
type MessageGenerator interface {
	TimelineMessage(ctx context.Context, p MessagePrompt) (string, error)
}

// WasteAnalyzer classifies the waste in a request's images.
type WasteAnalyzer interface {
	AnalyzeWaste(ctx context.Context, req *models.ServiceRequest) (*models.WasteAnalysis, error)
}

// Notifier fans a recorded entry out to live clients. It must not block for long
// and its failures are the notifier's own business.
type Notifier interface {
	StepRecorded(ctx context.Context, req *models.ServiceRequest, entry *models.TimelineEntry)
}

type Config struct {
	// GenerationTimeout bounds every call to the text and vision collaborators.
	GenerationTimeout time.Duration
	// Pacing scales each step's cosmetic processing delay; 0 disables it.
	Pacing float64
}

type Driver struct {
	store    Store
	messages MessageGenerator
	analyzer WasteAnalyzer
	notifier Notifier
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

func NewDriver(store Store, messages MessageGenerator, analyzer WasteAnalyzer, notifier Notifier, cfg Config, logger *zap.Logger) *Driver {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 12 * time.Second
	}
	return &Driver{
		store:    store,
		messages: messages,
		analyzer: analyzer,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// paceKey carries the done channel that cuts cosmetic pacing short. Only
// background runs set it; worker actions are never paced.
type paceKey struct{}

// Run drives a freshly submitted request through analysis and matching. It
// stops at matching when no worker is available. A request that has already
// left submitted is skipped, and each step is recorded at most once, so
// re-delivered tasks are harmless.
//
// Once started a run is not cancelled by ctx: cancellation only skips the
// remaining pacing delays.
func (d *Driver) Run(ctx context.Context, requestID string) error {
	ctx = context.WithValue(context.WithoutCancel(ctx), paceKey{}, ctx.Done())
	start := d.now()
	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	req, err := d.store.GetRequest(ctx, requestID)
	if err != nil {
		d.logger.Error("❌ [LIFECYCLE] Failed to load request", zap.String("request_id", requestID), zap.Error(err))
		return fmt.Errorf("load request %s: %w", requestID, err)
	}
	if req.Status != models.StatusSubmitted {
		d.logger.Info("⏭️  [LIFECYCLE] Request already processed, skipping",
			zap.String("request_id", requestID), zap.String("status", string(req.Status)))
		return nil
	}

	d.logger.Info("🚀 [LIFECYCLE] Starting run", zap.String("request_id", requestID))
	err = d.run(ctx, req)
	metrics.RunDurationSeconds.WithLabelValues(string(req.Status)).Observe(d.now().Sub(start).Seconds())
	if errors.Is(err, database.ErrInvalidTransition) {
		d.logger.Info("⏭️  [LIFECYCLE] Another run advanced the request first",
			zap.String("request_id", requestID), zap.Error(err))
		return nil
	}
	return err
}

func (d *Driver) run(ctx context.Context, req *models.ServiceRequest) error {
	role := req.UserRole

	if err := d.step(ctx, req, role, models.StepSubmitted, map[string]interface{}{
		"description": req.Description,
		"image_count": len(req.Images),
		"address":     req.Address,
	}, nil); err != nil {
		return err
	}

	analysis := d.analyze(ctx, req)
	if err := d.step(ctx, req, role, models.StepAnalyzing, map[string]interface{}{
		"waste_type": analysis.WasteType,
		"confidence": analysis.Confidence,
		"priority":   analysis.Priority,
		"recyclable": analysis.Recyclable,
		"source":     analysis.Source,
	}, &database.RequestPatch{
		Analysis:      analysis,
		WasteCategory: &analysis.WasteType,
		Priority:      &analysis.Priority,
	}); err != nil {
		return err
	}

	worker, distance, candidates, err := d.nearestWorker(ctx, req)
	if err != nil {
		return d.fail(ctx, req, role, models.StepMatching, err)
	}
	if err := d.step(ctx, req, role, models.StepMatching, map[string]interface{}{
		"city":       req.City,
		"candidates": candidates,
	}, nil); err != nil {
		return err
	}
	if worker == nil {
		d.logger.Info("⏸️  [LIFECYCLE] No available worker, waiting for acceptance",
			zap.String("request_id", req.RequestID), zap.String("city", req.City))
		return nil
	}

	assignment := d.assignment(worker, distance, "auto", candidates)
	return d.step(ctx, req, role, models.StepAssigned, assignmentContext(assignment), &database.RequestPatch{
		AssignedWorkerID: &worker.ID,
		Assignment:       assignment,
	})
}

// Accept assigns a request that is waiting in matching to worker. When two
// workers race, the loser gets ErrWrongState.
func (d *Driver) Accept(ctx context.Context, requestID string, worker *models.User) error {
	ctx = context.WithoutCancel(ctx)
	req, err := d.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status == models.StatusAssigned && req.AssignedWorkerID != nil && *req.AssignedWorkerID == worker.ID {
		return nil
	}
	if req.Status != models.StatusMatching {
		return fmt.Errorf("%w: status is %s", ErrWrongState, req.Status)
	}

	distance := 0.0
	if worker.Latitude != nil && worker.Longitude != nil {
		distance = geo.MustDistance(
			geo.Point{Latitude: *worker.Latitude, Longitude: *worker.Longitude},
			geo.Point{Latitude: req.Latitude, Longitude: req.Longitude})
		if math.IsInf(distance, 1) {
			distance = 0
		}
	}

	assignment := d.assignment(worker, distance, "accepted", 1)
	err = d.step(ctx, req, models.RoleWorker, models.StepAssigned, assignmentContext(assignment), &database.RequestPatch{
		AssignedWorkerID: &worker.ID,
		Assignment:       assignment,
	})
	if errors.Is(err, database.ErrInvalidTransition) {
		return fmt.Errorf("%w: request was taken by another worker", ErrWrongState)
	}
	return err
}

// Start moves an assigned request into in_progress.
func (d *Driver) Start(ctx context.Context, requestID string, worker *models.User) error {
	ctx = context.WithoutCancel(ctx)
	req, err := d.assignedTo(ctx, requestID, worker)
	if err != nil {
		return err
	}
	if req.Status == models.StatusInProgress {
		return nil
	}
	if req.Status != models.StatusAssigned {
		return fmt.Errorf("%w: status is %s", ErrWrongState, req.Status)
	}
	return d.step(ctx, req, models.RoleWorker, models.StepInProgress, map[string]interface{}{
		"worker_id": worker.ID,
	}, nil)
}

// Complete finishes a request, collapsing through in_progress when the worker
// skipped Start, and appends the environmental impact summary.
func (d *Driver) Complete(ctx context.Context, requestID string, worker *models.User, c models.Completion) (*models.EnvironmentalImpact, error) {
	ctx = context.WithoutCancel(ctx)
	req, err := d.assignedTo(ctx, requestID, worker)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusAssigned && req.Status != models.StatusInProgress {
		return nil, fmt.Errorf("%w: status is %s", ErrWrongState, req.Status)
	}

	if req.Status == models.StatusAssigned {
		if err := d.step(ctx, req, models.RoleWorker, models.StepInProgress, map[string]interface{}{
			"worker_id": worker.ID,
		}, nil); err != nil {
			return nil, err
		}
	}

	if err := d.step(ctx, req, models.RoleWorker, models.StepCompleted, map[string]interface{}{
		"waste_collected_kg": c.WasteCollectedKg,
		"waste_type":         c.WasteType,
		"recycled":           c.Recycled,
		"photo_count":        len(c.PhotoURLs),
	}, &database.RequestPatch{Completion: &c}); err != nil {
		return nil, err
	}

	impact := CalculateImpact(c)
	if err := d.step(ctx, req, models.RoleWorker, models.StepImpactCalculated, map[string]interface{}{
		"waste_collected_kg":  impact.WasteCollectedKg,
		"co2_saved_kg":        impact.CO2SavedKg,
		"trees_equivalent":    impact.TreesEquivalent,
		"water_saved_liters":  impact.WaterSavedLiters,
		"recycling_value":     impact.RecyclingValue,
		"environmental_score": impact.EnvironmentalScore,
	}, &database.RequestPatch{Impact: &impact}); err != nil {
		return nil, err
	}
	return &impact, nil
}

func (d *Driver) assignedTo(ctx context.Context, requestID string, worker *models.User) (*models.ServiceRequest, error) {
	req, err := d.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.AssignedWorkerID == nil || *req.AssignedWorkerID != worker.ID {
		return nil, ErrNotAssigned
	}
	return req, nil
}

// step paces, generates the message and records one entry with its status.
// Storage failures other than a lost race or a cancelled context end the
// lifecycle in error.
func (d *Driver) step(ctx context.Context, req *models.ServiceRequest, role, name string, stepCtx map[string]interface{}, patch *database.RequestPatch) error {
	def := Step(name)
	d.pace(ctx, def.Processing)

	entry := d.entry(ctx, req, role, def, stepCtx)
	if err := d.store.RecordStep(ctx, entry, def.Status, patch); err != nil {
		metrics.StepsTotal.WithLabelValues(name, "error").Inc()
		if errors.Is(err, database.ErrInvalidTransition) || errors.Is(err, database.ErrNotFound) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			d.logger.Warn("⚠️  [LIFECYCLE] Step interrupted, status left unchanged",
				zap.String("request_id", req.RequestID), zap.String("step", name), zap.Error(err))
			return fmt.Errorf("%s: %w", name, err)
		}
		return d.fail(ctx, req, role, name, err)
	}
	metrics.StepsTotal.WithLabelValues(name, "ok").Inc()

	req.Status = def.Status
	req.StatusRank = def.Status.Rank()
	applyPatch(req, patch)

	d.logger.Info("✅ [LIFECYCLE] Step recorded",
		zap.String("request_id", req.RequestID),
		zap.String("step", name),
		zap.Int("seq", entry.Seq),
		zap.Any("message_source", entry.Context["message_source"]))

	if d.notifier != nil {
		d.notifier.StepRecorded(ctx, req, entry)
	}
	return nil
}

func (d *Driver) entry(ctx context.Context, req *models.ServiceRequest, role string, def StepDef, stepCtx map[string]interface{}) *models.TimelineEntry {
	c := models.JSONMap{}
	for k, v := range stepCtx {
		c[k] = v
	}
	message, source := d.message(ctx, role, def, c)
	c["message_source"] = source

	return &models.TimelineEntry{
		RequestID:         req.RequestID,
		Step:              def.Name,
		Message:           message,
		Context:           c,
		SubmitterVisible:  def.Visibility.Submitter,
		WorkerVisible:     def.Visibility.Worker,
		OversightVisible:  def.Visibility.Oversight,
		ProcessingSeconds: def.Processing.Seconds(),
	}
}

// fail appends the terminal error entry. The original cause is returned.
func (d *Driver) fail(ctx context.Context, req *models.ServiceRequest, role, failedStep string, cause error) error {
	d.logger.Error("❌ [LIFECYCLE] Step failed",
		zap.String("request_id", req.RequestID),
		zap.String("step", failedStep),
		zap.Error(cause))

	def := Step(models.StepError)
	entry := &models.TimelineEntry{
		RequestID: req.RequestID,
		Step:      def.Name,
		Message:   def.Fallback,
		Context: models.JSONMap{
			"error":          cause.Error(),
			"failed_step":    failedStep,
			"message_source": models.SourceFallback,
		},
		SubmitterVisible: def.Visibility.Submitter,
		WorkerVisible:    def.Visibility.Worker,
		OversightVisible: def.Visibility.Oversight,
	}
	if err := d.store.RecordStep(context.WithoutCancel(ctx), entry, models.StatusError, nil); err != nil {
		d.logger.Error("❌ [LIFECYCLE] Could not record error entry",
			zap.String("request_id", req.RequestID), zap.Error(err))
		metrics.StepsTotal.WithLabelValues(models.StepError, "error").Inc()
		return fmt.Errorf("%s: %w", failedStep, cause)
	}
	metrics.StepsTotal.WithLabelValues(models.StepError, "ok").Inc()
	req.Status = models.StatusError
	req.StatusRank = models.StatusError.Rank()
	if d.notifier != nil {
		d.notifier.StepRecorded(ctx, req, entry)
	}
	return fmt.Errorf("%s: %w", failedStep, cause)
}

// message asks the collaborator for text and substitutes the step's fixed
// fallback on error, timeout or empty output.
func (d *Driver) message(ctx context.Context, role string, def StepDef, stepCtx map[string]interface{}) (string, string) {
	if d.messages == nil {
		metrics.FallbacksTotal.WithLabelValues("message").Inc()
		return def.Fallback, models.SourceFallback
	}

	gctx, cancel := context.WithTimeout(ctx, d.cfg.GenerationTimeout)
	defer cancel()

	text, err := d.messages.TimelineMessage(gctx, MessagePrompt{Role: role, Step: def.Name, Context: stepCtx})
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text), models.SourceAI
	}
	if err == nil {
		err = errors.New("empty message")
	}
	d.logger.Warn("⚠️  [LIFECYCLE] Message generation failed, using fallback",
		zap.String("step", def.Name), zap.String("role", role), zap.Error(err))
	metrics.FallbacksTotal.WithLabelValues("message").Inc()
	return def.Fallback, models.SourceFallback
}

// FallbackAnalysis is used when the vision collaborator is unavailable.
func FallbackAnalysis(cause error) *models.WasteAnalysis {
	a := &models.WasteAnalysis{
		WasteType:        "mixed",
		Confidence:       0.5,
		QuantityEstimate: "unknown",
		Priority:         models.PriorityLow,
		Source:           models.SourceFallback,
	}
	if cause != nil {
		a.Error = cause.Error()
	}
	return a
}

func (d *Driver) analyze(ctx context.Context, req *models.ServiceRequest) *models.WasteAnalysis {
	if d.analyzer == nil {
		metrics.FallbacksTotal.WithLabelValues("analysis").Inc()
		return FallbackAnalysis(nil)
	}
	actx, cancel := context.WithTimeout(ctx, d.cfg.GenerationTimeout)
	defer cancel()

	a, err := d.analyzer.AnalyzeWaste(actx, req)
	if err != nil || a == nil {
		if err == nil {
			err = errors.New("empty analysis")
		}
		d.logger.Warn("⚠️  [LIFECYCLE] Waste analysis failed, using fallback",
			zap.String("request_id", req.RequestID), zap.Error(err))
		metrics.FallbacksTotal.WithLabelValues("analysis").Inc()
		return FallbackAnalysis(err)
	}
	if a.WasteType == "" {
		a.WasteType = "mixed"
	}
	if a.Priority == "" {
		a.Priority = models.PriorityMedium
	}
	return a
}

// nearestWorker picks the closest available worker in the request's city,
// honouring each worker's max travel distance when set.
func (d *Driver) nearestWorker(ctx context.Context, req *models.ServiceRequest) (*models.User, float64, int, error) {
	workers, err := d.store.ListAvailableWorkers(ctx, req.City)
	if err != nil {
		return nil, 0, 0, err
	}

	target := geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}
	var best *models.User
	bestDistance := math.MaxFloat64
	candidates := 0
	for i := range workers {
		w := &workers[i]
		if w.Latitude == nil || w.Longitude == nil {
			continue
		}
		dist, err := geo.Distance(target, geo.Point{Latitude: *w.Latitude, Longitude: *w.Longitude})
		if err != nil {
			continue
		}
		if limit := maxTravelKm(w); limit > 0 && dist > limit {
			continue
		}
		candidates++
		if dist < bestDistance {
			best, bestDistance = w, dist
		}
	}
	if best == nil {
		return nil, 0, candidates, nil
	}
	return best, bestDistance, candidates, nil
}

func maxTravelKm(w *models.User) float64 {
	p, err := models.DecodeProfile(models.RoleWorker, w.Profile)
	if err != nil {
		return 0
	}
	return float64(p.(*models.WorkerProfile).MaxTravelKm)
}

func (d *Driver) assignment(worker *models.User, distance float64, method string, candidates int) *models.Assignment {
	return &models.Assignment{
		WorkerID:   worker.ID,
		WorkerName: worker.Name,
		DistanceKm: math.Round(distance*100) / 100,
		EtaMinutes: etaMinutes(distance),
		Method:     method,
		AssignedAt: d.now().Unix(),
		Candidates: candidates,
	}
}

// etaMinutes assumes 20 km/h through city traffic, minimum five minutes.
func etaMinutes(distanceKm float64) int {
	return max(5, int(math.Ceil(distanceKm*3)))
}

func assignmentContext(a *models.Assignment) map[string]interface{} {
	return map[string]interface{}{
		"worker_id":   a.WorkerID,
		"worker_name": a.WorkerName,
		"distance_km": a.DistanceKm,
		"eta_minutes": a.EtaMinutes,
		"method":      a.Method,
	}
}

func applyPatch(req *models.ServiceRequest, p *database.RequestPatch) {
	if p == nil {
		return
	}
	if p.Analysis != nil {
		req.Analysis = p.Analysis
	}
	if p.WasteCategory != nil {
		req.WasteCategory = p.WasteCategory
	}
	if p.Priority != nil {
		req.Priority = *p.Priority
	}
	if p.AssignedWorkerID != nil {
		req.AssignedWorkerID = p.AssignedWorkerID
	}
	if p.Assignment != nil {
		req.Assignment = p.Assignment
	}
	if p.Completion != nil {
		req.Completion = p.Completion
	}
	if p.Impact != nil {
		req.EnvironmentalImpact = p.Impact
	}
}

func (d *Driver) pace(ctx context.Context, dur time.Duration) {
	done, ok := ctx.Value(paceKey{}).(<-chan struct{})
	if !ok || d.cfg.Pacing <= 0 || dur <= 0 {
		return
	}
	t := time.NewTimer(time.Duration(float64(dur) * d.cfg.Pacing))
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
	}
}
