package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"dharani-backend/internal/database"
	"dharani-backend/internal/models"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu       sync.Mutex
	requests map[string]*models.ServiceRequest
	timeline map[string][]models.TimelineEntry
	workers  []models.User
	failOn   map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		requests: map[string]*models.ServiceRequest{},
		timeline: map[string][]models.TimelineEntry{},
		failOn:   map[string]error{},
	}
}

func (m *memoryStore) GetRequest(_ context.Context, id string) (*models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// RecordStep mirrors the Postgres store: a done context fails the write, and
// each step is recorded at most once per request.
func (m *memoryStore) RecordStep(ctx context.Context, entry *models.TimelineEntry, status models.RequestStatus, patch *database.RequestPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[entry.Step]; err != nil {
		return err
	}
	for _, e := range m.timeline[entry.RequestID] {
		if e.Step == entry.Step {
			return fmt.Errorf("%w: step %s already recorded", database.ErrInvalidTransition, entry.Step)
		}
	}
	r, ok := m.requests[entry.RequestID]
	if !ok {
		return database.ErrNotFound
	}
	if status.Rank() < r.Status.Rank() {
		return database.ErrInvalidTransition
	}
	r.Status = status
	r.StatusRank = status.Rank()
	applyPatch(r, patch)

	entry.Seq = len(m.timeline[entry.RequestID]) + 1
	entry.ID = fmt.Sprintf("%s-%d", entry.RequestID, entry.Seq)
	m.timeline[entry.RequestID] = append(m.timeline[entry.RequestID], *entry)
	return nil
}

func (m *memoryStore) ListAvailableWorkers(_ context.Context, city string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, w := range m.workers {
		if w.City == city {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memoryStore) steps(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.timeline[id] {
		out = append(out, e.Step)
	}
	return out
}

func (m *memoryStore) entries(id string) []models.TimelineEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TimelineEntry(nil), m.timeline[id]...)
}

type echoMessages struct{}

func (echoMessages) TimelineMessage(_ context.Context, p MessagePrompt) (string, error) {
	return fmt.Sprintf("%s/%s", p.Role, p.Step), nil
}

type failingMessages struct{ err error }

func (f failingMessages) TimelineMessage(context.Context, MessagePrompt) (string, error) {
	return "", f.err
}

type slowMessages struct{}

func (slowMessages) TimelineMessage(ctx context.Context, _ MessagePrompt) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type fixedAnalyzer struct {
	analysis *models.WasteAnalysis
	err      error
}

func (f fixedAnalyzer) AnalyzeWaste(context.Context, *models.ServiceRequest) (*models.WasteAnalysis, error) {
	return f.analysis, f.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	steps []string
}

func (n *recordingNotifier) StepRecorded(_ context.Context, _ *models.ServiceRequest, e *models.TimelineEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.steps = append(n.steps, e.Step)
}

func ptr[T any](v T) *T { return &v }

func worker(id string, lat, lng float64, profile string) models.User {
	return models.User{
		ID:          id,
		Name:        "Worker " + id,
		Role:        models.RoleWorker,
		City:        "Bhimavaram",
		Latitude:    ptr(lat),
		Longitude:   ptr(lng),
		Profile:     types.JSONText(profile),
		IsAvailable: true,
	}
}

func submitted(store *memoryStore, id string) {
	store.requests[id] = &models.ServiceRequest{
		RequestID:   id,
		UserID:      "citizen-1",
		UserRole:    models.RoleCitizen,
		Description: "Garbage pile near the bus stand",
		Images:      []string{"https://cdn.example/1.jpg"},
		Latitude:    16.5449,
		Longitude:   81.5212,
		City:        "Bhimavaram",
		Priority:    models.PriorityMedium,
		Status:      models.StatusSubmitted,
		StatusRank:  models.StatusSubmitted.Rank(),
	}
}

func newTestDriver(store Store, messages MessageGenerator, analyzer WasteAnalyzer, notifier Notifier) *Driver {
	d := NewDriver(store, messages, analyzer, notifier, Config{GenerationTimeout: 50 * time.Millisecond}, zap.NewNop())
	d.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
	return d
}

var plastic = &models.WasteAnalysis{WasteType: "plastic", Confidence: 0.9, Priority: models.PriorityHigh, Recyclable: true, Source: models.SourceAI}

func TestRun_AssignsNearestWorker(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_001")
	store.workers = []models.User{
		worker("far", 16.60, 81.60, `{}`),
		worker("near", 16.546, 81.522, `{}`),
	}
	notifier := &recordingNotifier{}
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, notifier)

	require.NoError(t, d.Run(context.Background(), "WR_2025_001"))

	assert.Equal(t, []string{"submitted", "analyzing", "matching", "assigned"}, store.steps("WR_2025_001"))
	assert.Equal(t, store.steps("WR_2025_001"), notifier.steps)

	req := store.requests["WR_2025_001"]
	assert.Equal(t, models.StatusAssigned, req.Status)
	require.NotNil(t, req.AssignedWorkerID)
	assert.Equal(t, "near", *req.AssignedWorkerID)
	require.NotNil(t, req.Assignment)
	assert.Equal(t, "auto", req.Assignment.Method)
	assert.Equal(t, 2, req.Assignment.Candidates)
	assert.GreaterOrEqual(t, req.Assignment.EtaMinutes, 5)
	require.NotNil(t, req.WasteCategory)
	assert.Equal(t, "plastic", *req.WasteCategory)
	assert.Equal(t, models.PriorityHigh, req.Priority)

	for i, e := range store.entries("WR_2025_001") {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, models.SourceAI, e.Context["message_source"])
		assert.Equal(t, "citizen/"+e.Step, e.Message)
	}
}

func TestRun_WorkerViewHidesSubmissionAndAnalysis(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_002")
	store.workers = []models.User{worker("w1", 16.546, 81.522, `{}`)}
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)

	require.NoError(t, d.Run(context.Background(), "WR_2025_002"))

	all := store.entries("WR_2025_002")
	var workerSteps, govSteps []string
	for _, e := range models.FilterTimeline(all, models.RoleWorker) {
		workerSteps = append(workerSteps, e.Step)
	}
	for _, e := range models.FilterTimeline(all, models.RoleGovernment) {
		govSteps = append(govSteps, e.Step)
	}
	assert.Equal(t, []string{"matching", "assigned"}, workerSteps)
	assert.Equal(t, []string{"submitted", "analyzing", "matching", "assigned"}, govSteps)
}

func TestRun_MessageFailureUsesFallback(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_003")
	store.workers = []models.User{worker("w1", 16.546, 81.522, `{}`)}
	d := newTestDriver(store, failingMessages{err: errors.New("quota exceeded")}, fixedAnalyzer{analysis: plastic}, nil)

	require.NoError(t, d.Run(context.Background(), "WR_2025_003"))

	entries := store.entries("WR_2025_003")
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, FallbackMessage(e.Step), e.Message)
		assert.Equal(t, models.SourceFallback, e.Context["message_source"])
	}
	assert.Equal(t, "🌱 Request received! Processing...", entries[0].Message)
}

func TestRun_MessageTimeoutUsesFallback(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_004")
	d := newTestDriver(store, slowMessages{}, fixedAnalyzer{analysis: plastic}, nil)
	d.cfg.GenerationTimeout = 5 * time.Millisecond

	require.NoError(t, d.Run(context.Background(), "WR_2025_004"))

	for _, e := range store.entries("WR_2025_004") {
		assert.Equal(t, models.SourceFallback, e.Context["message_source"])
	}
}

func TestRun_AnalysisFailureUsesFallbackAnalysis(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_005")
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{err: errors.New("vision unavailable")}, nil)

	require.NoError(t, d.Run(context.Background(), "WR_2025_005"))

	req := store.requests["WR_2025_005"]
	require.NotNil(t, req.Analysis)
	assert.Equal(t, "mixed", req.Analysis.WasteType)
	assert.Equal(t, 0.5, req.Analysis.Confidence)
	assert.Equal(t, models.SourceFallback, req.Analysis.Source)
	assert.Equal(t, "vision unavailable", req.Analysis.Error)
	assert.Equal(t, models.PriorityLow, req.Priority)
}

func TestRun_NoWorkerStopsAtMatching(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_006")
	// within the city but beyond this worker's travel limit
	store.workers = []models.User{worker("w1", 16.60, 81.60, `{"max_travel_km": 2}`)}
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)

	require.NoError(t, d.Run(context.Background(), "WR_2025_006"))

	assert.Equal(t, []string{"submitted", "analyzing", "matching"}, store.steps("WR_2025_006"))
	assert.Equal(t, models.StatusMatching, store.requests["WR_2025_006"].Status)
	assert.Nil(t, store.requests["WR_2025_006"].AssignedWorkerID)
}

func TestRun_SkipsRequestsAlreadyProcessed(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_007")
	store.workers = []models.User{worker("w1", 16.546, 81.522, `{}`)}
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)

	require.NoError(t, d.Run(context.Background(), "WR_2025_007"))
	require.NoError(t, d.Run(context.Background(), "WR_2025_007"))

	assert.Len(t, store.entries("WR_2025_007"), 4)
}

func TestRun_StorageFailureAppendsErrorEntry(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_008")
	store.failOn[models.StepMatching] = errors.New("connection reset")
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)

	err := d.Run(context.Background(), "WR_2025_008")
	require.Error(t, err)

	assert.Equal(t, []string{"submitted", "analyzing", "error"}, store.steps("WR_2025_008"))
	assert.Equal(t, models.StatusError, store.requests["WR_2025_008"].Status)

	last := store.entries("WR_2025_008")[2]
	assert.Equal(t, "connection reset", last.Context["error"])
	assert.Equal(t, models.StepMatching, last.Context["failed_step"])
	assert.False(t, last.WorkerVisible)
	assert.True(t, last.SubmitterVisible)
}

func TestRun_UnknownRequest(t *testing.T) {
	d := newTestDriver(newMemoryStore(), echoMessages{}, nil, nil)
	err := d.Run(context.Background(), "WR_2025_404")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestAcceptStartComplete(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_009")
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)
	require.NoError(t, d.Run(context.Background(), "WR_2025_009"))
	require.Equal(t, models.StatusMatching, store.requests["WR_2025_009"].Status)

	w := worker("w1", 16.55, 81.53, `{}`)
	other := worker("w2", 16.55, 81.53, `{}`)

	require.NoError(t, d.Accept(context.Background(), "WR_2025_009", &w))
	// accepting twice is a no-op for the same worker
	require.NoError(t, d.Accept(context.Background(), "WR_2025_009", &w))
	assert.ErrorIs(t, d.Accept(context.Background(), "WR_2025_009", &other), ErrWrongState)

	assert.Equal(t, "accepted", store.requests["WR_2025_009"].Assignment.Method)

	require.NoError(t, d.Start(context.Background(), "WR_2025_009", &w))
	assert.ErrorIs(t, d.Start(context.Background(), "WR_2025_009", &other), ErrNotAssigned)

	impact, err := d.Complete(context.Background(), "WR_2025_009", &w, models.Completion{
		WasteCollectedKg: 2.5,
		WasteType:        "plastic",
	})
	require.NoError(t, err)
	assert.Equal(t, 6.25, impact.CO2SavedKg)
	assert.Equal(t, 37.5, impact.WaterSavedLiters)

	assert.Equal(t, []string{
		"submitted", "analyzing", "matching", "assigned", "in_progress", "completed", "impact_calculated",
	}, store.steps("WR_2025_009"))

	req := store.requests["WR_2025_009"]
	assert.Equal(t, models.StatusCompleted, req.Status)
	require.NotNil(t, req.EnvironmentalImpact)
	assert.Equal(t, 8.8, req.EnvironmentalImpact.EnvironmentalScore)

	entries := store.entries("WR_2025_009")
	assert.Equal(t, "worker/impact_calculated", entries[6].Message)
	assert.Equal(t, 6.25, entries[6].Context["co2_saved_kg"])
}

func TestComplete_CollapsesThroughInProgress(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_010")
	store.workers = []models.User{worker("w1", 16.546, 81.522, `{}`)}
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)
	require.NoError(t, d.Run(context.Background(), "WR_2025_010"))

	w := store.workers[0]
	_, err := d.Complete(context.Background(), "WR_2025_010", &w, models.Completion{WasteCollectedKg: 1, WasteType: "organic"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"submitted", "analyzing", "matching", "assigned", "in_progress", "completed", "impact_calculated",
	}, store.steps("WR_2025_010"))

	_, err = d.Complete(context.Background(), "WR_2025_010", &w, models.Completion{WasteCollectedKg: 1})
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestComplete_RequiresAssignedWorker(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_011")
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)

	w := worker("w1", 16.546, 81.522, `{}`)
	_, err := d.Complete(context.Background(), "WR_2025_011", &w, models.Completion{WasteCollectedKg: 1})
	assert.ErrorIs(t, err, ErrNotAssigned)
	assert.Empty(t, store.entries("WR_2025_011"))
}

func TestStatusNeverMovesBackwards(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_012")
	store.requests["WR_2025_012"].Status = models.StatusAssigned
	d := newTestDriver(store, echoMessages{}, nil, nil)

	req, err := store.GetRequest(context.Background(), "WR_2025_012")
	require.NoError(t, err)
	err = d.step(context.Background(), req, models.RoleCitizen, models.StepAnalyzing, nil, nil)
	assert.ErrorIs(t, err, database.ErrInvalidTransition)
	assert.Empty(t, store.entries("WR_2025_012"))
	assert.Equal(t, models.StatusAssigned, store.requests["WR_2025_012"].Status)
}

func TestEtaMinutes(t *testing.T) {
	assert.Equal(t, 5, etaMinutes(0))
	assert.Equal(t, 5, etaMinutes(1.2))
	assert.Equal(t, 30, etaMinutes(10))
}

func TestAccept_ConcurrentWorkersOnlyOneWins(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_013")
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)
	require.NoError(t, d.Run(context.Background(), "WR_2025_013"))
	require.Equal(t, models.StatusMatching, store.requests["WR_2025_013"].Status)

	workers := []models.User{worker("w1", 16.55, 81.53, `{}`), worker("w2", 16.55, 81.53, `{}`)}
	errs := make([]error, len(workers))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = d.Accept(context.Background(), "WR_2025_013", &workers[i])
		}()
	}
	close(start)
	wg.Wait()

	var winner string
	failures := 0
	for i, err := range errs {
		if err == nil {
			winner = workers[i].ID
			continue
		}
		failures++
		assert.ErrorIs(t, err, ErrWrongState)
	}
	require.Equal(t, 1, failures, "exactly one accept must lose")

	assert.Equal(t, []string{"submitted", "analyzing", "matching", "assigned"}, store.steps("WR_2025_013"))
	req := store.requests["WR_2025_013"]
	require.NotNil(t, req.AssignedWorkerID)
	assert.Equal(t, winner, *req.AssignedWorkerID)
	assert.Equal(t, winner, req.Assignment.WorkerID)
}

func TestRun_ConcurrentDeliveriesRecordEachStepOnce(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_014")
	store.workers = []models.User{worker("w1", 16.546, 81.522, `{}`)}
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, d.Run(context.Background(), "WR_2025_014"))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, []string{"submitted", "analyzing", "matching", "assigned"}, store.steps("WR_2025_014"))
}

func TestComplete_FinishesWhenCallerGoesAway(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_015")
	store.workers = []models.User{worker("w1", 16.546, 81.522, `{}`)}
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)
	require.NoError(t, d.Run(context.Background(), "WR_2025_015"))

	d.cfg.Pacing = 1.0
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	<-ctx.Done()

	w := store.workers[0]
	began := time.Now()
	impact, err := d.Complete(ctx, "WR_2025_015", &w, models.Completion{WasteCollectedKg: 2, WasteType: "plastic"})
	require.NoError(t, err)
	require.NotNil(t, impact)
	assert.Less(t, time.Since(began), time.Second, "worker actions are not paced")

	assert.Equal(t, models.StatusCompleted, store.requests["WR_2025_015"].Status)
	assert.NotContains(t, store.steps("WR_2025_015"), models.StepError)
}

func TestRun_InterruptedStepLeavesStatusUntouched(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_016")
	store.failOn[models.StepMatching] = fmt.Errorf("begin tx: %w", context.Canceled)
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)

	err := d.Run(context.Background(), "WR_2025_016")
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"submitted", "analyzing"}, store.steps("WR_2025_016"))
	assert.Equal(t, models.StatusAnalyzing, store.requests["WR_2025_016"].Status)
}

func TestRun_CancelledContextSkipsPacingButRecordsSteps(t *testing.T) {
	store := newMemoryStore()
	submitted(store, "WR_2025_017")
	store.workers = []models.User{worker("w1", 16.546, 81.522, `{}`)}
	d := newTestDriver(store, echoMessages{}, fixedAnalyzer{analysis: plastic}, nil)
	d.cfg.Pacing = 1.0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	began := time.Now()
	require.NoError(t, d.Run(ctx, "WR_2025_017"))
	assert.Less(t, time.Since(began), time.Second)
	assert.Equal(t, []string{"submitted", "analyzing", "matching", "assigned"}, store.steps("WR_2025_017"))
}
