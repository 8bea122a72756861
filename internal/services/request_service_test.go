package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"dharani-backend/internal/database"
	"dharani-backend/internal/models"
	"dharani-backend/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryRequestStore struct {
	mu         sync.Mutex
	requests   map[string]models.ServiceRequest
	timeline   map[string][]models.TimelineEntry
	countErr   error
	duplicates int
	lastFilter database.RequestFilter
}

func newMemoryRequestStore() *memoryRequestStore {
	return &memoryRequestStore{
		requests: map[string]models.ServiceRequest{},
		timeline: map[string][]models.TimelineEntry{},
	}
}

func (m *memoryRequestStore) CountRequestsBetween(context.Context, int64, int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests), m.countErr
}

func (m *memoryRequestStore) CreateRequest(_ context.Context, r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.RequestID]; ok {
		m.duplicates++
		return fmt.Errorf("insert request: %w", database.ErrDuplicate)
	}
	r.StatusRank = r.Status.Rank()
	m.requests[r.RequestID] = *r
	return nil
}

func (m *memoryRequestStore) GetRequest(_ context.Context, id string) (*models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &r, nil
}

func (m *memoryRequestStore) ListRequests(_ context.Context, f database.RequestFilter) ([]models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = f
	var out []models.ServiceRequest
	for _, r := range m.requests {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.Status != "" && string(r.Status) != f.Status {
			continue
		}
		if f.After != nil && !cursorBefore(*f.After, r) {
			continue
		}
		out = append(out, r)
	}
	if f.OldestFirst {
		sort.Slice(out, func(i, j int) bool {
			return cursorBefore(database.RequestCursor{CreatedAt: out[i].CreatedAt, RequestID: out[i].RequestID}, out[j])
		})
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// RequestStatusTotals aggregates like the SQL query: one row per status.
func (m *memoryRequestStore) RequestStatusTotals(_ context.Context, f database.RequestFilter) ([]database.StatusTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = f
	byStatus := map[string]*database.StatusTotals{}
	var order []string
	for _, r := range m.requests {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.WorkerID != "" && (r.AssignedWorkerID == nil || *r.AssignedWorkerID != f.WorkerID) {
			continue
		}
		if f.City != "" && !strings.EqualFold(r.City, f.City) {
			continue
		}
		row, ok := byStatus[string(r.Status)]
		if !ok {
			row = &database.StatusTotals{Status: string(r.Status)}
			byStatus[string(r.Status)] = row
			order = append(order, string(r.Status))
		}
		row.Requests++
		if imp := r.EnvironmentalImpact; imp != nil {
			row.WasteCollectedKg = row.WasteCollectedKg.Add(decimal.NewFromFloat(imp.WasteCollectedKg))
			row.CO2SavedKg = row.CO2SavedKg.Add(decimal.NewFromFloat(imp.CO2SavedKg))
			row.TreesEquivalent = row.TreesEquivalent.Add(decimal.NewFromFloat(imp.TreesEquivalent))
			row.WaterSavedLiters = row.WaterSavedLiters.Add(decimal.NewFromFloat(imp.WaterSavedLiters))
			row.RecyclingValue = row.RecyclingValue.Add(decimal.NewFromFloat(imp.RecyclingValue))
			row.EnvironmentalScore = row.EnvironmentalScore.Add(decimal.NewFromFloat(imp.EnvironmentalScore))
		}
	}
	out := make([]database.StatusTotals, 0, len(order))
	for _, st := range order {
		out = append(out, *byStatus[st])
	}
	return out, nil
}

func cursorBefore(c database.RequestCursor, r models.ServiceRequest) bool {
	if c.CreatedAt != r.CreatedAt {
		return c.CreatedAt < r.CreatedAt
	}
	return c.RequestID < r.RequestID
}

func (m *memoryRequestStore) GetTimeline(_ context.Context, id string) ([]models.TimelineEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeline[id], nil
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
	return d.err
}

type fakeImageStore struct {
	mu   sync.Mutex
	fail map[string]bool
	seen []string
}

func (f *fakeImageStore) Upload(_ context.Context, folder, filename, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, filename)
	if f.fail[filename] {
		return "", errors.New("bucket unavailable")
	}
	return fmt.Sprintf("https://cdn.test/%s/%s?size=%d", folder, filename, len(data)), nil
}

type fakeGeocoder struct {
	addr *Address
	err  error
}

func (g fakeGeocoder) ReverseGeocode(context.Context, float64, float64) (*Address, error) {
	return g.addr, g.err
}

func image(name string) ImageUpload {
	return ImageUpload{
		Filename:    name,
		ContentType: "image/jpeg",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("jpeg-bytes")), nil
		},
	}
}

var fixedClock = func() time.Time { return time.Date(2025, 8, 15, 9, 0, 0, 0, time.UTC) }

func newTestRequestService(store *memoryRequestStore, images *fakeImageStore, geocoder ReverseGeocoder, dispatcher *recordingDispatcher) *RequestService {
	ids := NewRequestIDGenerator(store, "WR", zap.NewNop())
	ids.now = fixedClock
	var imageStore storage.ImageStore
	if images != nil {
		imageStore = images
	}
	s := NewRequestService(store, ids, imageStore, geocoder, dispatcher, zap.NewNop())
	s.now = fixedClock
	return s
}

var citizen = Caller{UserID: "citizen-1", Role: models.RoleCitizen, Area: "Test Colony", City: "Bhimavaram"}

func validInput() CreateRequestInput {
	return CreateRequestInput{
		Description: "Plastic waste dumped behind the bus stand",
		Latitude:    16.5449,
		Longitude:   81.5212,
		Address:     "Bus stand road",
	}
}

func TestCreate_PersistsAndDispatches(t *testing.T) {
	store := newMemoryRequestStore()
	images := &fakeImageStore{fail: map[string]bool{"b.jpg": true}}
	dispatcher := &recordingDispatcher{}
	s := newTestRequestService(store, images, nil, dispatcher)

	in := validInput()
	in.Images = []ImageUpload{image("a.jpg"), image("b.jpg"), image("c.jpg")}

	req, err := s.Create(context.Background(), citizen, in)
	require.NoError(t, err)

	assert.Equal(t, "WR_2025_001", req.RequestID)
	assert.Equal(t, models.StatusSubmitted, req.Status)
	assert.Equal(t, []string{"WR_2025_001"}, dispatcher.ids)
	assert.ElementsMatch(t, []string{"a.jpg", "b.jpg", "c.jpg"}, images.seen)

	// the failed upload is omitted and order is kept
	require.Len(t, req.Images, 2)
	assert.Contains(t, req.Images[0], "requests/WR_2025_001/a.jpg")
	assert.Contains(t, req.Images[1], "c.jpg")

	stored := store.requests["WR_2025_001"]
	assert.Equal(t, "Test Colony", stored.Area)
	assert.Equal(t, fixedClock().Unix(), stored.CreatedAt)

	second, err := s.Create(context.Background(), citizen, validInput())
	require.NoError(t, err)
	assert.Equal(t, "WR_2025_002", second.RequestID)
}

func TestCreate_RetriesOnIDCollision(t *testing.T) {
	store := newMemoryRequestStore()
	// one request this year, but a concurrent submission already took 002
	store.requests["WR_2025_002"] = models.ServiceRequest{RequestID: "WR_2025_002"}
	s := newTestRequestService(store, nil, nil, &recordingDispatcher{})

	req, err := s.Create(context.Background(), citizen, validInput())
	require.NoError(t, err)
	assert.Equal(t, 1, store.duplicates)
	assert.Regexp(t, `^WR_2025_[0-9A-F]{8}$`, req.RequestID)
}

func TestCreate_ValidationErrors(t *testing.T) {
	s := newTestRequestService(newMemoryRequestStore(), nil, nil, &recordingDispatcher{})

	tooMany := validInput()
	for i := 0; i < 6; i++ {
		tooMany.Images = append(tooMany.Images, image(fmt.Sprintf("%d.jpg", i)))
	}
	badLat := validInput()
	badLat.Latitude = 91
	empty := validInput()
	empty.Description = "   "

	for name, in := range map[string]CreateRequestInput{
		"too many images": tooMany,
		"bad latitude":    badLat,
		"no description":  empty,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create(context.Background(), citizen, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreate_FillsMissingAddress(t *testing.T) {
	store := newMemoryRequestStore()
	geocoder := fakeGeocoder{addr: &Address{FormattedAddress: "Main Road, Bhimavaram", Area: "Main Road", City: "Bhimavaram"}}
	s := newTestRequestService(store, nil, geocoder, &recordingDispatcher{})

	in := validInput()
	in.Address = ""
	req, err := s.Create(context.Background(), Caller{UserID: "c2", Role: models.RoleCitizen}, in)
	require.NoError(t, err)
	assert.Equal(t, "Main Road, Bhimavaram", req.Address)
	assert.Equal(t, "Main Road", req.Area)
	assert.Equal(t, "Bhimavaram", req.City)

	failing := newTestRequestService(newMemoryRequestStore(), nil, fakeGeocoder{err: errors.New("quota")}, &recordingDispatcher{})
	req, err = failing.Create(context.Background(), citizen, in)
	require.NoError(t, err)
	assert.Empty(t, req.Address)
	assert.Equal(t, "Bhimavaram", req.City)
}

func TestCreate_DispatchFailureStillReturnsRequest(t *testing.T) {
	store := newMemoryRequestStore()
	s := newTestRequestService(store, nil, nil, &recordingDispatcher{err: errors.New("queue full")})

	req, err := s.Create(context.Background(), citizen, validInput())
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, store.requests[req.RequestID].Status)

	dispatcher := &recordingDispatcher{}
	s.dispatcher = dispatcher
	n, err := s.ResumePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{req.RequestID}, dispatcher.ids)
}

func TestResumePending_PagesOldestFirst(t *testing.T) {
	store := newMemoryRequestStore()
	total := resumePageSize*2 + 7
	for i := range total {
		id := fmt.Sprintf("WR_2025_%04d", i+1)
		store.requests[id] = models.ServiceRequest{
			RequestID: id,
			Status:    models.StatusSubmitted,
			CreatedAt: fixedClock().Unix() + int64(i/3),
		}
	}
	store.requests["WR_2025_DONE"] = models.ServiceRequest{RequestID: "WR_2025_DONE", Status: models.StatusCompleted}

	dispatcher := &recordingDispatcher{}
	s := newTestRequestService(store, nil, nil, dispatcher)

	n, err := s.ResumePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, total, n)
	require.Len(t, dispatcher.ids, total)
	assert.Equal(t, "WR_2025_0001", dispatcher.ids[0])
	assert.Equal(t, fmt.Sprintf("WR_2025_%04d", total), dispatcher.ids[total-1])
	assert.True(t, sort.StringsAreSorted(dispatcher.ids), "oldest requests go first")
}

func TestGet_WorkersSeeOpenJobsOnlyInTheirCity(t *testing.T) {
	store := newMemoryRequestStore()
	store.requests["WR_2025_020"] = models.ServiceRequest{
		RequestID: "WR_2025_020",
		UserID:    "citizen-1",
		City:      "Eluru",
		Status:    models.StatusMatching,
	}
	s := newTestRequestService(store, nil, nil, &recordingDispatcher{})

	_, err := s.Get(context.Background(), Caller{UserID: "w1", Role: models.RoleWorker, City: "eluru"}, "WR_2025_020")
	assert.NoError(t, err)

	_, err = s.Get(context.Background(), Caller{UserID: "w2", Role: models.RoleWorker, City: "Bhimavaram"}, "WR_2025_020")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGet_FiltersTimelineByRole(t *testing.T) {
	store := newMemoryRequestStore()
	workerID := "worker-1"
	store.requests["WR_2025_010"] = models.ServiceRequest{
		RequestID:        "WR_2025_010",
		UserID:           "citizen-1",
		Status:           models.StatusAssigned,
		AssignedWorkerID: &workerID,
	}
	store.timeline["WR_2025_010"] = []models.TimelineEntry{
		{Seq: 1, Step: models.StepSubmitted, SubmitterVisible: true, OversightVisible: true},
		{Seq: 2, Step: models.StepAnalyzing, SubmitterVisible: true, OversightVisible: true},
		{Seq: 3, Step: models.StepMatching, SubmitterVisible: true, WorkerVisible: true, OversightVisible: true},
		{Seq: 4, Step: models.StepAssigned, SubmitterVisible: true, WorkerVisible: true, OversightVisible: true},
	}
	s := newTestRequestService(store, nil, nil, &recordingDispatcher{})

	steps := func(c Caller) []string {
		entries, err := s.Timeline(context.Background(), c, "WR_2025_010")
		require.NoError(t, err)
		var out []string
		for _, e := range entries {
			out = append(out, e.Step)
		}
		return out
	}

	assert.Equal(t, []string{"submitted", "analyzing", "matching", "assigned"}, steps(citizen))
	assert.Equal(t, []string{"matching", "assigned"}, steps(Caller{UserID: workerID, Role: models.RoleWorker}))
	assert.Len(t, steps(Caller{UserID: "gov-1", Role: models.RoleGovernment}), 4)

	_, err := s.Get(context.Background(), Caller{UserID: "citizen-2", Role: models.RoleCitizen}, "WR_2025_010")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = s.Get(context.Background(), Caller{UserID: "worker-2", Role: models.RoleWorker}, "WR_2025_010")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = s.Get(context.Background(), citizen, "WR_2025_404")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestList_ScopesByRole(t *testing.T) {
	store := newMemoryRequestStore()
	s := newTestRequestService(store, nil, nil, &recordingDispatcher{})

	_, err := s.List(context.Background(), citizen, "")
	require.NoError(t, err)
	assert.Equal(t, database.RequestFilter{UserID: "citizen-1"}, store.lastFilter)

	worker := Caller{UserID: "w1", Role: models.RoleWorker, City: "Bhimavaram"}
	_, err = s.List(context.Background(), worker, "")
	require.NoError(t, err)
	assert.Equal(t, database.RequestFilter{WorkerID: "w1"}, store.lastFilter)

	_, err = s.List(context.Background(), worker, "matching")
	require.NoError(t, err)
	assert.Equal(t, database.RequestFilter{City: "Bhimavaram", Status: "matching"}, store.lastFilter)

	_, err = s.List(context.Background(), Caller{UserID: "g1", Role: models.RoleGovernment}, "completed")
	require.NoError(t, err)
	assert.Equal(t, database.RequestFilter{Status: "completed"}, store.lastFilter)

	_, err = s.List(context.Background(), citizen, "archived")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStats_CountsAndImpactPerRole(t *testing.T) {
	store := newMemoryRequestStore()
	w1 := "worker-1"
	add := func(id, user string, status models.RequestStatus, worker *string, impact *models.EnvironmentalImpact) {
		store.requests[id] = models.ServiceRequest{
			RequestID: id, UserID: user, City: "Bhimavaram", Status: status,
			AssignedWorkerID: worker, EnvironmentalImpact: impact,
		}
	}
	add("WR_2025_001", "citizen-1", models.StatusSubmitted, nil, nil)
	add("WR_2025_002", "citizen-1", models.StatusAssigned, &w1, nil)
	add("WR_2025_003", "citizen-1", models.StatusCompleted, &w1, &models.EnvironmentalImpact{
		WasteCollectedKg: 2.5, CO2SavedKg: 6.25, TreesEquivalent: 0.29, WaterSavedLiters: 37.5, EnvironmentalScore: 8.8,
	})
	add("WR_2025_004", "citizen-1", models.StatusCompleted, &w1, &models.EnvironmentalImpact{
		WasteCollectedKg: 1.1, CO2SavedKg: 2.75, TreesEquivalent: 0.13, WaterSavedLiters: 16.5, RecyclingValue: 12, EnvironmentalScore: 6.1,
	})
	add("WR_2025_005", "citizen-1", models.StatusError, nil, nil)
	add("WR_2025_006", "citizen-2", models.StatusCompleted, nil, &models.EnvironmentalImpact{WasteCollectedKg: 10})

	s := newTestRequestService(store, nil, nil, &recordingDispatcher{})

	stats, err := s.Stats(context.Background(), citizen, "")
	require.NoError(t, err)
	assert.Equal(t, database.RequestFilter{UserID: "citizen-1"}, store.lastFilter)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.ByStatus["submitted"])
	assert.Equal(t, 0, stats.ByStatus["in_progress"])
	assert.Len(t, stats.ByStatus, 7)
	assert.Equal(t, 3.6, stats.Impact.WasteCollectedKg)
	assert.Equal(t, 9.0, stats.Impact.CO2SavedKg)
	assert.Equal(t, 0.42, stats.Impact.TreesEquivalent)
	assert.Equal(t, 54.0, stats.Impact.WaterSavedLiters)
	assert.Equal(t, 12.0, stats.Impact.RecyclingValue)
	assert.Equal(t, 14.9, stats.Impact.EnvironmentalScore)

	stats, err = s.Stats(context.Background(), Caller{UserID: w1, Role: models.RoleWorker}, "ignored")
	require.NoError(t, err)
	assert.Equal(t, database.RequestFilter{WorkerID: w1}, store.lastFilter)
	assert.Equal(t, 3, stats.Total)

	stats, err = s.Stats(context.Background(), Caller{UserID: "g1", Role: models.RoleGovernment}, " bhimavaram ")
	require.NoError(t, err)
	assert.Equal(t, database.RequestFilter{City: "bhimavaram"}, store.lastFilter)
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 13.6, stats.Impact.WasteCollectedKg)
}
