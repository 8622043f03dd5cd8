package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/models"
	"github.com/pipeforge/runcore/pkg/orcherr"
	"github.com/pipeforge/runcore/pkg/runstore"
)

// fakeRunStore satisfies both RunReader and RunLifecycle so a single fake
// can back both fields in tests that exercise the full create-then-get path.
type fakeRunStore struct {
	runs       map[string]*models.Run
	createErr  error
	resumeErr  error
	getErr     error
	resumedRun *models.Run
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]*models.Run)}
}

func (f *fakeRunStore) CreateRun(ctx context.Context, run *models.Run) error {
	if f.createErr != nil {
		return f.createErr
	}
	run.ID = "run-generated"
	run.State = models.RunStateCreated
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRunStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	run, ok := f.runs[runID]
	if !ok {
		return nil, runstore.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeRunStore) Resume(ctx context.Context, runID string) (*models.Run, error) {
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	if f.resumedRun != nil {
		return f.resumedRun, nil
	}
	return f.GetRun(ctx, runID)
}

type fakeLedger struct {
	timelineEntries []*models.LedgerEntry
	queryEntries    []*models.LedgerEntry
	err             error
}

func (f *fakeLedger) Timeline(ctx context.Context, runID string) ([]*models.LedgerEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.timelineEntries, nil
}

func (f *fakeLedger) Query(ctx context.Context, q models.LedgerQuery) ([]*models.LedgerEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.queryEntries, nil
}

func newTestServer(store *fakeRunStore, led *fakeLedger) *Server {
	return NewServer(&config.Config{AllowedWSOrigins: []string{"*"}}, nil, store, store, led, nil)
}

func TestHandleCreateRun_ValidRequest_Returns201(t *testing.T) {
	store := newFakeRunStore()
	s := newTestServer(store, &fakeLedger{})

	body := `{"tenant_id":"t1","user_id":"u1","idea_spec_id":"spec1","max_cost_usd":5.0,"max_tokens":1000,"max_tool_minutes":10,"max_wallclock_minutes":30}`
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-generated", resp.RunID)
	assert.Equal(t, string(models.RunStateCreated), resp.State)
}

func TestHandleCreateRun_MissingRequiredField_Returns400(t *testing.T) {
	s := newTestServer(newFakeRunStore(), &fakeLedger{})

	body := `{"user_id":"u1","idea_spec_id":"spec1","max_cost_usd":5.0,"max_tokens":1000,"max_tool_minutes":10,"max_wallclock_minutes":30}`
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetRun_UnknownID_Returns404(t *testing.T) {
	s := newTestServer(newFakeRunStore(), &fakeLedger{})

	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetRun_KnownID_Returns200(t *testing.T) {
	store := newFakeRunStore()
	store.runs["run-1"] = &models.Run{ID: "run-1", TenantID: "t1", State: models.RunStateIntake}
	s := newTestServer(store, &fakeLedger{})

	req := httptest.NewRequest(http.MethodGet, "/runs/run-1", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
}

func TestHandleResumeRun_IllegalTransition_Returns409(t *testing.T) {
	store := newFakeRunStore()
	store.resumeErr = errors.Join(orcherr.ErrIllegalTransition, errors.New("run is not paused"))
	s := newTestServer(store, &fakeLedger{})

	req := httptest.NewRequest(http.MethodPost, "/runs/run-1/resume", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleResumeRun_Success_Returns200(t *testing.T) {
	store := newFakeRunStore()
	store.resumedRun = &models.Run{ID: "run-1", TenantID: "t1", State: models.RunStateIntake}
	s := newTestServer(store, &fakeLedger{})

	req := httptest.NewRequest(http.MethodPost, "/runs/run-1/resume", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(models.RunStateIntake), resp.State)
}

func TestHandleTimeline_ReturnsLedgerEntries(t *testing.T) {
	led := &fakeLedger{timelineEntries: []*models.LedgerEntry{
		{ID: "e1", RunID: "run-1", Sequence: 1, Type: models.LedgerEntryType("phase_started")},
	}}
	s := newTestServer(newFakeRunStore(), led)

	req := httptest.NewRequest(http.MethodGet, "/runs/run-1/timeline", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []LedgerEntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "e1", resp[0].ID)
}

func TestHandleLedger_FiltersByType(t *testing.T) {
	led := &fakeLedger{queryEntries: []*models.LedgerEntry{
		{ID: "e2", RunID: "run-1", Sequence: 2, Type: models.LedgerEntryType("cost_recorded")},
	}}
	s := newTestServer(newFakeRunStore(), led)

	req := httptest.NewRequest(http.MethodGet, "/runs/run-1/ledger?type=cost_recorded", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []LedgerEntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "cost_recorded", resp[0].Type)
}

func TestHandleWebSocket_NoConnectionManager_Returns503(t *testing.T) {
	s := newTestServer(newFakeRunStore(), &fakeLedger{})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestValidateWiring_MissingDependencies_ReturnsError(t *testing.T) {
	s := newTestServer(newFakeRunStore(), &fakeLedger{})
	err := s.ValidateWiring()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connMgr not set")
	assert.Contains(t, err.Error(), "recorder not set")
}
