package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/mend/pkg/models"
)

type fakeCycler struct {
	cycleErr error
	outcomes []string
}

func (f *fakeCycler) RunCycle(context.Context) (*models.CycleResult, error) {
	if f.cycleErr != nil {
		return nil, f.cycleErr
	}
	return &models.CycleResult{ProblemsDetected: 2}, nil
}

func (f *fakeCycler) RecordHypothesisOutcome(_ context.Context, id string, success bool, _ string) error {
	f.outcomes = append(f.outcomes, id)
	if id == "missing" {
		return errors.New("hypothesis not found")
	}
	return nil
}

func (f *fakeCycler) SuggestNextActions(context.Context) ([]models.SuggestedAction, error) {
	return []models.SuggestedAction{{Priority: 1, Kind: "needs_hypotheses"}}, nil
}

type fakeDiagnoser struct {
	overall string
}

func (f *fakeDiagnoser) CheckSystemHealth(context.Context) *models.DiagnosisReport {
	return &models.DiagnosisReport{OverallStatus: f.overall}
}

func (f *fakeDiagnoser) DiagnoseIssue(string) *models.IssueDiagnosis {
	return &models.IssueDiagnosis{Category: "database", Severity: "high"}
}

type fakeRecoverer struct{}

func (fakeRecoverer) Recover(_ context.Context, errMsg, _ string) *models.RecoveryResult {
	return &models.RecoveryResult{Success: true, ErrorType: "missing_module", ShouldRetry: true}
}

type fakeValidator struct{}

func (fakeValidator) Validate(context.Context) *models.ValidationResult {
	return &models.ValidationResult{CanDeploy: true, Checks: map[string]bool{"compilation": true}}
}

type fakeRollback struct{}

func (fakeRollback) MonitorAndRollback(_ context.Context, versionID string, _ time.Duration) *models.MonitorResult {
	return &models.MonitorResult{Healthy: true}
}

func (fakeRollback) ShouldRollback(context.Context) (bool, *models.DeploymentHealth) {
	return true, &models.DeploymentHealth{IsHealthy: false}
}

type fakeAPIStore struct {
	listErr error
}

func (f *fakeAPIStore) ListOpenProblems(context.Context) ([]*models.DetectedProblem, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []*models.DetectedProblem{{ID: "p1", Title: "slow queries"}}, nil
}

func (f *fakeAPIStore) GetProblem(_ context.Context, id string) (*models.DetectedProblem, error) {
	if id != "p1" {
		return nil, errors.New("not found")
	}
	return &models.DetectedProblem{ID: "p1", Title: "slow queries"}, nil
}

func (f *fakeAPIStore) ListHypothesesForProblem(_ context.Context, problemID string) ([]*models.Hypothesis, error) {
	return []*models.Hypothesis{{ID: "h1", ProblemID: problemID}}, nil
}

type fakeStats struct{}

func (fakeStats) GetStatistics(context.Context) (*models.Statistics, error) {
	return &models.Statistics{TotalExperiences: 12}, nil
}

func newTestServer(diagnoser *fakeDiagnoser, store *fakeAPIStore) (*Server, *fakeCycler) {
	if diagnoser == nil {
		diagnoser = &fakeDiagnoser{overall: "healthy"}
	}
	if store == nil {
		store = &fakeAPIStore{}
	}
	cycler := &fakeCycler{}
	srv := NewServer(cycler, diagnoser, fakeRecoverer{}, fakeValidator{}, fakeRollback{}, store, fakeStats{})
	return srv, cycler
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.SetupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthzHealthy(t *testing.T) {
	srv, _ := newTestServer(&fakeDiagnoser{overall: "healthy"}, nil)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzCriticalIs503(t *testing.T) {
	srv, _ := newTestServer(&fakeDiagnoser{overall: "critical"}, nil)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyz(t *testing.T) {
	srv, _ := newTestServer(nil, nil)
	rec := doRequest(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	srv, _ = newTestServer(nil, &fakeAPIStore{listErr: errors.New("db down")})
	rec = doRequest(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCycleEndpoint(t *testing.T) {
	srv, _ := newTestServer(nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/cycle", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.CycleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.ProblemsDetected)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/cycle", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProblemEndpoints(t *testing.T) {
	srv, _ := newTestServer(nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/problems", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/problems/p1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/problems/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/problems/p1/hypotheses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hypotheses []*models.Hypothesis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hypotheses))
	require.Len(t, hypotheses, 1)
	assert.Equal(t, "p1", hypotheses[0].ProblemID)
}

func TestHypothesisOutcomeEndpoint(t *testing.T) {
	srv, cycler := newTestServer(nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/hypotheses/h1/outcome", `{"success":true,"details":"held in staging"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"h1"}, cycler.outcomes)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/hypotheses/missing/outcome", `{"success":true}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/hypotheses/h1/outcome", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoverEndpoint(t *testing.T) {
	srv, _ := newTestServer(nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/recover", `{"error":"Cannot find module 'x'"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.RecoveryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/recover", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "error message is required")
}

func TestDiagnoseEndpoint(t *testing.T) {
	srv, _ := newTestServer(nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/diagnose", `{"message":"prisma exploded"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var diag models.IssueDiagnosis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &diag))
	assert.Equal(t, "database", diag.Category)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/diagnose", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateEndpoint(t *testing.T) {
	srv, _ := newTestServer(nil, nil)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.CanDeploy)
}

func TestRollbackEndpoints(t *testing.T) {
	srv, _ := newTestServer(nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/rollback/monitor", `{"version_id":"v42","wait_seconds":0}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/rollback/monitor", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "version_id is required")

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/rollback/should", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.JSONEq(t, "true", string(body["should_rollback"]))
}

func TestSuggestionsAndStatistics(t *testing.T) {
	srv, _ := newTestServer(nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/suggestions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var actions []models.SuggestedAction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &actions))
	require.Len(t, actions, 1)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/statistics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 12, stats.TotalExperiences)
}

func TestExtractID(t *testing.T) {
	s := &Server{}
	assert.Equal(t, "p1", s.extractID("/api/v1/problems/p1", "/api/v1/problems"))
	assert.Equal(t, "p1", s.extractID("/api/v1/problems/p1/hypotheses", "/api/v1/problems"))
	assert.Equal(t, "", s.extractID("/api/v1/problems/", "/api/v1/problems"))
}
