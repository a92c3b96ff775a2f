// Package api exposes the remediation loop over HTTP: health probes,
// Prometheus metrics, and a small operator-facing JSON API.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/mend/pkg/models"
)

// Cycler is the learning-loop surface the API drives.
type Cycler interface {
	RunCycle(ctx context.Context) (*models.CycleResult, error)
	RecordHypothesisOutcome(ctx context.Context, hypothesisID string, success bool, details string) error
	SuggestNextActions(ctx context.Context) ([]models.SuggestedAction, error)
}

// Diagnoser backs the health endpoints and the issue classifier.
type Diagnoser interface {
	CheckSystemHealth(ctx context.Context) *models.DiagnosisReport
	DiagnoseIssue(message string) *models.IssueDiagnosis
}

// Recoverer runs the automatic error recovery path.
type Recoverer interface {
	Recover(ctx context.Context, errMsg, errCtx string) *models.RecoveryResult
}

// Validator runs the pre-deployment gate.
type Validator interface {
	Validate(ctx context.Context) *models.ValidationResult
}

// RollbackMonitor drives the post-deployment watchdog.
type RollbackMonitor interface {
	MonitorAndRollback(ctx context.Context, versionID string, wait time.Duration) *models.MonitorResult
	ShouldRollback(ctx context.Context) (bool, *models.DeploymentHealth)
}

// Store is the read surface for listings.
type Store interface {
	ListOpenProblems(ctx context.Context) ([]*models.DetectedProblem, error)
	GetProblem(ctx context.Context, id string) (*models.DetectedProblem, error)
	ListHypothesesForProblem(ctx context.Context, problemID string) ([]*models.Hypothesis, error)
}

// Statistician summarizes the experience ledger.
type Statistician interface {
	GetStatistics(ctx context.Context) (*models.Statistics, error)
}

// Server is the HTTP API server.
type Server struct {
	loop      Cycler
	diagnoser Diagnoser
	recovery  Recoverer
	validator Validator
	rollback  RollbackMonitor
	store     Store
	stats     Statistician
}

func NewServer(loop Cycler, diagnoser Diagnoser, recovery Recoverer, validator Validator, rollback RollbackMonitor, store Store, stats Statistician) *Server {
	return &Server{
		loop:      loop,
		diagnoser: diagnoser,
		recovery:  recovery,
		validator: validator,
		rollback:  rollback,
		store:     store,
		stats:     stats,
	}
}

// SetupRoutes configures HTTP routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Probes and metrics
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	// Learning loop
	mux.HandleFunc("/api/v1/cycle", s.handleCycle)
	mux.HandleFunc("/api/v1/suggestions", s.handleSuggestions)
	mux.HandleFunc("/api/v1/statistics", s.handleStatistics)

	// Problems and hypotheses
	mux.HandleFunc("/api/v1/problems", s.handleProblems)
	mux.HandleFunc("/api/v1/problems/", s.handleProblem)
	mux.HandleFunc("/api/v1/hypotheses/", s.handleHypothesisOutcome)

	// Recovery, validation, rollback
	mux.HandleFunc("/api/v1/recover", s.handleRecover)
	mux.HandleFunc("/api/v1/diagnose", s.handleDiagnose)
	mux.HandleFunc("/api/v1/validate", s.handleValidate)
	mux.HandleFunc("/api/v1/rollback/monitor", s.handleRollbackMonitor)
	mux.HandleFunc("/api/v1/rollback/should", s.handleShouldRollback)

	handler := s.loggingMiddleware(mux)
	return otelhttp.NewHandler(handler, "mend-api")
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if !strings.HasPrefix(r.URL.Path, "/healthz") && !strings.HasPrefix(r.URL.Path, "/metrics") {
			log.Printf("[API] %s %s (%v)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
		}
	})
}

// Helper functions

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// extractID pulls the entity id out of a path like
// /api/v1/problems/{id}/hypotheses.
func (s *Server) extractID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.TrimPrefix(id, "/")
	if i := strings.Index(id, "/"); i >= 0 {
		return id[:i]
	}
	return id
}
