package api

import (
	"net/http"
	"strings"
	"time"
)

// handleHealthz serves the self-diagnosis snapshot. Critical overall
// status maps to 503 so orchestration platforms restart us.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	report := s.diagnoser.CheckSystemHealth(r.Context())
	status := http.StatusOK
	if report.OverallStatus == "critical" {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, report)
}

// handleReadyz is a shallow readiness probe: the store must answer.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if _, err := s.store.ListOpenProblems(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	result, err := s.loop.RunCycle(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	actions, err := s.loop.SuggestNextActions(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, actions)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := s.stats.GetStatistics(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleProblems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	problems, err := s.store.ListOpenProblems(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, problems)
}

// handleProblem serves /api/v1/problems/{id} and
// /api/v1/problems/{id}/hypotheses.
func (s *Server) handleProblem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := s.extractID(r.URL.Path, "/api/v1/problems")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Problem id is required")
		return
	}

	if strings.HasSuffix(r.URL.Path, "/hypotheses") {
		hypotheses, err := s.store.ListHypothesesForProblem(r.Context(), id)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, hypotheses)
		return
	}

	problem, err := s.store.GetProblem(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Problem not found")
		return
	}
	s.respondJSON(w, http.StatusOK, problem)
}

// handleHypothesisOutcome serves POST /api/v1/hypotheses/{id}/outcome.
func (s *Server) handleHypothesisOutcome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/outcome") {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := s.extractID(r.URL.Path, "/api/v1/hypotheses")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Hypothesis id is required")
		return
	}

	var req struct {
		Success bool   `json:"success"`
		Details string `json:"details"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.loop.RecordHypothesisOutcome(r.Context(), id, req.Success, req.Details); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Error   string `json:"error"`
		Context string `json:"context"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Error == "" {
		s.respondError(w, http.StatusBadRequest, "error is required")
		return
	}

	s.respondJSON(w, http.StatusOK, s.recovery.Recover(r.Context(), req.Error, req.Context))
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	s.respondJSON(w, http.StatusOK, s.diagnoser.DiagnoseIssue(req.Message))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, s.validator.Validate(r.Context()))
}

func (s *Server) handleRollbackMonitor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		VersionID   string `json:"version_id"`
		WaitSeconds int    `json:"wait_seconds"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.VersionID == "" {
		s.respondError(w, http.StatusBadRequest, "version_id is required")
		return
	}

	result := s.rollback.MonitorAndRollback(r.Context(), req.VersionID, time.Duration(req.WaitSeconds)*time.Second)
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleShouldRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	should, health := s.rollback.ShouldRollback(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"should_rollback": should,
		"health":          health,
	})
}
