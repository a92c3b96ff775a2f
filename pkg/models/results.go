package models

import "time"

// RecoveryResult is the structured outcome of one automatic recovery
// attempt. Unrecognized error signatures yield Success=false with
// ShouldRetry=false ("manual intervention required").
type RecoveryResult struct {
	Success     bool   `json:"success"`
	ErrorType   string `json:"error_type"`
	ActionTaken string `json:"action_taken"`
	Details     string `json:"details,omitempty"`
	ShouldRetry bool   `json:"should_retry"`
}

// RootCauseAnalysis is the output of analyzing a single runtime error.
type RootCauseAnalysis struct {
	RootCause           string   `json:"root_cause"`
	ContributingFactors []string `json:"contributing_factors"`
	Confidence          int      `json:"confidence"` // 0-100
	Recommendations     []string `json:"recommendations"`
	AffectedComponents  []string `json:"affected_components"`
}

// ComponentHealth is the remote health endpoint's per-component flag.
type ComponentHealth struct {
	Service  string `json:"service"`
	Database string `json:"database"`
}

// DeploymentHealth is the decoded result of one post-deployment health probe.
type DeploymentHealth struct {
	IsHealthy    bool            `json:"is_healthy"`
	APIReachable bool            `json:"api_reachable"`
	Components   ComponentHealth `json:"components"`
	Errors       []string        `json:"errors,omitempty"`
	CheckedAt    time.Time       `json:"checked_at"`
}

// RollbackResult records what a rollback attempt actually did.
type RollbackResult struct {
	Success        bool   `json:"success"`
	Reason         string `json:"reason"`
	FromVersion    string `json:"from_version"`
	ToVersion      string `json:"to_version"`
	Details        string `json:"details,omitempty"`
	AlreadyRunning bool   `json:"already_running,omitempty"`
}

// MonitorResult combines a health check and the rollback it may have triggered.
type MonitorResult struct {
	Healthy    bool              `json:"healthy"`
	RolledBack bool              `json:"rolled_back"`
	Health     *DeploymentHealth `json:"health"`
	Rollback   *RollbackResult   `json:"rollback,omitempty"`
}

// ValidationError is one structured error from a validator check.
type ValidationError struct {
	Category string `json:"category"` // compilation, schema, dependencies, imports
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// ValidationResult is the pre-deployment gate decision. CanDeploy is
// the logical AND of all checks; any failing check vetoes.
type ValidationResult struct {
	CanDeploy bool              `json:"can_deploy"`
	Checks    map[string]bool   `json:"checks"`
	Errors    []ValidationError `json:"errors,omitempty"`
	Report    string            `json:"report"`
	Duration  time.Duration     `json:"duration"`
}

// RankedProblem pairs a problem with its best current hypothesis.
type RankedProblem struct {
	ProblemID      string          `json:"problem_id"`
	ProblemTitle   string          `json:"problem_title"`
	Severity       ProblemSeverity `json:"severity"`
	BestHypothesis *Hypothesis     `json:"best_hypothesis"`
}

// CycleResult summarizes one full learning cycle.
type CycleResult struct {
	ProblemsDetected    int             `json:"problems_detected"`
	HypothesesGenerated int             `json:"hypotheses_generated"`
	TopProblems         []RankedProblem `json:"top_problems"`
	Insights            []string        `json:"insights"`
	StartedAt           time.Time       `json:"started_at"`
	Duration            time.Duration   `json:"duration"`
}

// SuggestedAction is one entry from the read-only prioritizer.
type SuggestedAction struct {
	Priority    int    `json:"priority"` // lower is more urgent
	Kind        string `json:"kind"`     // needs_hypotheses, ready_to_implement, stale
	ProblemID   string `json:"problem_id"`
	Description string `json:"description"`
}

// LessonSummary groups identical lessons across experiences.
type LessonSummary struct {
	Lesson      string `json:"lesson"`
	Occurrences int    `json:"occurrences"`
	Confidence  int    `json:"confidence"` // max across the group
}

// TypeTrend is a trailing success rate for one experience type.
type TypeTrend struct {
	Type        ExperienceType `json:"type"`
	Total       int            `json:"total"`
	SuccessRate float64        `json:"success_rate"`
}

// Statistics aggregates the experience ledger.
type Statistics struct {
	TotalExperiences int             `json:"total_experiences"`
	SuccessRate      float64         `json:"success_rate"`
	TopLessons       []LessonSummary `json:"top_lessons"`
	RecentTrends     []TypeTrend     `json:"recent_trends"` // trailing 30 days, by type
}

// ComponentStatus is one self-diagnosis component snapshot.
type ComponentStatus struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // healthy, slow, down, active, stale, inactive
	Severity string `json:"severity,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// DiagnosisReport is the always-on health snapshot.
type DiagnosisReport struct {
	OverallStatus string            `json:"overall_status"` // healthy, degraded, critical
	Components    []ComponentStatus `json:"components"`
	Issues        []string          `json:"issues,omitempty"`
	CheckedAt     time.Time         `json:"checked_at"`
}

// IssueDiagnosis classifies a raw error message without the AI service.
type IssueDiagnosis struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	AutoFixable bool   `json:"auto_fixable"`
	Suggestion  string `json:"suggestion"`
}
