package models

import "time"

// ProblemType classifies what kind of operational issue was detected.
type ProblemType string

const (
	ProblemPerformance ProblemType = "performance"
	ProblemError       ProblemType = "error"
	ProblemUX          ProblemType = "ux"
	ProblemCodeQuality ProblemType = "code_quality"
	ProblemSecurity    ProblemType = "security"
)

// ProblemSeverity ranks how urgent a detected problem is.
type ProblemSeverity string

const (
	SeverityLow      ProblemSeverity = "low"
	SeverityMedium   ProblemSeverity = "medium"
	SeverityHigh     ProblemSeverity = "high"
	SeverityCritical ProblemSeverity = "critical"
)

var severityRank = map[ProblemSeverity]int{
	SeverityCritical: 3,
	SeverityHigh:     2,
	SeverityMedium:   1,
	SeverityLow:      0,
}

// SeverityRank returns a sortable weight for a severity; unknown values sort last.
func SeverityRank(s ProblemSeverity) int {
	return severityRank[s]
}

// ProblemStatus is the lifecycle state of a detected problem.
type ProblemStatus string

const (
	StatusDetected  ProblemStatus = "detected"
	StatusAnalyzing ProblemStatus = "analyzing"
	StatusResolved  ProblemStatus = "resolved"
)

// DetectedProblem is a named, classified issue awaiting resolution.
// At most one non-resolved problem may exist per title; the detector
// checks before inserting.
type DetectedProblem struct {
	ID          string                 `json:"id"`
	Type        ProblemType            `json:"type"`
	Severity    ProblemSeverity        `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
	Impact      string                 `json:"impact"`
	Status      ProblemStatus          `json:"status"`
	DetectedAt  time.Time              `json:"detected_at"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
}

// DetectedProblemData is a draft problem produced by a scanner, before
// it has an identity or a lifecycle.
type DetectedProblemData struct {
	Type        ProblemType            `json:"type"`
	Severity    ProblemSeverity        `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
	Impact      string                 `json:"impact"`
}

// Complexity estimates implementation effort for a hypothesis.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Implementation describes what carrying out a hypothesis would touch.
type Implementation struct {
	FilesAffected []string   `json:"files_affected"`
	Complexity    Complexity `json:"complexity"`
	Dependencies  []string   `json:"dependencies"`
}

// Hypothesis is one candidate remediation for a problem. Confidence is
// only ever adjusted through recorded experience outcomes (+10 success,
// -20 failure, clamped to [0,100]), never edited directly.
type Hypothesis struct {
	ID               string         `json:"id"`
	ProblemID        string         `json:"problem_id"`
	ProposedSolution string         `json:"proposed_solution"`
	Reasoning        string         `json:"reasoning"`
	ExpectedImpact   string         `json:"expected_impact"`
	Confidence       int            `json:"confidence"` // 0-100
	TestingStrategy  string         `json:"testing_strategy"`
	Risks            []string       `json:"risks"`
	Implementation   Implementation `json:"implementation"`
	Tested           bool           `json:"tested"`
	TestResults      string         `json:"test_results,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// HypothesisData is a draft hypothesis produced by the generator.
type HypothesisData struct {
	ProblemID        string         `json:"problem_id"`
	ProposedSolution string         `json:"proposed_solution"`
	Reasoning        string         `json:"reasoning"`
	ExpectedImpact   string         `json:"expected_impact"`
	Confidence       int            `json:"confidence"`
	TestingStrategy  string         `json:"testing_strategy"`
	Risks            []string       `json:"risks"`
	Implementation   Implementation `json:"implementation"`
}

// ExperienceType classifies what kind of action an experience records.
type ExperienceType string

const (
	ExperienceDeployment    ExperienceType = "deployment"
	ExperienceFix           ExperienceType = "fix"
	ExperienceFeature       ExperienceType = "feature"
	ExperienceOptimization  ExperienceType = "optimization"
	ExperienceRefactor      ExperienceType = "refactor"
	ExperienceLearningCycle ExperienceType = "learning_cycle"
)

// Outcome is the measured result of an attempted action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// ExperienceContext captures the situation an action was taken in.
type ExperienceContext struct {
	Situation   string `json:"situation"`
	Problem     string `json:"problem,omitempty"`
	Constraints string `json:"constraints,omitempty"`
}

// Experience is an immutable record of one attempted action and its
// measured outcome; the system's unit of learning. Corrections are new
// records, never updates.
type Experience struct {
	ID             string                 `json:"id"`
	HypothesisID   string                 `json:"hypothesis_id,omitempty"` // weak back-reference; empty is valid
	Type           ExperienceType         `json:"type"`
	Action         string                 `json:"action"`
	Context        ExperienceContext      `json:"context"`
	Outcome        Outcome                `json:"outcome"`
	Results        map[string]interface{} `json:"results,omitempty"`
	LessonsLearned string                 `json:"lessons_learned"`
	WouldRepeat    bool                   `json:"would_repeat"`
	Confidence     int                    `json:"confidence"` // 0-100
	CreatedAt      time.Time              `json:"created_at"`
}

// ExperienceData is the input for recording a new experience.
type ExperienceData struct {
	HypothesisID   string                 `json:"hypothesis_id,omitempty"`
	Type           ExperienceType         `json:"type"`
	Action         string                 `json:"action"`
	Context        ExperienceContext      `json:"context"`
	Outcome        Outcome                `json:"outcome"`
	Results        map[string]interface{} `json:"results,omitempty"`
	LessonsLearned string                 `json:"lessons_learned"`
	WouldRepeat    bool                   `json:"would_repeat"`
	Confidence     int                    `json:"confidence"`
}
