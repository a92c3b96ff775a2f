// Package diagnosis is the always-on health snapshot, independent of
// the learning cycle and cheap enough to back liveness and readiness
// endpoints.
package diagnosis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jordanhubbard/mend/pkg/models"
)

const (
	slowLatency = 1000 * time.Millisecond

	activeWindow = 24 * time.Hour
	staleWindow  = 72 * time.Hour
)

// Store is the read-only surface the diagnoser probes.
type Store interface {
	ProbeLatency(ctx context.Context) (time.Duration, error)
	LatestExperienceOfType(ctx context.Context, typ models.ExperienceType) (*models.Experience, error)
}

// Diagnoser produces stateless health snapshots. Two calls in
// immediate succession with no state change yield the same
// overall_status.
type Diagnoser struct {
	store Store
}

func NewDiagnoser(store Store) *Diagnoser {
	return &Diagnoser{store: store}
}

// CheckSystemHealth combines the database latency probe and the
// learning-activity probe into one report.
func (d *Diagnoser) CheckSystemHealth(ctx context.Context) *models.DiagnosisReport {
	report := &models.DiagnosisReport{CheckedAt: time.Now()}

	report.Components = append(report.Components, d.checkDatabase(ctx))
	report.Components = append(report.Components, d.checkLearningActivity(ctx))

	report.OverallStatus = aggregate(report)
	return report
}

func (d *Diagnoser) checkDatabase(ctx context.Context) models.ComponentStatus {
	status := models.ComponentStatus{Name: "database"}

	latency, err := d.store.ProbeLatency(ctx)
	if err != nil {
		status.Status = "down"
		status.Severity = "critical"
		status.Detail = fmt.Sprintf("database unreachable: %v", err)
		return status
	}

	status.Detail = fmt.Sprintf("latency %v", latency.Round(time.Millisecond))
	if latency < slowLatency {
		status.Status = "healthy"
	} else {
		status.Status = "slow"
		status.Severity = "high"
	}
	return status
}

func (d *Diagnoser) checkLearningActivity(ctx context.Context) models.ComponentStatus {
	status := models.ComponentStatus{Name: "learning_activity"}

	latest, err := d.store.LatestExperienceOfType(ctx, models.ExperienceLearningCycle)
	if err != nil {
		status.Status = "inactive"
		status.Severity = "medium"
		status.Detail = fmt.Sprintf("failed to read cycle history: %v", err)
		return status
	}
	if latest == nil {
		status.Status = "inactive"
		status.Severity = "medium"
		status.Detail = "no learning cycle has ever run"
		return status
	}

	age := time.Since(latest.CreatedAt)
	status.Detail = fmt.Sprintf("last cycle %v ago", age.Round(time.Minute))
	switch {
	case age < activeWindow:
		status.Status = "active"
	case age < staleWindow:
		status.Status = "stale"
		status.Severity = "medium"
	default:
		status.Status = "inactive"
		status.Severity = "high"
	}
	return status
}

// aggregate applies the rollup thresholds: any critical component is
// critical; one or more high-severity issues, or more than three
// issues total, is degraded.
func aggregate(report *models.DiagnosisReport) string {
	highs, issues := 0, 0
	for _, c := range report.Components {
		if c.Severity == "" {
			continue
		}
		issues++
		report.Issues = append(report.Issues, fmt.Sprintf("%s: %s (%s)", c.Name, c.Status, c.Detail))
		switch c.Severity {
		case "critical":
			return "critical"
		case "high":
			highs++
		}
	}
	if highs >= 1 || issues > 3 {
		return "degraded"
	}
	return "healthy"
}

// issueRule classifies an error message with keywords; no AI call.
type issueRule struct {
	keywords    []string
	category    string
	severity    string
	autoFixable bool
	suggestion  string
}

var issueRules = []issueRule{
	{
		keywords:    []string{"database", "prisma", "postgres"},
		category:    "database",
		severity:    "high",
		autoFixable: false,
		suggestion:  "Check database connectivity and recent schema changes",
	},
	{
		keywords:    []string{"api", "fetch", "request failed"},
		category:    "api",
		severity:    "medium",
		autoFixable: true,
		suggestion:  "Retry the request; inspect upstream service health if it persists",
	},
	{
		keywords:    []string{"rate limit", "429", "too many requests"},
		category:    "rate_limit",
		severity:    "medium",
		autoFixable: true,
		suggestion:  "Back off and retry with reduced request rate",
	},
	{
		keywords:    []string{"auth", "unauthorized", "403", "forbidden"},
		category:    "auth",
		severity:    "high",
		autoFixable: false,
		suggestion:  "Verify credentials and token expiry",
	},
}

// DiagnoseIssue classifies a raw error message by keyword rules. The
// default bucket is a medium-severity unknown needing human eyes.
func (d *Diagnoser) DiagnoseIssue(message string) *models.IssueDiagnosis {
	lower := strings.ToLower(message)
	for _, rule := range issueRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return &models.IssueDiagnosis{
					Category:    rule.category,
					Severity:    rule.severity,
					AutoFixable: rule.autoFixable,
					Suggestion:  rule.suggestion,
				}
			}
		}
	}
	return &models.IssueDiagnosis{
		Category:    "unknown",
		Severity:    "medium",
		AutoFixable: false,
		Suggestion:  "No matching rule; investigate manually",
	}
}
