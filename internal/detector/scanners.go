package detector

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/jordanhubbard/mend/internal/database"
	"github.com/jordanhubbard/mend/pkg/models"
)

// Signals is the read-only window the built-in scanners probe. It is
// deliberately narrow: scanners observe, they never write.
type Signals interface {
	CountRecentFailures(ctx context.Context, since time.Time) (int, error)
	ListExperiences(ctx context.Context, filter database.ExperienceFilter) ([]*models.Experience, error)
	ProbeLatency(ctx context.Context) (time.Duration, error)
}

// Thresholds tunes the built-in scanners. A zero value field falls back
// to the scanner's default.
type Thresholds struct {
	SlowQueryThreshold time.Duration
	ErrorSpikeWindow   time.Duration
	ErrorSpikeCount    int
}

func (t Thresholds) withDefaults() Thresholds {
	if t.SlowQueryThreshold == 0 {
		t.SlowQueryThreshold = 1 * time.Second
	}
	if t.ErrorSpikeWindow == 0 {
		t.ErrorSpikeWindow = 24 * time.Hour
	}
	if t.ErrorSpikeCount == 0 {
		t.ErrorSpikeCount = 5
	}
	return t
}

// Tunables holds the live thresholds. Scanners read them on every scan,
// so a Store from the config reloader takes effect on the next cycle
// without rebuilding the scanner set.
type Tunables struct {
	current atomic.Pointer[Thresholds]
}

func NewTunables(t Thresholds) *Tunables {
	tn := &Tunables{}
	tn.Store(t)
	return tn
}

// Store replaces the thresholds. Zero-value fields fall back to the
// scanner defaults.
func (tn *Tunables) Store(t Thresholds) {
	th := t.withDefaults()
	tn.current.Store(&th)
}

func (tn *Tunables) Load() Thresholds {
	return *tn.current.Load()
}

// BuiltinScanners returns the five standard probes: performance,
// error-pattern, UX friction, code quality and security.
func BuiltinScanners(signals Signals, tunables *Tunables) []Scanner {
	if tunables == nil {
		tunables = NewTunables(Thresholds{})
	}
	return []Scanner{
		&performanceScanner{signals: signals, tunables: tunables},
		&errorPatternScanner{signals: signals, tunables: tunables},
		&uxFrictionScanner{signals: signals},
		&codeQualityScanner{signals: signals},
		&securityScanner{},
	}
}

// performanceScanner flags store latency above the slow-query threshold.
type performanceScanner struct {
	signals  Signals
	tunables *Tunables
}

func (s *performanceScanner) Name() string { return "performance" }

func (s *performanceScanner) Scan(ctx context.Context) ([]models.DetectedProblemData, error) {
	thresholds := s.tunables.Load()
	latency, err := s.signals.ProbeLatency(ctx)
	if err != nil {
		return []models.DetectedProblemData{{
			Type:        models.ProblemPerformance,
			Severity:    models.SeverityCritical,
			Title:       "Database unreachable",
			Description: fmt.Sprintf("Latency probe failed: %v", err),
			Evidence:    map[string]interface{}{"error": err.Error()},
			Impact:      "All remediation components depend on the store",
		}}, nil
	}

	if latency <= thresholds.SlowQueryThreshold {
		return nil, nil
	}

	severity := models.SeverityMedium
	if latency > 3*thresholds.SlowQueryThreshold {
		severity = models.SeverityHigh
	}
	return []models.DetectedProblemData{{
		Type:        models.ProblemPerformance,
		Severity:    severity,
		Title:       "Slow database responses",
		Description: fmt.Sprintf("Store latency probe took %s (threshold %s)", latency, thresholds.SlowQueryThreshold),
		Evidence:    map[string]interface{}{"latency_ms": latency.Milliseconds()},
		Impact:      "Every cycle and recovery path slows proportionally",
	}}, nil
}

// errorPatternScanner flags a spike of failure-outcome experiences in
// the trailing window.
type errorPatternScanner struct {
	signals  Signals
	tunables *Tunables
}

func (s *errorPatternScanner) Name() string { return "error_pattern" }

func (s *errorPatternScanner) Scan(ctx context.Context) ([]models.DetectedProblemData, error) {
	thresholds := s.tunables.Load()
	since := time.Now().Add(-thresholds.ErrorSpikeWindow)
	failures, err := s.signals.CountRecentFailures(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent failures: %w", err)
	}

	if failures < thresholds.ErrorSpikeCount {
		return nil, nil
	}

	severity := models.SeverityHigh
	if failures >= 2*thresholds.ErrorSpikeCount {
		severity = models.SeverityCritical
	}
	return []models.DetectedProblemData{{
		Type:        models.ProblemError,
		Severity:    severity,
		Title:       "Failure spike in recent actions",
		Description: fmt.Sprintf("%d failed actions in the last %s", failures, thresholds.ErrorSpikeWindow),
		Evidence:    map[string]interface{}{"failures": failures, "window": thresholds.ErrorSpikeWindow.String()},
		Impact:      "Remediation attempts are failing more often than they succeed",
	}}, nil
}

// uxFrictionScanner looks for repeated partial outcomes on user-facing
// action types: partial fixes that keep coming back are friction.
type uxFrictionScanner struct {
	signals Signals
}

func (s *uxFrictionScanner) Name() string { return "ux_friction" }

func (s *uxFrictionScanner) Scan(ctx context.Context) ([]models.DetectedProblemData, error) {
	recent, err := s.signals.ListExperiences(ctx, database.ExperienceFilter{
		Type:  models.ExperienceFeature,
		Since: time.Now().Add(-7 * 24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list feature experiences: %w", err)
	}

	partial := 0
	for _, exp := range recent {
		if exp.Outcome == models.OutcomePartial {
			partial++
		}
	}
	if partial < 3 {
		return nil, nil
	}

	return []models.DetectedProblemData{{
		Type:        models.ProblemUX,
		Severity:    models.SeverityMedium,
		Title:       "Recurring partial outcomes on feature work",
		Description: fmt.Sprintf("%d feature actions ended partial in the last 7 days", partial),
		Evidence:    map[string]interface{}{"partial_count": partial},
		Impact:      "Users see half-finished behavior repeatedly",
	}}, nil
}

// codeQualityScanner flags refactor experiences that keep failing,
// which usually means the code resists safe change.
type codeQualityScanner struct {
	signals Signals
}

func (s *codeQualityScanner) Name() string { return "code_quality" }

func (s *codeQualityScanner) Scan(ctx context.Context) ([]models.DetectedProblemData, error) {
	recent, err := s.signals.ListExperiences(ctx, database.ExperienceFilter{
		Type:  models.ExperienceRefactor,
		Since: time.Now().Add(-30 * 24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list refactor experiences: %w", err)
	}

	failed := 0
	for _, exp := range recent {
		if exp.Outcome == models.OutcomeFailure {
			failed++
		}
	}
	if failed < 2 {
		return nil, nil
	}

	return []models.DetectedProblemData{{
		Type:        models.ProblemCodeQuality,
		Severity:    models.SeverityMedium,
		Title:       "Refactors repeatedly failing",
		Description: fmt.Sprintf("%d refactor attempts failed in the last 30 days", failed),
		Evidence:    map[string]interface{}{"failed_refactors": failed},
		Impact:      "Change velocity degrades as the code resists modification",
	}}, nil
}

// securityScanner performs environment-level checks: credentials that
// should come from the environment but are missing or world-readable
// config files.
type securityScanner struct{}

func (s *securityScanner) Name() string { return "security" }

func (s *securityScanner) Scan(ctx context.Context) ([]models.DetectedProblemData, error) {
	var drafts []models.DetectedProblemData

	if os.Getenv("DATABASE_URL") == "" && os.Getenv("MEND_DB_DSN") == "" {
		drafts = append(drafts, models.DetectedProblemData{
			Type:        models.ProblemSecurity,
			Severity:    models.SeverityLow,
			Title:       "Database credentials not sourced from environment",
			Description: "Neither DATABASE_URL nor MEND_DB_DSN is set; credentials are likely hardcoded in config",
			Impact:      "Credentials in config files leak through version control",
		})
	}

	for _, path := range []string{"config.yaml", ".env"} {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0004 != 0 {
			drafts = append(drafts, models.DetectedProblemData{
				Type:        models.ProblemSecurity,
				Severity:    models.SeverityMedium,
				Title:       fmt.Sprintf("World-readable config file: %s", path),
				Description: fmt.Sprintf("%s has permissions %s", path, info.Mode().Perm()),
				Evidence:    map[string]interface{}{"path": path, "mode": info.Mode().Perm().String()},
				Impact:      "Any local user can read service credentials",
			})
		}
	}

	return drafts, nil
}
