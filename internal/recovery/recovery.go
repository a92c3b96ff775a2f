// Package recovery maps recognized error signatures to deterministic
// remediation actions. Unrecognized errors are terminal and require
// manual intervention; recognized auto-fixable ones feed the experience
// ledger so recovery quality is tracked over time.
package recovery

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"

	"github.com/jordanhubbard/mend/internal/metrics"
	"github.com/jordanhubbard/mend/pkg/models"
)

const (
	successConfidence = 85
	failureConfidence = 30
)

// Installer is the package-manager primitive: install one package by
// name, report success or failure.
type Installer interface {
	Install(ctx context.Context, pkg string) error
}

// Recorder is the slice of the experience tracker recovery writes to.
type Recorder interface {
	RecordExperience(ctx context.Context, data *models.ExperienceData) (*models.Experience, error)
}

// Publisher receives recovery attempt events. Optional; nil disables
// publishing.
type Publisher interface {
	PublishRecoveryAttempted(ctx context.Context, result *models.RecoveryResult) error
}

// handler turns the regex capture groups and free-form context into a
// result. Handlers are pure except for the Installer.
type handler func(ctx context.Context, groups []string, errCtx string) *models.RecoveryResult

type pattern struct {
	re          *regexp.Regexp
	errorType   string
	severity    models.ProblemSeverity
	autoFixable bool
	fix         handler
}

// Recovery dispatches errors against an ordered pattern table. The
// first matching entry wins; order is significant because the two
// missing-module patterns overlap.
type Recovery struct {
	installer Installer
	recorder  Recorder
	publisher Publisher
	patterns  []pattern
}

func NewRecovery(installer Installer, recorder Recorder) *Recovery {
	r := &Recovery{installer: installer, recorder: recorder}
	r.patterns = []pattern{
		{
			re:          regexp.MustCompile(`[Cc]annot find module ['"](\.[^'"]+)['"]`),
			errorType:   "missing_module_local",
			severity:    models.SeverityHigh,
			autoFixable: false,
			fix:         r.fixLocalModule,
		},
		{
			re:          regexp.MustCompile(`[Cc]annot find module ['"]([^'".][^'"]*)['"]`),
			errorType:   "missing_module",
			severity:    models.SeverityHigh,
			autoFixable: true,
			fix:         r.fixMissingPackage,
		},
		{
			re:          regexp.MustCompile(`[Tt]ype ['"]?([^'"]+?)['"]? is not assignable to type ['"]?([^'"]+?)['"]?`),
			errorType:   "type_mismatch",
			severity:    models.SeverityMedium,
			autoFixable: false,
			fix:         r.fixTypeMismatch,
		},
		{
			re:          regexp.MustCompile(`ECONNREFUSED|connection refused|[Cc]ould not connect to (?:database|server)`),
			errorType:   "database_connection",
			severity:    models.SeverityCritical,
			autoFixable: true,
			fix:         r.fixDatabaseConnection,
		},
		{
			re:          regexp.MustCompile(`[Mm]odule not found.*['"]([^'"]+)['"]|npm ERR! missing:? ([\w@/.-]+)`),
			errorType:   "missing_dependency",
			severity:    models.SeverityHigh,
			autoFixable: true,
			fix:         r.fixMissingPackage,
		},
		{
			re:          regexp.MustCompile(`[Ss]yntax[Ee]rror|[Uu]nexpected token`),
			errorType:   "syntax_error",
			severity:    models.SeverityHigh,
			autoFixable: false,
			fix:         r.fixSyntaxError,
		},
		{
			re:          regexp.MustCompile(`(?:environment variable|env(?:ironment)?)\s+['"]?([A-Z][A-Z0-9_]+)['"]?\s+(?:is )?(?:not set|missing|undefined)|missing required env(?:ironment)? var(?:iable)?:?\s*([A-Z][A-Z0-9_]+)`),
			errorType:   "missing_env_var",
			severity:    models.SeverityCritical,
			autoFixable: false,
			fix:         r.fixMissingEnvVar,
		},
	}
	return r
}

// SetPublisher attaches an event publisher for recovery attempts.
func (r *Recovery) SetPublisher(p Publisher) {
	r.publisher = p
}

// Recover tests the error string against the pattern table in order
// and runs the first match's fix. Unmatched errors come back as a
// terminal manual-intervention result.
func (r *Recovery) Recover(ctx context.Context, errMsg, errCtx string) *models.RecoveryResult {
	for _, p := range r.patterns {
		groups := p.re.FindStringSubmatch(errMsg)
		if groups == nil {
			continue
		}

		log.Printf("[Recovery] Matched %s (severity %s, autoFixable=%v)", p.errorType, p.severity, p.autoFixable)
		result := p.fix(ctx, groups, errCtx)
		result.ErrorType = p.errorType

		outcome := "failure"
		if result.Success {
			outcome = "success"
		}
		metrics.RecoveryAttempts.WithLabelValues(p.errorType, outcome).Inc()

		if p.autoFixable {
			r.recordOutcome(ctx, errMsg, result)
		}
		r.publish(ctx, result)
		return result
	}

	metrics.RecoveryAttempts.WithLabelValues("unrecognized", "failure").Inc()

	result := &models.RecoveryResult{
		Success:     false,
		ErrorType:   "unrecognized",
		ActionTaken: "none",
		Details:     "Error pattern not recognized; manual intervention required",
		ShouldRetry: false,
	}
	r.publish(ctx, result)
	return result
}

func (r *Recovery) publish(ctx context.Context, result *models.RecoveryResult) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishRecoveryAttempted(ctx, result); err != nil {
		log.Printf("[Recovery] Failed to publish recovery event: %v", err)
	}
}

// recordOutcome writes a fix-typed experience for every auto-fixable
// attempt so the ledger reflects failures too.
func (r *Recovery) recordOutcome(ctx context.Context, errMsg string, result *models.RecoveryResult) {
	if r.recorder == nil {
		return
	}

	outcome := models.OutcomeFailure
	confidence := failureConfidence
	if result.Success {
		outcome = models.OutcomeSuccess
		confidence = successConfidence
	}

	_, err := r.recorder.RecordExperience(ctx, &models.ExperienceData{
		Type:   models.ExperienceFix,
		Action: result.ActionTaken,
		Context: models.ExperienceContext{
			Situation: "automatic error recovery",
			Problem:   errMsg,
		},
		Outcome:        outcome,
		Results:        map[string]any{"error_type": result.ErrorType, "should_retry": result.ShouldRetry},
		LessonsLearned: result.Details,
		WouldRepeat:    result.Success,
		Confidence:     confidence,
	})
	if err != nil {
		log.Printf("[Recovery] Failed to record experience: %v", err)
	}
}

func (r *Recovery) fixLocalModule(_ context.Context, groups []string, _ string) *models.RecoveryResult {
	path := groups[1]
	return &models.RecoveryResult{
		Success:     false,
		ActionTaken: "diagnosed missing local module",
		Details:     fmt.Sprintf("Local import %q does not resolve. Check that the file exists and the path is spelled correctly relative to the importer.", path),
		ShouldRetry: false,
	}
}

func (r *Recovery) fixMissingPackage(ctx context.Context, groups []string, _ string) *models.RecoveryResult {
	pkg := firstGroup(groups)
	if pkg == "" {
		return &models.RecoveryResult{
			Success:     false,
			ActionTaken: "attempted package install",
			Details:     "Could not determine the package name from the error",
			ShouldRetry: false,
		}
	}
	if r.installer == nil {
		return &models.RecoveryResult{
			Success:     false,
			ActionTaken: "attempted package install",
			Details:     fmt.Sprintf("No installer configured; install %q manually", pkg),
			ShouldRetry: false,
		}
	}

	if err := r.installer.Install(ctx, pkg); err != nil {
		return &models.RecoveryResult{
			Success:     false,
			ActionTaken: fmt.Sprintf("installed package %s", pkg),
			Details:     fmt.Sprintf("Install failed: %v", err),
			ShouldRetry: false,
		}
	}
	return &models.RecoveryResult{
		Success:     true,
		ActionTaken: fmt.Sprintf("installed package %s", pkg),
		Details:     fmt.Sprintf("Package %q installed; the failed operation can be retried", pkg),
		ShouldRetry: true,
	}
}

func (r *Recovery) fixTypeMismatch(_ context.Context, groups []string, _ string) *models.RecoveryResult {
	got, want := groups[1], groups[2]
	return &models.RecoveryResult{
		Success:     false,
		ActionTaken: "suggested type conversion",
		Details:     fmt.Sprintf("Value of type %q used where %q is expected. Consider an explicit conversion or fixing the declaration, e.g. (value as %s).", got, want, want),
		ShouldRetry: false,
	}
}

func (r *Recovery) fixDatabaseConnection(_ context.Context, _ []string, _ string) *models.RecoveryResult {
	for _, key := range []string{"DATABASE_URL", "MEND_DB_DSN"} {
		if os.Getenv(key) != "" {
			return &models.RecoveryResult{
				Success:     true,
				ActionTaken: "verified database configuration",
				Details:     fmt.Sprintf("%s is set; the database may have been temporarily unavailable. Retry the operation.", key),
				ShouldRetry: true,
			}
		}
	}
	return &models.RecoveryResult{
		Success:     false,
		ActionTaken: "checked database configuration",
		Details:     "Neither DATABASE_URL nor MEND_DB_DSN is set; configure the connection string before retrying",
		ShouldRetry: false,
	}
}

func (r *Recovery) fixSyntaxError(_ context.Context, _ []string, _ string) *models.RecoveryResult {
	return &models.RecoveryResult{
		Success:     false,
		ActionTaken: "diagnosed syntax error",
		Details:     "Source fails to parse. Inspect the reported location for unbalanced braces, stray tokens, or an incomplete statement.",
		ShouldRetry: false,
	}
}

func (r *Recovery) fixMissingEnvVar(_ context.Context, groups []string, _ string) *models.RecoveryResult {
	name := firstGroup(groups)
	if name == "" {
		name = "the variable"
	}
	return &models.RecoveryResult{
		Success:     false,
		ActionTaken: "identified missing environment variable",
		Details:     fmt.Sprintf("Set %s in the environment and restart the process", name),
		ShouldRetry: false,
	}
}

// firstGroup returns the first non-empty capture group; alternation
// patterns leave unmatched branches empty.
func firstGroup(groups []string) string {
	for _, g := range groups[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}
