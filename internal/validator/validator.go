// Package validator is the pre-deployment gate: four independent
// checks run concurrently, and any failure vetoes the deploy.
package validator

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jordanhubbard/mend/pkg/config"
	"github.com/jordanhubbard/mend/pkg/models"
)

const (
	CheckCompilation  = "compilation"
	CheckSchema       = "schema"
	CheckDependencies = "dependencies"
	CheckImports      = "imports"
)

// checkOutcome is what each goroutine hands back to the join point.
type checkOutcome struct {
	name   string
	passed bool
	errors []models.ValidationError
}

// Validator runs the pre-deployment checks described by its config.
type Validator struct {
	cfg config.ValidatorConfig
}

func NewValidator(cfg config.ValidatorConfig) *Validator {
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = 120 * time.Second
	}
	if cfg.SchemaTimeout <= 0 {
		cfg.SchemaTimeout = 60 * time.Second
	}
	if cfg.MaxErrorsReported <= 0 {
		cfg.MaxErrorsReported = 10
	}
	return &Validator{cfg: cfg}
}

// Validate fans out all four checks, joins on completion, and ANDs
// the verdicts. A failing check vetoes regardless of the others.
func (v *Validator) Validate(ctx context.Context) *models.ValidationResult {
	start := time.Now()

	checks := []func(context.Context) checkOutcome{
		v.checkCompilation,
		v.checkSchema,
		v.checkDependencies,
		v.checkImports,
	}

	outcomes := make([]checkOutcome, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check func(context.Context) checkOutcome) {
			defer wg.Done()
			outcomes[i] = check(ctx)
		}(i, check)
	}
	wg.Wait()

	result := &models.ValidationResult{
		CanDeploy: true,
		Checks:    make(map[string]bool, len(outcomes)),
		Duration:  time.Since(start),
	}
	for _, o := range outcomes {
		result.Checks[o.name] = o.passed
		if !o.passed {
			result.CanDeploy = false
			result.Errors = append(result.Errors, o.errors...)
		}
	}
	result.Report = v.renderReport(result)

	log.Printf("[Validator] canDeploy=%v in %v (checks: %v)", result.CanDeploy, result.Duration.Round(time.Millisecond), result.Checks)
	return result
}

// tscErrorRe matches "src/foo.ts(12,5): error TS2322: ..." style lines.
var tscErrorRe = regexp.MustCompile(`^(.+?)\((\d+),\d+\):\s*error\s+(.*)$`)

// schemaValidRe requires "valid" as a whole word so "invalid" never
// passes the gate.
var schemaValidRe = regexp.MustCompile(`(?i)\bvalid\b`)

func (v *Validator) checkCompilation(ctx context.Context) checkOutcome {
	outcome := checkOutcome{name: CheckCompilation, passed: true}
	if len(v.cfg.CompileCommand) == 0 {
		return outcome
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.CompileTimeout)
	defer cancel()

	out, err := v.runCommand(ctx, v.cfg.CompileCommand)
	if ctx.Err() == context.DeadlineExceeded {
		outcome.passed = false
		outcome.errors = append(outcome.errors, models.ValidationError{
			Category: CheckCompilation,
			Message:  fmt.Sprintf("compilation timed out after %v", v.cfg.CompileTimeout),
		})
		return outcome
	}

	// Any structured error output fails the check, regardless of
	// exit code; some compilers exit 0 with diagnostics.
	errors := parseCompileErrors(out)
	if err != nil && len(errors) == 0 {
		errors = append(errors, models.ValidationError{
			Category: CheckCompilation,
			Message:  fmt.Sprintf("compile command failed: %v", err),
		})
	}
	if len(errors) > 0 {
		outcome.passed = false
		outcome.errors = errors
	}
	return outcome
}

func parseCompileErrors(out string) []models.ValidationError {
	var errors []models.ValidationError
	for _, line := range strings.Split(out, "\n") {
		m := tscErrorRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		errors = append(errors, models.ValidationError{
			Category: CheckCompilation,
			Message:  m[3],
			File:     m[1],
			Line:     lineNum,
		})
	}
	return errors
}

func (v *Validator) checkSchema(ctx context.Context) checkOutcome {
	outcome := checkOutcome{name: CheckSchema, passed: true}
	if len(v.cfg.SchemaCommand) == 0 {
		return outcome
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.SchemaTimeout)
	defer cancel()

	out, err := v.runCommand(ctx, v.cfg.SchemaCommand)
	if err != nil || !schemaValidRe.MatchString(out) || strings.Contains(strings.ToLower(out), "invalid") {
		outcome.passed = false
		msg := "schema validator did not report a valid schema"
		if err != nil {
			msg = fmt.Sprintf("schema validation failed: %v", err)
		}
		outcome.errors = append(outcome.errors, models.ValidationError{
			Category: CheckSchema,
			Message:  msg,
		})
	}
	return outcome
}

func (v *Validator) checkDependencies(_ context.Context) checkOutcome {
	outcome := checkOutcome{name: CheckDependencies, passed: true}
	for _, rel := range v.cfg.RequiredPaths {
		path := filepath.Join(v.cfg.ProjectPath, rel)
		if _, err := os.Stat(path); err != nil {
			outcome.passed = false
			outcome.errors = append(outcome.errors, models.ValidationError{
				Category: CheckDependencies,
				Message:  fmt.Sprintf("required path missing: %s", rel),
				File:     rel,
			})
		}
	}
	return outcome
}

// checkImports always passes for now. Real static import analysis
// needs a resolver per ecosystem; the gate keeps the slot so reports
// stay stable when it lands.
func (v *Validator) checkImports(_ context.Context) checkOutcome {
	return checkOutcome{name: CheckImports, passed: true}
}

func (v *Validator) runCommand(ctx context.Context, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = v.cfg.ProjectPath
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// renderReport produces the operator-facing text: a verdict line, then
// one section per failing category with up to MaxErrorsReported
// entries. Passing categories get no section.
func (v *Validator) renderReport(result *models.ValidationResult) string {
	var b strings.Builder
	if result.CanDeploy {
		b.WriteString("DEPLOYMENT VALIDATION PASSED\n")
		b.WriteString("All checks passed; the change is clear to deploy.\n")
		return b.String()
	}

	b.WriteString("DEPLOYMENT VALIDATION FAILED\n")

	byCategory := make(map[string][]models.ValidationError)
	for _, e := range result.Errors {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, category := range categories {
		errs := byCategory[category]
		fmt.Fprintf(&b, "\n%s (%d error(s)):\n", strings.ToUpper(category), len(errs))
		shown := errs
		if len(shown) > v.cfg.MaxErrorsReported {
			shown = shown[:v.cfg.MaxErrorsReported]
		}
		for _, e := range shown {
			if e.File != "" {
				fmt.Fprintf(&b, "  - %s:%d: %s\n", e.File, e.Line, e.Message)
			} else {
				fmt.Fprintf(&b, "  - %s\n", e.Message)
			}
		}
		if len(errs) > len(shown) {
			fmt.Fprintf(&b, "  ... and %d more\n", len(errs)-len(shown))
		}
	}
	return b.String()
}
