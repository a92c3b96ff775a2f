// Package rollback is the post-deployment watchdog: it polls the
// deployed service's health and reverts the deployment when the check
// fails. State machine per version: Deployed -> Verified on a healthy
// check, or Deployed -> RollingBack -> RolledBack/RollbackFailed.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/mend/internal/metrics"
	"github.com/jordanhubbard/mend/pkg/config"
	"github.com/jordanhubbard/mend/pkg/models"
)

const shouldRollbackWait = 10 * time.Second

// ErrRollbackInProgress means another instance holds the per-version
// rollback lock.
var ErrRollbackInProgress = errors.New("rollback already in progress for this version")

// Unlocker releases a held lock.
type Unlocker interface {
	Release(ctx context.Context) error
}

// Locker hands out named, TTL-bounded locks. Acquire returns
// ErrRollbackInProgress (or an error wrapping it) when the lock is
// already held.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Unlocker, error)
}

// Recorder is the experience-ledger surface rollbacks write to.
type Recorder interface {
	RecordExperience(ctx context.Context, data *models.ExperienceData) (*models.Experience, error)
}

// Publisher receives rollback events. Optional; nil disables publishing.
type Publisher interface {
	PublishRollbackPerformed(ctx context.Context, result *models.RollbackResult) error
}

// Rollback owns the health probe and the revert path.
type Rollback struct {
	cfg        config.RollbackConfig
	httpClient *http.Client
	locker     Locker
	recorder   Recorder
	publisher  Publisher
}

func NewRollback(cfg config.RollbackConfig, locker Locker, recorder Recorder) *Rollback {
	return &Rollback{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		locker:   locker,
		recorder: recorder,
	}
}

// SetPublisher attaches an event publisher for rollback outcomes.
func (r *Rollback) SetPublisher(p Publisher) {
	r.publisher = p
}

// MonitorAndRollback runs the health check and, only when unhealthy,
// performs the rollback.
func (r *Rollback) MonitorAndRollback(ctx context.Context, versionID string, wait time.Duration) *models.MonitorResult {
	health := r.CheckDeploymentHealth(ctx, wait)
	result := &models.MonitorResult{
		Healthy: health.IsHealthy,
		Health:  health,
	}
	if health.IsHealthy {
		log.Printf("[Rollback] Version %s verified healthy", versionID)
		return result
	}

	reason := fmt.Sprintf("deployment %s failed health check: %s", versionID, strings.Join(health.Errors, "; "))
	if len(health.Errors) == 0 {
		reason = fmt.Sprintf("deployment %s failed health check: service=%s database=%s",
			versionID, health.Components.Service, health.Components.Database)
	}

	rb := r.PerformRollback(ctx, versionID, reason)
	result.Rollback = rb
	result.RolledBack = rb.Success
	return result
}

// ShouldRollback is the fast, read-only pre-flight variant: a 10s
// stabilization wait and no side effects.
func (r *Rollback) ShouldRollback(ctx context.Context) (bool, *models.DeploymentHealth) {
	health := r.CheckDeploymentHealth(ctx, shouldRollbackWait)
	return !health.IsHealthy, health
}

// PerformRollback reverts the current deployment and pushes the revert.
// A per-version lock keeps concurrent watchers from double-reverting
// the same release. The outcome is recorded as an experience either way.
func (r *Rollback) PerformRollback(ctx context.Context, versionID, reason string) *models.RollbackResult {
	result := &models.RollbackResult{Reason: reason}

	if r.locker != nil {
		lock, err := r.locker.Acquire(ctx, "rollback:"+versionID, r.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, ErrRollbackInProgress) {
				log.Printf("[Rollback] Skipping: rollback already running for version %s", versionID)
				result.AlreadyRunning = true
				result.Details = "another instance is rolling back this version"
				r.recordOutcome(ctx, result)
				return result
			}
			result.Details = fmt.Sprintf("failed to acquire rollback lock: %v", err)
			r.recordOutcome(ctx, result)
			return result
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Printf("[Rollback] Failed to release lock: %v", err)
			}
		}()
	}

	log.Printf("[Rollback] Starting rollback of %s: %s", versionID, reason)

	current, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		result.Details = fmt.Sprintf("failed to resolve current version: %v", err)
		r.recordOutcome(ctx, result)
		return result
	}
	result.FromVersion = current

	previous, err := r.git(ctx, "rev-parse", "HEAD~1")
	if err != nil {
		result.Details = fmt.Sprintf("failed to resolve previous version: %v", err)
		r.recordOutcome(ctx, result)
		return result
	}
	result.ToVersion = previous

	log.Printf("[Rollback] Reverting %s -> %s", shortRev(current), shortRev(previous))
	if _, err := r.git(ctx, "revert", "--no-edit", "HEAD"); err != nil {
		result.Details = fmt.Sprintf("revert failed: %v", err)
		r.recordOutcome(ctx, result)
		return result
	}

	log.Printf("[Rollback] Pushing revert to %s/%s", r.cfg.Remote, r.cfg.Branch)
	if _, err := r.git(ctx, "push", r.cfg.Remote, r.cfg.Branch); err != nil {
		result.Details = fmt.Sprintf("push failed: %v", err)
		r.recordOutcome(ctx, result)
		return result
	}

	result.Success = true
	result.Details = "revert committed and pushed"
	log.Printf("[Rollback] Rollback of %s complete", versionID)
	r.recordOutcome(ctx, result)
	return result
}

func (r *Rollback) recordOutcome(ctx context.Context, result *models.RollbackResult) {
	outcome := models.OutcomeFailure
	switch {
	case result.Success:
		outcome = models.OutcomeSuccess
	case result.AlreadyRunning:
		outcome = models.OutcomePartial
	}
	metrics.RollbacksPerformed.WithLabelValues(string(outcome)).Inc()

	if r.publisher != nil {
		if err := r.publisher.PublishRollbackPerformed(ctx, result); err != nil {
			log.Printf("[Rollback] Failed to publish rollback event: %v", err)
		}
	}

	if r.recorder == nil {
		return
	}

	_, err := r.recorder.RecordExperience(ctx, &models.ExperienceData{
		Type:   models.ExperienceDeployment,
		Action: fmt.Sprintf("rollback from %s to %s", shortRev(result.FromVersion), shortRev(result.ToVersion)),
		Context: models.ExperienceContext{
			Situation: "post-deployment health check failure",
			Problem:   result.Reason,
		},
		Outcome:        outcome,
		Results:        map[string]any{"from": result.FromVersion, "to": result.ToVersion},
		LessonsLearned: result.Details,
		WouldRepeat:    result.Success,
		Confidence:     70,
	})
	if err != nil {
		log.Printf("[Rollback] Failed to record experience: %v", err)
	}
}

func (r *Rollback) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.cfg.RepoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	if rev == "" {
		return "unknown"
	}
	return rev
}
