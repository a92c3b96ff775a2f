// Package loop orchestrates one learning cycle: detect problems,
// generate hypotheses for anything unanalyzed, rank the worst open
// problems by their best candidate fix, and distill insights from the
// experience ledger.
package loop

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jordanhubbard/mend/internal/metrics"
	"github.com/jordanhubbard/mend/internal/telemetry"
	"github.com/jordanhubbard/mend/pkg/models"
)

const (
	topProblemCount       = 5
	defaultStaleThreshold = 7 * 24 * time.Hour
	readyConfidence       = 80

	outcomeSuccessConfidence = 80
	outcomeFailureConfidence = 30
)

// Store is the persistence surface the loop reads and writes.
// *database.Database satisfies it.
type Store interface {
	ListOpenProblems(ctx context.Context) ([]*models.DetectedProblem, error)
	GetHypothesis(ctx context.Context, id string) (*models.Hypothesis, error)
	ListHypothesesForProblem(ctx context.Context, problemID string) ([]*models.Hypothesis, error)
	UpdateProblemStatus(ctx context.Context, id string, status models.ProblemStatus) error
	CountOpenProblemsBySeverity(ctx context.Context, severity models.ProblemSeverity) (int, error)
	CountRecentFailures(ctx context.Context, since time.Time) (int, error)
}

// Detector runs the problem scanners.
type Detector interface {
	DetectAndRecordProblems(ctx context.Context) ([]*models.DetectedProblem, error)
}

// Generator produces hypotheses for one problem.
type Generator interface {
	GenerateHypotheses(ctx context.Context, problemID string) ([]*models.Hypothesis, error)
}

// Tracker is the experience-ledger surface the loop uses.
type Tracker interface {
	RecordExperience(ctx context.Context, data *models.ExperienceData) (*models.Experience, error)
	GetStatistics(ctx context.Context) (*models.Statistics, error)
}

// Publisher receives cycle events. Optional; nil disables publishing.
type Publisher interface {
	PublishCycleCompleted(ctx context.Context, result *models.CycleResult) error
}

// Loop composes the detector, generator and tracker into a repeatable
// cycle. Instances are constructed explicitly and injected, never
// globals, so tests run against fakes.
type Loop struct {
	store      Store
	detector   Detector
	generator  Generator
	tracker    Tracker
	publisher  Publisher
	staleAfter time.Duration
}

func NewLoop(store Store, detector Detector, generator Generator, tracker Tracker, publisher Publisher) *Loop {
	return &Loop{
		store:      store,
		detector:   detector,
		generator:  generator,
		tracker:    tracker,
		publisher:  publisher,
		staleAfter: defaultStaleThreshold,
	}
}

// SetStaleThreshold overrides how long a detected problem may sit
// unanalyzed before SuggestNextActions flags it.
func (l *Loop) SetStaleThreshold(d time.Duration) {
	if d > 0 {
		l.staleAfter = d
	}
}

// RunCycle executes one full detect -> hypothesize -> rank -> summarize
// pass. Detection completes fully before any hypothesis generation
// begins. Component failures degrade the cycle rather than abort it.
func (l *Loop) RunCycle(ctx context.Context) (*models.CycleResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "loop.cycle")
	defer span.End()

	start := time.Now()
	log.Printf("[Loop] Starting learning cycle")

	result := &models.CycleResult{StartedAt: start}

	detected, err := l.detector.DetectAndRecordProblems(ctx)
	if err != nil {
		return nil, fmt.Errorf("problem detection failed: %w", err)
	}
	result.ProblemsDetected = len(detected)

	open, err := l.store.ListOpenProblems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open problems: %w", err)
	}

	// Hypotheses per problem, reused by the ranking step below.
	hypothesesByProblem := make(map[string][]*models.Hypothesis, len(open))
	for _, problem := range open {
		existing, err := l.store.ListHypothesesForProblem(ctx, problem.ID)
		if err != nil {
			log.Printf("[Loop] Failed to list hypotheses for problem %s: %v", problem.ID, err)
			continue
		}
		if len(existing) > 0 {
			hypothesesByProblem[problem.ID] = existing
			continue
		}

		generated, err := l.generator.GenerateHypotheses(ctx, problem.ID)
		if err != nil {
			log.Printf("[Loop] Hypothesis generation failed for problem %s: %v", problem.ID, err)
			continue
		}
		result.HypothesesGenerated += len(generated)
		hypothesesByProblem[problem.ID] = generated
	}

	result.TopProblems = rankProblems(open, hypothesesByProblem)
	result.Insights = l.synthesizeInsights(ctx)
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("cycle.problems_detected", result.ProblemsDetected),
		attribute.Int("cycle.hypotheses_generated", result.HypothesesGenerated),
		attribute.Int("cycle.top_problems", len(result.TopProblems)),
	)

	l.recordCycle(ctx, result)
	l.updateGauges(ctx)
	metrics.CycleDuration.Observe(result.Duration.Seconds())

	if l.publisher != nil {
		if err := l.publisher.PublishCycleCompleted(ctx, result); err != nil {
			log.Printf("[Loop] Failed to publish cycle event: %v", err)
		}
	}

	log.Printf("[Loop] Cycle complete: %d detected, %d hypotheses, %d ranked, in %v",
		result.ProblemsDetected, result.HypothesesGenerated, len(result.TopProblems),
		result.Duration.Round(time.Millisecond))
	return result, nil
}

// rankProblems takes the open problems (already ordered severity desc,
// recency desc) and returns the top 5 that have at least one
// hypothesis, paired with their highest-confidence candidate.
func rankProblems(open []*models.DetectedProblem, hypotheses map[string][]*models.Hypothesis) []models.RankedProblem {
	var ranked []models.RankedProblem
	for _, problem := range open {
		hs := hypotheses[problem.ID]
		if len(hs) == 0 {
			continue
		}

		best := hs[0]
		for _, h := range hs[1:] {
			if h.Confidence > best.Confidence {
				best = h
			}
		}

		ranked = append(ranked, models.RankedProblem{
			ProblemID:      problem.ID,
			ProblemTitle:   problem.Title,
			Severity:       problem.Severity,
			BestHypothesis: best,
		})
		if len(ranked) >= topProblemCount {
			break
		}
	}
	return ranked
}

// synthesizeInsights turns ledger statistics into operator-readable
// observations. Statistics failures cost insights, not the cycle.
func (l *Loop) synthesizeInsights(ctx context.Context) []string {
	var insights []string

	stats, err := l.tracker.GetStatistics(ctx)
	if err != nil {
		log.Printf("[Loop] Failed to fetch statistics: %v", err)
	} else {
		insights = append(insights, fmt.Sprintf("%d experiences recorded with a %.0f%% overall success rate",
			stats.TotalExperiences, stats.SuccessRate*100))
		if len(stats.TopLessons) > 0 {
			insights = append(insights, fmt.Sprintf("Top lesson: %s (seen %d times)",
				stats.TopLessons[0].Lesson, stats.TopLessons[0].Occurrences))
		}
		if len(stats.RecentTrends) > 0 {
			best := stats.RecentTrends[0]
			insights = append(insights, fmt.Sprintf("Best 30-day trend: %s at %.0f%% success over %d attempts",
				best.Type, best.SuccessRate*100, best.Total))
		}
	}

	criticals, err := l.store.CountOpenProblemsBySeverity(ctx, models.SeverityCritical)
	if err != nil {
		log.Printf("[Loop] Failed to count critical problems: %v", err)
	} else if criticals > 0 {
		insights = append(insights, fmt.Sprintf("%d critical problem(s) remain open", criticals))
	}

	failures, err := l.store.CountRecentFailures(ctx, time.Now().Add(-defaultStaleThreshold))
	if err != nil {
		log.Printf("[Loop] Failed to count recent failures: %v", err)
	} else if failures > 3 {
		insights = append(insights, fmt.Sprintf("Failure spike: %d failed experiences in the last 7 days", failures))
	}

	return insights
}

// recordCycle appends a learning_cycle experience; the self-diagnosis
// activity probe keys off its timestamp.
func (l *Loop) recordCycle(ctx context.Context, result *models.CycleResult) {
	_, err := l.tracker.RecordExperience(ctx, &models.ExperienceData{
		Type:   models.ExperienceLearningCycle,
		Action: "completed learning cycle",
		Context: models.ExperienceContext{
			Situation: "scheduled remediation cycle",
		},
		Outcome: models.OutcomeSuccess,
		Results: map[string]any{
			"problems_detected":    result.ProblemsDetected,
			"hypotheses_generated": result.HypothesesGenerated,
			"top_problems":         len(result.TopProblems),
		},
		LessonsLearned: "",
		WouldRepeat:    true,
		Confidence:     70,
	})
	if err != nil {
		log.Printf("[Loop] Failed to record cycle experience: %v", err)
	}
}

func (l *Loop) updateGauges(ctx context.Context) {
	for _, sev := range []models.ProblemSeverity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical} {
		n, err := l.store.CountOpenProblemsBySeverity(ctx, sev)
		if err != nil {
			continue
		}
		metrics.OpenProblems.WithLabelValues(string(sev)).Set(float64(n))
	}
}

// RecordHypothesisOutcome is the write path used once a human or
// automation confirms whether a fix worked. It appends one experience
// (which applies the confidence delta to the hypothesis) and, only on
// success, resolves the owning problem.
func (l *Loop) RecordHypothesisOutcome(ctx context.Context, hypothesisID string, success bool, details string) error {
	hypothesis, err := l.store.GetHypothesis(ctx, hypothesisID)
	if err != nil {
		return fmt.Errorf("failed to load hypothesis: %w", err)
	}

	outcome := models.OutcomeFailure
	confidence := outcomeFailureConfidence
	if success {
		outcome = models.OutcomeSuccess
		confidence = outcomeSuccessConfidence
	}

	_, err = l.tracker.RecordExperience(ctx, &models.ExperienceData{
		HypothesisID: hypothesisID,
		Type:         models.ExperienceFix,
		Action:       hypothesis.ProposedSolution,
		Context: models.ExperienceContext{
			Situation: "hypothesis outcome confirmation",
			Problem:   hypothesis.ProblemID,
		},
		Outcome:        outcome,
		Results:        map[string]any{"details": details},
		LessonsLearned: details,
		WouldRepeat:    success,
		Confidence:     confidence,
	})
	if err != nil {
		return fmt.Errorf("failed to record outcome experience: %w", err)
	}
	metrics.ExperiencesRecorded.WithLabelValues(string(models.ExperienceFix), string(outcome)).Inc()

	if success {
		if err := l.store.UpdateProblemStatus(ctx, hypothesis.ProblemID, models.StatusResolved); err != nil {
			return fmt.Errorf("failed to resolve problem %s: %w", hypothesis.ProblemID, err)
		}
		log.Printf("[Loop] Problem %s resolved via hypothesis %s", hypothesis.ProblemID, hypothesisID)
	}
	return nil
}

// SuggestNextActions is the read-only prioritizer: critical problems
// with no hypotheses first, then ready-to-implement high-confidence
// untested hypotheses on high or critical problems, then stale
// unanalyzed problems.
func (l *Loop) SuggestNextActions(ctx context.Context) ([]models.SuggestedAction, error) {
	open, err := l.store.ListOpenProblems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open problems: %w", err)
	}

	var actions []models.SuggestedAction
	now := time.Now()

	for _, problem := range open {
		hypotheses, err := l.store.ListHypothesesForProblem(ctx, problem.ID)
		if err != nil {
			log.Printf("[Loop] Failed to list hypotheses for problem %s: %v", problem.ID, err)
			continue
		}

		if problem.Severity == models.SeverityCritical && len(hypotheses) == 0 {
			actions = append(actions, models.SuggestedAction{
				Priority:    1,
				Kind:        "needs_hypotheses",
				ProblemID:   problem.ID,
				Description: fmt.Sprintf("Critical problem %q has no candidate fixes; generate hypotheses", problem.Title),
			})
			continue
		}

		if problem.Severity == models.SeverityHigh || problem.Severity == models.SeverityCritical {
			for _, h := range hypotheses {
				if !h.Tested && h.Confidence >= readyConfidence {
					actions = append(actions, models.SuggestedAction{
						Priority:    2,
						Kind:        "ready_to_implement",
						ProblemID:   problem.ID,
						Description: fmt.Sprintf("Hypothesis %s (confidence %d) for %q is ready to implement", h.ID, h.Confidence, problem.Title),
					})
					break
				}
			}
		}

		if problem.Status == models.StatusDetected && now.Sub(problem.DetectedAt) > l.staleAfter {
			actions = append(actions, models.SuggestedAction{
				Priority:    3,
				Kind:        "stale",
				ProblemID:   problem.ID,
				Description: fmt.Sprintf("Problem %q has sat unanalyzed for over %s", problem.Title, l.staleAfter),
			})
		}
	}

	return actions, nil
}
