package loop

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jordanhubbard/mend/internal/telemetry"
	"github.com/jordanhubbard/mend/pkg/models"
)

type fakeStore struct {
	open          []*models.DetectedProblem
	hypotheses    map[string][]*models.Hypothesis
	statusUpdates map[string]models.ProblemStatus
	criticals     int
	failures      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hypotheses:    make(map[string][]*models.Hypothesis),
		statusUpdates: make(map[string]models.ProblemStatus),
	}
}

func (f *fakeStore) ListOpenProblems(context.Context) ([]*models.DetectedProblem, error) {
	return f.open, nil
}

func (f *fakeStore) GetHypothesis(_ context.Context, id string) (*models.Hypothesis, error) {
	for _, hs := range f.hypotheses {
		for _, h := range hs {
			if h.ID == id {
				return h, nil
			}
		}
	}
	return nil, fmt.Errorf("hypothesis %s not found", id)
}

func (f *fakeStore) ListHypothesesForProblem(_ context.Context, problemID string) ([]*models.Hypothesis, error) {
	return f.hypotheses[problemID], nil
}

func (f *fakeStore) UpdateProblemStatus(_ context.Context, id string, status models.ProblemStatus) error {
	f.statusUpdates[id] = status
	return nil
}

func (f *fakeStore) CountOpenProblemsBySeverity(_ context.Context, sev models.ProblemSeverity) (int, error) {
	if sev == models.SeverityCritical {
		return f.criticals, nil
	}
	return 0, nil
}

func (f *fakeStore) CountRecentFailures(context.Context, time.Time) (int, error) {
	return f.failures, nil
}

type fakeDetector struct {
	detected []*models.DetectedProblem
	err      error
}

func (f *fakeDetector) DetectAndRecordProblems(context.Context) ([]*models.DetectedProblem, error) {
	return f.detected, f.err
}

type fakeGenerator struct {
	byProblem map[string][]*models.Hypothesis
	calls     []string
}

func (f *fakeGenerator) GenerateHypotheses(_ context.Context, problemID string) ([]*models.Hypothesis, error) {
	f.calls = append(f.calls, problemID)
	return f.byProblem[problemID], nil
}

type fakeTracker struct {
	recorded []*models.ExperienceData
	stats    *models.Statistics
}

func (f *fakeTracker) RecordExperience(_ context.Context, data *models.ExperienceData) (*models.Experience, error) {
	f.recorded = append(f.recorded, data)
	return &models.Experience{ID: "exp-1"}, nil
}

func (f *fakeTracker) GetStatistics(context.Context) (*models.Statistics, error) {
	if f.stats == nil {
		return &models.Statistics{}, nil
	}
	return f.stats, nil
}

type fakePublisher struct {
	published []*models.CycleResult
}

func (f *fakePublisher) PublishCycleCompleted(_ context.Context, result *models.CycleResult) error {
	f.published = append(f.published, result)
	return nil
}

func problem(id string, sev models.ProblemSeverity) *models.DetectedProblem {
	return &models.DetectedProblem{
		ID:         id,
		Title:      "problem " + id,
		Severity:   sev,
		Status:     models.StatusDetected,
		DetectedAt: time.Now(),
	}
}

func hypothesis(id, problemID string, confidence int, tested bool) *models.Hypothesis {
	return &models.Hypothesis{
		ID:               id,
		ProblemID:        problemID,
		ProposedSolution: "do the fix",
		Confidence:       confidence,
		Tested:           tested,
	}
}

func TestRunCycleGeneratesForUnanalyzedOnly(t *testing.T) {
	store := newFakeStore()
	store.open = []*models.DetectedProblem{problem("p1", models.SeverityHigh), problem("p2", models.SeverityMedium)}
	store.hypotheses["p1"] = []*models.Hypothesis{hypothesis("h1", "p1", 70, false)}

	gen := &fakeGenerator{byProblem: map[string][]*models.Hypothesis{
		"p2": {hypothesis("h2", "p2", 60, false)},
	}}
	tracker := &fakeTracker{}
	loop := NewLoop(store, &fakeDetector{}, gen, tracker, nil)

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"p2"}, gen.calls, "existing hypotheses are not regenerated")
	assert.Equal(t, 1, result.HypothesesGenerated)
	assert.Len(t, result.TopProblems, 2)
}

func TestRunCycleDetectionFailureAborts(t *testing.T) {
	loop := NewLoop(newFakeStore(), &fakeDetector{err: errors.New("scanner panic")}, &fakeGenerator{}, &fakeTracker{}, nil)

	_, err := loop.RunCycle(context.Background())
	assert.Error(t, err)
}

func TestRunCycleRecordsCycleExperience(t *testing.T) {
	tracker := &fakeTracker{}
	publisher := &fakePublisher{}
	loop := NewLoop(newFakeStore(), &fakeDetector{}, &fakeGenerator{}, tracker, publisher)

	_, err := loop.RunCycle(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, tracker.recorded)
	last := tracker.recorded[len(tracker.recorded)-1]
	assert.Equal(t, models.ExperienceLearningCycle, last.Type)
	assert.Len(t, publisher.published, 1)
}

func TestRunCycleInsights(t *testing.T) {
	store := newFakeStore()
	store.criticals = 2
	store.failures = 5
	tracker := &fakeTracker{stats: &models.Statistics{
		TotalExperiences: 40,
		SuccessRate:      0.75,
		TopLessons:       []models.LessonSummary{{Lesson: "pin versions", Occurrences: 3, Confidence: 90}},
	}}
	loop := NewLoop(store, &fakeDetector{}, &fakeGenerator{}, tracker, nil)

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)

	joined := fmt.Sprint(result.Insights)
	assert.Contains(t, joined, "75% overall success rate")
	assert.Contains(t, joined, "pin versions")
	assert.Contains(t, joined, "2 critical problem(s)")
	assert.Contains(t, joined, "Failure spike")
}

func TestRankProblems(t *testing.T) {
	var open []*models.DetectedProblem
	hypotheses := make(map[string][]*models.Hypothesis)
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("p%d", i)
		open = append(open, problem(id, models.SeverityHigh))
		hypotheses[id] = []*models.Hypothesis{
			hypothesis(id+"-a", id, 40, false),
			hypothesis(id+"-b", id, 90, false),
			hypothesis(id+"-c", id, 60, false),
		}
	}
	// One problem with no hypotheses is skipped entirely.
	open = append([]*models.DetectedProblem{problem("bare", models.SeverityCritical)}, open...)

	ranked := rankProblems(open, hypotheses)

	require.Len(t, ranked, 5, "capped at the top five")
	for _, r := range ranked {
		assert.NotEqual(t, "bare", r.ProblemID)
		require.NotNil(t, r.BestHypothesis)
		assert.Equal(t, 90, r.BestHypothesis.Confidence, "highest-confidence candidate wins")
	}
}

func TestRecordHypothesisOutcomeSuccessResolves(t *testing.T) {
	store := newFakeStore()
	store.hypotheses["p1"] = []*models.Hypothesis{hypothesis("h1", "p1", 70, false)}
	tracker := &fakeTracker{}
	loop := NewLoop(store, &fakeDetector{}, &fakeGenerator{}, tracker, nil)

	err := loop.RecordHypothesisOutcome(context.Background(), "h1", true, "fix held in staging")
	require.NoError(t, err)

	require.Len(t, tracker.recorded, 1)
	exp := tracker.recorded[0]
	assert.Equal(t, "h1", exp.HypothesisID)
	assert.Equal(t, models.OutcomeSuccess, exp.Outcome)
	assert.Equal(t, outcomeSuccessConfidence, exp.Confidence)
	assert.Equal(t, models.StatusResolved, store.statusUpdates["p1"])
}

func TestRecordHypothesisOutcomeFailureKeepsProblemOpen(t *testing.T) {
	store := newFakeStore()
	store.hypotheses["p1"] = []*models.Hypothesis{hypothesis("h1", "p1", 70, false)}
	tracker := &fakeTracker{}
	loop := NewLoop(store, &fakeDetector{}, &fakeGenerator{}, tracker, nil)

	err := loop.RecordHypothesisOutcome(context.Background(), "h1", false, "regressed in staging")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeFailure, tracker.recorded[0].Outcome)
	assert.Empty(t, store.statusUpdates, "failed fixes never resolve the problem")
}

func TestRecordHypothesisOutcomeUnknownHypothesis(t *testing.T) {
	loop := NewLoop(newFakeStore(), &fakeDetector{}, &fakeGenerator{}, &fakeTracker{}, nil)
	err := loop.RecordHypothesisOutcome(context.Background(), "missing", true, "")
	assert.Error(t, err)
}

func TestSuggestNextActions(t *testing.T) {
	store := newFakeStore()

	critical := problem("crit", models.SeverityCritical)
	ready := problem("ready", models.SeverityHigh)
	stale := problem("stale", models.SeverityLow)
	stale.DetectedAt = time.Now().Add(-8 * 24 * time.Hour)
	quiet := problem("quiet", models.SeverityLow)

	store.open = []*models.DetectedProblem{critical, ready, stale, quiet}
	store.hypotheses["ready"] = []*models.Hypothesis{
		hypothesis("h-low", "ready", 60, false),
		hypothesis("h-ready", "ready", 85, false),
		hypothesis("h-tested", "ready", 95, true),
	}

	loop := NewLoop(store, &fakeDetector{}, &fakeGenerator{}, &fakeTracker{}, nil)

	actions, err := loop.SuggestNextActions(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 3)

	assert.Equal(t, 1, actions[0].Priority)
	assert.Equal(t, "needs_hypotheses", actions[0].Kind)
	assert.Equal(t, "crit", actions[0].ProblemID)

	assert.Equal(t, 2, actions[1].Priority)
	assert.Equal(t, "ready_to_implement", actions[1].Kind)
	assert.Contains(t, actions[1].Description, "h-ready", "tested hypotheses are not re-suggested")

	assert.Equal(t, 3, actions[2].Priority)
	assert.Equal(t, "stale", actions[2].Kind)
	assert.Equal(t, "stale", actions[2].ProblemID)
}

func TestSetStaleThresholdShortensStaleWindow(t *testing.T) {
	store := newFakeStore()
	p := problem("aging", models.SeverityLow)
	p.DetectedAt = time.Now().Add(-2 * 24 * time.Hour)
	store.open = []*models.DetectedProblem{p}

	loop := NewLoop(store, &fakeDetector{}, &fakeGenerator{}, &fakeTracker{}, nil)

	actions, err := loop.SuggestNextActions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actions, "two days is not stale at the default threshold")

	loop.SetStaleThreshold(24 * time.Hour)
	actions, err = loop.SuggestNextActions(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "stale", actions[0].Kind)
}

func TestRunCycleStartsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := telemetry.Tracer
	telemetry.Tracer = provider.Tracer("test")
	defer func() { telemetry.Tracer = prev }()

	store := newFakeStore()
	store.open = []*models.DetectedProblem{problem("p1", models.SeverityHigh)}
	gen := &fakeGenerator{byProblem: map[string][]*models.Hypothesis{
		"p1": {hypothesis("h1", "p1", 80, false)},
	}}
	loop := NewLoop(store, &fakeDetector{}, gen, &fakeTracker{}, nil)

	_, err := loop.RunCycle(context.Background())
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "loop.cycle", spans[0].Name())
}
