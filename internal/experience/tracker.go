package experience

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/jordanhubbard/mend/internal/database"
	"github.com/jordanhubbard/mend/pkg/models"
)

// Store is the persistence surface the tracker needs. *database.Database
// satisfies it; tests inject fakes.
type Store interface {
	CreateExperience(ctx context.Context, data *models.ExperienceData) (*models.Experience, error)
	ListExperiences(ctx context.Context, filter database.ExperienceFilter) ([]*models.Experience, error)
	CountExperiences(ctx context.Context) (total int, successes int, err error)
	ApplyConfidenceDelta(ctx context.Context, id string, delta int, testResults string) error
}

// Confidence feedback per recorded outcome, clamped to [0,100] by the store.
const (
	successDelta = 10
	failureDelta = -20
)

// Tracker is the append-only experience ledger and the system's sole
// learning mechanism.
type Tracker struct {
	store Store
}

// NewTracker creates a tracker against the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// RecordExperience appends an experience. If the experience references
// a hypothesis, the hypothesis's confidence receives the outcome delta
// (+10 success, -20 failure, partial leaves it unchanged) and is marked
// tested. The experience itself is recorded even if the feedback write
// fails — the learning signal is never lost to a crash path.
func (t *Tracker) RecordExperience(ctx context.Context, data *models.ExperienceData) (*models.Experience, error) {
	exp, err := t.store.CreateExperience(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to record experience: %w", err)
	}

	if data.HypothesisID != "" {
		delta := 0
		switch data.Outcome {
		case models.OutcomeSuccess:
			delta = successDelta
		case models.OutcomeFailure:
			delta = failureDelta
		}
		results := fmt.Sprintf("outcome=%s via experience %s", data.Outcome, exp.ID)
		if err := t.store.ApplyConfidenceDelta(ctx, data.HypothesisID, delta, results); err != nil {
			log.Printf("[Experience] Failed to apply confidence delta to hypothesis %s: %v", data.HypothesisID, err)
		}
	}

	return exp, nil
}

// SimilarityQuery describes what to retrieve past experiences for.
type SimilarityQuery struct {
	Keywords []string
	Type     models.ExperienceType
}

// FindSimilarExperiences retrieves past experiences relevant to the
// query. It fetches a superset (limit x 3, ordered success-first then
// confidence then recency) and scores each by keyword substring hits
// across action, lessons and context, boosting successful outcomes by
// 1.5x and high-confidence records (>80) by 1.2x.
func (t *Tracker) FindSimilarExperiences(ctx context.Context, query SimilarityQuery, limit int) ([]*models.Experience, error) {
	if limit <= 0 {
		limit = 5
	}

	candidates, err := t.store.ListExperiences(ctx, database.ExperienceFilter{
		Type:  query.Type,
		Limit: limit * 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidate experiences: %w", err)
	}

	type scored struct {
		exp   *models.Experience
		score float64
	}

	scoredExps := make([]scored, 0, len(candidates))
	for _, exp := range candidates {
		scoredExps = append(scoredExps, scored{exp: exp, score: scoreExperience(exp, query.Keywords)})
	}

	// Stable sort preserves the store's success/confidence/recency
	// ordering among equal scores.
	sort.SliceStable(scoredExps, func(i, j int) bool {
		return scoredExps[i].score > scoredExps[j].score
	})

	if len(scoredExps) > limit {
		scoredExps = scoredExps[:limit]
	}

	result := make([]*models.Experience, len(scoredExps))
	for i, s := range scoredExps {
		result[i] = s.exp
	}
	return result, nil
}

// scoreExperience counts keyword substring hits across the searchable
// text, then applies the outcome and confidence multipliers. More
// matching keywords never score below fewer, holding outcome and
// confidence equal.
func scoreExperience(exp *models.Experience, keywords []string) float64 {
	haystack := strings.ToLower(exp.Action + " " + exp.LessonsLearned + " " +
		exp.Context.Situation + " " + exp.Context.Problem + " " + exp.Context.Constraints)

	hits := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, kw) {
			hits++
		}
	}

	score := float64(hits)
	if exp.Outcome == models.OutcomeSuccess {
		score *= 1.5
	}
	if exp.Confidence > 80 {
		score *= 1.2
	}
	return score
}

// GetLessonsLearned groups lessons by exact lowercase text, counting
// occurrences and keeping the max confidence per group, and returns the
// top 10 groups by confidence.
func (t *Tracker) GetLessonsLearned(ctx context.Context, typ models.ExperienceType, onlySuccessful bool) ([]models.LessonSummary, error) {
	exps, err := t.store.ListExperiences(ctx, database.ExperienceFilter{
		Type:           typ,
		OnlySuccessful: onlySuccessful,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list experiences: %w", err)
	}

	return groupLessons(exps, 10), nil
}

func groupLessons(exps []*models.Experience, top int) []models.LessonSummary {
	type group struct {
		lesson     string
		count      int
		confidence int
	}

	groups := make(map[string]*group)
	for _, exp := range exps {
		lesson := strings.ToLower(strings.TrimSpace(exp.LessonsLearned))
		if lesson == "" {
			continue
		}
		g, ok := groups[lesson]
		if !ok {
			g = &group{lesson: exp.LessonsLearned}
			groups[lesson] = g
		}
		g.count++
		if exp.Confidence > g.confidence {
			g.confidence = exp.Confidence
		}
	}

	summaries := make([]models.LessonSummary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, models.LessonSummary{
			Lesson:      g.lesson,
			Occurrences: g.count,
			Confidence:  g.confidence,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Confidence != summaries[j].Confidence {
			return summaries[i].Confidence > summaries[j].Confidence
		}
		return summaries[i].Occurrences > summaries[j].Occurrences
	})

	if len(summaries) > top {
		summaries = summaries[:top]
	}
	return summaries
}

// GetSuccessRate returns the ratio of success-outcome experiences whose
// action contains the keyword, over all experiences matching the keyword.
func (t *Tracker) GetSuccessRate(ctx context.Context, actionKeyword string) (float64, error) {
	exps, err := t.store.ListExperiences(ctx, database.ExperienceFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to list experiences: %w", err)
	}

	keyword := strings.ToLower(actionKeyword)
	matched, succeeded := 0, 0
	for _, exp := range exps {
		if !strings.Contains(strings.ToLower(exp.Action), keyword) {
			continue
		}
		matched++
		if exp.Outcome == models.OutcomeSuccess {
			succeeded++
		}
	}

	if matched == 0 {
		return 0, nil
	}
	return float64(succeeded) / float64(matched), nil
}

// GetStatistics aggregates the ledger: total count, global success
// rate, top 5 successful lessons, and a 30-day trailing success rate
// broken out by experience type.
func (t *Tracker) GetStatistics(ctx context.Context) (*models.Statistics, error) {
	total, successes, err := t.store.CountExperiences(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count experiences: %w", err)
	}

	stats := &models.Statistics{TotalExperiences: total}
	if total > 0 {
		stats.SuccessRate = float64(successes) / float64(total)
	}

	successful, err := t.store.ListExperiences(ctx, database.ExperienceFilter{OnlySuccessful: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list successful experiences: %w", err)
	}
	stats.TopLessons = groupLessons(successful, 5)

	recent, err := t.store.ListExperiences(ctx, database.ExperienceFilter{
		Since: time.Now().Add(-30 * 24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent experiences: %w", err)
	}

	byType := make(map[models.ExperienceType]*models.TypeTrend)
	for _, exp := range recent {
		trend, ok := byType[exp.Type]
		if !ok {
			trend = &models.TypeTrend{Type: exp.Type}
			byType[exp.Type] = trend
		}
		trend.Total++
		if exp.Outcome == models.OutcomeSuccess {
			trend.SuccessRate++
		}
	}
	for _, trend := range byType {
		if trend.Total > 0 {
			trend.SuccessRate = trend.SuccessRate / float64(trend.Total)
		}
		stats.RecentTrends = append(stats.RecentTrends, *trend)
	}
	sort.Slice(stats.RecentTrends, func(i, j int) bool {
		return stats.RecentTrends[i].SuccessRate > stats.RecentTrends[j].SuccessRate
	})

	return stats, nil
}
