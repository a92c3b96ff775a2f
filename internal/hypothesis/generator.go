package hypothesis

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jordanhubbard/mend/internal/cache"
	"github.com/jordanhubbard/mend/internal/metrics"
	"github.com/jordanhubbard/mend/internal/provider"
	"github.com/jordanhubbard/mend/pkg/models"
)

// Store is the persistence surface the generator needs.
type Store interface {
	GetProblem(ctx context.Context, id string) (*models.DetectedProblem, error)
	UpdateProblemStatus(ctx context.Context, id string, status models.ProblemStatus) error
	CreateHypothesis(ctx context.Context, data *models.HypothesisData) (*models.Hypothesis, error)
}

const (
	systemPrompt = `You are a senior reliability engineer proposing fixes for detected operational problems. For each hypothesis, write labeled sections exactly as:
Hypothesis N
Proposed Solution: ...
Reasoning: ...
Expected Impact: ...
Confidence: <0-100>
Testing Strategy: ...
Risks: comma-separated list
Files Affected: comma-separated list
Complexity: low|medium|high
Propose between one and three hypotheses, most promising first.`

	// Low temperature: parsing depends on the model following the
	// labeled-section format.
	promptTemperature  = 0.2
	maxHypotheses      = 3
	fallbackConfidence = 50
)

// Publisher receives hypothesis creation events. Optional; nil
// disables publishing.
type Publisher interface {
	PublishHypothesisCreated(ctx context.Context, hypothesis *models.Hypothesis) error
}

// Generator produces ranked candidate remediations for open problems
// via the AI completion service, with a deterministic fallback so a
// hypothesis is always produced.
type Generator struct {
	store     Store
	ai        provider.Service
	cache     *cache.Cache
	publisher Publisher
	model     string
	maxTokens int
}

// NewGenerator creates a generator. cache may be nil to disable
// completion caching.
func NewGenerator(store Store, ai provider.Service, completionCache *cache.Cache, model string, maxTokens int) *Generator {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Generator{
		store:     store,
		ai:        ai,
		cache:     completionCache,
		model:     model,
		maxTokens: maxTokens,
	}
}

// SetPublisher attaches an event publisher for persisted hypotheses.
func (g *Generator) SetPublisher(p Publisher) {
	g.publisher = p
}

// GenerateHypotheses loads the problem, transitions it to analyzing,
// asks the completion service for candidate fixes and persists every
// parsed hypothesis. AI errors and unparseable output never propagate:
// both degrade to one deterministic fallback hypothesis at confidence 50.
func (g *Generator) GenerateHypotheses(ctx context.Context, problemID string) ([]*models.Hypothesis, error) {
	problem, err := g.store.GetProblem(ctx, problemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load problem: %w", err)
	}

	if problem.Status == models.StatusDetected {
		if err := g.store.UpdateProblemStatus(ctx, problemID, models.StatusAnalyzing); err != nil {
			return nil, fmt.Errorf("failed to transition problem to analyzing: %w", err)
		}
	}

	drafts := g.generateDrafts(ctx, problem)

	hypotheses := make([]*models.Hypothesis, 0, len(drafts))
	for i := range drafts {
		h, err := g.store.CreateHypothesis(ctx, &drafts[i])
		if err != nil {
			return hypotheses, fmt.Errorf("failed to persist hypothesis: %w", err)
		}
		if g.publisher != nil {
			if err := g.publisher.PublishHypothesisCreated(ctx, h); err != nil {
				log.Printf("[Hypothesis] Failed to publish hypothesis event: %v", err)
			}
		}
		hypotheses = append(hypotheses, h)
	}

	log.Printf("[Hypothesis] Generated %d hypotheses for problem %s", len(hypotheses), problemID)
	return hypotheses, nil
}

// generateDrafts calls the AI service and parses the response. Any
// failure path lands on the deterministic fallback.
func (g *Generator) generateDrafts(ctx context.Context, problem *models.DetectedProblem) []models.HypothesisData {
	prompt := buildPrompt(problem)

	completion, err := g.complete(ctx, prompt)
	if err != nil {
		log.Printf("[Hypothesis] Completion failed for problem %s, using fallback: %v", problem.ID, err)
		metrics.HypothesesGenerated.WithLabelValues("fallback").Inc()
		return []models.HypothesisData{fallbackHypothesis(problem)}
	}

	drafts := parseHypotheses(completion, problem.ID)
	if len(drafts) == 0 {
		log.Printf("[Hypothesis] No parseable sections in completion for problem %s, using fallback", problem.ID)
		metrics.HypothesesGenerated.WithLabelValues("fallback").Inc()
		return []models.HypothesisData{fallbackHypothesis(problem)}
	}
	if len(drafts) > maxHypotheses {
		drafts = drafts[:maxHypotheses]
	}
	metrics.HypothesesGenerated.WithLabelValues("ai").Add(float64(len(drafts)))
	return drafts
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	var key string
	if g.cache != nil {
		key = cache.Key(g.model, systemPrompt, prompt, promptTemperature)
		if cached, ok := g.cache.Get(ctx, key); ok {
			metrics.CompletionRequests.WithLabelValues("cache_hit").Inc()
			return cached, nil
		}
	}

	completion, err := g.ai.Complete(ctx, &provider.CompletionRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: promptTemperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		metrics.CompletionRequests.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.CompletionRequests.WithLabelValues("ok").Inc()

	if g.cache != nil && strings.TrimSpace(completion) != "" {
		if err := g.cache.Set(ctx, key, completion); err != nil {
			log.Printf("[Hypothesis] Failed to cache completion: %v", err)
		}
	}
	return completion, nil
}

// buildPrompt embeds the problem fields in a structured request.
func buildPrompt(problem *models.DetectedProblem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n", problem.Title)
	fmt.Fprintf(&b, "Type: %s\n", problem.Type)
	fmt.Fprintf(&b, "Severity: %s\n", problem.Severity)
	fmt.Fprintf(&b, "Description: %s\n", problem.Description)
	if problem.Impact != "" {
		fmt.Fprintf(&b, "Impact: %s\n", problem.Impact)
	}
	if len(problem.Evidence) > 0 {
		b.WriteString("Evidence:\n")
		for k, v := range problem.Evidence {
			fmt.Fprintf(&b, "  %s: %v\n", k, v)
		}
	}
	b.WriteString("\nPropose 1-3 remediation hypotheses for this problem.")
	return b.String()
}

// fallbackHypothesis is the deterministic path: built directly from the
// problem's own fields at confidence 50.
func fallbackHypothesis(problem *models.DetectedProblem) models.HypothesisData {
	return models.HypothesisData{
		ProblemID: problem.ID,
		ProposedSolution: fmt.Sprintf("Investigate and address %q: review the recorded evidence, reproduce the issue, and apply the smallest fix that removes the %s impact.",
			problem.Title, problem.Type),
		Reasoning:       fmt.Sprintf("Automated analysis was unavailable; derived directly from the %s severity %s problem description.", problem.Severity, problem.Type),
		ExpectedImpact:  "Resolves the detected problem once the underlying cause is confirmed",
		Confidence:      fallbackConfidence,
		TestingStrategy: "Reproduce the problem first, then verify the detector no longer reports it after the fix",
		Risks:           []string{"root cause may differ from the recorded evidence"},
		Implementation: models.Implementation{
			Complexity: models.ComplexityMedium,
		},
	}
}
