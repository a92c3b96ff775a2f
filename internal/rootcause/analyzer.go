package rootcause

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/jordanhubbard/mend/internal/experience"
	"github.com/jordanhubbard/mend/internal/provider"
	"github.com/jordanhubbard/mend/pkg/models"
)

const (
	systemPrompt = `You are a senior engineer performing root cause analysis on a single runtime error. Answer with labeled sections exactly as:
Root Cause: ...
Contributing Factors: comma-separated list
Confidence: <0-100>
Recommendations: one per line, dash-prefixed`

	promptTemperature  = 0.2
	historyLimit       = 10
	fallbackConfidence = 60
	maxComponents      = 5
)

// Experiences is the historical-evidence surface the analyzer reads.
type Experiences interface {
	FindSimilarExperiences(ctx context.Context, query experience.SimilarityQuery, limit int) ([]*models.Experience, error)
}

// Analyzer infers the underlying reason behind a specific error,
// combining AI analysis with historical fix outcomes. It is the
// single-transient-error sibling of the hypothesis generator and is
// reused by the automatic recovery path.
type Analyzer struct {
	ai        provider.Service
	history   Experiences
	maxTokens int
}

// NewAnalyzer creates an analyzer. history may be nil; the prompt then
// simply carries no past outcomes.
func NewAnalyzer(ai provider.Service, history Experiences, maxTokens int) *Analyzer {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Analyzer{ai: ai, history: history, maxTokens: maxTokens}
}

// Analyze produces a root cause analysis for the error. Service
// failures and unparseable output degrade to the deterministic rule
// table; an analysis is always returned.
func (a *Analyzer) Analyze(ctx context.Context, errMsg, stackTrace, errorContext string) (*models.RootCauseAnalysis, error) {
	if strings.TrimSpace(errMsg) == "" {
		return nil, fmt.Errorf("error message is required")
	}

	history := a.fetchHistory(ctx, errMsg)
	prompt := buildPrompt(errMsg, stackTrace, errorContext, history)

	analysis := a.analyzeWithAI(ctx, prompt)
	if analysis == nil {
		analysis = ruleBasedAnalysis(errMsg)
	}

	analysis.AffectedComponents = extractComponents(errMsg + "\n" + stackTrace)
	return analysis, nil
}

func (a *Analyzer) fetchHistory(ctx context.Context, errMsg string) []*models.Experience {
	if a.history == nil {
		return nil
	}

	past, err := a.history.FindSimilarExperiences(ctx, experience.SimilarityQuery{
		Keywords: ExtractKeywords(errMsg),
		Type:     models.ExperienceFix,
	}, historyLimit)
	if err != nil {
		log.Printf("[RootCause] Failed to fetch similar experiences: %v", err)
		return nil
	}
	return past
}

func (a *Analyzer) analyzeWithAI(ctx context.Context, prompt string) *models.RootCauseAnalysis {
	completion, err := a.ai.Complete(ctx, &provider.CompletionRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: promptTemperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		log.Printf("[RootCause] Completion failed, using rule table: %v", err)
		return nil
	}

	analysis := parseAnalysis(completion)
	if analysis == nil {
		log.Printf("[RootCause] No parseable sections in completion, using rule table")
	}
	return analysis
}

func buildPrompt(errMsg, stackTrace, errorContext string, history []*models.Experience) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n", errMsg)
	if stackTrace != "" {
		fmt.Fprintf(&b, "\nStack trace:\n%s\n", stackTrace)
	}
	if errorContext != "" {
		fmt.Fprintf(&b, "\nContext: %s\n", errorContext)
	}
	if len(history) > 0 {
		b.WriteString("\nRelevant past fixes and their outcomes:\n")
		for _, exp := range history {
			fmt.Fprintf(&b, "- [%s] %s", exp.Outcome, exp.Action)
			if exp.LessonsLearned != "" {
				fmt.Fprintf(&b, " (lesson: %s)", exp.LessonsLearned)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\nIdentify the root cause of this error.")
	return b.String()
}

// fallbackRule maps an error signature to a canned analysis.
type fallbackRule struct {
	pattern         *regexp.Regexp
	rootCause       string
	factors         []string
	recommendations []string
}

var fallbackRules = []fallbackRule{
	{
		pattern:   regexp.MustCompile(`(?i)cannot find module|module not found`),
		rootCause: "Missing dependency: a required module is not installed or not resolvable",
		factors:   []string{"incomplete install", "missing dependency declaration"},
		recommendations: []string{
			"Install the missing package",
			"Verify the dependency is declared in the project manifest",
			"Reinstall dependencies from a clean state",
		},
	},
	{
		pattern:   regexp.MustCompile(`(?i)type .* is not assignable|type mismatch|cannot use .* as .* value`),
		rootCause: "Type error: a value does not satisfy the type expected at the use site",
		factors:   []string{"interface drift between producer and consumer", "missing type conversion"},
		recommendations: []string{
			"Compare the declared and actual types at the reported location",
			"Add an explicit conversion or fix the declaration",
		},
	},
	{
		pattern:   regexp.MustCompile(`(?i)ECONNREFUSED|connection refused|could not connect`),
		rootCause: "Database connectivity failure: the server is unreachable at the configured address",
		factors:   []string{"service not running", "wrong host/port configuration", "network policy blocking the connection"},
		recommendations: []string{
			"Check that the database service is running",
			"Verify the connection string host and port",
			"Confirm network reachability from this host",
		},
	},
}

// ruleBasedAnalysis is the deterministic fallback: a small rule table
// at fixed confidence 60.
func ruleBasedAnalysis(errMsg string) *models.RootCauseAnalysis {
	for _, rule := range fallbackRules {
		if rule.pattern.MatchString(errMsg) {
			return &models.RootCauseAnalysis{
				RootCause:           rule.rootCause,
				ContributingFactors: rule.factors,
				Confidence:          fallbackConfidence,
				Recommendations:     rule.recommendations,
			}
		}
	}
	return &models.RootCauseAnalysis{
		RootCause:           "Unrecognized error signature; manual investigation required",
		ContributingFactors: []string{"no matching pattern in the rule table"},
		Confidence:          fallbackConfidence,
		Recommendations:     []string{"Inspect the full error and stack trace manually"},
	}
}

var (
	// Filenames with common source/config extensions, in both error
	// text and stack frames.
	componentRe = regexp.MustCompile(`[\w./-]+\.(?:go|ts|tsx|js|jsx|py|sql|yaml|yml|json|prisma)`)
	keywordRe   = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{3,}`)

	stopwords = map[string]bool{
		"error": true, "failed": true, "cannot": true, "could": true,
		"with": true, "from": true, "this": true, "that": true,
		"when": true, "while": true, "find": true, "have": true,
	}
)

// extractComponents pulls filenames out of error and stack text,
// deduplicated and capped at 5.
func extractComponents(text string) []string {
	matches := componentRe.FindAllString(text, -1)
	seen := make(map[string]bool)
	var components []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		components = append(components, m)
		if len(components) >= maxComponents {
			break
		}
	}
	return components
}

// ExtractKeywords derives similarity-search terms from an error
// message: lowercase words of 4+ chars minus stopwords, capped at 8.
func ExtractKeywords(errMsg string) []string {
	words := keywordRe.FindAllString(errMsg, -1)
	seen := make(map[string]bool)
	var keywords []string
	for _, w := range words {
		w = strings.ToLower(w)
		if stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
		if len(keywords) >= 8 {
			break
		}
	}
	return keywords
}
