package hypothesis

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jordanhubbard/mend/pkg/models"
)

// The completion is free text; these patterns locate the labeled
// sections the system prompt asks for. Tolerant of markdown bold,
// heading markers and case drift.
var (
	hypothesisSplitRe = regexp.MustCompile(`(?mi)^[#*\s]*hypothesis\s+\d+`)
	labelRe           = regexp.MustCompile(`(?mi)^[*\s]*(proposed solution|solution|reasoning|root cause|expected impact|confidence|testing strategy|risks|files affected|complexity|dependencies)[*\s]*:\s*(.*)$`)
	confidenceRe      = regexp.MustCompile(`\d{1,3}`)
)

// parseHypotheses extracts 0..n hypothesis drafts from a free-text
// completion. A section with no proposed solution is dropped.
func parseHypotheses(completion, problemID string) []models.HypothesisData {
	text := strings.TrimSpace(completion)
	if text == "" {
		return nil
	}

	sections := splitSections(text)

	var drafts []models.HypothesisData
	for _, section := range sections {
		draft, ok := parseSection(section, problemID)
		if ok {
			drafts = append(drafts, draft)
		}
	}
	return drafts
}

// splitSections cuts the completion at "Hypothesis N" headings. Text
// without headings is treated as a single section.
func splitSections(text string) []string {
	locs := hypothesisSplitRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var sections []string
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, text[loc[0]:end])
	}
	return sections
}

// parseSection pulls labeled fields out of one section.
func parseSection(section, problemID string) (models.HypothesisData, bool) {
	draft := models.HypothesisData{
		ProblemID:  problemID,
		Confidence: fallbackConfidence,
		Implementation: models.Implementation{
			Complexity: models.ComplexityMedium,
		},
	}

	matches := labelRe.FindAllStringSubmatch(section, -1)
	for _, m := range matches {
		label := strings.ToLower(strings.TrimSpace(m[1]))
		value := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[2]), "*"))
		if value == "" {
			continue
		}

		switch label {
		case "proposed solution", "solution":
			draft.ProposedSolution = value
		case "reasoning", "root cause":
			draft.Reasoning = value
		case "expected impact":
			draft.ExpectedImpact = value
		case "confidence":
			if c, ok := parseConfidence(value); ok {
				draft.Confidence = c
			}
		case "testing strategy":
			draft.TestingStrategy = value
		case "risks":
			draft.Risks = splitList(value)
		case "files affected":
			draft.Implementation.FilesAffected = splitList(value)
		case "dependencies":
			draft.Implementation.Dependencies = splitList(value)
		case "complexity":
			switch strings.ToLower(value) {
			case "low":
				draft.Implementation.Complexity = models.ComplexityLow
			case "high":
				draft.Implementation.Complexity = models.ComplexityHigh
			case "medium":
				draft.Implementation.Complexity = models.ComplexityMedium
			}
		}
	}

	if draft.ProposedSolution == "" {
		return draft, false
	}
	return draft, true
}

// parseConfidence extracts the first integer from a value like
// "85", "85/100" or "85%". Out-of-range numbers are clamped.
func parseConfidence(value string) (int, bool) {
	m := confidenceRe.FindString(value)
	if m == "" {
		return 0, false
	}
	c, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	if c < 0 {
		c = 0
	}
	if c > 100 {
		c = 100
	}
	return c, true
}

// splitList splits a comma- or newline-separated list, dropping empties.
func splitList(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(p), "-*"))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
