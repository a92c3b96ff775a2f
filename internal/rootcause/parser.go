package rootcause

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jordanhubbard/mend/pkg/models"
)

var (
	analysisLabelRe = regexp.MustCompile(`(?mi)^[#*\s]*(root cause|contributing factors|confidence|recommendations)\s*[:*]*\s*`)
	confidenceNumRe = regexp.MustCompile(`\d+`)
)

// parseAnalysis extracts labeled sections out of a completion. Returns
// nil when no root cause can be found, which signals the caller to use
// the rule table instead.
func parseAnalysis(text string) *models.RootCauseAnalysis {
	sections := splitLabeled(text)
	rootCause, ok := sections["root cause"]
	if !ok || strings.TrimSpace(rootCause) == "" {
		return nil
	}

	analysis := &models.RootCauseAnalysis{
		RootCause:  strings.TrimSpace(rootCause),
		Confidence: 50,
	}
	if raw, ok := sections["contributing factors"]; ok {
		analysis.ContributingFactors = splitList(raw)
	}
	if raw, ok := sections["confidence"]; ok {
		if m := confidenceNumRe.FindString(raw); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				if n < 0 {
					n = 0
				}
				if n > 100 {
					n = 100
				}
				analysis.Confidence = n
			}
		}
	}
	if raw, ok := sections["recommendations"]; ok {
		analysis.Recommendations = splitList(raw)
	}
	return analysis
}

// splitLabeled carves the text into label->body chunks keyed by the
// lowercased label.
func splitLabeled(text string) map[string]string {
	locs := analysisLabelRe.FindAllStringSubmatchIndex(text, -1)
	sections := make(map[string]string, len(locs))
	for i, loc := range locs {
		label := strings.ToLower(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections[label] = strings.TrimSpace(text[loc[1]:end])
	}
	return sections
}

// splitList breaks a section body on newlines and commas, stripping
// bullet markers.
func splitList(raw string) []string {
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• \t"))
		if line == "" {
			continue
		}
		if strings.Contains(line, ",") && !strings.Contains(line, "(") {
			for _, part := range strings.Split(line, ",") {
				if part = strings.TrimSpace(part); part != "" {
					items = append(items, part)
				}
			}
			continue
		}
		items = append(items, line)
	}
	return items
}
