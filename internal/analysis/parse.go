package analysis

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	maxFindings        = 5
	maxRecommendations = 3
)

var (
	percentRe   = regexp.MustCompile(`(\d{1,3})\s*%`)
	bulletRe    = regexp.MustCompile(`^\s*(?:[-*•·]+|\d{1,2}[.)-]|[#>]+)\s*`)
	emphasisRe  = regexp.MustCompile(`\*\*|__`)
	digitFolder = strings.NewReplacer(
		"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
		"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
		"٪", "%",
	)
)

type section int

const (
	sectionNone section = iota
	sectionFindings
	sectionProbability
	sectionRecommendations
)

var sectionKeywords = []struct {
	section  section
	keywords []string
}{
	{sectionRecommendations, []string{"التوصيات", "توصيات", "recommendation"}},
	{sectionProbability, []string{"احتمالية السداد", "نسبة احتمالية", "probability"}},
	{sectionFindings, []string{"تحليل المكالمة", "نتائج التحليل", "findings", "call analysis"}},
}

type parsedAnalysis struct {
	findings        []string
	recommendations []string
	probability     int // -1 when not found
}

// parseAnalysis splits free model text into findings, probability and
// recommendations. ok is false when nothing recognisable was found.
func parseAnalysis(raw string) (parsedAnalysis, bool) {
	out := parsedAnalysis{probability: -1}
	text := digitFolder.Replace(raw)
	if strings.TrimSpace(text) == "" {
		return out, false
	}

	current := sectionNone
	for _, line := range strings.Split(text, "\n") {
		if s, rest, isHeader := detectHeader(line); isHeader {
			current = s
			if s == sectionProbability && out.probability < 0 {
				out.probability = extractPercent(rest)
			}
			continue
		}

		item := cleanItem(line)
		if item == "" {
			continue
		}

		switch current {
		case sectionFindings:
			if len(out.findings) < maxFindings {
				out.findings = append(out.findings, item)
			}
		case sectionRecommendations:
			if len(out.recommendations) < maxRecommendations {
				out.recommendations = append(out.recommendations, item)
			}
		case sectionProbability:
			if out.probability < 0 {
				out.probability = extractPercent(item)
			}
		}
	}

	if out.probability < 0 {
		out.probability = extractPercent(text)
	}

	ok := out.probability >= 0 || len(out.findings) > 0 || len(out.recommendations) > 0
	return out, ok
}

// detectHeader reports whether line opens a section. Headers are short lines
// carrying a section keyword; rest is whatever follows the keyword.
func detectHeader(line string) (section, string, bool) {
	trimmed := strings.TrimSpace(emphasisRe.ReplaceAllString(line, ""))
	if trimmed == "" {
		return sectionNone, "", false
	}
	lower := strings.ToLower(trimmed)

	for _, sk := range sectionKeywords {
		for _, kw := range sk.keywords {
			idx := strings.Index(lower, kw)
			if idx < 0 {
				continue
			}
			// A bullet mentioning "التوصيات" mid-sentence is content, not a header.
			prefix := strings.TrimSpace(bulletRe.ReplaceAllString(lower[:idx], ""))
			if prefix != "" {
				continue
			}
			return sk.section, lower[idx+len(kw):], true
		}
	}
	return sectionNone, "", false
}

func cleanItem(line string) string {
	s := emphasisRe.ReplaceAllString(line, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ":：")
	if s == "-" {
		return ""
	}
	return strings.TrimSpace(s)
}

func extractPercent(s string) int {
	m := percentRe.FindStringSubmatch(s)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return clampProbability(n)
}

func clampProbability(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
