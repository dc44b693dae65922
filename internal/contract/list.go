package contract

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxStatements is the hard cap on accumulated statements for
// list-building steps.
const DefaultMaxStatements = 6

// SimilarityThreshold is the token-overlap (Jaccard) ratio above which two
// normalized statements are treated as near-duplicates. 0.6 keeps rephrasings
// like "we value innovation" / "innovation is what we value" together while
// leaving genuinely distinct statements apart.
const SimilarityThreshold = 0.6

// Bullet is the single canonical bullet glyph used for rendered lists.
const Bullet = "•"

// MergeGroup records one de-duplication: the surviving line's index and the
// indices it absorbed. Indices refer to the input slice.
type MergeGroup struct {
	Target   int
	Absorbed []int
}

// ListResult is the outcome of list post-processing.
type ListResult struct {
	Lines     []string
	Merges    []MergeGroup
	Truncated []int
	Feedback  string
}

var leadingMarker = regexp.MustCompile(`^(\s*(?:[-*•–]|\d+[.)])\s*)+`)

// normalizeKey builds the comparison key for a statement: leading bullet and
// numbering markers stripped, lower-cased, whitespace collapsed, terminal
// punctuation removed.
func normalizeKey(s string) string {
	s = leadingMarker.ReplaceAllString(s, "")
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".!?,;: ")
	return s
}

// tokenOverlap computes the Jaccard ratio of the two keys' token sets.
func tokenOverlap(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, tok := range ta {
		set[tok] = true
	}
	both := 0
	union := len(set)
	seen := make(map[string]bool, len(tb))
	for _, tok := range tb {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if set[tok] {
			both++
		} else {
			union++
		}
	}
	return float64(both) / float64(union)
}

// Dedupe merges statements whose normalized keys are exactly equal or whose
// token overlap exceeds SimilarityThreshold. The first-seen phrasing survives
// as the representative.
func Dedupe(lines []string) ListResult {
	type kept struct {
		index int
		key   string
	}
	var reps []kept
	groups := make(map[int]*MergeGroup)
	var out []string

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key := normalizeKey(line)
		if key == "" {
			continue
		}

		merged := false
		for _, rep := range reps {
			if rep.key == key || tokenOverlap(rep.key, key) >= SimilarityThreshold {
				g, ok := groups[rep.index]
				if !ok {
					g = &MergeGroup{Target: rep.index}
					groups[rep.index] = g
				}
				g.Absorbed = append(g.Absorbed, i)
				merged = true
				break
			}
		}
		if merged {
			continue
		}
		reps = append(reps, kept{index: i, key: key})
		out = append(out, cleanStatement(line))
	}

	var merges []MergeGroup
	for _, rep := range reps {
		if g, ok := groups[rep.index]; ok {
			merges = append(merges, *g)
		}
	}
	return ListResult{Lines: out, Merges: merges}
}

// cleanStatement strips list markers and outer whitespace but keeps the
// author's casing and wording.
func cleanStatement(s string) string {
	return strings.TrimSpace(leadingMarker.ReplaceAllString(s, ""))
}

// EnforceMax truncates lines beyond max and reports the truncated indices
// (into the given slice).
func EnforceMax(lines []string, max int) ([]string, []int) {
	if max <= 0 {
		max = DefaultMaxStatements
	}
	if len(lines) <= max {
		return lines, nil
	}
	truncated := make([]int, 0, len(lines)-max)
	for i := max; i < len(lines); i++ {
		truncated = append(truncated, i)
	}
	return lines[:max], truncated
}

// ProcessList runs the full post-processing pass: merge near-duplicates, then
// enforce the hard cap. Feedback is non-empty only when something was merged
// or dropped.
func ProcessList(lines []string, max int) ListResult {
	res := Dedupe(lines)
	res.Lines, res.Truncated = EnforceMax(res.Lines, max)
	res.Feedback = buildFeedback(res)
	return res
}

// RenderBullets renders one bullet per line using the canonical glyph.
func RenderBullets(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(Bullet)
		b.WriteString(" ")
		b.WriteString(line)
	}
	return b.String()
}

// SplitBullets is the inverse of RenderBullets: it splits a stored bullet
// rendering back into raw statement lines.
func SplitBullets(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = cleanStatement(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func buildFeedback(res ListResult) string {
	mergedCount := 0
	for _, g := range res.Merges {
		mergedCount += len(g.Absorbed)
	}
	if mergedCount == 0 && len(res.Truncated) == 0 {
		return ""
	}

	var parts []string
	if mergedCount == 1 {
		parts = append(parts, "I merged one statement that repeated an earlier one.")
	} else if mergedCount > 1 {
		parts = append(parts, fmt.Sprintf("I merged %d statements that repeated earlier ones.", mergedCount))
	}
	if n := len(res.Truncated); n == 1 {
		parts = append(parts, fmt.Sprintf("The list is capped at %d, so I set one statement aside.", len(res.Lines)))
	} else if n > 1 {
		parts = append(parts, fmt.Sprintf("The list is capped at %d, so I set %d statements aside.", len(res.Lines), n))
	}
	return strings.Join(parts, " ")
}
