// Package sbfl computes spectrum-based fault localization scores for
// source lines from pass/fail test coverage.
//
// Suspiciousness uses the Tarantula formula:
//
//	susp(l) = (failed(l)/totalFailed) /
//	          (failed(l)/totalFailed + passed(l)/totalPassed)
//
// where failed(l) and passed(l) count the failing and passing tests
// that executed line l. Scores lie in [0, 1]; scores are only defined
// when the corpus holds at least one failing and one passing test.
package sbfl

import (
	"sort"
)

// Counts holds how many failing and passing tests executed a line.
type Counts struct {
	Failed int `json:"failed"`
	Passed int `json:"passed"`
}

// LineScore is one ranked source line.
type LineScore struct {
	Line   int     `json:"line"`
	Score  float64 `json:"score"`
	Failed int     `json:"failed"`
	Passed int     `json:"passed"`
}

// Category buckets a suspiciousness score for display.
type Category string

// Category values, from most to least suspicious.
const (
	High          Category = "High"
	Medium        Category = "Medium"
	Low           Category = "Low"
	NotSuspicious Category = "Not Suspicious"
)

// Color returns the graph color associated with the category.
func (c Category) Color() string {
	switch c {
	case High:
		return "red"
	case Medium:
		return "yellow"
	case Low:
		return "green"
	default:
		return "blue"
	}
}

// Classify buckets a score: above 0.6 is High, above 0.4 Medium,
// above 0 Low, anything else Not Suspicious.
func Classify(score float64) Category {
	switch {
	case score > 0.6:
		return High
	case score > 0.4:
		return Medium
	case score > 0:
		return Low
	default:
		return NotSuspicious
	}
}

// Tarantula computes the suspiciousness of one line. It returns 0 when
// either total is zero or the line was never executed.
func Tarantula(failedCovered, totalFailed, passedCovered, totalPassed int) float64 {
	if totalFailed == 0 || totalPassed == 0 {
		return 0
	}
	num := float64(failedCovered) / float64(totalFailed)
	den := num + float64(passedCovered)/float64(totalPassed)
	if den <= 0 {
		return 0
	}
	return num / den
}

// Score computes the suspiciousness of every line in m. The result is
// empty when m has no failing or no passing tests. Lines never covered
// are absent, which is distinct from a score of 0.
func Score(m *Matrix) map[int]float64 {
	scores := make(map[int]float64)
	if m.TotalFailed == 0 || m.TotalPassed == 0 {
		return scores
	}
	for line, c := range m.Lines {
		scores[line] = Tarantula(c.Failed, m.TotalFailed, c.Passed, m.TotalPassed)
	}
	return scores
}

// Rank orders scores by descending suspiciousness, breaking ties by
// ascending line number. m supplies per-line counts and may be nil.
func Rank(scores map[int]float64, m *Matrix) []LineScore {
	ranked := make([]LineScore, 0, len(scores))
	for line, s := range scores {
		ls := LineScore{Line: line, Score: s}
		if m != nil {
			c := m.Lines[line]
			ls.Failed, ls.Passed = c.Failed, c.Passed
		}
		ranked = append(ranked, ls)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Line < ranked[j].Line
	})
	return ranked
}
