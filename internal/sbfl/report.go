package sbfl

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Report is the complete scoring output.
type Report struct {
	Version     string      `json:"version"`
	TotalFailed int         `json:"total_failed"`
	TotalPassed int         `json:"total_passed"`
	Scores      []LineScore `json:"scores"`
}

// NewReport ranks the scores of m into a Report.
func NewReport(m *Matrix, version string) *Report {
	return &Report{
		Version:     version,
		TotalFailed: m.TotalFailed,
		TotalPassed: m.TotalPassed,
		Scores:      Rank(Score(m), m),
	}
}

// Schema is the JSON Schema (Draft 2020-12) for WriteJSON output.
const Schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://github.com/unbound-force/faultloc/score-report.schema.json",
  "title": "Faultloc Score Report",
  "description": "Output schema for faultloc score --format=json",
  "type": "object",
  "required": ["version", "total_failed", "total_passed", "scores"],
  "properties": {
    "version": { "type": "string" },
    "total_failed": { "type": "integer", "minimum": 0 },
    "total_passed": { "type": "integer", "minimum": 0 },
    "scores": {
      "type": "array",
      "items": { "$ref": "#/$defs/LineScore" }
    }
  },
  "$defs": {
    "LineScore": {
      "type": "object",
      "required": ["line", "score", "failed", "passed"],
      "properties": {
        "line": { "type": "integer", "minimum": 0 },
        "score": { "type": "number", "minimum": 0, "maximum": 1 },
        "failed": { "type": "integer", "minimum": 0 },
        "passed": { "type": "integer", "minimum": 0 }
      }
    }
  }
}`

// Report styles, one per category.
var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	categoryStyles = map[Category]lipgloss.Style{
		High:          lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		Medium:        lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		Low:           lipgloss.NewStyle().Foreground(lipgloss.Color("40")),
		NotSuspicious: lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
	}
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report *Report) error {
	if report.Scores == nil {
		report.Scores = []LineScore{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteText writes the ranking as a styled table followed by a short
// summary. Lipgloss drops colors when w is not a terminal.
func WriteText(w io.Writer, report *Report) error {
	if len(report.Scores) == 0 {
		fmt.Fprintln(w, mutedStyle.Render(
			fmt.Sprintf("No scores computed (%d failed, %d passed tests).",
				report.TotalFailed, report.TotalPassed)))
		return nil
	}

	rows := make([][]string, 0, len(report.Scores))
	for _, s := range report.Scores {
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.Line),
			fmt.Sprintf("%.4f", s.Score),
			string(Classify(s.Score)),
			fmt.Sprintf("%d", s.Failed),
			fmt.Sprintf("%d", s.Passed),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if (col == 1 || col == 2) && row >= 0 && row < len(report.Scores) {
				return categoryStyles[Classify(report.Scores[row].Score)]
			}
			return lipgloss.NewStyle()
		}).
		Headers("LINE", "SUSPICIOUSNESS", "CATEGORY", "FAILED", "PASSED").
		Rows(rows...)

	fmt.Fprintln(w, t)

	counts := make(map[Category]int)
	for _, s := range report.Scores {
		counts[Classify(s.Score)]++
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("--- Summary ---"))
	fmt.Fprintf(w, "%s  %d\n", labelStyle.Render("Failed tests:"), report.TotalFailed)
	fmt.Fprintf(w, "%s  %d\n", labelStyle.Render("Passed tests:"), report.TotalPassed)
	fmt.Fprintf(w, "%s  %d\n", labelStyle.Render("Lines scored:"), len(report.Scores))
	for _, c := range []Category{High, Medium, Low, NotSuspicious} {
		fmt.Fprintf(w, "  %-16s  %s\n", string(c), categoryStyles[c].Render(fmt.Sprintf("%d", counts[c])))
	}
	return nil
}
