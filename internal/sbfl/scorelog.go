package sbfl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/unbound-force/faultloc/internal/diag"
)

// scoreLineRe matches one score.log record.
var scoreLineRe = regexp.MustCompile(`^Line (\d+): Suspiciousness ([0-9.]+)$`)

// WriteScoreLog writes one "Line <n>: Suspiciousness <score>" record
// per ranked line, each terminated by a newline.
func WriteScoreLog(w io.Writer, ranked []LineScore) error {
	bw := bufio.NewWriter(w)
	for _, ls := range ranked {
		if _, err := fmt.Fprintf(bw, "Line %d: Suspiciousness %.4f\n", ls.Line, ls.Score); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveScoreLog writes the ranked scores to path.
func SaveScoreLog(path string, ranked []LineScore) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteScoreLog(f, ranked); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// ParseScoreLog reads score records. Blank lines are ignored; any
// other line that is not a well-formed record is skipped with a
// warning.
func ParseScoreLog(r io.Reader) (map[int]float64, []diag.Warning, error) {
	scores := make(map[int]float64)
	var warnings []diag.Warning

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m := scoreLineRe.FindStringSubmatch(line)
		if m == nil {
			warnings = append(warnings, diag.Warnf(diag.MalformedData,
				"score log line %d: skipping invalid record %q", lineNo, line))
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			warnings = append(warnings, diag.Warnf(diag.MalformedData,
				"score log line %d: bad line number %q", lineNo, m[1]))
			continue
		}
		s, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			warnings = append(warnings, diag.Warnf(diag.MalformedData,
				"score log line %d: bad score %q", lineNo, m[2]))
			continue
		}
		scores[n] = s
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("reading score log: %w", err)
	}
	return scores, warnings, nil
}

// LoadScoreLog reads the score log at path.
func LoadScoreLog(path string) (map[int]float64, []diag.Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ParseScoreLog(f)
}
