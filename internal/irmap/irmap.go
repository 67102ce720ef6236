// Package irmap resolves LLVM IR instructions to the source lines they
// were compiled from, using the !dbg attachments and DILocation
// metadata of a textual IR dump.
//
// Resolution is two-pass: the metadata definitions are scanned once
// into a Table, then each instruction carrying a !dbg reference is
// normalized and mapped through the table.
package irmap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/unbound-force/faultloc/internal/diag"
	"github.com/unbound-force/faultloc/internal/pdg"
)

const dbgMarker = ", !dbg"

var (
	ptrRe      = regexp.MustCompile(`\bptr\b`)
	locationRe = regexp.MustCompile(`^\s*!(\d+)\s*=\s*(?:distinct\s+)?!DILocation\(.*?\bline:\s*(\d+)`)
	dbgRefRe   = regexp.MustCompile(`!dbg\s+!(\d+)`)
)

// Normalize canonicalizes instruction text so a dump line and a listing
// string for the same instruction compare equal. The result is a fixed
// point: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	for {
		next := normalizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func normalizeOnce(s string) string {
	if i := strings.Index(s, dbgMarker); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "noundef ", "")
	s = strings.ReplaceAll(s, "align ", "")
	s = ptrRe.ReplaceAllString(s, "i32*")
	return strings.Join(strings.Fields(s), " ")
}

// Table maps debug metadata ids to source lines.
type Table map[int]int

// ParseLocations scans DILocation definitions. When an id is defined
// more than once the first definition is kept.
func ParseLocations(lines []string) Table {
	t := make(Table)
	for _, line := range lines {
		m := locationRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id, err1 := strconv.Atoi(m[1])
		n, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		if _, ok := t[id]; !ok {
			t[id] = n
		}
	}
	return t
}

// Mapping maps normalized instruction text to its source line.
type Mapping map[string]int

// BuildMapping resolves every instruction line of the dump that carries
// a !dbg reference. The first instruction to claim a normalized text
// wins. References to unknown ids and line 0 (compiler-generated code)
// are ignored.
func BuildMapping(lines []string) Mapping {
	table := ParseLocations(lines)
	m := make(Mapping)
	for _, line := range lines {
		if !strings.Contains(line, dbgMarker) {
			continue
		}
		ref := dbgRefRe.FindStringSubmatch(line)
		if ref == nil {
			continue
		}
		id, err := strconv.Atoi(ref[1])
		if err != nil {
			continue
		}
		n, ok := table[id]
		if !ok || n == 0 {
			continue
		}
		key := Normalize(line)
		if key == "" {
			continue
		}
		if _, taken := m[key]; !taken {
			m[key] = n
		}
	}
	return m
}

// Annotate rewrites every detail string of the listing that resolves
// through m as "<normalized> (Line <n>)". Details that do not resolve
// are left unchanged and reported as warnings. Annotations from an
// earlier run are replaced, so annotating twice gives the same result.
func Annotate(doc *pdg.Document, m Mapping) []diag.Warning {
	var warnings []diag.Warning
	for i := range doc.Entries {
		e := &doc.Entries[i]
		if !e.Valid() {
			continue
		}
		for j, detail := range e.Details {
			key := Normalize(pdg.StripAnnotation(detail))
			n, ok := m[key]
			if !ok {
				warnings = append(warnings, diag.Warnf(diag.Unresolved,
					"instruction %q not found in debug mappings", key))
				continue
			}
			e.Details[j] = pdg.Annotate(key, n)
		}
	}
	return warnings
}

// ReadLines reads r into lines.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// LoadMapping builds the mapping from the IR dump at path.
func LoadMapping(path string) (Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lines, err := ReadLines(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return BuildMapping(lines), nil
}

// ResolveFile builds the mapping from the IR dump at irPath and
// annotates doc with it.
func ResolveFile(irPath string, doc *pdg.Document) ([]diag.Warning, error) {
	m, err := LoadMapping(irPath)
	if err != nil {
		return nil, err
	}
	return Annotate(doc, m), nil
}
