// Package pdg reads and writes the structured instruction-graph
// artifact, projects suspiciousness scores onto its nodes, and renders
// the result as a DOT graph.
//
// The artifact is a JSON array whose first element holds the
// instruction listing and whose second holds the control-dependence
// edges:
//
//	[
//	  {"instruction": [[0, ["%1 = alloca i32, align 4"]], ...]},
//	  {"instruction_control_instruction": [[0, 1], ...]}
//	]
//
// Nodes are identified by an entry's position in the listing.
package pdg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/unbound-force/faultloc/internal/diag"
)

const (
	listingKey = "instruction"
	edgesKey   = "instruction_control_instruction"
)

// Entry is one listing entry: an id followed by instruction detail
// strings.
type Entry struct {
	// ID is the entry's own identifier, kept verbatim.
	ID json.RawMessage

	// Details are the instruction strings, possibly annotated with a
	// resolved source line.
	Details []string

	// raw holds a malformed entry so it can be written back unchanged.
	raw json.RawMessage
}

// Valid reports whether the entry parsed as [id, [strings...]].
func (e Entry) Valid() bool { return e.raw == nil }

// Line returns the source line annotated on the entry's first detail
// string.
func (e Entry) Line() (int, bool) {
	if !e.Valid() || len(e.Details) == 0 {
		return 0, false
	}
	return AnnotatedLine(e.Details[0])
}

// MarshalJSON encodes the entry as [id, [details...]].
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	details := e.Details
	if details == nil {
		details = []string{}
	}
	return json.Marshal([]any{e.ID, details})
}

// Edge is a control dependence between two listing positions.
type Edge struct {
	From int
	To   int
}

// Document is a parsed graph artifact. Keys other than the listing,
// and any elements after the edge list, are preserved across Parse and
// Marshal.
type Document struct {
	Entries []Entry
	Edges   []Edge

	elems []map[string]json.RawMessage
	tail  []json.RawMessage
}

// Parse decodes a graph artifact. The document must match GraphSchema;
// individual malformed entries and edges are skipped with a warning.
func Parse(data []byte) (*Document, []diag.Warning, error) {
	if err := Validate(data); err != nil {
		return nil, nil, err
	}

	var top []json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, fmt.Errorf("decoding graph document: %w", err)
	}
	elems := make([]map[string]json.RawMessage, 2)
	for i := range elems {
		if err := json.Unmarshal(top[i], &elems[i]); err != nil {
			return nil, nil, fmt.Errorf("decoding graph document element %d: %w", i, err)
		}
	}

	doc := &Document{elems: elems, tail: top[2:]}
	var warnings []diag.Warning
	for i, r := range doc.tail {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(r, &obj); err != nil || obj == nil {
			warnings = append(warnings, diag.Warnf(diag.MalformedData,
				"document element %d: expected an object, got %s", i+2, r))
		}
	}

	var rawEntries []json.RawMessage
	if err := json.Unmarshal(elems[0][listingKey], &rawEntries); err != nil {
		return nil, nil, fmt.Errorf("decoding %q: %w", listingKey, err)
	}
	for i, r := range rawEntries {
		e, err := parseEntry(r)
		if err != nil {
			warnings = append(warnings, diag.Warnf(diag.MalformedData,
				"instruction entry %d: %v", i, err))
			e = Entry{raw: r}
		}
		doc.Entries = append(doc.Entries, e)
	}

	var rawEdges []json.RawMessage
	if err := json.Unmarshal(elems[1][edgesKey], &rawEdges); err != nil {
		return nil, nil, fmt.Errorf("decoding %q: %w", edgesKey, err)
	}
	for i, r := range rawEdges {
		var pair []int
		if err := json.Unmarshal(r, &pair); err != nil || len(pair) != 2 {
			warnings = append(warnings, diag.Warnf(diag.MalformedData,
				"edge %d: expected [from, to], got %s", i, r))
			continue
		}
		doc.Edges = append(doc.Edges, Edge{From: pair[0], To: pair[1]})
	}

	return doc, warnings, nil
}

func parseEntry(r json.RawMessage) (Entry, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(r, &parts); err != nil {
		return Entry{}, fmt.Errorf("not an array")
	}
	if len(parts) < 2 {
		return Entry{}, fmt.Errorf("expected [id, [details...]], got %d element(s)", len(parts))
	}
	var details []string
	if err := json.Unmarshal(parts[1], &details); err != nil {
		return Entry{}, fmt.Errorf("details are not a list of strings")
	}
	return Entry{ID: parts[0], Details: details}, nil
}

// Load reads and parses the graph artifact at path.
func Load(path string) (*Document, []diag.Warning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	doc, warnings, err := Parse(data)
	if err != nil {
		return nil, warnings, fmt.Errorf("%s: %w", path, err)
	}
	return doc, warnings, nil
}

// Marshal encodes the document with the current listing, indented by
// four spaces.
func (d *Document) Marshal() ([]byte, error) {
	listing, err := json.Marshal(d.Entries)
	if err != nil {
		return nil, err
	}
	if d.Entries == nil {
		listing = []byte("[]")
	}

	elems := d.elems
	if elems == nil {
		edges := make([][2]int, 0, len(d.Edges))
		for _, e := range d.Edges {
			edges = append(edges, [2]int{e.From, e.To})
		}
		rawEdges, err := json.Marshal(edges)
		if err != nil {
			return nil, err
		}
		elems = []map[string]json.RawMessage{{}, {edgesKey: rawEdges}}
	}
	elems[0][listingKey] = listing

	out := make([]any, 0, len(elems)+len(d.tail))
	for _, e := range elems {
		out = append(out, e)
	}
	for _, r := range d.tail {
		out = append(out, r)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the document to path.
func (d *Document) Save(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return fmt.Errorf("encoding graph document: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// annotationRe matches a trailing resolved-line annotation.
var annotationRe = regexp.MustCompile(`\s*\(Line\s+(\d+)\)$`)

// Annotate appends a resolved source line to instruction text.
func Annotate(text string, line int) string {
	return fmt.Sprintf("%s (Line %d)", text, line)
}

// AnnotatedLine extracts the resolved line from annotated text.
func AnnotatedLine(text string) (int, bool) {
	m := annotationRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// StripAnnotation removes a trailing resolved-line annotation.
func StripAnnotation(text string) string {
	return annotationRe.ReplaceAllString(text, "")
}
