// Package addrmap reads the DWARF line table of an ELF binary into an
// address to source line map. The map is informational: scoring works
// on traced source lines and never consults it.
package addrmap

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Map maps instruction addresses to source lines.
type Map map[uint64]int

// Resolve opens the ELF binary at path and reads its line table.
func Resolve(path string) (Map, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return FromELF(f)
}

// FromELF reads the line table of every compile unit in f. Rows that
// mark the end of a sequence are skipped; when several rows share an
// address the last one wins.
func FromELF(f *elf.File) (Map, error) {
	d, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("reading DWARF: %w", err)
	}
	m := make(Map)
	r := d.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("reading compile units: %w", err)
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		lr, err := d.LineReader(cu)
		if err != nil {
			return nil, fmt.Errorf("reading line table: %w", err)
		}
		if lr != nil {
			if err := readLines(lr, m); err != nil {
				return nil, err
			}
		}
		r.SkipChildren()
	}
	return m, nil
}

func readLines(lr *dwarf.LineReader, m Map) error {
	var e dwarf.LineEntry
	for {
		if err := lr.Next(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading line entry: %w", err)
		}
		if e.EndSequence || e.Line == 0 {
			continue
		}
		m[e.Address] = e.Line
	}
}

// Entry is one address and its line.
type Entry struct {
	Address uint64
	Line    int
}

// Sorted returns the entries in ascending address order.
func (m Map) Sorted() []Entry {
	out := make([]Entry, 0, len(m))
	for a, l := range m {
		out = append(out, Entry{Address: a, Line: l})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Write prints one "0x<address> line <n>" row per entry.
func (m Map) Write(w io.Writer) error {
	for _, e := range m.Sorted() {
		if _, err := fmt.Fprintf(w, "0x%x line %d\n", e.Address, e.Line); err != nil {
			return err
		}
	}
	return nil
}
