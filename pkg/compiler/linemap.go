package compiler

import (
	"fmt"
	"sort"
)

// LineEntry says that the preprocessed source from Offset on comes from
// File, starting at Line.
type LineEntry struct {
	Offset int    `json:"offset"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}

// LineMap resolves byte offsets of the preprocessed source to the file and
// line they came from. Offsets between two entries are attributed to the
// earlier one; the front end emits an entry for every source line.
type LineMap struct {
	entries []LineEntry
}

func NewLineMap(entries []LineEntry) *LineMap {
	sorted := append([]LineEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	return &LineMap{entries: sorted}
}

// Resolve returns the file and line of offset.
func (m *LineMap) Resolve(offset int) (string, int, bool) {
	if m == nil || len(m.entries) == 0 {
		return "", 0, false
	}
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Offset > offset })
	if i == 0 {
		return "", 0, false
	}
	e := m.entries[i-1]
	return e.File, e.Line, true
}

// Format prefixes a compile error with its source position when known.
func (m *LineMap) Format(err *Error) string {
	if file, line, ok := m.Resolve(err.Pos); ok {
		return fmt.Sprintf("%s:%d: %s: %s", file, line, err.Kind, err.Msg)
	}
	return err.Error()
}
