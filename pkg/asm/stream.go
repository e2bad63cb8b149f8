// Package asm holds the per-function instruction stream produced by the code
// generator, together with the passes that rewrite it before it is handed
// to the cartridge layout step.
//
// Pipeline: Generate → Optimize (optional) → FixBranches → Write
package asm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// LineKind tells what a stream line holds.
type LineKind int

const (
	LineLabel LineKind = iota
	LineInstruction
	LineInline // verbatim text from an asm statement
	LineComment
	LineDummy // tombstone left by the optimizer
)

// Line is one entry of an instruction stream.
type Line struct {
	Kind LineKind
	Text string // label name, inline text or comment
	Inst Instruction
}

// Stream is the ordered list of lines emitted for one function.
type Stream struct {
	Name    string
	lines   []Line
	removed int
	fixes   int
}

func NewStream(name string) *Stream {
	return &Stream{Name: name}
}

// Label appends a label definition.
func (s *Stream) Label(name string) {
	s.lines = append(s.lines, Line{Kind: LineLabel, Text: name})
}

// Add appends an instruction.
func (s *Stream) Add(in Instruction) {
	s.lines = append(s.lines, Line{Kind: LineInstruction, Inst: in})
}

// Inline appends verbatim assembler text.
func (s *Stream) Inline(text string) {
	s.lines = append(s.lines, Line{Kind: LineInline, Text: text})
}

func (s *Stream) Comment(format string, args ...any) {
	s.lines = append(s.lines, Line{Kind: LineComment, Text: fmt.Sprintf(format, args...)})
}

// Lines exposes the stream content. Callers must not append to the slice.
func (s *Stream) Lines() []Line {
	return s.lines
}

func (s *Stream) Len() int {
	return len(s.lines)
}

// Insert places lines before index i.
func (s *Stream) Insert(i int, lines ...Line) {
	s.Replace(i, i, lines...)
}

// Replace substitutes lines[i:j] with the given lines.
func (s *Stream) Replace(i, j int, lines ...Line) {
	tail := append([]Line(nil), s.lines[j:]...)
	s.lines = append(append(s.lines[:i], lines...), tail...)
}

// Kill turns the instruction at i into a tombstone so that indices of the
// following lines stay valid during a scan.
func (s *Stream) Kill(i int) {
	s.lines[i] = Line{Kind: LineDummy}
	s.removed++
}

// Removed returns the number of instructions deleted by the optimizer.
func (s *Stream) Removed() int {
	return s.removed
}

// Fixes returns the number of out of range branches that were rewritten.
func (s *Stream) Fixes() int {
	return s.fixes
}

// Instructions returns the live instructions in order, skipping labels,
// comments, inline text and tombstones.
func (s *Stream) Instructions() []Instruction {
	var out []Instruction
	for _, l := range s.lines {
		if l.Kind == LineInstruction {
			out = append(out, l.Inst)
		}
	}
	return out
}

// Write serializes the stream as assembler text. When cycles is set, every
// instruction is annotated with its cycle cost.
func (s *Stream) Write(w io.Writer, cycles bool) error {
	bw := bufio.NewWriter(w)
	for _, l := range s.lines {
		switch l.Kind {
		case LineLabel:
			fmt.Fprintf(bw, "%s\n", l.Text)
		case LineInstruction:
			if cycles {
				fmt.Fprintf(bw, "\t%-16s; %s\n", l.Inst, l.Inst.CycleString())
			} else {
				fmt.Fprintf(bw, "\t%s\n", l.Inst)
			}
		case LineInline:
			fmt.Fprintf(bw, "%s\n", l.Text)
		case LineComment:
			fmt.Fprintf(bw, "\t; %s\n", l.Text)
		case LineDummy:
		}
	}
	return bw.Flush()
}

// String returns the serialized stream.
func (s *Stream) String(cycles bool) string {
	var sb strings.Builder
	_ = s.Write(&sb, cycles)
	return sb.String()
}
