package asm

import (
	"fmt"
	"strings"

	"github.com/beevik/go6502/cpu"
)

// cond is the comparison a branch (or a fused pair of branches) decides.
type cond int

const (
	condEQ cond = iota
	condNE
	condLT
	condGE
	condLE
	condGT
	condVS
	condVC
)

var negated = map[cond]cond{
	condEQ: condNE,
	condNE: condEQ,
	condLT: condGE,
	condGE: condLT,
	condLE: condGT,
	condGT: condLE,
	condVS: condVC,
	condVC: condVS,
}

// decodeBranch maps a single branch mnemonic to its condition. Signed
// conditions use the sign flag, unsigned ones the carry.
func decodeBranch(m Mnemonic) (c cond, signed bool) {
	switch m {
	case BEQ:
		return condEQ, false
	case BNE:
		return condNE, false
	case BCC:
		return condLT, false
	case BCS:
		return condGE, false
	case BMI:
		return condLT, true
	case BPL:
		return condGE, true
	case BVS:
		return condVS, false
	case BVC:
		return condVC, false
	}
	panic(fmt.Sprintf("asm: %s is not a conditional branch", m))
}

// branchFor returns the single branch that tests c. LE and GT have none.
func branchFor(c cond, signed bool) Mnemonic {
	switch c {
	case condEQ:
		return BEQ
	case condNE:
		return BNE
	case condLT:
		if signed {
			return BMI
		}
		return BCC
	case condGE:
		if signed {
			return BPL
		}
		return BCS
	case condVS:
		return BVS
	case condVC:
		return BVC
	}
	panic(fmt.Sprintf("asm: condition %d needs two branches", c))
}

// lineSize returns the number of bytes a line occupies in the ROM. Inline
// text cannot be measured, so every non-empty line of it counts as the
// longest 6502 instruction.
func lineSize(l Line) int {
	switch l.Kind {
	case LineInstruction:
		return l.Inst.Size
	case LineInline:
		n := 0
		for _, t := range strings.Split(l.Text, "\n") {
			t = strings.TrimSpace(t)
			if t != "" && !strings.HasPrefix(t, ";") {
				n += 3
			}
		}
		return n
	}
	return 0
}

func (s *Stream) isLabel(j int, name string) bool {
	return s.lines[j].Kind == LineLabel && s.lines[j].Text == name
}

// distance returns the displacement a branch at index i has to encode,
// relative to the instruction that follows it. Both directions are walked
// in lockstep until the label shows up.
func (s *Stream) distance(i int) int {
	label := s.lines[i].Inst.Operand
	down, up := 0, s.lines[i].Inst.Size
	for k := 1; i+k < len(s.lines) || i-k >= 0; k++ {
		if j := i + k; j < len(s.lines) {
			if s.isLabel(j, label) {
				return down
			}
			down += lineSize(s.lines[j])
		}
		if j := i - k; j >= 0 {
			if s.isLabel(j, label) {
				return -up
			}
			up += lineSize(s.lines[j])
		}
	}
	panic(fmt.Sprintf("asm: %s: branch %q has no target label", s.Name, s.lines[i].Inst))
}

// InRange reports whether a relative branch can encode displacement d.
func InRange(d int) bool {
	return d >= -128 && d <= 127
}

// Distance exposes the displacement of the branch at index i.
func (s *Stream) Distance(i int) int {
	return s.distance(i)
}

func (s *Stream) firstOutOfRange() int {
	for i, l := range s.lines {
		if l.Kind == LineInstruction && l.Inst.Mnemonic.IsBranch() && !InRange(s.distance(i)) {
			return i
		}
	}
	return -1
}

// prevInstruction is the counterpart of nextInstruction.
func (s *Stream) prevInstruction(i int) (int, bool) {
	for j := i - 1; j >= 0; j-- {
		switch s.lines[j].Kind {
		case LineComment, LineDummy:
			continue
		case LineInstruction:
			return j, true
		}
		return j, false
	}
	return -1, false
}

// FixBranches rewrites every conditional branch whose target is out of
// reach into an inverted short branch over an absolute JMP. The scan starts
// over after each rewrite because inserted bytes can push other branches
// out of range. It returns the number of rewrites.
func FixBranches(s *Stream) int {
	before := s.fixes
	for {
		i := s.firstOutOfRange()
		if i < 0 {
			return s.fixes - before
		}
		s.repair(i)
	}
}

// repair rewrites the branch at index i, together with the branch it is
// fused with when the pair encodes a single comparison.
func (s *Stream) repair(i int) {
	in := s.lines[i].Inst
	target := in.Operand
	c, signed := decodeBranch(in.Mnemonic)
	start, end := i, i+1

	switch in.Mnemonic {
	case BMI, BCC:
		// x <= y lowers to "BMI L; BEQ L" (signed) or "BCC L; BEQ L".
		if n, ok := s.nextInstruction(i); ok && s.lines[n].Inst.Mnemonic == BEQ && s.lines[n].Inst.Operand == target {
			c, end = condLE, n+1
		}
	case BEQ:
		if p, ok := s.prevInstruction(i); ok {
			prev := s.lines[p].Inst
			if (prev.Mnemonic == BMI || prev.Mnemonic == BCC) && prev.Operand == target {
				c, signed, start = condLE, prev.Mnemonic == BMI, p
			}
		}
	case BPL, BCS:
		// x > y lowers to "BEQ h; BPL L; h:".
		p, ok := s.prevInstruction(i)
		if n, _ := s.nextInstruction(i); ok && n >= 0 && s.lines[n].Kind == LineLabel &&
			s.lines[p].Inst.Mnemonic == BEQ && s.lines[p].Inst.Operand == s.lines[n].Text {
			c, start = condGT, p
		}
	}

	s.fixes++
	fix := fmt.Sprintf(".fix%d", s.fixes)
	jump := Line{Kind: LineInstruction, Inst: MustInstruction(JMP, cpu.ABS, target)}
	label := func(name string) Line { return Line{Kind: LineLabel, Text: name} }
	branch := func(m Mnemonic, to string) Line {
		b := Branch(m, to)
		b.Protected = true
		return Line{Kind: LineInstruction, Inst: b}
	}

	var repl []Line
	switch neg := negated[c]; neg {
	case condGT:
		// Skip the jump when strictly greater: equal must still reach it.
		fixup := fmt.Sprintf(".fixup%d", s.fixes)
		repl = []Line{
			branch(BEQ, fixup),
			branch(branchFor(condGE, signed), fix),
			label(fixup),
			jump,
			label(fix),
		}
	case condLE:
		repl = []Line{
			branch(branchFor(condLT, signed), fix),
			branch(BEQ, fix),
			jump,
			label(fix),
		}
	default:
		repl = []Line{
			branch(branchFor(neg, signed), fix),
			jump,
			label(fix),
		}
	}
	s.Replace(start, end, repl...)
}
