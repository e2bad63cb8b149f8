package asm

import "github.com/beevik/go6502/cpu"

// reg is the optimizer's knowledge of one register.
type reg struct {
	known bool
	v     int
}

func (r reg) add(d int) reg {
	if !r.known {
		return r
	}
	return reg{known: true, v: (r.v + d) & 0xff}
}

// machine tracks the registers whose content is statically known. Only
// immediate loads and transfers make a value known; anything else that
// writes a register forgets it.
type machine struct {
	a, x, y reg
}

func (m *machine) reset() {
	*m = machine{}
}

// subject returns the register read by a compare or written by a load.
func (m *machine) subject(op Mnemonic) *reg {
	switch op {
	case LDA, CMP:
		return &m.a
	case LDX, CPX:
		return &m.x
	case LDY, CPY:
		return &m.y
	}
	return nil
}

func (m *machine) step(in Instruction) {
	switch in.Mnemonic {
	case LDA, LDX, LDY:
		v, ok := in.Immediate()
		*m.subject(in.Mnemonic) = reg{known: ok, v: v}
	case TAX:
		m.x = m.a
	case TAY:
		m.y = m.a
	case TXA:
		m.a = m.x
	case TYA:
		m.a = m.y
	case INX:
		m.x = m.x.add(1)
	case DEX:
		m.x = m.x.add(-1)
	case INY:
		m.y = m.y.add(1)
	case DEY:
		m.y = m.y.add(-1)
	case ADC, SBC, AND, ORA, EOR, PLA:
		m.a = reg{}
	case ASL, LSR, ROL, ROR:
		if in.Mode == cpu.ACC {
			m.a = reg{}
		}
	case TSX:
		m.x = reg{}
	case STA, STX, STY, CMP, CPX, CPY, BIT, INC, DEC, PHA, PHP, PLP, CLC, SEC, NOP, TXS,
		BCC, BCS, BEQ, BMI, BNE, BPL, BVC, BVS:
	default:
		// JSR, JMP, RTS, RTI and anything unclassified.
		m.reset()
	}
}

// readsNZ reports whether in consumes the N or Z flag.
func readsNZ(in Instruction) bool {
	switch in.Mnemonic {
	case BEQ, BNE, BMI, BPL, PHP:
		return true
	}
	return false
}

// setsNZ reports whether m overwrites both N and Z.
func setsNZ(m Mnemonic) bool {
	switch m {
	case LDA, LDX, LDY, TAX, TAY, TXA, TYA, TSX, INX, INY, DEX, DEY, INC, DEC,
		ADC, SBC, AND, ORA, EOR, ASL, LSR, ROL, ROR, CMP, CPX, CPY, BIT, PLA, PLP:
		return true
	}
	return false
}

// flagsLive reports whether N or Z as left by line i can still be read.
// The scan walks over instructions that keep the flags and stops at the
// first reader or writer. Labels, inline text and jumps end it as live;
// calls and returns as dead, since generated code assumes nothing about
// the flags after either.
func (s *Stream) flagsLive(i int) bool {
	for j := i + 1; j < len(s.lines); j++ {
		switch s.lines[j].Kind {
		case LineComment, LineDummy:
			continue
		case LineLabel, LineInline:
			return true
		}
		in := s.lines[j].Inst
		switch {
		case readsNZ(in), in.Mnemonic.IsBranch(), in.Mnemonic == JMP:
			return true
		case setsNZ(in.Mnemonic), in.Mnemonic == JSR, in.Mnemonic == RTS, in.Mnemonic == RTI:
			return false
		}
		switch in.Mnemonic {
		case STA, STX, STY, PHA, CLC, SEC, NOP, TXS:
			continue
		}
		return true
	}
	return false
}

// readsFlags reports whether in consumes any flag a compare sets.
func readsFlags(in Instruction) bool {
	switch in.Mnemonic {
	case ADC, SBC, ROL, ROR, PHP:
		return true
	}
	return in.Mnemonic.IsBranch()
}

// Optimize removes redundant instructions from s and returns how many were
// deleted. The pairwise scan is repeated until nothing changes, so a second
// call on the same stream returns 0.
func Optimize(s *Stream) int {
	before := s.removed
	for s.peephole() {
	}
	return s.removed - before
}

// nextInstruction returns the index of the line that follows i, skipping
// comments and tombstones, and whether that line is an instruction.
func (s *Stream) nextInstruction(i int) (int, bool) {
	for j := i + 1; j < len(s.lines); j++ {
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

// peephole runs one scan and reports whether it rewrote something. The scan
// stops at the first rewrite; the caller restarts it from the top.
func (s *Stream) peephole() bool {
	var m machine
	prev := -1
	for i := range s.lines {
		switch s.lines[i].Kind {
		case LineLabel, LineInline:
			// Join point or unknown code: forget everything.
			m.reset()
			prev = -1
			continue
		case LineComment, LineDummy:
			continue
		}
		in := s.lines[i].Inst
		if prev >= 0 && s.rewritePair(prev, i, &m) {
			return true
		}
		if s.redundantLoad(i, &m) {
			s.Kill(i)
			return true
		}
		m.step(in)
		prev = i
	}
	return false
}

// rewritePair applies the two-instruction rules to lines p and i.
func (s *Stream) rewritePair(p, i int, m *machine) bool {
	first, second := s.lines[p].Inst, s.lines[i].Inst

	switch {
	case first.Mnemonic == PLA && second.Mnemonic == PHA:
		if first.Protected || second.Protected || s.flagsLive(i) {
			return false
		}
		s.Kill(p)
		s.Kill(i)
		return true

	case first.Mnemonic == STA && second.Mnemonic == LDA:
		if second.Protected || first.Mode != second.Mode || first.Operand != second.Operand {
			return false
		}
		// STA leaves the flags alone; the reload may be what sets them.
		if s.flagsLive(i) {
			return false
		}
		s.Kill(i)
		return true

	case (first.Mnemonic == CMP || first.Mnemonic == CPX || first.Mnemonic == CPY) &&
		(second.Mnemonic == BEQ || second.Mnemonic == BNE):
		if first.Protected || second.Protected {
			return false
		}
		imm, ok := first.Immediate()
		r := m.subject(first.Mnemonic)
		if !ok || !r.known {
			return false
		}
		if n, isInst := s.nextInstruction(i); n >= 0 && isInst && readsFlags(s.lines[n].Inst) {
			return false
		}
		equal := r.v == imm
		taken := (second.Mnemonic == BEQ) == equal
		s.Kill(p)
		if taken {
			s.lines[i] = Line{Kind: LineInstruction, Inst: MustInstruction(JMP, cpu.ABS, second.Operand)}
		} else {
			s.Kill(i)
		}
		return true
	}
	return false
}

// redundantLoad reports whether line i loads a register with the value it
// is already known to hold.
func (s *Stream) redundantLoad(i int, m *machine) bool {
	in := s.lines[i].Inst
	if in.Protected {
		return false
	}
	r := m.subject(in.Mnemonic)
	if r == nil || in.Mnemonic == CMP || in.Mnemonic == CPX || in.Mnemonic == CPY {
		return false
	}
	v, ok := in.Immediate()
	if !ok || !r.known || r.v != v {
		return false
	}
	// The load also sets N and Z.
	return !s.flagsLive(i)
}
