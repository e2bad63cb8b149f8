package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/go6502/cpu"
)

// Mnemonic is an upper-case 6502 instruction name as understood by the
// target assembler.
type Mnemonic string

const (
	ADC Mnemonic = "ADC"
	AND Mnemonic = "AND"
	ASL Mnemonic = "ASL"
	BCC Mnemonic = "BCC"
	BCS Mnemonic = "BCS"
	BEQ Mnemonic = "BEQ"
	BIT Mnemonic = "BIT"
	BMI Mnemonic = "BMI"
	BNE Mnemonic = "BNE"
	BPL Mnemonic = "BPL"
	BVC Mnemonic = "BVC"
	BVS Mnemonic = "BVS"
	CLC Mnemonic = "CLC"
	CMP Mnemonic = "CMP"
	CPX Mnemonic = "CPX"
	CPY Mnemonic = "CPY"
	DEC Mnemonic = "DEC"
	DEX Mnemonic = "DEX"
	DEY Mnemonic = "DEY"
	EOR Mnemonic = "EOR"
	INC Mnemonic = "INC"
	INX Mnemonic = "INX"
	INY Mnemonic = "INY"
	JMP Mnemonic = "JMP"
	JSR Mnemonic = "JSR"
	LDA Mnemonic = "LDA"
	LDX Mnemonic = "LDX"
	LDY Mnemonic = "LDY"
	LSR Mnemonic = "LSR"
	NOP Mnemonic = "NOP"
	ORA Mnemonic = "ORA"
	PHA Mnemonic = "PHA"
	PHP Mnemonic = "PHP"
	PLA Mnemonic = "PLA"
	PLP Mnemonic = "PLP"
	ROL Mnemonic = "ROL"
	ROR Mnemonic = "ROR"
	RTI Mnemonic = "RTI"
	RTS Mnemonic = "RTS"
	SBC Mnemonic = "SBC"
	SEC Mnemonic = "SEC"
	STA Mnemonic = "STA"
	STX Mnemonic = "STX"
	STY Mnemonic = "STY"
	TAX Mnemonic = "TAX"
	TAY Mnemonic = "TAY"
	TSX Mnemonic = "TSX"
	TXA Mnemonic = "TXA"
	TXS Mnemonic = "TXS"
	TYA Mnemonic = "TYA"
)

// IsBranch reports whether m is a conditional relative branch.
func (m Mnemonic) IsBranch() bool {
	switch m {
	case BCC, BCS, BEQ, BMI, BNE, BPL, BVC, BVS:
		return true
	}
	return false
}

// instructionSet is the NMOS 6502 table every instruction is validated
// against. It provides opcode, encoded length and cycle costs.
var instructionSet = cpu.GetInstructionSet(cpu.NMOS)

// Instruction is a single machine instruction in a stream.
type Instruction struct {
	Mnemonic  Mnemonic
	Mode      cpu.Mode
	Operand   string // operand text exactly as the assembler expects it
	Cycles    int
	CyclesAlt int // cycles when a branch is taken or a page is crossed; 0 if fixed
	Size      int // encoded size in bytes
	Protected bool
}

// zero page modes fall back to their absolute counterparts when the
// instruction has no zero page form (e.g. LDA zp,Y).
var modeFallback = map[cpu.Mode]cpu.Mode{
	cpu.ZPG: cpu.ABS,
	cpu.ZPX: cpu.ABX,
	cpu.ZPY: cpu.ABY,
}

// lookup finds the opcode table entry for m in the given mode.
func lookup(m Mnemonic, mode cpu.Mode) *cpu.Instruction {
	for {
		for _, inst := range instructionSet.GetInstructions(string(m)) {
			if inst.Mode == mode {
				return inst
			}
		}
		next, ok := modeFallback[mode]
		if !ok {
			return nil
		}
		mode = next
	}
}

// NewInstruction builds an instruction, taking size and cycle costs from the
// 6502 instruction table. It fails when the processor has no encoding for
// the mnemonic in that addressing mode.
func NewInstruction(m Mnemonic, mode cpu.Mode, operand string) (Instruction, error) {
	inst := lookup(m, mode)
	if inst == nil {
		return Instruction{}, fmt.Errorf("%s does not support %s addressing", m, ModeName(mode))
	}
	in := Instruction{
		Mnemonic: m,
		Mode:     inst.Mode,
		Operand:  operand,
		Cycles:   int(inst.Cycles),
		Size:     int(inst.Length),
	}
	switch {
	case inst.Mode == cpu.REL:
		in.CyclesAlt = in.Cycles + 1
	case inst.BPCycles > 0:
		in.CyclesAlt = in.Cycles + int(inst.BPCycles)
	}
	return in, nil
}

// MustInstruction is like NewInstruction but panics on an invalid mode. It
// is meant for fixed sequences whose encoding is known to exist.
func MustInstruction(m Mnemonic, mode cpu.Mode, operand string) Instruction {
	in, err := NewInstruction(m, mode, operand)
	if err != nil {
		panic(err)
	}
	return in
}

// Branch returns a relative branch to label.
func Branch(m Mnemonic, label string) Instruction {
	return MustInstruction(m, cpu.REL, label)
}

// Immediate returns the value of an immediate operand ("#12", "#$0C").
func (in Instruction) Immediate() (int, bool) {
	if in.Mode != cpu.IMM || !strings.HasPrefix(in.Operand, "#") {
		return 0, false
	}
	s := in.Operand[1:]
	base := 10
	if strings.HasPrefix(s, "$") {
		s, base = s[1:], 16
	}
	v, err := strconv.ParseInt(s, base, 32)
	if err != nil {
		return 0, false
	}
	return int(v) & 0xff, true
}

// String formats the instruction as assembler source.
func (in Instruction) String() string {
	if in.Operand == "" {
		return string(in.Mnemonic)
	}
	return string(in.Mnemonic) + " " + in.Operand
}

// CycleString formats the cycle cost as "2" or "2/3".
func (in Instruction) CycleString() string {
	if in.CyclesAlt != 0 {
		return fmt.Sprintf("%d/%d", in.Cycles, in.CyclesAlt)
	}
	return strconv.Itoa(in.Cycles)
}

var modeNames = map[cpu.Mode]string{
	cpu.IMM: "immediate",
	cpu.IMP: "implied",
	cpu.REL: "relative",
	cpu.ZPG: "zero page",
	cpu.ZPX: "zero page,X",
	cpu.ZPY: "zero page,Y",
	cpu.ABS: "absolute",
	cpu.ABX: "absolute,X",
	cpu.ABY: "absolute,Y",
	cpu.IND: "indirect",
	cpu.IDX: "(indirect,X)",
	cpu.IDY: "(indirect),Y",
	cpu.ACC: "accumulator",
}

// ModeName returns a human readable addressing mode name.
func ModeName(mode cpu.Mode) string {
	if s, ok := modeNames[mode]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", mode)
}
