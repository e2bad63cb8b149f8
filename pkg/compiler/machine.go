package compiler

import (
	"fmt"

	"cc78/pkg/asm"

	"github.com/beevik/go6502/cpu"
)

// Memory map used to run a program without the cartridge layout step.
const (
	RunOrigin = 0x1000 // harness, then every function in declaration order
	tmpAddr   = 0x80
	zpBase    = 0x81
	ramBase   = 0x0200
)

// Layout assigns an address to every non-constant variable. Zero page
// cells follow the scratch cell; RAM and ROM data start at $0200.
// Variables with a fixed address keep it.
func Layout(syms *SymbolTable) (map[string]uint16, error) {
	addrs := map[string]uint16{tmpCell: tmpAddr}
	zp, ram := zpBase, ramBase
	for _, v := range syms.Variables() {
		if v.Const {
			continue
		}
		if v.Address != 0 {
			addrs[v.Name] = uint16(v.Address)
			continue
		}
		n := v.Size
		if v.Length > 0 {
			n *= v.Length
		}
		if v.Class == ZeroPage {
			if zp+n > 0x100 {
				return nil, fmt.Errorf("layout: zero page full at %s", v.Name)
			}
			addrs[v.Name] = uint16(zp)
			zp += n
			continue
		}
		if ram+n > RunOrigin {
			return nil, fmt.Errorf("layout: RAM full at %s", v.Name)
		}
		addrs[v.Name] = uint16(ram)
		ram += n
	}
	return addrs, nil
}

// Machine is a compiled program loaded into the NMOS emulator. A harness
// at RunOrigin calls main and spins once it returns.
type Machine struct {
	Addrs map[string]uint16
	Mem   *cpu.FlatMemory
	CPU   *cpu.CPU
	Steps int
	halt  uint16
}

// NewMachine assembles res and loads it. Programs with inline assembler
// text cannot be loaded.
func NewMachine(res *Result, syms *SymbolTable) (*Machine, error) {
	if res.Stream("main") == nil {
		return nil, fmt.Errorf("run: program has no main")
	}
	addrs, err := Layout(syms)
	if err != nil {
		return nil, err
	}

	harness := asm.NewStream("harness")
	harness.Add(asm.MustInstruction(asm.JSR, cpu.ABS, "main"))
	harness.Label(".halt")
	harness.Add(asm.MustInstruction(asm.JMP, cpu.ABS, ".halt"))
	streams := []*asm.Stream{harness}
	for _, name := range res.Order {
		streams = append(streams, res.Stream(name))
	}

	a := asm.NewAssembler(addrs)
	code, err := a.Assemble(RunOrigin, streams...)
	if err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	halt, _ := a.Address("harness.halt")

	mem := cpu.NewFlatMemory()
	mem.StoreBytes(RunOrigin, code)
	return &Machine{Addrs: addrs, Mem: mem, CPU: cpu.NewCPU(cpu.NMOS, mem), halt: halt}, nil
}

// Run executes main from the start. It fails when main has not returned
// after limit instructions.
func (m *Machine) Run(limit int) error {
	m.CPU.SetPC(RunOrigin)
	for m.Steps = 0; m.CPU.Reg.PC != m.halt; m.Steps++ {
		if m.Steps >= limit {
			return fmt.Errorf("run: main did not return after %d instructions (PC=$%04X)", limit, m.CPU.Reg.PC)
		}
		m.CPU.Step()
	}
	return nil
}

// Peek reads byte offset of the named variable.
func (m *Machine) Peek(name string, offset int) byte {
	return m.Mem.LoadByte(m.Addrs[name] + uint16(offset))
}

// Poke writes byte offset of the named variable.
func (m *Machine) Poke(name string, offset int, b byte) {
	m.Mem.StoreByte(m.Addrs[name]+uint16(offset), b)
}
