package asm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/beevik/go6502/cpu"
)

// Assembler encodes instruction streams into 6502 machine code. It is used
// to check generated code by running it; the cartridge layout step has its
// own assembler.
type Assembler struct {
	labels  map[string]uint16
	symbols map[string]uint16
}

// NewAssembler returns an assembler that resolves variable and external
// names through symbols.
func NewAssembler(symbols map[string]uint16) *Assembler {
	a := &Assembler{
		labels:  make(map[string]uint16),
		symbols: make(map[string]uint16),
	}
	for k, v := range symbols {
		a.symbols[normalizeLabel(k)] = v
	}
	return a
}

// Assemble encodes streams back to back starting at origin.
func Assemble(origin uint16, symbols map[string]uint16, streams ...*Stream) ([]byte, error) {
	return NewAssembler(symbols).Assemble(origin, streams...)
}

func (a *Assembler) Assemble(origin uint16, streams ...*Stream) ([]byte, error) {
	if err := a.pass1(origin, streams); err != nil {
		return nil, err
	}
	return a.pass2(origin, streams)
}

// Address returns the address of a function label after Assemble.
func (a *Assembler) Address(name string) (uint16, bool) {
	addr, ok := a.labels[normalizeLabel(name)]
	return addr, ok
}

// labelKey scopes local labels (".name") to their stream.
func labelKey(s *Stream, label string) string {
	if strings.HasPrefix(label, ".") {
		return normalizeLabel(s.Name + label)
	}
	return normalizeLabel(label)
}

func (a *Assembler) pass1(origin uint16, streams []*Stream) error {
	address := uint32(origin)

	for _, s := range streams {
		for i, l := range s.lines {
			switch l.Kind {
			case LineLabel:
				if address > 0xFFFF {
					return fmt.Errorf("label '%s' in %s points past addressable memory", l.Text, s.Name)
				}
				key := labelKey(s, l.Text)
				if _, exists := a.labels[key]; exists {
					return fmt.Errorf("duplicate label '%s' in %s", l.Text, s.Name)
				}
				a.labels[key] = uint16(address)
			case LineInstruction:
				address += uint32(l.Inst.Size)
				if address > 0x10000 {
					return fmt.Errorf("program too large near %s line %d", s.Name, i)
				}
			case LineInline:
				return fmt.Errorf("inline assembler in %s cannot be encoded", s.Name)
			}
		}
	}

	return nil
}

func (a *Assembler) pass2(origin uint16, streams []*Stream) ([]byte, error) {
	program := make([]byte, 0)

	for _, s := range streams {
		for _, l := range s.lines {
			if l.Kind != LineInstruction {
				continue
			}
			in := l.Inst
			entry := lookup(in.Mnemonic, in.Mode)
			if entry == nil || entry.Mode != in.Mode {
				return nil, fmt.Errorf("%s: no encoding for %s", s.Name, in)
			}
			pc := int(origin) + len(program)
			program = append(program, entry.Opcode)

			switch in.Mode {
			case cpu.IMP, cpu.ACC:
				continue

			case cpu.IMM:
				v, err := a.parseValue(s, strings.TrimPrefix(in.Operand, "#"))
				if err != nil {
					return nil, err
				}
				program = append(program, byte(v))

			case cpu.REL:
				target, err := a.parseValue(s, in.Operand)
				if err != nil {
					return nil, err
				}
				offset := int(target) - (pc + 2)
				if !InRange(offset) {
					return nil, fmt.Errorf("%s: branch out of range (%d bytes) in '%s'", s.Name, offset, in)
				}
				program = append(program, byte(int8(offset)))

			default:
				v, err := a.parseValue(s, addressOf(in.Operand))
				if err != nil {
					return nil, err
				}
				switch in.Mode {
				case cpu.ZPG, cpu.ZPX, cpu.ZPY, cpu.IDX, cpu.IDY:
					if v > 0xFF {
						return nil, fmt.Errorf("%s: '%s' is not a zero page address", s.Name, in)
					}
					program = append(program, byte(v))
				default:
					program = append(program, byte(v&0xFF), byte(v>>8))
				}
			}
		}
	}

	return program, nil
}

// addressOf strips index and indirection decorations from an operand:
// "(p),Y", "(p,X)", "a,X" and "(v)" all yield the bare address expression.
func addressOf(operand string) string {
	op := strings.TrimSpace(operand)
	if i := strings.LastIndex(op, ","); i >= 0 && !strings.HasSuffix(op, ")") {
		op = op[:i]
	}
	op = strings.TrimPrefix(op, "(")
	op = strings.TrimSuffix(op, ")")
	if i := strings.Index(op, ","); i >= 0 {
		op = op[:i]
	}
	return strings.TrimSpace(op)
}

// parseValue evaluates "name", "name+n", "name-n", numbers in decimal,
// "$hex" or "%binary", and the "<" / ">" byte selectors.
func (a *Assembler) parseValue(s *Stream, token string) (uint16, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, fmt.Errorf("%s: missing operand", s.Name)
	}
	switch token[0] {
	case '<':
		v, err := a.parseValue(s, token[1:])
		return v & 0xFF, err
	case '>':
		v, err := a.parseValue(s, token[1:])
		return v >> 8, err
	}

	if i := strings.LastIndexAny(token, "+-"); i > 0 {
		base, err := a.parseValue(s, token[:i])
		if err != nil {
			return 0, err
		}
		n, err := a.parseValue(s, token[i+1:])
		if err != nil {
			return 0, err
		}
		if token[i] == '-' {
			return base - n, nil
		}
		return base + n, nil
	}

	if v, ok := parseNumber(token); ok {
		if v < -0x8000 || v > 0xFFFF {
			return 0, fmt.Errorf("%s: value out of range: %s", s.Name, token)
		}
		return uint16(v), nil
	}

	if addr, ok := a.labels[labelKey(s, token)]; ok {
		return addr, nil
	}
	if addr, ok := a.symbols[normalizeLabel(token)]; ok {
		return addr, nil
	}

	if isIdentifier(strings.TrimPrefix(token, ".")) {
		return 0, fmt.Errorf("%s: undefined label '%s'", s.Name, token)
	}
	return 0, fmt.Errorf("%s: invalid operand '%s'", s.Name, token)
}

func parseNumber(token string) (int64, bool) {
	base := 10
	switch {
	case strings.HasPrefix(token, "$"):
		token, base = token[1:], 16
	case strings.HasPrefix(token, "%"):
		token, base = token[1:], 2
	case strings.HasPrefix(token, "0x"):
		token, base = token[2:], 16
	}
	v, err := strconv.ParseInt(token, base, 32)
	return v, err == nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}

	return true
}

func normalizeLabel(label string) string {
	return strings.ToUpper(label)
}
