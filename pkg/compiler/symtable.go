package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// MemoryClass is where a variable lives.
type MemoryClass int

const (
	ZeroPage MemoryClass = iota // fast page, addressed with one byte
	RAM
	ROM // read-only program memory
)

func (c MemoryClass) String() string {
	switch c {
	case ZeroPage:
		return "zeropage"
	case RAM:
		return "ram"
	case ROM:
		return "rom"
	}
	return fmt.Sprintf("MemoryClass(%d)", int(c))
}

// Variable describes a named memory cell or array. Constants are folded
// into immediates wherever they are read.
type Variable struct {
	Name    string
	Class   MemoryClass
	Size    int // element size in bytes: 1 or 2
	Length  int // number of elements, 0 for a scalar
	Signed  bool
	Pointer bool
	Const   bool
	Value   int
	Address int // fixed address for hardware registers, 0 when placed by the layout step
}

// Function describes a function known to the compiler.
type Function struct {
	Name      string
	Bank      int
	Order     int // declaration order, used to emit functions in source order
	Interrupt bool
	Returns   bool // returns an 8-bit value in A
	Signed    bool
	Body      *Block
}

// SymbolTable maps names to variables and functions. It is filled by the
// parser and read-only during code generation.
type SymbolTable struct {
	vars  map[string]*Variable
	funcs map[string]*Function
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		vars:  make(map[string]*Variable),
		funcs: make(map[string]*Function),
	}
}

// DefineVariable adds v to the table. Redefinitions are rejected.
func (s *SymbolTable) DefineVariable(v Variable) error {
	if v.Name == "" {
		return fmt.Errorf("variable without a name")
	}
	if v.Name == "X" || v.Name == "Y" || v.Name == tmpCell {
		return fmt.Errorf("%s is a reserved name", v.Name)
	}
	if _, ok := s.vars[v.Name]; ok {
		return fmt.Errorf("variable %s redefined", v.Name)
	}
	if v.Size == 0 {
		v.Size = 1
	}
	if v.Pointer {
		v.Size = 2
	}
	if v.Size != 1 && v.Size != 2 {
		return fmt.Errorf("variable %s: unsupported size %d", v.Name, v.Size)
	}
	s.vars[v.Name] = &v
	return nil
}

// DefineFunction adds f to the table. Redefinitions are rejected.
func (s *SymbolTable) DefineFunction(f Function) error {
	if f.Name == "" {
		return fmt.Errorf("function without a name")
	}
	if _, ok := s.funcs[f.Name]; ok {
		return fmt.Errorf("function %s redefined", f.Name)
	}
	if _, ok := s.vars[f.Name]; ok {
		return fmt.Errorf("function %s clashes with a variable", f.Name)
	}
	s.funcs[f.Name] = &f
	return nil
}

// Variable returns the variable and whether it was found.
func (s *SymbolTable) Variable(name string) (*Variable, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Function returns the function and whether it was found.
func (s *SymbolTable) Function(name string) (*Function, bool) {
	f, ok := s.funcs[name]
	return f, ok
}

// Functions returns all functions in declaration order.
func (s *SymbolTable) Functions() []*Function {
	out := make([]*Function, 0, len(s.funcs))
	for _, f := range s.funcs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Variables returns all variables sorted by name.
func (s *SymbolTable) Variables() []*Variable {
	out := make([]*Variable, 0, len(s.vars))
	for _, v := range s.vars {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// String returns a deterministically ordered dump of the table.
func (s *SymbolTable) String() string {
	var sb strings.Builder
	if len(s.vars) > 0 {
		sb.WriteString("Variables:\n")
		names := make([]string, 0, len(s.vars))
		for name := range s.vars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := s.vars[name]
			fmt.Fprintf(&sb, "  %-20s  %s (Size: %d, Length: %d, Signed: %v, Pointer: %v)", name, v.Class, v.Size, v.Length, v.Signed, v.Pointer)
			if v.Const {
				fmt.Fprintf(&sb, " = %d", v.Value)
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("Variables: (empty)\n")
	}

	if len(s.funcs) > 0 {
		sb.WriteString("Functions:\n")
		for _, f := range s.Functions() {
			fmt.Fprintf(&sb, "  %-20s  Bank: %d", f.Name, f.Bank)
			if f.Interrupt {
				sb.WriteString(" (interrupt)")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
