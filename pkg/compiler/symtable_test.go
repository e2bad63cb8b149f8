package compiler

import (
	"strings"
	"testing"
)

func TestSymbolTable(t *testing.T) {
	t.Run("VariableDefaults", func(t *testing.T) {
		s := NewSymbolTable()
		if err := s.DefineVariable(Variable{Name: "b"}); err != nil {
			t.Fatal(err)
		}
		if err := s.DefineVariable(Variable{Name: "p", Pointer: true, Class: ZeroPage}); err != nil {
			t.Fatal(err)
		}

		b, ok := s.Variable("b")
		if !ok {
			t.Fatal("b not found")
		}
		if b.Size != 1 {
			t.Errorf("b size: expected 1, got %d", b.Size)
		}
		p, _ := s.Variable("p")
		if p.Size != 2 {
			t.Errorf("p size: expected 2, got %d", p.Size)
		}
		if p.Class != ZeroPage {
			t.Errorf("p class: expected zeropage, got %s", p.Class)
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		s := NewSymbolTable()
		if err := s.DefineVariable(Variable{Name: "a"}); err != nil {
			t.Fatal(err)
		}
		bad := []Variable{
			{Name: "a"},
			{Name: "X"},
			{Name: "Y"},
			{Name: tmpCell},
			{Name: "w", Size: 4},
			{},
		}
		for _, v := range bad {
			if err := s.DefineVariable(v); err == nil {
				t.Errorf("DefineVariable(%q): expected error", v.Name)
			}
		}
		if err := s.DefineFunction(Function{Name: "a"}); err == nil {
			t.Error("function clashing with a variable: expected error")
		}
		if err := s.DefineFunction(Function{Name: "f"}); err != nil {
			t.Fatal(err)
		}
		if err := s.DefineFunction(Function{Name: "f"}); err == nil {
			t.Error("redefined function: expected error")
		}
	})

	t.Run("FunctionOrder", func(t *testing.T) {
		s := NewSymbolTable()
		for i, name := range []string{"main", "b", "a"} {
			if err := s.DefineFunction(Function{Name: name, Order: i}); err != nil {
				t.Fatal(err)
			}
		}
		var names []string
		for _, f := range s.Functions() {
			names = append(names, f.Name)
		}
		if got := strings.Join(names, ","); got != "main,b,a" {
			t.Errorf("expected declaration order main,b,a, got %s", got)
		}
	})

	t.Run("String", func(t *testing.T) {
		s := NewSymbolTable()
		_ = s.DefineVariable(Variable{Name: "lives", Class: RAM})
		_ = s.DefineVariable(Variable{Name: "MAX", Const: true, Value: 3})
		_ = s.DefineFunction(Function{Name: "nmi", Interrupt: true})
		out := s.String()
		for _, want := range []string{"lives", "ram", "= 3", "nmi", "(interrupt)"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected dump to contain %q:\n%s", want, out)
			}
		}
	})
}
