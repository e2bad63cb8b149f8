package compiler

import (
	"strings"
	"testing"
)

// machine compiles main and loads it into the emulator.
type machine struct {
	*Machine
	t *testing.T
}

func newMachine(t *testing.T, syms *SymbolTable, fns ...Function) *machine {
	t.Helper()
	return newMachineAt(t, 1, syms, fns...)
}

func newMachineAt(t *testing.T, level int, syms *SymbolTable, fns ...Function) *machine {
	t.Helper()
	for _, f := range fns {
		if err := syms.DefineFunction(f); err != nil {
			t.Fatal(err)
		}
	}
	res, err := Compile(syms, Options{Level: level})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	m, err := NewMachine(res, syms)
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	return &machine{Machine: m, t: t}
}

func (m *machine) poke(name string, offset int, b byte) { m.Poke(name, offset, b) }
func (m *machine) peek(name string, offset int) byte    { return m.Peek(name, offset) }

func (m *machine) run() {
	m.t.Helper()
	if err := m.Run(1000000); err != nil {
		m.t.Fatal(err)
	}
}

func mainFunc(stmts ...Stmt) Function {
	return Function{Name: "main", Body: block(stmts...)}
}

func TestE2E_SumLoop(t *testing.T) {
	m := newMachine(t, newTestSymbols(t), mainFunc(&For{
		Init:   bin(OpAssign, v("X"), lit(0)),
		Cond:   bin(OpLt, v("X"), lit(10)),
		Update: incdec(OpPostInc, v("X")),
		Body:   do(bin(OpAddAssign, v("a"), v("X"))),
	}))
	m.run()
	if got := m.peek("a", 0); got != 45 {
		t.Errorf("expected 45, got %d", got)
	}
}

func TestE2E_Switch(t *testing.T) {
	tests := []struct {
		selector byte
		want     byte
	}{
		{1, 3}, // falls through into case 5
		{5, 1},
		{7, 9},
	}
	for _, tc := range tests {
		m := newMachine(t, newTestSymbols(t), mainFunc(&Switch{
			Selector: v("a"),
			Arms: []SwitchArm{
				{Values: []int{1}, Body: []Stmt{set(v("b"), lit(2))}},
				{Values: []int{5}, Body: []Stmt{set(v("b"), bin(OpAdd, v("b"), lit(1))), &Break{}}},
				{Default: true, Body: []Stmt{set(v("b"), lit(9))}},
			},
		}))
		m.poke("a", 0, tc.selector)
		m.run()
		if got := m.peek("b", 0); got != tc.want {
			t.Errorf("switch (%d): expected b = %d, got %d", tc.selector, tc.want, got)
		}
	}
}

func TestE2E_SixteenBit(t *testing.T) {
	t.Run("add with carry", func(t *testing.T) {
		m := newMachine(t, newTestSymbols(t), mainFunc(
			set(v("w"), bin(OpAdd, v("w"), v("b"))),
		))
		m.poke("w", 0, 0xF0)
		m.poke("w", 1, 0x01)
		m.poke("b", 0, 0x20)
		m.run()
		if lo, hi := m.peek("w", 0), m.peek("w", 1); lo != 0x10 || hi != 0x02 {
			t.Errorf("expected $0210, got $%02X%02X", hi, lo)
		}
	})

	t.Run("increment", func(t *testing.T) {
		m := newMachine(t, newTestSymbols(t), mainFunc(
			do(incdec(OpPostInc, v("w"))),
		))
		m.poke("w", 0, 0xFF)
		m.poke("w", 1, 0x02)
		m.run()
		if lo, hi := m.peek("w", 0), m.peek("w", 1); lo != 0x00 || hi != 0x03 {
			t.Errorf("expected $0300, got $%02X%02X", hi, lo)
		}
	})
}

func TestE2E_Signed(t *testing.T) {
	tests := []struct {
		s    byte
		want byte
	}{
		{0xFD, 1}, // -3
		{5, 2},
	}
	for _, tc := range tests {
		m := newMachine(t, newTestSymbols(t), mainFunc(&If{
			Cond: bin(OpLt, v("s"), lit(0)),
			Then: set(v("b"), lit(1)),
			Else: set(v("b"), lit(2)),
		}))
		m.poke("s", 0, tc.s)
		m.run()
		if got := m.peek("b", 0); got != tc.want {
			t.Errorf("s = %d: expected b = %d, got %d", int8(tc.s), tc.want, got)
		}
	}

	m := newMachine(t, newTestSymbols(t), mainFunc(
		set(v("s"), bin(OpShr, v("s"), lit(1))),
	))
	m.poke("s", 0, 0xFC)
	m.run()
	if got := int8(m.peek("s", 0)); got != -2 {
		t.Errorf("-4 >> 1: expected -2, got %d", got)
	}
}

func TestE2E_Ternary(t *testing.T) {
	for a, want := range map[byte]byte{5: 10, 3: 20} {
		m := newMachine(t, newTestSymbols(t), mainFunc(
			set(v("b"), ternary(bin(OpGt, v("a"), lit(3)), lit(10), lit(20))),
		))
		m.poke("a", 0, a)
		m.run()
		if got := m.peek("b", 0); got != want {
			t.Errorf("a = %d: expected %d, got %d", a, want, got)
		}
	}
}

func TestE2E_FunctionReturn(t *testing.T) {
	m := newMachine(t, newTestSymbols(t),
		mainFunc(set(v("a"), bin(OpAdd, &Call{Name: "f"}, lit(1)))),
		Function{Name: "f", Order: 1, Returns: true, Body: block(&Return{Value: lit(41)})},
	)
	m.run()
	if got := m.peek("a", 0); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestE2E_Pointer(t *testing.T) {
	syms := newTestSymbols(t)
	m := newMachine(t, syms, mainFunc(
		set(&Unary{Op: OpDeref, Operand: v("p")}, lit(7)),
		set(v("b"), idx("p", lit(1))),
	))
	arr := m.Addrs["arr"]
	m.poke("p", 0, byte(arr))
	m.poke("p", 1, byte(arr>>8))
	m.poke("arr", 1, 0x33)
	m.run()
	if got := m.peek("arr", 0); got != 7 {
		t.Errorf("*p: expected 7, got %d", got)
	}
	if got := m.peek("b", 0); got != 0x33 {
		t.Errorf("p[1]: expected $33, got $%02X", got)
	}
}

func TestE2E_RepairedBranch(t *testing.T) {
	m := newMachine(t, newTestSymbols(t), mainFunc(&While{
		Cond: bin(OpNeq, v("a"), lit(10)),
		Body: block(
			do(incdec(OpPostInc, v("a"))),
			do(&Call{Name: "csleep", Args: []Expr{lit(300)}}),
		),
	}))
	m.run()
	if got := m.peek("a", 0); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
}

func TestE2E_OptimizerLevels(t *testing.T) {
	tests := []struct {
		name  string
		fns   func() []Function
		poke  map[string]byte
		check string
		want  byte
	}{
		{
			// f leaves Z from the increment, not from the value it returns.
			name: "reload after a call",
			fns: func() []Function {
				return []Function{
					mainFunc(
						set(v("a"), &Call{Name: "f"}),
						&If{Cond: bin(OpEq, v("a"), lit(0)), Then: set(v("b"), lit(1)), Else: set(v("b"), lit(2))},
					),
					{Name: "f", Order: 1, Returns: true, Body: block(&Return{Value: incdec(OpPostInc, v("i"))})},
				}
			},
			poke:  map[string]byte{"i": 0xFF},
			check: "b",
			want:  2,
		},
		{
			name: "reload after a call returning zero",
			fns: func() []Function {
				return []Function{
					mainFunc(
						set(v("a"), &Call{Name: "f"}),
						&If{Cond: bin(OpEq, v("a"), lit(0)), Then: set(v("b"), lit(1)), Else: set(v("b"), lit(2))},
					),
					{Name: "f", Order: 1, Returns: true, Body: block(&Return{Value: incdec(OpPostInc, v("i"))})},
				}
			},
			check: "b",
			want:  1,
		},
		{
			name: "known zero stored before a test",
			fns: func() []Function {
				return []Function{mainFunc(
					set(v("a"), lit(0)),
					set(v("X"), lit(3)),
					set(v("b"), lit(0)),
					&If{Cond: bin(OpEq, v("b"), lit(0)), Then: set(v("j"), lit(1)), Else: set(v("j"), lit(2))},
				)}
			},
			poke:  map[string]byte{"b": 9},
			check: "j",
			want:  1,
		},
		{
			name: "counted loop",
			fns: func() []Function {
				return []Function{mainFunc(&For{
					Init:   bin(OpAssign, v("i"), lit(0)),
					Cond:   bin(OpNeq, v("i"), lit(5)),
					Update: incdec(OpPostInc, v("i")),
					Body:   do(bin(OpAddAssign, v("a"), lit(3))),
				})}
			},
			check: "a",
			want:  15,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got [2]byte
			for level := range got {
				m := newMachineAt(t, level, newTestSymbols(t), tc.fns()...)
				for name, b := range tc.poke {
					m.poke(name, 0, b)
				}
				m.run()
				got[level] = m.peek(tc.check, 0)
			}
			if got[0] != got[1] {
				t.Errorf("%s differs between levels: %d at 0, %d at 1", tc.check, got[0], got[1])
			}
			if got[1] != tc.want {
				t.Errorf("expected %s = %d, got %d", tc.check, tc.want, got[1])
			}
		})
	}
}

func TestLayout(t *testing.T) {
	addrs, err := Layout(newTestSymbols(t))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]uint16{
		tmpCell: 0x80, "a": 0x81, "b": 0x82, "i": 0x83, "j": 0x84,
		"p": 0x85, "s": 0x87, "w": 0x88,
		"arr": 0x0200, "table": 0x0210, "WSYNC": 0x24,
	}
	for name, addr := range want {
		if got, ok := addrs[name]; !ok || got != addr {
			t.Errorf("%s: expected $%04X, got $%04X (%v)", name, addr, got, ok)
		}
	}
	if _, ok := addrs["MAX"]; ok {
		t.Error("constants take no memory")
	}

	syms := NewSymbolTable()
	_ = syms.DefineVariable(Variable{Name: "big", Class: ZeroPage, Length: 200})
	if _, err := Layout(syms); err == nil || !strings.Contains(err.Error(), "zero page full") {
		t.Errorf("expected a zero page overflow, got %v", err)
	}
}

func TestMachine_Errors(t *testing.T) {
	t.Run("no main", func(t *testing.T) {
		syms := newTestSymbols(t)
		_ = syms.DefineFunction(Function{Name: "f", Body: block()})
		res, err := Compile(syms, Options{Level: 1})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := NewMachine(res, syms); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("inline assembler", func(t *testing.T) {
		syms := newTestSymbols(t)
		_ = syms.DefineFunction(mainFunc(&Asm{Text: "\tNOP"}))
		res, err := Compile(syms, Options{Level: 1})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := NewMachine(res, syms); err == nil || !strings.Contains(err.Error(), "inline assembler") {
			t.Errorf("expected an inline assembler error, got %v", err)
		}
	})

	t.Run("endless loop", func(t *testing.T) {
		m := newMachine(t, newTestSymbols(t), mainFunc(&While{Cond: lit(1), Body: block()}))
		if err := m.Run(100); err == nil {
			t.Error("expected the step limit to trip")
		}
	})
}
