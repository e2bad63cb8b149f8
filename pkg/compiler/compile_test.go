package compiler

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xyproto/env/v2"
)

func TestCompile_Trampolines(t *testing.T) {
	syms := newTestSymbols(t)
	fns := []Function{
		{Name: "main", Order: 0, Body: block(do(&Call{Name: "far"}), do(&Call{Name: "far"}), do(&Call{Name: "near"}))},
		{Name: "far", Order: 1, Bank: 2, Body: block(do(&Call{Name: "fixed"}))},
		{Name: "near", Order: 2, Body: block()},
		{Name: "fixed", Order: 3, Body: block()},
	}
	for _, f := range fns {
		if err := syms.DefineFunction(f); err != nil {
			t.Fatal(err)
		}
	}

	res, err := Compile(syms, Options{Level: 1})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if got := strings.Join(res.Trampolines, ","); got != "far" {
		t.Errorf("trampolines: expected far, got %q", got)
	}
	main := res.Stream("main").String(false)
	assertContains(t, main, "JSR far_trampoline")
	assertContains(t, main, "JSR near")
	// Bank 0 is always mapped, so far calls fixed directly.
	assertContains(t, res.Stream("far").String(false), "JSR fixed")

	if got := strings.Join(res.Order, ","); got != "main,far,near,fixed" {
		t.Errorf("order: expected main,far,near,fixed, got %s", got)
	}
}

func TestCompile_OptimizationLevels(t *testing.T) {
	build := func() *SymbolTable {
		syms := newTestSymbols(t)
		_ = syms.DefineFunction(Function{Name: "main", Body: block(
			set(v("X"), lit(3)),
			&If{Cond: bin(OpEq, v("X"), lit(3)), Then: set(v("a"), lit(1))},
		)})
		_ = syms.DefineFunction(Function{Name: "unused", Order: 1, Body: block()})
		return syms
	}

	t.Run("level 0", func(t *testing.T) {
		res, err := Compile(build(), Options{Level: 0})
		if err != nil {
			t.Fatal(err)
		}
		assertContains(t, res.Stream("main").String(false), "CPX #3")
		if res.Removed != 0 {
			t.Errorf("level 0 removed %d instructions", res.Removed)
		}
	})

	t.Run("level 1", func(t *testing.T) {
		res, err := Compile(build(), Options{Level: 1})
		if err != nil {
			t.Fatal(err)
		}
		main := res.Stream("main").String(false)
		assertNotContains(t, main, "CPX")
		assertNotContains(t, main, "BNE")
		if res.Removed != 2 {
			t.Errorf("expected 2 instructions removed, got %d", res.Removed)
		}
		if res.Stream("unused") == nil {
			t.Error("level 1 must keep every function")
		}
	})

	t.Run("level 2", func(t *testing.T) {
		res, err := Compile(build(), Options{Level: 2})
		if err != nil {
			t.Fatal(err)
		}
		if res.Stream("unused") != nil {
			t.Error("level 2 must drop unreachable functions")
		}
		if got := strings.Join(res.Order, ","); got != "main" {
			t.Errorf("order: expected main, got %s", got)
		}
	})
}

func TestCompile_BranchRepair(t *testing.T) {
	syms := newTestSymbols(t)
	_ = syms.DefineFunction(Function{Name: "main", Body: block(&While{
		Cond: bin(OpNeq, v("a"), lit(10)),
		Body: block(
			do(incdec(OpPostInc, v("a"))),
			do(&Call{Name: "csleep", Args: []Expr{lit(300)}}),
		),
	})})

	res, err := Compile(syms, Options{Level: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fixes != 1 {
		t.Errorf("expected 1 branch fix, got %d", res.Fixes)
	}
	main := res.Stream("main").String(false)
	assertContains(t, main, code("  CMP #10", "  BNE .fix1", "  JMP .whileend1", ".fix1"))
}

func TestCompile_ErrorNamesFunction(t *testing.T) {
	syms := newTestSymbols(t)
	_ = syms.DefineFunction(Function{Name: "main", Body: block(&Break{Loc: Loc{Pos: 7}})})
	_, err := Compile(syms, Options{Level: 1})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.HasPrefix(err.Error(), "main: ") {
		t.Errorf("expected the function name in %q", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Pos != 7 {
		t.Errorf("expected a positioned *Error, got %v", err)
	}
}

func TestResult_Write(t *testing.T) {
	syms := newTestSymbols(t)
	_ = syms.DefineFunction(Function{Name: "main", Body: block(set(v("a"), lit(1)), do(&Call{Name: "far"}))})
	_ = syms.DefineFunction(Function{Name: "far", Order: 1, Bank: 3, Body: block()})
	res, err := Compile(syms, Options{Level: 1})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := res.Write(&buf, true); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	assertContains(t, out, "main\n\tLDA #1          ; 2\n")
	assertContains(t, out, "\tJSR far_trampoline; 6\n")
	assertContains(t, out, "\nfar\n\tRTS             ; 6\n")
	assertContains(t, out, "; trampoline far_trampoline\n")
}

func TestOptionsFromEnv(t *testing.T) {
	t.Cleanup(env.Load)
	t.Setenv("CC78_OPT", "2")
	t.Setenv("CC78_CYCLES", "true")
	t.Setenv("CC78_VERBOSE", "")
	env.Load()
	opts := OptionsFromEnv()
	if opts.Level != 2 {
		t.Errorf("Level: expected 2, got %d", opts.Level)
	}
	if !opts.Cycles {
		t.Error("Cycles: expected true")
	}
	if opts.Verbose {
		t.Error("Verbose: expected false")
	}

	t.Setenv("CC78_OPT", "")
	env.Load()
	if got := OptionsFromEnv().Level; got != 1 {
		t.Errorf("default Level: expected 1, got %d", got)
	}
}
