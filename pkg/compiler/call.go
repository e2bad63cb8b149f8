package compiler

import (
	"fmt"

	"cc78/pkg/asm"

	"github.com/beevik/go6502/cpu"
)

// intrinsic lowers the built-in functions. The second result is false
// when name is an ordinary function.
func (g *funcGen) intrinsic(c *Call) (ExprType, bool, error) {
	var v ExprType
	var err error
	switch c.Name {
	case "load":
		v, err = g.loadIntrinsic(c)
	case "store":
		v, err = g.storeIntrinsic(c)
	case "strobe":
		v, err = g.strobeIntrinsic(c)
	case "csleep":
		v, err = g.csleep(c)
	case "memcpy", "memset":
		err = g.unimplemented("%s is not supported", c.Name)
	default:
		return nothing(), false, nil
	}
	return v, true, err
}

func (g *funcGen) call(c *Call) (ExprType, error) {
	if g.high {
		switch c.Name {
		case "load", "store", "strobe", "csleep", "memcpy", "memset":
			return immediate(0), nil
		}
	} else if v, ok, err := g.intrinsic(c); ok {
		return v, err
	}

	fn, ok := g.syms.Function(c.Name)
	if !ok {
		return nothing(), g.syntaxErr("unknown function %s", c.Name)
	}
	if len(c.Args) > 0 {
		return nothing(), g.syntaxErr("function %s takes no arguments", c.Name)
	}
	if fn.Interrupt {
		return nothing(), g.syntaxErr("interrupt handler %s cannot be called", c.Name)
	}
	if g.high {
		if !fn.Returns {
			return nothing(), nil
		}
		if fn.Signed {
			return nothing(), g.unimplemented("signed return value of %s in 16-bit context", c.Name)
		}
		return immediate(0), nil
	}

	target := fn.Name
	switch {
	case fn.Bank == g.fn.Bank, fn.Bank == 0:
	case g.fn.Bank == 0:
		// The fixed bank reaches other banks through a stub that switches
		// banks around the call.
		target = fn.Name + "_trampoline"
		g.trampolines[fn.Name] = true
	default:
		return nothing(), g.syntaxErr("cannot call %s in bank %d from bank %d", fn.Name, fn.Bank, g.fn.Bank)
	}

	outer := g.accInUse
	if !fn.Returns {
		if outer {
			g.implied(asm.PHA)
		}
		if err := g.emit(asm.JSR, labelRef(target)); err != nil {
			return nothing(), err
		}
		if outer {
			g.implied(asm.PLA)
		}
		return nothing(), nil
	}
	restore, err := g.save(outer)
	if err != nil {
		return nothing(), err
	}
	if err := g.emit(asm.JSR, labelRef(target)); err != nil {
		return nothing(), err
	}
	return restore(fn.Signed)
}

func (g *funcGen) intrinsicArg(c *Call) (Expr, error) {
	if len(c.Args) != 1 {
		return nil, g.syntaxErr("%s takes exactly one argument", c.Name)
	}
	return c.Args[0], nil
}

// load(e) puts e in the accumulator.
func (g *funcGen) loadIntrinsic(c *Call) (ExprType, error) {
	arg, err := g.intrinsicArg(c)
	if err != nil {
		return nothing(), err
	}
	if g.accInUse {
		return nothing(), g.errTooComplex()
	}
	v, err := g.expr(arg)
	if err != nil {
		return nothing(), err
	}
	if err := g.loadA(v); err != nil {
		return nothing(), err
	}
	return inA(v.Signed), nil
}

// store(v) writes the accumulator to v.
func (g *funcGen) storeIntrinsic(c *Call) (ExprType, error) {
	arg, err := g.intrinsicArg(c)
	if err != nil {
		return nothing(), err
	}
	dst, err := g.lvalue(arg)
	if err != nil {
		return nothing(), err
	}
	if err := g.store(dst, inA(false)); err != nil {
		return nothing(), err
	}
	return nothing(), nil
}

// strobe(v) writes to a hardware register for its side effect.
func (g *funcGen) strobeIntrinsic(c *Call) (ExprType, error) {
	arg, err := g.intrinsicArg(c)
	if err != nil {
		return nothing(), err
	}
	return nothing(), g.strobe(arg)
}

// csleep(n) burns exactly n cycles with NOPs, plus one 3-cycle zero page
// BIT when n is odd. BIT changes the flags.
func (g *funcGen) csleep(c *Call) (ExprType, error) {
	arg, err := g.intrinsicArg(c)
	if err != nil {
		return nothing(), err
	}
	n, ok := g.constant(arg)
	if !ok {
		return nothing(), g.syntaxErr("csleep argument must be a constant")
	}
	if n < 2 {
		return nothing(), g.syntaxErr("csleep(%d): at least 2 cycles", n)
	}
	if n%2 == 1 {
		g.out.Add(asm.MustInstruction(asm.BIT, cpu.ZPG, tmpCell))
		g.flags = FlagsState{}
		n -= 3
	}
	for ; n > 0; n -= 2 {
		g.implied(asm.NOP)
	}
	return nothing(), nil
}

//  Constant folding

// constant evaluates e at compile time when it has no side effects and
// depends only on literals and constants.
func (g *funcGen) constant(e Expr) (int, bool) {
	switch e := e.(type) {
	case *IntLit:
		return e.Value, true
	case *VarRef:
		if e.Index != nil {
			return 0, false
		}
		v, ok := g.syms.Variable(e.Name)
		if !ok || !v.Const || v.Length > 0 {
			return 0, false
		}
		return v.Value, true
	case *Unary:
		x, ok := g.constant(e.Operand)
		if !ok {
			return 0, false
		}
		switch e.Op {
		case OpNeg:
			return -x, true
		case OpBitNot:
			return ^x, true
		case OpNot:
			return boolInt(x == 0), true
		}
	case *Binary:
		if e.Op == OpTernaryCond {
			arms, ok := e.Rhs.(*Binary)
			if !ok {
				return 0, false
			}
			c, ok := g.constant(e.Lhs)
			if !ok {
				return 0, false
			}
			if c != 0 {
				return g.constant(arms.Lhs)
			}
			return g.constant(arms.Rhs)
		}
		if e.Op.isAssign() || e.Op == OpTernaryArms {
			return 0, false
		}
		l, ok := g.constant(e.Lhs)
		if !ok {
			return 0, false
		}
		r, ok := g.constant(e.Rhs)
		if !ok {
			return 0, false
		}
		v, err := foldConst(e.Op, l, r)
		return v, err == nil
	}
	return 0, false
}

func foldConst(op Op, l, r int) (int, error) {
	switch op {
	case OpAdd:
		return l + r, nil
	case OpSub:
		return l - r, nil
	case OpMul:
		return l * r, nil
	case OpDiv, OpMod:
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		if op == OpDiv {
			return l / r, nil
		}
		return l % r, nil
	case OpAnd:
		return l & r, nil
	case OpOr:
		return l | r, nil
	case OpXor:
		return l ^ r, nil
	case OpShl:
		return l << uint(r), nil
	case OpShr:
		return l >> uint(r), nil
	case OpLt:
		return boolInt(l < r), nil
	case OpGt:
		return boolInt(l > r), nil
	case OpLe:
		return boolInt(l <= r), nil
	case OpGe:
		return boolInt(l >= r), nil
	case OpEq:
		return boolInt(l == r), nil
	case OpNeq:
		return boolInt(l != r), nil
	case OpLogAnd:
		return boolInt(l != 0 && r != 0), nil
	case OpLogOr:
		return boolInt(l != 0 || r != 0), nil
	}
	return 0, fmt.Errorf("operator %s cannot be folded", op)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
