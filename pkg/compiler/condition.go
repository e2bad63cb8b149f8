package compiler

import (
	"fmt"

	"cc78/pkg/asm"
)

// mirrored is the operator with its operands swapped: a < b is b > a.
var mirrored = map[Op]Op{
	OpLt: OpGt, OpGt: OpLt,
	OpLe: OpGe, OpGe: OpLe,
	OpEq: OpEq, OpNeq: OpNeq,
}

// negatedOp is the operator that is true exactly when op is false.
var negatedOp = map[Op]Op{
	OpLt: OpGe, OpGe: OpLt,
	OpGt: OpLe, OpLe: OpGt,
	OpEq: OpNeq, OpNeq: OpEq,
}

// condition branches to label when e is true, or when it is false if
// negate is set. Control falls through otherwise.
func (g *funcGen) condition(e Expr, label string, negate bool) error {
	if v, ok := g.constant(e); ok {
		if (v != 0) != negate {
			g.jump(label)
		}
		return nil
	}

	switch c := e.(type) {
	case *Unary:
		if c.Op == OpNot {
			return g.condition(c.Operand, label, !negate)
		}
	case *Binary:
		switch {
		case c.Op == OpLogAnd && !negate, c.Op == OpLogOr && negate:
			// Both sides decide: skip the second test when the first
			// already settles it the other way.
			skip := fmt.Sprintf(".cond%d", g.nextIf())
			if err := g.condition(c.Lhs, skip, !negate); err != nil {
				return err
			}
			if err := g.condition(c.Rhs, label, negate); err != nil {
				return err
			}
			g.label(skip)
			return nil
		case c.Op == OpLogAnd, c.Op == OpLogOr:
			// Either side alone decides.
			if err := g.condition(c.Lhs, label, negate); err != nil {
				return err
			}
			return g.condition(c.Rhs, label, negate)
		case c.Op.isCompare():
			return g.compare(c.Op, c.Lhs, c.Rhs, label, negate)
		}
	}
	return g.compare(OpNeq, e, &IntLit{Value: 0}, label, negate)
}

// compare evaluates lhs op rhs on the 8-bit values and branches. A test
// against zero skips the compare when the flags already reflect the value.
func (g *funcGen) compare(op Op, lhs, rhs Expr, label string, negate bool) error {
	if g.wideVar(lhs) != nil || g.wideVar(rhs) != nil {
		return g.unimplemented("16-bit comparison is not supported")
	}
	high := g.high
	g.high = false
	defer func() { g.high = high }()

	outer := g.accInUse
	l, err := g.expr(lhs)
	if err != nil {
		return err
	}
	if l.Kind == ExprA {
		g.accInUse = true
	}
	r, err := g.expr(rhs)
	g.accInUse = outer
	if err != nil {
		return err
	}
	if l.Kind == ExprNothing || r.Kind == ExprNothing {
		return g.syntaxErr("comparison with a value-less expression")
	}

	if l.Kind == ExprImmediate {
		if r.Kind == ExprImmediate {
			v, _ := foldConst(op, l.Value, r.Value)
			if (v != 0) != negate {
				g.jump(label)
			}
			return nil
		}
		l, r, op = r, l, mirrored[op]
	}
	signed := l.Signed || r.Signed

	// The left operand ends up in a register, the right one in memory or
	// an immediate.
	if r.isRegister() {
		if !l.isRegister() || r.Kind == ExprA {
			l, r, op = r, l, mirrored[op]
		}
		if r.isRegister() {
			if r, err = g.spill(r); err != nil {
				return err
			}
		}
	}

	zeroTest := r.Kind == ExprImmediate && r.Value == 0 && (op == OpEq || op == OpNeq || signed)
	deferred := len(g.deferred) > 0
	elide := zeroTest && !deferred && g.flags.reflects(l)
	if !elide {
		indexed := r.Kind == ExprAbsoluteX || r.Kind == ExprAbsoluteY
		if !l.isRegister() || (deferred && l.Kind != ExprA) || (l.Kind != ExprA && indexed) {
			if outer {
				return g.errTooComplex()
			}
			if err := g.loadA(l); err != nil {
				return err
			}
			l = inA(l.Signed)
			elide = zeroTest && !deferred
		}
	}

	if l.Kind == ExprA {
		g.accInUse = true
	}
	flushed, err := g.flush()
	g.accInUse = outer
	if err != nil {
		return err
	}
	if !elide || flushed {
		m := map[ExprKind]asm.Mnemonic{ExprA: asm.CMP, ExprX: asm.CPX, ExprY: asm.CPY}[l.Kind]
		if err := g.emit(m, r); err != nil {
			return err
		}
	}

	if negate {
		op = negatedOp[op]
	}
	g.branchOn(op, signed, label)
	return nil
}

// branchOn emits the branches that jump to label when the last compare
// satisfied op. Signed order is read from N, unsigned order from C.
func (g *funcGen) branchOn(op Op, signed bool, label string) {
	lt, ge := asm.BCC, asm.BCS
	if signed {
		lt, ge = asm.BMI, asm.BPL
	}
	switch op {
	case OpEq:
		g.branch(asm.BEQ, label)
	case OpNeq:
		g.branch(asm.BNE, label)
	case OpLt:
		g.branch(lt, label)
	case OpGe:
		g.branch(ge, label)
	case OpLe:
		g.branch(lt, label)
		g.branch(asm.BEQ, label)
	case OpGt:
		here := g.hereLabel()
		g.branch(asm.BEQ, here)
		g.branch(ge, label)
		g.label(here)
	default:
		panic(fmt.Sprintf("branchOn: %s is not a comparison", op))
	}
}

// choose evaluates cond ? a : b (with cond negated if asked) into the
// accumulator, or into the scratch cell if the accumulator was live.
func (g *funcGen) choose(cond Expr, negate bool, a, b Expr) (ExprType, error) {
	if v, ok := g.constant(cond); ok {
		if (v != 0) != negate {
			return g.expr(a)
		}
		return g.expr(b)
	}

	outer := g.accInUse
	restore, err := g.save(outer)
	if err != nil {
		return nothing(), err
	}
	g.accInUse = false

	n := g.nextIf()
	elseLabel := fmt.Sprintf(".else%d", n)
	end := fmt.Sprintf(".ifend%d", n)
	if err := g.condition(cond, elseLabel, !negate); err != nil {
		return nothing(), err
	}
	va, err := g.expr(a)
	if err != nil {
		return nothing(), err
	}
	if err := g.loadA(va); err != nil {
		return nothing(), err
	}
	g.jump(end)
	g.label(elseLabel)
	vb, err := g.expr(b)
	if err != nil {
		return nothing(), err
	}
	if err := g.loadA(vb); err != nil {
		return nothing(), err
	}
	g.label(end)
	g.accInUse = outer
	return restore(va.Signed || vb.Signed)
}

// boolean materializes a truth value as 1 or 0.
func (g *funcGen) boolean(e Expr, negate bool) (ExprType, error) {
	if v, ok := g.constant(e); ok {
		return immediate(boolInt((v != 0) != negate)), nil
	}
	return g.choose(e, negate, &IntLit{Value: 1}, &IntLit{Value: 0})
}
