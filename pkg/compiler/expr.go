package compiler

import (
	"fmt"

	"cc78/pkg/asm"
)

// expr lowers e and returns where its value now lives. It only returns
// ExprA when the accumulator was free on entry.
func (g *funcGen) expr(e Expr) (ExprType, error) {
	switch e := e.(type) {
	case nil, *Nothing:
		return nothing(), nil

	case *IntLit:
		return immediate(e.Value), nil

	case *VarRef:
		return g.varRef(e)

	case *Unary:
		switch e.Op {
		case OpNeg:
			return g.arith(OpSub, &IntLit{Value: 0}, e.Operand)
		case OpBitNot:
			return g.arith(OpXor, e.Operand, &IntLit{Value: -1})
		case OpNot:
			return g.boolean(e.Operand, true)
		case OpDeref:
			return g.deref(e.Operand)
		}
		return nothing(), g.syntaxErr("unsupported unary operator %s", e.Op)

	case *IncDec:
		return g.incDec(e)

	case *Call:
		return g.call(e)

	case *Binary:
		switch {
		case e.Op.isAssign():
			return g.assign(e.Op, e.Lhs, e.Rhs)
		case e.Op.isCompare(), e.Op == OpLogAnd, e.Op == OpLogOr:
			return g.boolean(e, false)
		case e.Op == OpTernaryCond:
			arms, ok := e.Rhs.(*Binary)
			if !ok || arms.Op != OpTernaryArms {
				return nothing(), g.syntaxErr("malformed ternary expression")
			}
			return g.choose(e.Lhs, false, arms.Lhs, arms.Rhs)
		case e.Op == OpTernaryArms:
			return nothing(), g.syntaxErr("':' outside of a ternary expression")
		case e.Op == OpShl, e.Op == OpShr:
			return g.shift(e.Op, e.Lhs, e.Rhs)
		}
		return g.arith(e.Op, e.Lhs, e.Rhs)
	}
	return nothing(), g.syntaxErr("unsupported expression %s", e)
}

// varRef returns the location of a variable read in the current pass.
func (g *funcGen) varRef(r *VarRef) (ExprType, error) {
	switch r.Name {
	case "X", "Y":
		if r.Index != nil {
			return nothing(), g.syntaxErr("register %s cannot be subscripted", r.Name)
		}
		if g.high {
			return immediate(0), nil
		}
		if r.Name == "X" {
			return inX(), nil
		}
		return inY(), nil
	}

	v, ok := g.syms.Variable(r.Name)
	if !ok {
		return nothing(), g.syntaxErr("unknown identifier %s", r.Name)
	}
	if v.Const && v.Length == 0 && r.Index == nil {
		return immediate(v.Value), nil
	}

	if r.Index == nil {
		if v.Size == 2 {
			off := 0
			if g.high {
				off = 1
			}
			return absolute(v.Name, false, off, v.Signed), nil
		}
		if g.high {
			return g.extend(absolute(v.Name, true, 0, v.Signed))
		}
		return absolute(v.Name, true, 0, v.Signed), nil
	}

	if v.Size == 2 && !v.Pointer {
		return nothing(), g.syntaxErr("16-bit array %s cannot be subscripted", v.Name)
	}
	if v.Length == 0 && !v.Pointer {
		return nothing(), g.syntaxErr("%s is not an array", v.Name)
	}
	switch idx := r.Index.(type) {
	case *VarRef:
		switch idx.Name {
		case "X":
			if v.Pointer {
				return nothing(), g.syntaxErr("pointer %s can only be indexed by Y", v.Name)
			}
			return g.element(absoluteX(v.Name, v.Signed))
		case "Y":
			return g.element(absoluteY(v.Name, v.Signed))
		}
	case *IntLit:
		if v.Pointer {
			if g.high {
				return g.element(absoluteY(v.Name, v.Signed))
			}
			g.emitImm(asm.LDY, idx.Value)
			return absoluteY(v.Name, v.Signed), nil
		}
		if v.Length > 0 && (idx.Value < 0 || idx.Value >= v.Length) {
			return nothing(), g.syntaxErr("index %d out of range for %s", idx.Value, v.Name)
		}
		return g.element(absolute(v.Name, true, idx.Value, v.Signed))
	}
	return nothing(), g.syntaxErr("subscript of %s must be X, Y or a constant", v.Name)
}

// element returns an 8-bit array element, or its extension in the high
// pass.
func (g *funcGen) element(e ExprType) (ExprType, error) {
	if g.high {
		return g.extend(e)
	}
	return e, nil
}

// extend returns the high byte of an 8-bit value: zero, or the sign
// extension computed in the accumulator.
func (g *funcGen) extend(e ExprType) (ExprType, error) {
	if !e.Signed {
		return immediate(0), nil
	}
	if g.accInUse {
		return nothing(), g.errTooComplex()
	}
	high := g.high
	g.high = false
	defer func() { g.high = high }()
	if err := g.emit(asm.LDA, e); err != nil {
		return nothing(), err
	}
	if err := g.emit(asm.ASL, inA(true)); err != nil {
		return nothing(), err
	}
	g.emitImm(asm.LDA, 0)
	g.emitImm(asm.ADC, 0xff)
	g.emitImm(asm.EOR, 0xff)
	return inA(true), nil
}

// deref lowers *p: Y is cleared and the value is read through (p),Y.
func (g *funcGen) deref(operand Expr) (ExprType, error) {
	r, ok := operand.(*VarRef)
	if !ok || r.Index != nil {
		return nothing(), g.syntaxErr("only pointer variables can be dereferenced")
	}
	v, ok := g.syms.Variable(r.Name)
	if !ok {
		return nothing(), g.syntaxErr("unknown identifier %s", r.Name)
	}
	if !v.Pointer {
		return nothing(), g.syntaxErr("%s is not a pointer", r.Name)
	}
	if g.high {
		return g.extend(absoluteY(v.Name, v.Signed))
	}
	g.emitImm(asm.LDY, 0)
	return absoluteY(v.Name, v.Signed), nil
}

// wideVar returns the variable when e is a plain 16-bit variable read.
func (g *funcGen) wideVar(e Expr) *Variable {
	r, ok := e.(*VarRef)
	if !ok || r.Index != nil {
		return nil
	}
	v, ok := g.syms.Variable(r.Name)
	if !ok || v.Size != 2 || v.Const {
		return nil
	}
	return v
}

// signed8 reports whether e reads a signed 8-bit value: a variable, an
// element, or the target of a signed pointer.
func (g *funcGen) signed8(e Expr) bool {
	deref := false
	if u, ok := e.(*Unary); ok && u.Op == OpDeref {
		e, deref = u.Operand, true
	}
	r, ok := e.(*VarRef)
	if !ok {
		return false
	}
	v, ok := g.syms.Variable(r.Name)
	if !ok || !v.Signed {
		return false
	}
	if deref {
		return v.Pointer && r.Index == nil
	}
	return v.Size == 1 || r.Index != nil
}

// carries reports whether e is an addition or subtraction that has to be
// computed at run time.
func (g *funcGen) carries(e Expr) bool {
	b, ok := e.(*Binary)
	if !ok || (b.Op != OpAdd && b.Op != OpSub) {
		return false
	}
	_, constant := g.constant(e)
	return !constant
}

func commutative(op Op) bool {
	switch op {
	case OpAdd, OpAnd, OpOr, OpXor:
		return true
	}
	return false
}

var arithMnemonic = map[Op]asm.Mnemonic{
	OpAdd: asm.ADC,
	OpSub: asm.SBC,
	OpAnd: asm.AND,
	OpOr:  asm.ORA,
	OpXor: asm.EOR,
}

// arith lowers an arithmetic or bitwise operation. The left operand is
// staged into the accumulator; if the accumulator was live it is pushed
// first and the result is committed to the scratch cell.
func (g *funcGen) arith(op Op, lhs, rhs Expr) (ExprType, error) {
	if g.high {
		if g.signed8(lhs) || g.signed8(rhs) {
			return nothing(), g.unimplemented("signed 8-bit operand in 16-bit arithmetic")
		}
		if (op == OpAdd || op == OpSub) && (g.carries(lhs) || g.carries(rhs)) {
			return nothing(), g.unimplemented("16-bit arithmetic is limited to one addition or subtraction")
		}
	}

	outer := g.accInUse
	l, err := g.expr(lhs)
	if err != nil {
		return nothing(), err
	}
	if l.Kind == ExprA {
		g.accInUse = true
	}
	r, err := g.expr(rhs)
	g.accInUse = outer
	if err != nil {
		return nothing(), err
	}

	if l.Kind == ExprImmediate && r.Kind == ExprImmediate {
		v, err := foldConst(op, l.Value, r.Value)
		if err != nil {
			return nothing(), g.syntaxErr("%v", err)
		}
		return immediate(v), nil
	}
	switch op {
	case OpMul:
		return nothing(), g.unimplemented("multiplication is not supported")
	case OpDiv, OpMod:
		return nothing(), g.unimplemented("division is not supported")
	}
	m, ok := arithMnemonic[op]
	if !ok {
		return nothing(), g.syntaxErr("unsupported operator %s", op)
	}
	if l.Kind == ExprNothing || r.Kind == ExprNothing {
		return nothing(), g.syntaxErr("expression has no value")
	}

	// The right operand must be something ADC and friends can address.
	if r.Kind == ExprA {
		if commutative(op) {
			l, r = r, l
		} else if r, err = g.spill(r); err != nil {
			return nothing(), err
		}
	}
	if r.Kind == ExprX || r.Kind == ExprY {
		if commutative(op) && !l.isRegister() {
			l, r = r, l
		} else if r, err = g.spill(r); err != nil {
			return nothing(), err
		}
	}
	signed := l.Signed || r.Signed

	var restore func(bool) (ExprType, error)
	if l.Kind != ExprA {
		if outer && g.tmpInUse && r.Kind != ExprTmp && l.Kind != ExprTmp {
			return nothing(), g.errTooComplex()
		}
		if restore, err = g.save(outer); err != nil {
			return nothing(), err
		}
		if err := g.loadA(l); err != nil {
			return nothing(), err
		}
	} else if restore, err = g.save(false); err != nil {
		return nothing(), err
	}

	switch op {
	case OpAdd:
		if !g.high {
			g.implied(asm.CLC)
		}
	case OpSub:
		if !g.high {
			g.implied(asm.SEC)
		}
	}
	if err := g.emit(m, r); err != nil {
		return nothing(), err
	}
	return restore(signed)
}

// shift lowers << and >> by a constant amount.
func (g *funcGen) shift(op Op, lhs, rhs Expr) (ExprType, error) {
	n, ok := g.constant(rhs)
	if !ok {
		return nothing(), g.syntaxErr("shift amount must be a constant")
	}
	if n == 8 {
		if v := g.wideVar(lhs); v != nil && op == OpShr {
			// The high byte, read as an 8-bit value.
			if g.high {
				return immediate(0), nil
			}
			return absolute(v.Name, true, 1, false), nil
		}
		if op == OpShl {
			if !g.high {
				return immediate(0), nil
			}
			g.high = false
			defer func() { g.high = true }()
			return g.expr(lhs)
		}
	}
	if n < 0 || n > 8 {
		return nothing(), g.syntaxErr("shift amount must be between 0 and 8")
	}

	outer := g.accInUse
	l, err := g.expr(lhs)
	if err != nil {
		return nothing(), err
	}
	if l.Kind == ExprImmediate {
		v, _ := foldConst(op, l.Value, n)
		return immediate(v), nil
	}
	if g.high {
		return nothing(), g.unimplemented("16-bit shifts are only supported by 8")
	}
	if n == 0 {
		return l, nil
	}

	var restore func(bool) (ExprType, error)
	if l.Kind != ExprA {
		if restore, err = g.save(outer); err != nil {
			return nothing(), err
		}
		if err := g.loadA(l); err != nil {
			return nothing(), err
		}
	} else if restore, err = g.save(false); err != nil {
		return nothing(), err
	}
	for i := 0; i < n; i++ {
		switch {
		case op == OpShl:
			err = g.emit(asm.ASL, inA(l.Signed))
		case l.Signed:
			// Arithmetic shift: copy bit 7 into the carry first.
			g.emitImm(asm.CMP, 0x80)
			err = g.emit(asm.ROR, inA(true))
		default:
			err = g.emit(asm.LSR, inA(false))
		}
		if err != nil {
			return nothing(), err
		}
	}
	return restore(l.Signed)
}

// incDec lowers ++ and --. Postfix operations are queued and emitted once
// the statement is done with the old value.
func (g *funcGen) incDec(e *IncDec) (ExprType, error) {
	loc, err := g.lvalue(e.Operand)
	if err != nil {
		return nothing(), err
	}
	if g.high {
		return g.expr(e.Operand)
	}
	if e.postfix() {
		g.deferred = append(g.deferred, e)
		return loc, nil
	}
	if err := g.step(e.Operand, e.increments()); err != nil {
		return nothing(), err
	}
	return loc, nil
}

// step adds or subtracts one to an l-value in place.
func (g *funcGen) step(target Expr, inc bool) error {
	if v := g.wideVar(target); v != nil {
		return g.step16(v, inc)
	}
	loc, err := g.lvalue(target)
	if err != nil {
		return err
	}
	switch loc.Kind {
	case ExprX:
		if inc {
			g.implied(asm.INX)
		} else {
			g.implied(asm.DEX)
		}
		return nil
	case ExprY:
		if inc {
			g.implied(asm.INY)
		} else {
			g.implied(asm.DEY)
		}
		return nil
	}
	if inc {
		return g.emit(asm.INC, loc)
	}
	return g.emit(asm.DEC, loc)
}

// step16 increments or decrements a 16-bit cell, carrying into the high
// byte.
func (g *funcGen) step16(v *Variable, inc bool) error {
	if v.Class == ROM || v.Const {
		return g.syntaxErr("cannot modify read-only variable %s", v.Name)
	}
	lo := absolute(v.Name, false, 0, v.Signed)
	hi := absolute(v.Name, false, 1, v.Signed)
	here := labelRef(g.hereLabel())
	if inc {
		if err := g.emit(asm.INC, lo); err != nil {
			return err
		}
		g.branch(asm.BNE, here.Name)
		if err := g.emit(asm.INC, hi); err != nil {
			return err
		}
		g.label(here.Name)
		return nil
	}

	saved := g.accInUse
	if saved {
		g.implied(asm.PHA)
	}
	if err := g.emit(asm.LDA, lo); err != nil {
		return err
	}
	g.branch(asm.BNE, here.Name)
	if err := g.emit(asm.DEC, hi); err != nil {
		return err
	}
	g.label(here.Name)
	if err := g.emit(asm.DEC, lo); err != nil {
		return err
	}
	if saved {
		g.implied(asm.PLA)
	}
	return nil
}

func (g *funcGen) hereLabel() string {
	return fmt.Sprintf(".here%d", g.nextIf())
}

// lvalue checks that e can be written and returns its location.
func (g *funcGen) lvalue(e Expr) (ExprType, error) {
	switch e := e.(type) {
	case *VarRef:
		if e.Name != "X" && e.Name != "Y" {
			v, ok := g.syms.Variable(e.Name)
			if !ok {
				return nothing(), g.syntaxErr("unknown identifier %s", e.Name)
			}
			if v.Const || v.Class == ROM {
				return nothing(), g.syntaxErr("cannot modify read-only variable %s", e.Name)
			}
		}
		high := g.high
		if high && g.wideVar(e) == nil {
			// Only 16-bit cells have a high byte to write.
			g.high = false
			defer func() { g.high = high }()
		}
		return g.varRef(e)
	case *Unary:
		if e.Op == OpDeref {
			return g.deref(e.Operand)
		}
	}
	return nothing(), g.syntaxErr("bad left-value %s", e)
}

// needsY reports whether writing to e loads Y first.
func (g *funcGen) needsY(e Expr) bool {
	switch e := e.(type) {
	case *Unary:
		return e.Op == OpDeref
	case *VarRef:
		if _, ok := e.Index.(*IntLit); ok {
			v, found := g.syms.Variable(e.Name)
			return found && v.Pointer
		}
	}
	return false
}

// assign lowers plain and compound assignments. A 16-bit destination is
// written in two passes over the same expression, low byte first.
func (g *funcGen) assign(op Op, lhs, rhs Expr) (ExprType, error) {
	wide := g.wideVar(lhs)
	stepping := false
	if base, ok := compoundBase[op]; ok && (base == OpAdd || base == OpSub) {
		n, ok := g.constant(rhs)
		stepping = ok && n == 1
	}

	if g.high {
		// A nested assignment already happened in the low pass; only a
		// 16-bit destination still has a byte to write.
		if wide == nil || stepping {
			return g.expr(lhs)
		}
		return g.assignByte(op, lhs, rhs)
	}
	if wide == nil {
		if r, ok := lhs.(*VarRef); ok && (r.Name == "X" || r.Name == "Y") && g.wideVar(rhs) != nil {
			return nothing(), g.syntaxErr("cannot assign 16-bit data to %s", r.Name)
		}
		return g.assignByte(op, lhs, rhs)
	}

	if stepping {
		if err := g.step16(wide, compoundBase[op] == OpAdd); err != nil {
			return nothing(), err
		}
		return absolute(wide.Name, false, 0, wide.Signed), nil
	}

	// x << 8 moves the low byte up, so the high byte is written first.
	value := rhs
	if base, ok := compoundBase[op]; ok {
		value = &Binary{Op: base, Lhs: lhs, Rhs: rhs}
	}
	highFirst := false
	if b, ok := value.(*Binary); ok && b.Op == OpShl {
		n, ok := g.constant(b.Rhs)
		highFirst = ok && n == 8
	}

	outer := g.accInUse
	var lo ExprType
	for pass := 0; pass < 2; pass++ {
		g.high = (pass == 0) == highFirst
		g.accInUse = outer
		dst, err := g.assignByte(op, lhs, rhs)
		if err != nil {
			g.high = false
			return nothing(), err
		}
		if !g.high {
			lo = dst
		}
	}
	g.high = false
	return lo, nil
}

func (g *funcGen) assignByte(op Op, lhs, rhs Expr) (ExprType, error) {
	outer := g.accInUse
	defer func() { g.accInUse = outer }()
	if base, ok := compoundBase[op]; ok {
		if done, loc, err := g.assignInPlace(base, lhs, rhs); done || err != nil {
			return loc, err
		}
		rhs = &Binary{Op: base, Lhs: lhs, Rhs: rhs}
	}

	v, err := g.expr(rhs)
	if err != nil {
		return nothing(), err
	}
	if v.Kind == ExprNothing || v.Kind == ExprLabel {
		return nothing(), g.syntaxErr("expression has no value")
	}
	if g.needsY(lhs) && (v.Kind == ExprX || v.Kind == ExprY || v.Kind == ExprAbsoluteY) {
		if g.accInUse {
			return nothing(), g.errTooComplex()
		}
		if err := g.loadA(v); err != nil {
			return nothing(), err
		}
		v = inA(v.Signed)
	}
	if v.Kind == ExprA {
		g.accInUse = true
	}
	dst, err := g.lvalue(lhs)
	if err != nil {
		return nothing(), err
	}
	if err := g.store(dst, v); err != nil {
		return nothing(), err
	}
	return dst, nil
}

// assignInPlace handles compound assignments that modify an 8-bit
// location directly: += 1, -= 1 and constant shifts of unsigned memory.
func (g *funcGen) assignInPlace(base Op, lhs, rhs Expr) (bool, ExprType, error) {
	n, ok := g.constant(rhs)
	if !ok || g.high {
		return false, nothing(), nil
	}
	switch base {
	case OpAdd, OpSub:
		if n != 1 {
			return false, nothing(), nil
		}
		loc, err := g.lvalue(lhs)
		if err != nil {
			return true, nothing(), err
		}
		return true, loc, g.step(lhs, base == OpAdd)
	case OpShl, OpShr:
		if n < 1 || n > 8 || g.needsY(lhs) || g.wideVar(lhs) != nil {
			return false, nothing(), nil
		}
		loc, err := g.lvalue(lhs)
		if err != nil {
			return true, nothing(), err
		}
		if loc.Kind != ExprAbsolute && loc.Kind != ExprAbsoluteX || loc.Signed {
			return false, nothing(), nil
		}
		m := asm.ASL
		if base == OpShr {
			m = asm.LSR
		}
		for i := 0; i < n; i++ {
			if err := g.emit(m, loc); err != nil {
				return true, nothing(), err
			}
		}
		return true, loc, nil
	}
	return false, nothing(), nil
}

// store writes v to dst. Register to register moves use transfers; memory
// to memory goes through the accumulator, which is pushed if live.
func (g *funcGen) store(dst, v ExprType) error {
	switch dst.Kind {
	case ExprX, ExprY:
		fromA, load, other, toA := asm.TAX, asm.LDX, ExprY, asm.TYA
		if dst.Kind == ExprY {
			fromA, load, other, toA = asm.TAY, asm.LDY, ExprX, asm.TXA
		}
		switch v.Kind {
		case dst.Kind:
			return nil
		case ExprA:
			g.implied(fromA)
			return nil
		case other:
			// X to Y and Y to X go through the accumulator.
			if g.accInUse {
				g.implied(asm.PHA)
			}
			g.implied(toA)
			g.implied(fromA)
			if g.accInUse {
				g.implied(asm.PLA)
			}
			return nil
		}
		return g.emit(load, v)

	case ExprAbsolute, ExprAbsoluteX, ExprAbsoluteY:
		switch v.Kind {
		case ExprA:
			return g.emit(asm.STA, dst)
		case ExprX:
			return g.emit(asm.STX, dst)
		case ExprY:
			return g.emit(asm.STY, dst)
		}
		if g.accInUse {
			g.implied(asm.PHA)
		}
		if err := g.emit(asm.LDA, v); err != nil {
			return err
		}
		if err := g.emit(asm.STA, dst); err != nil {
			return err
		}
		if g.accInUse {
			g.implied(asm.PLA)
		}
		return nil
	}
	return g.syntaxErr("cannot assign to %s", dst)
}
