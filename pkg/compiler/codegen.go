package compiler

import (
	"fmt"

	"cc78/pkg/asm"

	"github.com/beevik/go6502/cpu"
)

// tmpCell is the zero page scratch byte the layout step reserves for the
// generated code.
const tmpCell = "cctmp"

type loopLabels struct {
	cont string // empty inside a switch that is not nested in a loop
	brk  string
}

// funcGen is the generation context of one function. Label counters live
// here, so every function numbers its labels from 1.
type funcGen struct {
	syms        *SymbolTable
	fn          *Function
	out         *asm.Stream
	trampolines map[string]bool

	accInUse bool // the accumulator holds a value that must survive
	tmpInUse bool // the scratch cell holds a value that must survive
	flags    FlagsState
	high     bool // generating the high byte of a 16-bit assignment

	forCount   int
	ifCount    int // if, ternary, switch and helper labels
	whileCount int // while and do/while

	loops    []loopLabels
	deferred []*IncDec
	pos      int
}

// Generate lowers the body of fn into a new instruction stream.
func Generate(fn *Function, syms *SymbolTable) (*asm.Stream, error) {
	return NewGenerator(syms).Function(fn)
}

func newFuncGen(fn *Function, syms *SymbolTable, trampolines map[string]bool) *funcGen {
	return &funcGen{
		syms:        syms,
		fn:          fn,
		out:         asm.NewStream(fn.Name),
		trampolines: trampolines,
	}
}

func (g *funcGen) function() error {
	g.label(g.fn.Name)
	if g.fn.Body != nil {
		if err := g.stmt(g.fn.Body); err != nil {
			return err
		}
		if n := len(g.fn.Body.Stmts); n > 0 {
			if _, ok := g.fn.Body.Stmts[n-1].(*Return); ok {
				return nil
			}
		}
	}
	g.ret()
	return nil
}

func (g *funcGen) ret() {
	if g.fn.Interrupt {
		g.implied(asm.RTI)
	} else {
		g.implied(asm.RTS)
	}
}

//  Labels

func (g *funcGen) nextFor() int   { g.forCount++; return g.forCount }
func (g *funcGen) nextIf() int    { g.ifCount++; return g.ifCount }
func (g *funcGen) nextWhile() int { g.whileCount++; return g.whileCount }

// label places a label. Labels are join points, so nothing is known about
// the flags afterwards.
func (g *funcGen) label(name string) {
	g.out.Label(name)
	g.flags = FlagsState{}
}

//  Emission

// operand returns the addressing mode and the operand text for e.
func (g *funcGen) operand(e ExprType) (cpu.Mode, string, error) {
	switch e.Kind {
	case ExprNothing:
		return cpu.IMP, "", nil
	case ExprImmediate:
		v := e.Value
		if g.high {
			v >>= 8
		}
		return cpu.IMM, fmt.Sprintf("#%d", v&0xff), nil
	case ExprTmp:
		return cpu.ZPG, tmpCell, nil
	case ExprAbsolute:
		text := e.Name
		if e.Offset != 0 {
			text = fmt.Sprintf("%s+%d", e.Name, e.Offset)
		}
		return g.memoryMode(e.Name, cpu.ZPG, cpu.ABS), text, nil
	case ExprAbsoluteX:
		return g.memoryMode(e.Name, cpu.ZPX, cpu.ABX), e.Name + ",X", nil
	case ExprAbsoluteY:
		if v, ok := g.syms.Variable(e.Name); ok && v.Pointer {
			return cpu.IDY, "(" + e.Name + "),Y", nil
		}
		return g.memoryMode(e.Name, cpu.ZPY, cpu.ABY), e.Name + ",Y", nil
	case ExprA:
		return cpu.ACC, "", nil
	case ExprLabel:
		return cpu.ABS, e.Name, nil
	case ExprX, ExprY:
		return 0, "", fmt.Errorf("register %s is not a memory operand", e)
	}
	panic(fmt.Sprintf("unhandled ExprKind %d", e.Kind))
}

func (g *funcGen) memoryMode(name string, zp, abs cpu.Mode) cpu.Mode {
	if v, ok := g.syms.Variable(name); ok && v.Class == ZeroPage {
		return zp
	}
	return abs
}

// emit adds m with operand e. Mnemonic and addressing mode are checked
// against the processor's instruction table.
func (g *funcGen) emit(m asm.Mnemonic, e ExprType) error {
	mode, text, err := g.operand(e)
	if err != nil {
		return g.syntaxErr("%s: %v", m, err)
	}
	in, err := asm.NewInstruction(m, mode, text)
	if err != nil {
		return g.syntaxErr("%v (operand %s)", err, e)
	}
	g.out.Add(in)
	if e.Kind == ExprTmp && m != asm.STA && m != asm.STX && m != asm.STY {
		g.tmpInUse = false
	}
	g.track(m, e)
	return nil
}

// emitImm adds m with a literal byte operand, whatever the current pass.
func (g *funcGen) emitImm(m asm.Mnemonic, b int) {
	g.out.Add(asm.MustInstruction(m, cpu.IMM, fmt.Sprintf("#%d", b&0xff)))
	g.track(m, nothing())
}

func (g *funcGen) implied(m asm.Mnemonic) {
	g.out.Add(asm.MustInstruction(m, cpu.IMP, ""))
	g.track(m, nothing())
}

func (g *funcGen) branch(m asm.Mnemonic, label string) {
	g.out.Add(asm.Branch(m, label))
}

func (g *funcGen) jump(label string) {
	g.out.Add(asm.MustInstruction(asm.JMP, cpu.ABS, label))
}

// track updates the flags state after m with operand e.
func (g *funcGen) track(m asm.Mnemonic, e ExprType) {
	switch m {
	case asm.LDA:
		if e.Kind == ExprAbsolute {
			g.flags = flagsOf(e)
		} else {
			g.flags = FlagsState{Kind: FlagsZero}
		}
	case asm.ADC, asm.SBC, asm.AND, asm.ORA, asm.EOR, asm.PLA, asm.TXA, asm.TYA:
		g.flags = FlagsState{Kind: FlagsZero}
	case asm.ASL, asm.LSR, asm.ROL, asm.ROR:
		g.flags = flagsOf(e)
	case asm.LDX, asm.INX, asm.DEX, asm.TAX, asm.TSX:
		g.flags = FlagsState{Kind: FlagsX}
	case asm.LDY, asm.INY, asm.DEY, asm.TAY:
		g.flags = FlagsState{Kind: FlagsY}
	case asm.INC, asm.DEC:
		g.flags = flagsOf(e)
	case asm.STA, asm.STX, asm.STY:
		src := map[asm.Mnemonic]FlagsKind{asm.STA: FlagsZero, asm.STX: FlagsX, asm.STY: FlagsY}[m]
		switch {
		case g.flags.Kind == src && e.Kind == ExprAbsolute:
			g.flags = flagsOf(e)
		case g.flags.Kind == FlagsAbsolute && g.flags.Name == e.Name:
			g.flags = FlagsState{}
		}
	case asm.CLC, asm.SEC, asm.PHA, asm.PHP, asm.NOP, asm.TXS:
	default:
		g.flags = FlagsState{}
	}
}

// loadA stages e into the accumulator.
func (g *funcGen) loadA(e ExprType) error {
	switch e.Kind {
	case ExprA:
		return nil
	case ExprX:
		g.implied(asm.TXA)
		return nil
	case ExprY:
		g.implied(asm.TYA)
		return nil
	case ExprImmediate, ExprTmp, ExprAbsolute, ExprAbsoluteX, ExprAbsoluteY:
		return g.emit(asm.LDA, e)
	case ExprNothing, ExprLabel:
		return g.syntaxErr("expression has no value")
	}
	panic(fmt.Sprintf("unhandled ExprKind %d", e.Kind))
}

// spill moves a register value into the scratch cell.
func (g *funcGen) spill(e ExprType) (ExprType, error) {
	if g.tmpInUse {
		return nothing(), g.errTooComplex()
	}
	var m asm.Mnemonic
	switch e.Kind {
	case ExprA:
		m = asm.STA
	case ExprX:
		m = asm.STX
	case ExprY:
		m = asm.STY
	default:
		return e, nil
	}
	if err := g.emit(m, tmp(e.Signed)); err != nil {
		return nothing(), err
	}
	g.tmpInUse = true
	return tmp(e.Signed), nil
}

// save pushes the accumulator when it holds a live value. The returned
// function commits the new accumulator value to the scratch cell and
// restores the old one.
func (g *funcGen) save(outer bool) (restore func(signed bool) (ExprType, error), err error) {
	if !outer {
		return func(signed bool) (ExprType, error) { return inA(signed), nil }, nil
	}
	g.implied(asm.PHA)
	return func(signed bool) (ExprType, error) {
		if g.tmpInUse {
			return nothing(), g.errTooComplex()
		}
		if err := g.emit(asm.STA, tmp(signed)); err != nil {
			return nothing(), err
		}
		g.tmpInUse = true
		g.implied(asm.PLA)
		return tmp(signed), nil
	}, nil
}

//  Statements

func (g *funcGen) stmt(s Stmt) error {
	loc := s.loc()
	g.pos = loc.Pos
	if loc.Label != "" {
		g.label("." + loc.Label)
	}

	switch s := s.(type) {
	case *Block:
		for _, st := range s.Stmts {
			if err := g.stmt(st); err != nil {
				return err
			}
		}
		return nil

	case *ExprStmt:
		if s.Expr != nil {
			if _, err := g.expr(s.Expr); err != nil {
				return err
			}
		}
		return g.endStatement()

	case *If:
		return g.ifStmt(s)

	case *For:
		return g.forStmt(s)

	case *While:
		return g.whileStmt(s)

	case *DoWhile:
		return g.doWhileStmt(s)

	case *Switch:
		return g.switchStmt(s)

	case *Break:
		target, err := g.breakTarget()
		if err != nil {
			return err
		}
		g.jump(target)
		return nil

	case *Continue:
		target, err := g.continueTarget()
		if err != nil {
			return err
		}
		g.jump(target)
		return nil

	case *Goto:
		g.jump("." + s.Label)
		return nil

	case *Return:
		if s.Value != nil {
			if g.fn.Interrupt {
				return g.syntaxErr("interrupt handler %s cannot return a value", g.fn.Name)
			}
			v, err := g.expr(s.Value)
			if err != nil {
				return err
			}
			if err := g.loadA(v); err != nil {
				return err
			}
			g.accInUse = true
		}
		if err := g.endStatement(); err != nil {
			return err
		}
		g.ret()
		return nil

	case *Asm:
		g.out.Inline(s.Text)
		g.flags = FlagsState{}
		return nil

	case *Strobe:
		return g.strobe(s.Target)
	}
	return g.syntaxErr("unsupported statement %T", s)
}

// endStatement runs the postfix operations deferred by the statement and
// releases every location.
func (g *funcGen) endStatement() error {
	if _, err := g.flush(); err != nil {
		return err
	}
	g.accInUse = false
	g.tmpInUse = false
	return nil
}

// flush emits the deferred postfix increments and decrements.
func (g *funcGen) flush() (bool, error) {
	if len(g.deferred) == 0 {
		return false, nil
	}
	ops := g.deferred
	g.deferred = nil
	high := g.high
	g.high = false
	defer func() { g.high = high }()
	for _, op := range ops {
		if err := g.step(op.Operand, op.increments()); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (g *funcGen) breakTarget() (string, error) {
	if len(g.loops) == 0 {
		return "", g.syntaxErr("break statement not within loop or switch")
	}
	return g.loops[len(g.loops)-1].brk, nil
}

func (g *funcGen) continueTarget() (string, error) {
	if len(g.loops) == 0 || g.loops[len(g.loops)-1].cont == "" {
		return "", g.syntaxErr("continue statement not within a loop")
	}
	return g.loops[len(g.loops)-1].cont, nil
}

// jumpTarget returns the label a statement jumps to when it is nothing but
// a break, continue or goto.
func (g *funcGen) jumpTarget(s Stmt) (string, bool, error) {
	if b, ok := s.(*Block); ok && len(b.Stmts) == 1 && b.Label == "" {
		s = b.Stmts[0]
	}
	if s.loc().Label != "" {
		return "", false, nil
	}
	switch s := s.(type) {
	case *Break:
		t, err := g.breakTarget()
		return t, err == nil, err
	case *Continue:
		t, err := g.continueTarget()
		return t, err == nil, err
	case *Goto:
		return "." + s.Label, true, nil
	}
	return "", false, nil
}

func (g *funcGen) ifStmt(s *If) error {
	if s.Else == nil {
		target, ok, err := g.jumpTarget(s.Then)
		if err != nil {
			return err
		}
		if ok {
			return g.condition(s.Cond, target, false)
		}
	}

	n := g.nextIf()
	elseLabel := fmt.Sprintf(".else%d", n)
	endLabel := fmt.Sprintf(".ifend%d", n)
	if s.Else == nil {
		elseLabel = endLabel
	}

	if err := g.condition(s.Cond, elseLabel, true); err != nil {
		return err
	}
	if err := g.stmt(s.Then); err != nil {
		return err
	}
	if s.Else != nil {
		if !jumps(s.Then) {
			g.jump(endLabel)
		}
		g.label(elseLabel)
		if err := g.stmt(s.Else); err != nil {
			return err
		}
	}
	g.label(endLabel)
	return nil
}

// forStmt tests the condition before entering the loop and again after the
// update, so the back edge is a conditional branch.
func (g *funcGen) forStmt(s *For) error {
	if s.Init != nil {
		if _, err := g.expr(s.Init); err != nil {
			return err
		}
		if err := g.endStatement(); err != nil {
			return err
		}
	}

	n := g.nextFor()
	start := fmt.Sprintf(".for%d", n)
	update := fmt.Sprintf(".forupdate%d", n)
	end := fmt.Sprintf(".forend%d", n)

	cond := s.Cond
	if _, ok := cond.(*Nothing); ok {
		cond = nil
	}
	if cond != nil {
		if err := g.condition(cond, end, true); err != nil {
			return err
		}
	}

	g.label(start)
	g.loops = append(g.loops, loopLabels{cont: update, brk: end})
	if err := g.stmt(s.Body); err != nil {
		return err
	}
	g.loops = g.loops[:len(g.loops)-1]

	g.label(update)
	if s.Update != nil {
		if _, err := g.expr(s.Update); err != nil {
			return err
		}
	}
	if err := g.endStatement(); err != nil {
		return err
	}
	if cond != nil {
		if err := g.condition(cond, start, false); err != nil {
			return err
		}
	} else {
		g.jump(start)
	}
	g.label(end)
	return nil
}

func (g *funcGen) whileStmt(s *While) error {
	n := g.nextWhile()
	start := fmt.Sprintf(".while%d", n)
	end := fmt.Sprintf(".whileend%d", n)

	g.label(start)
	if err := g.condition(s.Cond, end, true); err != nil {
		return err
	}
	g.loops = append(g.loops, loopLabels{cont: start, brk: end})
	if err := g.stmt(s.Body); err != nil {
		return err
	}
	g.loops = g.loops[:len(g.loops)-1]
	g.jump(start)
	g.label(end)
	return nil
}

func (g *funcGen) doWhileStmt(s *DoWhile) error {
	n := g.nextWhile()
	start := fmt.Sprintf(".dowhile%d", n)
	cond := fmt.Sprintf(".dowhilecond%d", n)
	end := fmt.Sprintf(".dowhileend%d", n)

	g.label(start)
	g.loops = append(g.loops, loopLabels{cont: cond, brk: end})
	if err := g.stmt(s.Body); err != nil {
		return err
	}
	g.loops = g.loops[:len(g.loops)-1]
	g.label(cond)
	if err := g.condition(s.Cond, start, false); err != nil {
		return err
	}
	g.label(end)
	return nil
}

// switchStmt lays out the test code of every arm right before its body.
// A failed test jumps to the tests of the next arm that has values; the
// last one goes to the default arm or out of the switch. A body that falls
// into an arm with tests jumps over them.
func (g *funcGen) switchStmt(s *Switch) error {
	if g.wideVar(s.Selector) != nil {
		return g.syntaxErr("16-bit switch selector is not supported")
	}
	sel, err := g.expr(s.Selector)
	if err != nil {
		return err
	}
	switch sel.Kind {
	case ExprX, ExprY, ExprA:
	default:
		if err := g.loadA(sel); err != nil {
			return err
		}
		sel = inA(sel.Signed)
	}
	if len(g.deferred) > 0 && sel.Kind != ExprA {
		// switch (X++) tests the old value.
		if err := g.loadA(sel); err != nil {
			return err
		}
		sel = inA(false)
	}
	g.accInUse = true
	if _, err := g.flush(); err != nil {
		return err
	}
	g.accInUse = false
	compare := map[ExprKind]asm.Mnemonic{ExprA: asm.CMP, ExprX: asm.CPX, ExprY: asm.CPY}[sel.Kind]

	n := g.nextIf()
	end := fmt.Sprintf(".switchend%d", n)
	body := func(k int) string { return fmt.Sprintf(".switchbody%d_%d", n, k) }
	next := func(k int) string { return fmt.Sprintf(".switchnext%d_%d", n, k) }

	def, first := -1, -1
	for k, arm := range s.Arms {
		if arm.Default || len(arm.Values) == 0 {
			if def >= 0 {
				return g.syntaxErr("multiple default labels in one switch")
			}
			def = k
		} else if first < 0 {
			first = k
		}
	}
	// fail returns where control goes when every value of arm k differs.
	fail := func(k int) string {
		for j := k + 1; j < len(s.Arms); j++ {
			if len(s.Arms[j].Values) > 0 && !s.Arms[j].Default {
				return next(j)
			}
		}
		if def >= 0 {
			return body(def)
		}
		return end
	}

	cont := ""
	if len(g.loops) > 0 {
		cont = g.loops[len(g.loops)-1].cont
	}
	g.loops = append(g.loops, loopLabels{cont: cont, brk: end})

	if first > 0 {
		g.jump(next(first))
	} else if first < 0 && def > 0 {
		g.jump(body(def))
	}
	for k, arm := range s.Arms {
		if !arm.Default && len(arm.Values) > 0 {
			if k > 0 {
				if prev := s.Arms[k-1].Body; len(prev) == 0 || !jumps(prev[len(prev)-1]) {
					g.jump(body(k))
				}
			}
			if k != 0 {
				g.label(next(k))
			}
			for i, v := range arm.Values {
				g.emitImm(compare, v)
				if i < len(arm.Values)-1 {
					g.branch(asm.BEQ, body(k))
				} else {
					g.branch(asm.BNE, fail(k))
				}
			}
		}
		g.label(body(k))
		for _, st := range arm.Body {
			if err := g.stmt(st); err != nil {
				return err
			}
		}
	}
	g.loops = g.loops[:len(g.loops)-1]
	g.label(end)
	return nil
}

// strobe writes to a hardware register; the value written does not matter.
func (g *funcGen) strobe(target Expr) error {
	dst, err := g.lvalue(target)
	if err != nil {
		return err
	}
	if !dst.isMemory() {
		return g.syntaxErr("strobe target must be a memory location")
	}
	return g.emit(asm.STA, dst)
}
