package compiler

import (
	"fmt"
	"strings"
)

// Op is an expression operator.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpLt
	OpGt
	OpLe
	OpGe
	OpEq
	OpNeq
	OpLogAnd
	OpLogOr
	OpAssign
	OpAddAssign
	OpSubAssign
	OpAndAssign
	OpOrAssign
	OpXorAssign
	OpShlAssign
	OpShrAssign
	OpMulAssign
	OpDivAssign
	OpTernaryCond // c ? arms
	OpTernaryArms // a : b
	OpNeg
	OpNot
	OpBitNot
	OpDeref
	OpPreInc
	OpPreDec
	OpPostInc
	OpPostDec
)

var opNames = map[Op]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpAnd: "&", OpOr: "|", OpXor: "^", OpShl: "<<", OpShr: ">>",
	OpLt: "<", OpGt: ">", OpLe: "<=", OpGe: ">=", OpEq: "==", OpNeq: "!=",
	OpLogAnd: "&&", OpLogOr: "||",
	OpAssign: "=", OpAddAssign: "+=", OpSubAssign: "-=", OpAndAssign: "&=",
	OpOrAssign: "|=", OpXorAssign: "^=", OpShlAssign: "<<=", OpShrAssign: ">>=",
	OpMulAssign: "*=", OpDivAssign: "/=",
	OpTernaryCond: "?", OpTernaryArms: ":",
	OpNeg: "-", OpNot: "!", OpBitNot: "~", OpDeref: "*",
	OpPreInc: "++", OpPreDec: "--", OpPostInc: "++", OpPostDec: "--",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// opsByName is the reverse of opNames for the binary operators; unary and
// increment operators are spelled out in the program format.
var opsByName = func() map[string]Op {
	m := make(map[string]Op)
	for op := OpAdd; op <= OpTernaryArms; op++ {
		m[opNames[op]] = op
	}
	return m
}()

// compoundBase maps a compound assignment to its arithmetic operator.
var compoundBase = map[Op]Op{
	OpAddAssign: OpAdd,
	OpSubAssign: OpSub,
	OpAndAssign: OpAnd,
	OpOrAssign:  OpOr,
	OpXorAssign: OpXor,
	OpShlAssign: OpShl,
	OpShrAssign: OpShr,
	OpMulAssign: OpMul,
	OpDivAssign: OpDiv,
}

func (o Op) isAssign() bool {
	_, ok := compoundBase[o]
	return ok || o == OpAssign
}

func (o Op) isCompare() bool {
	return o >= OpLt && o <= OpNeq
}

//  Expression nodes

// Expr is implemented by every node that produces a value.
type Expr interface {
	exprNode()
	String() string
}

// IntLit is a compile-time integer constant.
type IntLit struct {
	Value int
}

func (*IntLit) exprNode()        {}
func (l *IntLit) String() string { return fmt.Sprintf("%d", l.Value) }

// VarRef is a read of a named variable, optionally subscripted.
//
//	arr[X]
//	^^^ ^  VarRef{Name: "arr", Index: &VarRef{Name: "X"}}
//
// The index registers themselves are spelled VarRef{Name: "X"} and
// VarRef{Name: "Y"}.
type VarRef struct {
	Name  string
	Index Expr // nil, X, Y or an *IntLit
}

func (*VarRef) exprNode() {}
func (v *VarRef) String() string {
	if v.Index != nil {
		return fmt.Sprintf("%s[%s]", v.Name, v.Index)
	}
	return v.Name
}

// Binary represents Lhs Op Rhs, including assignments and the two halves of
// a ternary: c ? a : b is Binary{OpTernaryCond, c, Binary{OpTernaryArms, a, b}}.
type Binary struct {
	Op  Op
	Lhs Expr
	Rhs Expr
}

func (*Binary) exprNode() {}
func (b *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Lhs, b.Op, b.Rhs)
}

// Unary represents -e, !e, ~e and *e.
type Unary struct {
	Op      Op
	Operand Expr
}

func (*Unary) exprNode()        {}
func (u *Unary) String() string { return fmt.Sprintf("(%s%s)", u.Op, u.Operand) }

// IncDec represents ++e, --e, e++ and e--.
type IncDec struct {
	Op      Op
	Operand Expr
}

func (*IncDec) exprNode() {}
func (i *IncDec) String() string {
	if i.Op == OpPostInc || i.Op == OpPostDec {
		return fmt.Sprintf("(%s%s)", i.Operand, i.Op)
	}
	return fmt.Sprintf("(%s%s)", i.Op, i.Operand)
}

func (i *IncDec) increments() bool { return i.Op == OpPreInc || i.Op == OpPostInc }
func (i *IncDec) postfix() bool    { return i.Op == OpPostInc || i.Op == OpPostDec }

// Call represents name(args).
type Call struct {
	Name string
	Args []Expr
}

func (*Call) exprNode() {}
func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(args, ", "))
}

// Nothing is the empty expression, e.g. the missing parts of for (;;).
type Nothing struct{}

func (*Nothing) exprNode()      {}
func (*Nothing) String() string { return "" }

//  Statement nodes

// Loc is attached to every statement: the byte offset of the statement in
// the preprocessed source and an optional user label.
type Loc struct {
	Pos   int
	Label string
}

func (l Loc) loc() Loc { return l }

// Stmt is implemented by every statement node.
type Stmt interface {
	loc() Loc
}

type Block struct {
	Loc
	Stmts []Stmt
}

type ExprStmt struct {
	Loc
	Expr Expr
}

// For is for (Init; Cond; Update) Body. Cond may be nil.
type For struct {
	Loc
	Init   Expr
	Cond   Expr
	Update Expr
	Body   Stmt
}

type While struct {
	Loc
	Cond Expr
	Body Stmt
}

type DoWhile struct {
	Loc
	Body Stmt
	Cond Expr
}

// If has an optional Else.
type If struct {
	Loc
	Cond Expr
	Then Stmt
	Else Stmt
}

// SwitchArm is one group of case labels with the statements that follow
// them. A default arm has no values.
type SwitchArm struct {
	Values  []int
	Default bool
	Body    []Stmt
}

type Switch struct {
	Loc
	Selector Expr
	Arms     []SwitchArm
}

type Break struct{ Loc }

type Continue struct{ Loc }

// Return has an optional Value.
type Return struct {
	Loc
	Value Expr
}

// Asm is verbatim assembler text.
type Asm struct {
	Loc
	Text string
}

// Strobe writes to a hardware register for its side effect only.
type Strobe struct {
	Loc
	Target Expr
}

type Goto struct {
	Loc
	Label string
}

// jumps reports whether control never falls out of s.
func jumps(s Stmt) bool {
	switch s := s.(type) {
	case *Break, *Continue, *Return, *Goto:
		return true
	case *Block:
		return len(s.Stmts) > 0 && jumps(s.Stmts[len(s.Stmts)-1])
	}
	return false
}
