package compiler

import "fmt"

// ExprKind tells where a computed value lives.
type ExprKind int

const (
	ExprNothing   ExprKind = iota // no value
	ExprImmediate                 // compile-time constant, not materialized yet
	ExprTmp                       // the zero page scratch cell
	ExprAbsolute                  // named memory cell
	ExprAbsoluteX                 // named memory cell indexed by X
	ExprAbsoluteY                 // named memory cell indexed by Y; (p),Y for pointers
	ExprA
	ExprX
	ExprY
	ExprLabel // branch target, never a data value
)

// ExprType is the location of a value at compile time. Only the fields that
// belong to Kind are set, so values compare with ==.
type ExprType struct {
	Kind   ExprKind
	Value  int    // ExprImmediate, full width
	Name   string // ExprAbsolute*, ExprLabel
	Is8Bit bool   // ExprAbsolute: the cell is an 8-bit view
	Offset int    // ExprAbsolute: byte offset into the cell
	Signed bool
}

func nothing() ExprType             { return ExprType{Kind: ExprNothing} }
func immediate(v int) ExprType      { return ExprType{Kind: ExprImmediate, Value: v} }
func tmp(signed bool) ExprType      { return ExprType{Kind: ExprTmp, Signed: signed} }
func inA(signed bool) ExprType      { return ExprType{Kind: ExprA, Signed: signed} }
func inX() ExprType                 { return ExprType{Kind: ExprX} }
func inY() ExprType                 { return ExprType{Kind: ExprY} }
func labelRef(name string) ExprType { return ExprType{Kind: ExprLabel, Name: name} }
func absoluteX(name string, signed bool) ExprType {
	return ExprType{Kind: ExprAbsoluteX, Name: name, Signed: signed}
}
func absoluteY(name string, signed bool) ExprType {
	return ExprType{Kind: ExprAbsoluteY, Name: name, Signed: signed}
}
func absolute(name string, is8Bit bool, offset int, signed bool) ExprType {
	return ExprType{Kind: ExprAbsolute, Name: name, Is8Bit: is8Bit, Offset: offset, Signed: signed}
}

func (e ExprType) isRegister() bool {
	return e.Kind == ExprA || e.Kind == ExprX || e.Kind == ExprY
}

func (e ExprType) isMemory() bool {
	switch e.Kind {
	case ExprTmp, ExprAbsolute, ExprAbsoluteX, ExprAbsoluteY:
		return true
	}
	return false
}

func (e ExprType) String() string {
	switch e.Kind {
	case ExprNothing:
		return "Nothing"
	case ExprImmediate:
		return fmt.Sprintf("Immediate(%d)", e.Value)
	case ExprTmp:
		return fmt.Sprintf("Tmp(signed=%v)", e.Signed)
	case ExprAbsolute:
		return fmt.Sprintf("Absolute(%s, 8bit=%v, %d)", e.Name, e.Is8Bit, e.Offset)
	case ExprAbsoluteX:
		return fmt.Sprintf("AbsoluteX(%s)", e.Name)
	case ExprAbsoluteY:
		return fmt.Sprintf("AbsoluteY(%s)", e.Name)
	case ExprA:
		return fmt.Sprintf("A(signed=%v)", e.Signed)
	case ExprX:
		return "X"
	case ExprY:
		return "Y"
	case ExprLabel:
		return fmt.Sprintf("Label(%s)", e.Name)
	}
	panic(fmt.Sprintf("unhandled ExprKind %d", e.Kind))
}

// FlagsKind tells what the N and Z flags currently reflect.
type FlagsKind int

const (
	FlagsUnknown  FlagsKind = iota
	FlagsX                  // the X register
	FlagsY                  // the Y register
	FlagsZero               // the accumulator
	FlagsAbsolute           // a memory cell
)

// FlagsState records what the last flag-setting instruction made
// observable, so a test against zero can skip its compare.
type FlagsState struct {
	Kind   FlagsKind
	Name   string
	Is8Bit bool
	Offset int
}

func flagsOf(e ExprType) FlagsState {
	switch e.Kind {
	case ExprA:
		return FlagsState{Kind: FlagsZero}
	case ExprX:
		return FlagsState{Kind: FlagsX}
	case ExprY:
		return FlagsState{Kind: FlagsY}
	case ExprAbsolute:
		return FlagsState{Kind: FlagsAbsolute, Name: e.Name, Is8Bit: e.Is8Bit, Offset: e.Offset}
	}
	return FlagsState{}
}

// reflects reports whether the flags currently mirror the value at e.
func (f FlagsState) reflects(e ExprType) bool {
	switch e.Kind {
	case ExprA, ExprX, ExprY, ExprAbsolute:
		return f.Kind != FlagsUnknown && f == flagsOf(e)
	}
	return false
}
