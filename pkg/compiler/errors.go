package compiler

import "fmt"

// ErrorKind classifies compile errors.
type ErrorKind int

const (
	KindSyntax        ErrorKind = iota // unsupported construct or misuse, tied to a position
	KindUnimplemented                  // operation the target cannot do (multiply, divide, ...)
)

func (k ErrorKind) String() string {
	if k == KindUnimplemented {
		return "unimplemented"
	}
	return "syntax error"
}

// Error is a compile error at a byte offset of the preprocessed source.
type Error struct {
	Kind ErrorKind
	Pos  int
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("offset %d: %s: %s", e.Pos, e.Kind, e.Msg)
}

func (g *funcGen) syntaxErr(format string, args ...any) error {
	return &Error{Kind: KindSyntax, Pos: g.pos, Msg: fmt.Sprintf(format, args...)}
}

func (g *funcGen) unimplemented(format string, args ...any) error {
	return &Error{Kind: KindUnimplemented, Pos: g.pos, Msg: fmt.Sprintf(format, args...)}
}

// errTooComplex is returned when a value needs a location and every one of
// the accumulator and the scratch cell is taken.
func (g *funcGen) errTooComplex() error {
	return g.syntaxErr("code too complex for the compiler")
}
