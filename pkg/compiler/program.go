package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Program is what the front end hands to the code generator: the symbol
// table with function bodies, and the map from source offsets to lines.
//
// The JSON form is
//
//	{
//	  "variables": [{"name": "a", "class": "zeropage", "size": 1}, ...],
//	  "functions": [{"name": "main", "bank": 0, "body": {"type": "block", ...}}, ...],
//	  "linemap":   [{"offset": 0, "file": "game.c", "line": 1}, ...]
//	}
//
// where every expression and statement node is an object with a "type"
// field. Statements carry "pos" (byte offset) and an optional "label".
type Program struct {
	Symbols *SymbolTable
	Lines   *LineMap
}

type jsonVariable struct {
	Name    string `json:"name"`
	Class   string `json:"class"`
	Size    int    `json:"size"`
	Length  int    `json:"length"`
	Signed  bool   `json:"signed"`
	Pointer bool   `json:"pointer"`
	Const   bool   `json:"const"`
	Value   int    `json:"value"`
	Address int    `json:"address"`
}

type jsonFunction struct {
	Name      string          `json:"name"`
	Bank      int             `json:"bank"`
	Interrupt bool            `json:"interrupt"`
	Returns   bool            `json:"returns"`
	Signed    bool            `json:"signed"`
	Body      json.RawMessage `json:"body"`
}

type jsonProgram struct {
	Variables []jsonVariable `json:"variables"`
	Functions []jsonFunction `json:"functions"`
	LineMap   []LineEntry    `json:"linemap"`
}

var memoryClasses = map[string]MemoryClass{
	"":         RAM,
	"zeropage": ZeroPage,
	"ram":      RAM,
	"rom":      ROM,
}

// LoadProgram decodes a program from r.
func LoadProgram(r io.Reader) (*Program, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var jp jsonProgram
	if err := dec.Decode(&jp); err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}

	syms := NewSymbolTable()
	for _, v := range jp.Variables {
		class, ok := memoryClasses[v.Class]
		if !ok {
			return nil, fmt.Errorf("program: variable %s: unknown memory class %q", v.Name, v.Class)
		}
		err := syms.DefineVariable(Variable{
			Name:    v.Name,
			Class:   class,
			Size:    v.Size,
			Length:  v.Length,
			Signed:  v.Signed,
			Pointer: v.Pointer,
			Const:   v.Const,
			Value:   v.Value,
			Address: v.Address,
		})
		if err != nil {
			return nil, fmt.Errorf("program: %w", err)
		}
	}
	for i, f := range jp.Functions {
		var body *Block
		if len(f.Body) > 0 {
			s, err := decodeStmt(f.Body)
			if err != nil {
				return nil, fmt.Errorf("program: function %s: %w", f.Name, err)
			}
			b, ok := s.(*Block)
			if !ok {
				b = &Block{Loc: s.loc(), Stmts: []Stmt{s}}
			}
			body = b
		}
		err := syms.DefineFunction(Function{
			Name:      f.Name,
			Bank:      f.Bank,
			Order:     i,
			Interrupt: f.Interrupt,
			Returns:   f.Returns,
			Signed:    f.Signed,
			Body:      body,
		})
		if err != nil {
			return nil, fmt.Errorf("program: %w", err)
		}
	}
	return &Program{Symbols: syms, Lines: NewLineMap(jp.LineMap)}, nil
}

// ParseProgram decodes a program held in memory.
func ParseProgram(data []byte) (*Program, error) {
	return LoadProgram(bytes.NewReader(data))
}

// node is a decoded JSON object whose fields are read on demand.
type node map[string]json.RawMessage

func decodeNode(raw json.RawMessage) (node, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var n node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	return n, nil
}

func (n node) kind() string {
	var t string
	_ = json.Unmarshal(n["type"], &t)
	return t
}

func (n node) str(key string) (string, error) {
	var s string
	raw, ok := n[key]
	if !ok {
		return "", fmt.Errorf("%s: missing %q", n.kind(), key)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s.%s: %w", n.kind(), key, err)
	}
	return s, nil
}

// optional fields decode to their zero value when absent.
func (n node) optional(key string, v any) error {
	raw, ok := n[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s.%s: %w", n.kind(), key, err)
	}
	return nil
}

var unaryOps = map[string]Op{"-": OpNeg, "!": OpNot, "~": OpBitNot, "*": OpDeref}

var incDecOps = map[string]Op{"++x": OpPreInc, "--x": OpPreDec, "x++": OpPostInc, "x--": OpPostDec}

func decodeExpr(raw json.RawMessage) (Expr, error) {
	n, err := decodeNode(raw)
	if err != nil || n == nil {
		return nil, err
	}

	switch n.kind() {
	case "int":
		var v int
		if err := n.optional("value", &v); err != nil {
			return nil, err
		}
		return &IntLit{Value: v}, nil

	case "var":
		name, err := n.str("name")
		if err != nil {
			return nil, err
		}
		idx, err := decodeExpr(n["index"])
		if err != nil {
			return nil, err
		}
		return &VarRef{Name: name, Index: idx}, nil

	case "binary":
		opName, err := n.str("op")
		if err != nil {
			return nil, err
		}
		op, ok := opsByName[opName]
		if !ok {
			return nil, fmt.Errorf("binary: unknown operator %q", opName)
		}
		lhs, err := decodeExpr(n["lhs"])
		if err != nil {
			return nil, err
		}
		rhs, err := decodeExpr(n["rhs"])
		if err != nil {
			return nil, err
		}
		if lhs == nil || rhs == nil {
			return nil, fmt.Errorf("binary %s: missing operand", opName)
		}
		return &Binary{Op: op, Lhs: lhs, Rhs: rhs}, nil

	case "unary", "incdec":
		opName, err := n.str("op")
		if err != nil {
			return nil, err
		}
		operand, err := decodeExpr(n["operand"])
		if err != nil {
			return nil, err
		}
		if operand == nil {
			return nil, fmt.Errorf("%s %s: missing operand", n.kind(), opName)
		}
		if n.kind() == "unary" {
			op, ok := unaryOps[opName]
			if !ok {
				return nil, fmt.Errorf("unary: unknown operator %q", opName)
			}
			return &Unary{Op: op, Operand: operand}, nil
		}
		op, ok := incDecOps[opName]
		if !ok {
			return nil, fmt.Errorf("incdec: unknown operator %q", opName)
		}
		return &IncDec{Op: op, Operand: operand}, nil

	case "call":
		name, err := n.str("name")
		if err != nil {
			return nil, err
		}
		var rawArgs []json.RawMessage
		if err := n.optional("args", &rawArgs); err != nil {
			return nil, err
		}
		args := make([]Expr, 0, len(rawArgs))
		for _, ra := range rawArgs {
			a, err := decodeExpr(ra)
			if err != nil {
				return nil, err
			}
			args = append(args, a)
		}
		return &Call{Name: name, Args: args}, nil

	case "nothing":
		return &Nothing{}, nil
	}
	return nil, fmt.Errorf("unknown expression type %q", n.kind())
}

func decodeStmts(raws []json.RawMessage) ([]Stmt, error) {
	out := make([]Stmt, 0, len(raws))
	for _, r := range raws {
		s, err := decodeStmt(r)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func decodeStmt(raw json.RawMessage) (Stmt, error) {
	n, err := decodeNode(raw)
	if err != nil || n == nil {
		return nil, err
	}
	var loc Loc
	if err := n.optional("pos", &loc.Pos); err != nil {
		return nil, err
	}
	if err := n.optional("label", &loc.Label); err != nil {
		return nil, err
	}

	// expr decodes the expression field key.
	expr := func(key string) (Expr, error) { return decodeExpr(n[key]) }
	// body decodes a required statement field.
	body := func(key string) (Stmt, error) {
		s, err := decodeStmt(n[key])
		if err == nil && s == nil {
			err = fmt.Errorf("%s: missing %q", n.kind(), key)
		}
		return s, err
	}

	switch n.kind() {
	case "block":
		var raws []json.RawMessage
		if err := n.optional("stmts", &raws); err != nil {
			return nil, err
		}
		stmts, err := decodeStmts(raws)
		if err != nil {
			return nil, err
		}
		return &Block{Loc: loc, Stmts: stmts}, nil

	case "expr":
		e, err := expr("expr")
		if err != nil {
			return nil, err
		}
		return &ExprStmt{Loc: loc, Expr: e}, nil

	case "for":
		s := &For{Loc: loc}
		if s.Init, err = expr("init"); err != nil {
			return nil, err
		}
		if s.Cond, err = expr("cond"); err != nil {
			return nil, err
		}
		if s.Update, err = expr("update"); err != nil {
			return nil, err
		}
		if s.Body, err = body("body"); err != nil {
			return nil, err
		}
		return s, nil

	case "while":
		s := &While{Loc: loc}
		if s.Cond, err = expr("cond"); err != nil {
			return nil, err
		}
		if s.Body, err = body("body"); err != nil {
			return nil, err
		}
		return s, nil

	case "dowhile":
		s := &DoWhile{Loc: loc}
		if s.Body, err = body("body"); err != nil {
			return nil, err
		}
		if s.Cond, err = expr("cond"); err != nil {
			return nil, err
		}
		return s, nil

	case "if":
		s := &If{Loc: loc}
		if s.Cond, err = expr("cond"); err != nil {
			return nil, err
		}
		if s.Then, err = body("then"); err != nil {
			return nil, err
		}
		if s.Else, err = decodeStmt(n["else"]); err != nil {
			return nil, err
		}
		return s, nil

	case "switch":
		s := &Switch{Loc: loc}
		if s.Selector, err = expr("selector"); err != nil {
			return nil, err
		}
		var arms []struct {
			Values  []int             `json:"values"`
			Default bool              `json:"default"`
			Body    []json.RawMessage `json:"body"`
		}
		if err := n.optional("arms", &arms); err != nil {
			return nil, err
		}
		for _, a := range arms {
			stmts, err := decodeStmts(a.Body)
			if err != nil {
				return nil, err
			}
			s.Arms = append(s.Arms, SwitchArm{Values: a.Values, Default: a.Default, Body: stmts})
		}
		return s, nil

	case "break":
		return &Break{Loc: loc}, nil

	case "continue":
		return &Continue{Loc: loc}, nil

	case "return":
		e, err := expr("value")
		if err != nil {
			return nil, err
		}
		return &Return{Loc: loc, Value: e}, nil

	case "asm":
		text, err := n.str("text")
		if err != nil {
			return nil, err
		}
		return &Asm{Loc: loc, Text: text}, nil

	case "strobe":
		e, err := expr("target")
		if err != nil {
			return nil, err
		}
		return &Strobe{Loc: loc, Target: e}, nil

	case "goto":
		to, err := n.str("to")
		if err != nil {
			return nil, err
		}
		return &Goto{Loc: loc, Label: to}, nil
	}
	return nil, fmt.Errorf("unknown statement type %q", n.kind())
}
