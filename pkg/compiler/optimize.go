package compiler

// reachableFunctions returns the names of the functions reachable from
// main and the interrupt handlers. Calls made from inline assembler are
// invisible here, so this is only used at optimization level 2.
func reachableFunctions(syms *SymbolTable) map[string]bool {
	reachable := make(map[string]bool)
	var worklist []string

	// addReachable marks name and queues its body for a scan.
	addReachable := func(name string) {
		if !reachable[name] {
			reachable[name] = true
			worklist = append(worklist, name)
		}
	}

	// Implicit roots: main and every interrupt handler
	for _, f := range syms.Functions() {
		if f.Name == "main" || f.Interrupt {
			addReachable(f.Name)
		}
	}

	for len(worklist) > 0 {
		curr := worklist[0]
		worklist = worklist[1:]

		f, exists := syms.Function(curr)
		if !exists || f.Body == nil {
			continue
		}
		calls := make(map[string]bool)
		findCallsStmt(f.Body, calls)
		for call := range calls {
			if _, ok := syms.Function(call); ok {
				addReachable(call)
			}
		}
	}
	return reachable
}

// findCallsExpr recursively extracts function call names from an expression.
func findCallsExpr(e Expr, calls map[string]bool) {
	if e == nil {
		return
	}
	switch n := e.(type) {
	case *Call:
		calls[n.Name] = true
		for _, arg := range n.Args {
			findCallsExpr(arg, calls)
		}
	case *Binary:
		findCallsExpr(n.Lhs, calls)
		findCallsExpr(n.Rhs, calls)
	case *Unary:
		findCallsExpr(n.Operand, calls)
	case *IncDec:
		findCallsExpr(n.Operand, calls)
	case *VarRef:
		findCallsExpr(n.Index, calls)
	case *IntLit, *Nothing:
		// literals hold no calls
	}
}

// findCallsStmt recursively extracts function call names from a statement.
func findCallsStmt(s Stmt, calls map[string]bool) {
	if s == nil {
		return
	}
	switch n := s.(type) {
	case *Block:
		for _, child := range n.Stmts {
			findCallsStmt(child, calls)
		}
	case *ExprStmt:
		findCallsExpr(n.Expr, calls)
	case *Return:
		findCallsExpr(n.Value, calls)
	case *If:
		findCallsExpr(n.Cond, calls)
		findCallsStmt(n.Then, calls)
		findCallsStmt(n.Else, calls)
	case *While:
		findCallsExpr(n.Cond, calls)
		findCallsStmt(n.Body, calls)
	case *DoWhile:
		findCallsStmt(n.Body, calls)
		findCallsExpr(n.Cond, calls)
	case *For:
		findCallsExpr(n.Init, calls)
		findCallsExpr(n.Cond, calls)
		findCallsExpr(n.Update, calls)
		findCallsStmt(n.Body, calls)
	case *Switch:
		findCallsExpr(n.Selector, calls)
		for _, arm := range n.Arms {
			for _, child := range arm.Body {
				findCallsStmt(child, calls)
			}
		}
	case *Strobe:
		findCallsExpr(n.Target, calls)
	case *Asm, *Break, *Continue, *Goto:
		// opaque to the call scan
	}
}
