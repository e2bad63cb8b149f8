package compiler

import (
	"fmt"
	"io"
	"os"
	"sort"

	"cc78/pkg/asm"
)

// Generator is the program-level generation state: one stream per
// function plus the trampolines the layout step has to provide.
type Generator struct {
	syms        *SymbolTable
	streams     map[string]*asm.Stream
	order       []string
	trampolines map[string]bool
}

func NewGenerator(syms *SymbolTable) *Generator {
	return &Generator{
		syms:        syms,
		streams:     make(map[string]*asm.Stream),
		trampolines: make(map[string]bool),
	}
}

// Function generates fn into a new stream. Label counters start over for
// every function.
func (g *Generator) Function(fn *Function) (*asm.Stream, error) {
	if _, ok := g.streams[fn.Name]; ok {
		return nil, fmt.Errorf("function %s generated twice", fn.Name)
	}
	fg := newFuncGen(fn, g.syms, g.trampolines)
	if err := fg.function(); err != nil {
		return nil, err
	}
	g.streams[fn.Name] = fg.out
	g.order = append(g.order, fn.Name)
	return fg.out, nil
}

// Trampolines returns the functions that are called from the fixed bank
// into another bank, sorted by name.
func (g *Generator) Trampolines() []string {
	out := make([]string, 0, len(g.trampolines))
	for name := range g.trampolines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Result is a compiled program, ready for the layout step.
type Result struct {
	Streams     map[string]*asm.Stream
	Order       []string // functions in declaration order
	Trampolines []string
	Removed     int // instructions removed by the peephole optimizer
	Fixes       int // branches rewritten as jumps
}

// Stream returns the stream of the named function, or nil.
func (r *Result) Stream(name string) *asm.Stream {
	return r.Streams[name]
}

// Write prints every stream in declaration order.
func (r *Result) Write(w io.Writer, cycles bool) error {
	for i, name := range r.Order {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if err := r.Streams[name].Write(w, cycles); err != nil {
			return err
		}
	}
	if len(r.Trampolines) > 0 {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		for _, name := range r.Trampolines {
			if _, err := fmt.Fprintf(w, "; trampoline %s_trampoline\n", name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compile generates every function of syms, then optimizes and repairs
// the branches of each stream. It stops at the first error.
func Compile(syms *SymbolTable, opts Options) (*Result, error) {
	gen := NewGenerator(syms)
	var keep map[string]bool
	if opts.Level >= 2 {
		keep = reachableFunctions(syms)
	}

	res := &Result{}
	for _, f := range syms.Functions() {
		if keep != nil && !keep[f.Name] {
			if opts.Verbose {
				fmt.Fprintf(os.Stderr, "%s: unreachable, dropped\n", f.Name)
			}
			continue
		}
		s, err := gen.Function(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		if opts.Level >= 1 {
			res.Removed += asm.Optimize(s)
		}
		res.Fixes += asm.FixBranches(s)
		if opts.Verbose {
			fmt.Fprintf(os.Stderr, "%s: %d instructions, %d removed, %d branches fixed\n",
				f.Name, len(s.Instructions()), s.Removed(), s.Fixes())
		}
	}
	res.Streams = gen.streams
	res.Order = gen.order
	res.Trampolines = gen.Trampolines()
	return res, nil
}
