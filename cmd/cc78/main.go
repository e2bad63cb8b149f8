package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"cc78/pkg/compiler"
)

func main() {
	defaults := compiler.OptionsFromEnv()
	in := flag.String("in", "", "program JSON produced by the front end (default stdin)")
	out := flag.String("out", "", "assembler output file (default stdout)")
	level := flag.Int("O", defaults.Level, "optimization level: 0, 1 or 2")
	cycles := flag.Bool("cycles", defaults.Cycles, "annotate instructions with cycle counts")
	verbose := flag.Bool("v", defaults.Verbose, "print per-function statistics")
	exec := flag.Bool("run", false, "run main on the 6502 emulator and print the variables")
	steps := flag.Int("steps", 1000000, "instruction limit for -run")
	flag.Parse()

	opts := compiler.Options{Level: *level, Cycles: *cycles, Verbose: *verbose}
	if err := run(*in, *out, opts, *exec, *steps); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(in, out string, opts compiler.Options, exec bool, steps int) error {
	var r io.Reader = os.Stdin
	if in != "" {
		f, err := os.Open(in)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	prog, err := compiler.LoadProgram(r)
	if err != nil {
		return err
	}
	if opts.Verbose {
		fmt.Fprint(os.Stderr, prog.Symbols)
	}

	res, err := compiler.Compile(prog.Symbols, opts)
	if err != nil {
		var cerr *compiler.Error
		if errors.As(err, &cerr) {
			return errors.New(prog.Lines.Format(cerr))
		}
		return err
	}

	var w io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := res.Write(w, opts.Cycles); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if opts.Verbose {
		fmt.Fprintf(os.Stderr, "%d functions, %d instructions removed, %d branches fixed, %d trampolines\n",
			len(res.Order), res.Removed, res.Fixes, len(res.Trampolines))
	}
	if exec {
		return execute(res, prog.Symbols, steps)
	}
	return nil
}

// execute runs the compiled program and dumps the machine state to stderr.
func execute(res *compiler.Result, syms *compiler.SymbolTable, steps int) error {
	m, err := compiler.NewMachine(res, syms)
	if err != nil {
		return err
	}
	if err := m.Run(steps); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "run complete: %d instructions, A=$%02X X=$%02X Y=$%02X\n",
		m.Steps, m.CPU.Reg.A, m.CPU.Reg.X, m.CPU.Reg.Y)
	for _, v := range syms.Variables() {
		if v.Const {
			continue
		}
		n := v.Size
		if v.Length > 0 {
			n *= v.Length
		}
		fmt.Fprintf(os.Stderr, "  %-20s $%04X:", v.Name, m.Addrs[v.Name])
		for i := 0; i < n; i++ {
			fmt.Fprintf(os.Stderr, " %02X", m.Peek(v.Name, i))
		}
		fmt.Fprintln(os.Stderr)
	}
	return nil
}
