package compiler

import "github.com/xyproto/env/v2"

// Options controls the compile pipeline.
type Options struct {
	// Level 0 emits the raw stream, 1 runs the peephole optimizer, 2 also
	// drops functions that main and the interrupt handlers never call.
	Level   int
	Cycles  bool // annotate instructions with their cycle counts
	Verbose bool // per-function statistics on stderr
}

// OptionsFromEnv reads the defaults from CC78_OPT, CC78_CYCLES and
// CC78_VERBOSE. The env package snapshots the environment on first use;
// call env.Load after os.Setenv to see the new values.
func OptionsFromEnv() Options {
	return Options{
		Level:   env.Int("CC78_OPT", 1),
		Cycles:  env.Bool("CC78_CYCLES"),
		Verbose: env.Bool("CC78_VERBOSE"),
	}
}
