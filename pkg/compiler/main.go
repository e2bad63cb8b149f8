// Package compiler provides the code generator of a C subset for the
// 6502 in the Atari 7800. It lowers a parsed program into one instruction
// stream per function.
//
// Pipeline: program JSON → SymbolTable → Generate → asm.Optimize → asm.FixBranches → assembler text
package compiler
