package asm

import (
	"testing"

	"github.com/beevik/go6502/cpu"
)

func TestOptimize(t *testing.T) {
	tests := []struct {
		name        string
		build       func(s *Stream)
		wantRemoved int
		want        []string
		notWant     []string
	}{
		{
			name: "redundant immediate load",
			build: func(s *Stream) {
				s.Add(ins(LDA, cpu.IMM, "#5"))
				s.Add(ins(STA, cpu.ABS, "a"))
				s.Add(ins(LDA, cpu.IMM, "#5"))
				s.Add(ins(STA, cpu.ABS, "b"))
			},
			wantRemoved: 1,
			want:        []string{"\tLDA #5\n\tSTA a\n\tSTA b\n"},
		},
		{
			name: "pull then push",
			build: func(s *Stream) {
				s.Add(ins(PLA, cpu.IMP, ""))
				s.Add(ins(PHA, cpu.IMP, ""))
				s.Add(ins(RTS, cpu.IMP, ""))
			},
			wantRemoved: 2,
			notWant:     []string{"PLA", "PHA"},
		},
		{
			name: "store then load",
			build: func(s *Stream) {
				s.Add(ins(ADC, cpu.ABS, "b"))
				s.Add(ins(STA, cpu.ABS, "a"))
				s.Add(ins(LDA, cpu.ABS, "a"))
				s.Add(ins(RTS, cpu.IMP, ""))
			},
			wantRemoved: 1,
			notWant:     []string{"LDA a"},
		},
		{
			name: "store then load of another cell",
			build: func(s *Stream) {
				s.Add(ins(STA, cpu.ABS, "a"))
				s.Add(ins(LDA, cpu.ABS, "b"))
			},
			wantRemoved: 0,
		},
		{
			name: "compare against known value, branch taken",
			build: func(s *Stream) {
				s.Add(ins(LDX, cpu.IMM, "#3"))
				s.Add(ins(CPX, cpu.IMM, "#3"))
				s.Add(Branch(BEQ, ".l"))
				s.Add(ins(RTS, cpu.IMP, ""))
				s.Label(".l")
				s.Add(ins(RTS, cpu.IMP, ""))
			},
			wantRemoved: 1,
			want:        []string{"\tLDX #3\n\tJMP .l\n"},
			notWant:     []string{"CPX", "BEQ"},
		},
		{
			name: "compare against known value, branch never taken",
			build: func(s *Stream) {
				s.Add(ins(LDY, cpu.IMM, "#3"))
				s.Add(ins(CPY, cpu.IMM, "#4"))
				s.Add(Branch(BEQ, ".l"))
				s.Add(ins(RTS, cpu.IMP, ""))
				s.Label(".l")
				s.Add(ins(RTS, cpu.IMP, ""))
			},
			wantRemoved: 2,
			notWant:     []string{"CPY", "BEQ", "JMP"},
		},
		{
			name: "compare kept when a second branch reads the flags",
			build: func(s *Stream) {
				s.Add(ins(LDA, cpu.IMM, "#3"))
				s.Add(ins(CMP, cpu.IMM, "#3"))
				s.Add(Branch(BNE, ".l"))
				s.Add(Branch(BCC, ".l"))
				s.Label(".l")
			},
			wantRemoved: 0,
		},
		{
			name: "label forgets register contents",
			build: func(s *Stream) {
				s.Add(ins(LDA, cpu.IMM, "#5"))
				s.Label(".l")
				s.Add(ins(LDA, cpu.IMM, "#5"))
				s.Add(ins(STA, cpu.ABS, "a"))
			},
			wantRemoved: 0,
		},
		{
			name: "call forgets register contents",
			build: func(s *Stream) {
				s.Add(ins(LDA, cpu.IMM, "#5"))
				s.Add(ins(JSR, cpu.ABS, "f"))
				s.Add(ins(LDA, cpu.IMM, "#5"))
				s.Add(ins(STA, cpu.ABS, "a"))
			},
			wantRemoved: 0,
		},
		{
			name: "load kept when its flags are tested",
			build: func(s *Stream) {
				s.Add(ins(LDA, cpu.IMM, "#0"))
				s.Add(ins(STA, cpu.ABS, "a"))
				s.Add(ins(LDA, cpu.IMM, "#0"))
				s.Add(Branch(BNE, ".l"))
				s.Label(".l")
			},
			wantRemoved: 0,
		},
		{
			name: "load kept when a store separates it from the branch",
			build: func(s *Stream) {
				s.Add(ins(LDA, cpu.IMM, "#0"))
				s.Add(ins(STA, cpu.ABS, "a"))
				s.Add(ins(LDX, cpu.IMM, "#3"))
				s.Add(ins(LDA, cpu.IMM, "#0"))
				s.Add(ins(STA, cpu.ABS, "b"))
				s.Add(Branch(BNE, ".l"))
				s.Label(".l")
			},
			wantRemoved: 0,
		},
		{
			name: "load removed when the flags are set again before the branch",
			build: func(s *Stream) {
				s.Add(ins(LDA, cpu.IMM, "#0"))
				s.Add(ins(STA, cpu.ABS, "a"))
				s.Add(ins(LDA, cpu.IMM, "#0"))
				s.Add(ins(STA, cpu.ABS, "b"))
				s.Add(ins(LDX, cpu.IMM, "#1"))
				s.Add(Branch(BNE, ".l"))
				s.Label(".l")
			},
			wantRemoved: 1,
			want:        []string{"\tLDA #0\n\tSTA a\n\tSTA b\n"},
		},
		{
			name: "reload kept when its flags are tested",
			build: func(s *Stream) {
				s.Add(ins(JSR, cpu.ABS, "f"))
				s.Add(ins(STA, cpu.ABS, "a"))
				s.Add(ins(LDA, cpu.ABS, "a"))
				s.Add(Branch(BNE, ".l"))
				s.Label(".l")
			},
			wantRemoved: 0,
		},
		{
			name: "reload kept across another store",
			build: func(s *Stream) {
				s.Add(ins(STA, cpu.ZPG, "a"))
				s.Add(ins(LDA, cpu.ZPG, "a"))
				s.Add(ins(STA, cpu.ABS, "w"))
				s.Add(Branch(BEQ, ".l"))
				s.Label(".l")
			},
			wantRemoved: 0,
		},
		{
			name: "reload kept before a label",
			build: func(s *Stream) {
				s.Add(ins(STA, cpu.ABS, "a"))
				s.Add(ins(LDA, cpu.ABS, "a"))
				s.Label(".l")
				s.Add(Branch(BEQ, ".l"))
			},
			wantRemoved: 0,
		},
		{
			name: "pull and push kept when the pulled flags are tested",
			build: func(s *Stream) {
				s.Add(ins(PLA, cpu.IMP, ""))
				s.Add(ins(PHA, cpu.IMP, ""))
				s.Add(Branch(BEQ, ".l"))
				s.Label(".l")
			},
			wantRemoved: 0,
		},
		{
			name: "transfer makes a value known",
			build: func(s *Stream) {
				s.Add(ins(LDA, cpu.IMM, "#7"))
				s.Add(ins(TAX, cpu.IMP, ""))
				s.Add(ins(INX, cpu.IMP, ""))
				s.Add(ins(LDX, cpu.IMM, "#8"))
				s.Add(ins(STX, cpu.ABS, "a"))
			},
			wantRemoved: 1,
			notWant:     []string{"LDX"},
		},
		{
			name: "protected instructions survive",
			build: func(s *Stream) {
				s.Add(ins(LDA, cpu.IMM, "#5"))
				in := ins(LDA, cpu.IMM, "#5")
				in.Protected = true
				s.Add(in)
				s.Add(ins(STA, cpu.ABS, "a"))
			},
			wantRemoved: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStream("f")
			tc.build(s)
			if got := Optimize(s); got != tc.wantRemoved {
				t.Errorf("expected %d removed, got %d\n%s", tc.wantRemoved, got, s.String(false))
			}
			code := s.String(false)
			for _, w := range tc.want {
				assertContains(t, code, w)
			}
			for _, w := range tc.notWant {
				assertNotContains(t, code, w)
			}
		})
	}
}

func TestOptimize_Idempotent(t *testing.T) {
	s := NewStream("f")
	s.Add(ins(LDA, cpu.IMM, "#0"))
	s.Add(ins(STA, cpu.ABS, "a"))
	s.Add(ins(LDA, cpu.IMM, "#0"))
	s.Add(ins(STA, cpu.ABS, "b"))
	s.Add(ins(PLA, cpu.IMP, ""))
	s.Add(ins(PHA, cpu.IMP, ""))
	s.Add(ins(STA, cpu.ABS, "c"))
	s.Add(ins(LDA, cpu.ABS, "c"))
	s.Add(ins(RTS, cpu.IMP, ""))

	first := Optimize(s)
	if first != 4 {
		t.Errorf("expected 4 removed on first run, got %d", first)
	}
	before := s.String(false)
	if second := Optimize(s); second != 0 {
		t.Errorf("second run removed %d instructions", second)
	}
	if after := s.String(false); after != before {
		t.Errorf("second run changed the stream:\n%s\n---\n%s", before, after)
	}
	if s.Removed() != first {
		t.Errorf("Removed() = %d, want %d", s.Removed(), first)
	}
}

// TestOptimize_Run checks that optimized streams still branch on the
// flags of the value they tested.
func TestOptimize_Run(t *testing.T) {
	tests := []struct {
		name  string
		build func(s *Stream)
	}{
		{
			name: "immediate reload before a store",
			build: func(s *Stream) {
				s.Add(ins(LDA, cpu.IMM, "#0"))
				s.Add(ins(STA, cpu.ZPG, "a"))
				s.Add(ins(LDX, cpu.IMM, "#3"))
				s.Add(ins(LDA, cpu.IMM, "#0"))
				s.Add(ins(STA, cpu.ZPG, "b"))
			},
		},
		{
			name: "reload after a store",
			build: func(s *Stream) {
				s.Add(ins(LDA, cpu.IMM, "#0"))
				s.Add(ins(LDX, cpu.IMM, "#3"))
				s.Add(ins(STA, cpu.ZPG, "b"))
				s.Add(ins(LDA, cpu.ZPG, "b"))
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStream("main")
			tc.build(s)
			// c = 1 only when the zero value above is seen by BNE.
			s.Add(Branch(BNE, ".skip"))
			s.Add(ins(LDA, cpu.IMM, "#1"))
			s.Add(ins(STA, cpu.ZPG, "c"))
			s.Label(".skip")
			s.Label(".halt")
			s.Add(ins(JMP, cpu.ABS, ".halt"))
			Optimize(s)

			a := NewAssembler(map[string]uint16{"a": 0x80, "b": 0x81, "c": 0x82})
			code, err := a.Assemble(0x1000, s)
			if err != nil {
				t.Fatalf("Assemble failed: %v\n%s", err, s.String(false))
			}
			halt, _ := a.Address("main.halt")

			mem := cpu.NewFlatMemory()
			mem.StoreBytes(0x1000, code)
			c := cpu.NewCPU(cpu.NMOS, mem)
			c.SetPC(0x1000)
			for steps := 0; c.Reg.PC != halt; steps++ {
				if steps > 1000 {
					t.Fatal("program did not terminate")
				}
				c.Step()
			}
			if got := mem.LoadByte(0x82); got != 1 {
				t.Errorf("expected c = 1, got %d\n%s", got, s.String(false))
			}
		})
	}
}
