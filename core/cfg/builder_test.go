package cfg

import (
	"testing"

	"github.com/evmsleuth/sleuth/core/disasm"
	"github.com/evmsleuth/sleuth/core/opcodes"
	"github.com/evmsleuth/sleuth/internal/evmasm"
)

func build(t *testing.T, code []byte) *Graph {
	t.Helper()
	instructions, _ := disasm.Decode(code)
	return Build(instructions, DefaultLimits())
}

func TestLinearCode(t *testing.T) {
	// PUSH1 02, PUSH0, SUB, STOP: a single block, no edges.
	g := build(t, []byte{0x60, 0x02, 0x5f, 0x03, 0x00})
	// One real block plus the invalid-jump sink.
	if len(g.Blocks()) != 2 {
		t.Fatalf("want 2 blocks, got %d", len(g.Blocks()))
	}
	entry := g.Block(EntryBlock)
	if entry.StartPC != 0 || len(entry.Succs) != 0 {
		t.Errorf("entry block = %+v", entry)
	}
	if s := g.Summarize(); s.EdgeCount != 0 || s.UnresolvedJumps != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestExactJump(t *testing.T) {
	code := evmasm.New().
		PushLabel("dest").Op(opcodes.JUMP).
		Op(opcodes.STOP).
		Jumpdest("dest").Op(opcodes.STOP).
		Bytes()
	g := build(t, code)
	entry := g.Block(EntryBlock)
	if len(entry.Succs) != 1 {
		t.Fatalf("entry successors = %v", entry.Succs)
	}
	e := entry.Succs[0]
	if e.Kind != UnconditionalJump || e.Confidence != Exact {
		t.Errorf("edge = %v", e)
	}
	if target := g.Block(e.Target); !target.HeadedByJumpdest() {
		t.Error("resolved edge does not target a JUMPDEST block")
	}
}

func TestDerivedJump(t *testing.T) {
	// The target is PUSH 3 + PUSH 4 = 7, recoverable only by simulation.
	b := evmasm.New()
	code := b.Push1(0x03).Push1(0x04).Op(opcodes.ADD, opcodes.JUMP).
		Op(opcodes.STOP).
		Jumpdest("dest").Op(opcodes.STOP).
		Bytes()
	g := build(t, code)
	e := g.Block(EntryBlock).Succs[0]
	if e.Confidence != Derived {
		t.Fatalf("confidence = %v, want derived", e.Confidence)
	}
	if target := g.Block(e.Target); target.StartPC != 7 {
		t.Errorf("target pc = %d, want 7", target.StartPC)
	}
}

func TestInvalidJumpTargetRoutesToSink(t *testing.T) {
	// Jump to offset 3, which is a STOP, not a JUMPDEST.
	g := build(t, []byte{0x60, 0x03, 0x56, 0x00})
	e := g.Block(EntryBlock).Succs[0]
	if e.Target != g.InvalidSink() {
		t.Fatalf("edge = %v, want route to invalid sink", e)
	}
	anomalies := g.Anomalies()
	if len(anomalies) != 1 || anomalies[0].Kind != InvalidJumpTarget || anomalies[0].Target != 3 {
		t.Errorf("anomalies = %+v", anomalies)
	}
}

func TestUnresolvedJumpKeptExplicit(t *testing.T) {
	// Target comes from calldata: beyond static resolution.
	code := []byte{0x5f, 0x35, 0x56, 0x5b, 0x00} // PUSH0 CALLDATALOAD JUMP JUMPDEST STOP
	g := build(t, code)
	e := g.Block(EntryBlock).Succs[0]
	if e.Kind != IndirectJump || e.Confidence != Unresolved || e.Target != NoBlock {
		t.Fatalf("edge = %v", e)
	}
	if s := g.Summarize(); s.UnresolvedJumps != 1 {
		t.Errorf("summary = %+v", s)
	}
	// The unresolved edge widens only the upper bound.
	if g.Reachable().Contains(g.byPC[3]) {
		t.Error("precise reachability leaked through an unresolved edge")
	}
	if !g.ReachableUpperBound().Contains(g.byPC[3]) {
		t.Error("upper bound missed a JUMPDEST block")
	}
}

func TestJumpiProducesBothEdges(t *testing.T) {
	code := evmasm.New().
		Push1(0x01).PushLabel("dest").Op(opcodes.JUMPI).
		Op(opcodes.STOP).
		Jumpdest("dest").Op(opcodes.STOP).
		Bytes()
	g := build(t, code)
	succs := g.Block(EntryBlock).Succs
	if len(succs) != 2 {
		t.Fatalf("successors = %v", succs)
	}
	var taken, notTaken bool
	for _, e := range succs {
		switch e.Kind {
		case ConditionalTaken:
			taken = true
		case ConditionalNotTaken:
			notTaken = true
		}
	}
	if !taken || !notTaken {
		t.Errorf("JUMPI edges incomplete: %v", succs)
	}
}

func TestJumpiAtCodeEndGetsImplicitStopArm(t *testing.T) {
	// JUMPDEST, PUSH1 01, PUSH1 00, JUMPI: the not-taken arm falls off the
	// code end, which the EVM executes as STOP. Both JUMPI edges must exist.
	g := build(t, []byte{0x5b, 0x60, 0x01, 0x60, 0x00, 0x57})
	succs := g.Block(EntryBlock).Succs
	if len(succs) != 2 {
		t.Fatalf("successors = %v", succs)
	}
	for _, e := range succs {
		if e.Kind != ConditionalNotTaken {
			continue
		}
		halt := g.Block(e.Target)
		if last := halt.Last(); last == nil || last.Op != opcodes.STOP {
			t.Fatalf("implicit stop block = %+v", halt)
		}
		return
	}
	t.Fatal("not-taken edge missing")
}

func TestCodeEndWithoutTerminator(t *testing.T) {
	// A block whose last instruction simply runs out of code halts normally.
	g := build(t, []byte{0x60, 0x01})
	succs := g.Block(EntryBlock).Succs
	if len(succs) != 1 || succs[0].Kind != Fallthrough {
		t.Fatalf("successors = %v", succs)
	}
	if last := g.Block(succs[0].Target).Last(); last == nil || last.Op != opcodes.STOP {
		t.Error("running off the code end must reach an implicit STOP")
	}
}

func TestSelfJumpLoopTerminates(t *testing.T) {
	// JUMPDEST at 0, PUSH of its own offset, JUMP: a self loop.
	g := build(t, []byte{0x5b, 0x60, 0x00, 0x56})
	entry := g.Block(EntryBlock)
	if len(entry.Succs) != 1 || entry.Succs[0].Target != EntryBlock {
		t.Errorf("self loop edges = %v", entry.Succs)
	}
}

func TestResolvedEdgesTargetJumpdests(t *testing.T) {
	// Property: every Exact/Derived edge lands on a JUMPDEST block or the
	// sink (with a matching anomaly), never silently elsewhere.
	codes := [][]byte{
		{0x60, 0x04, 0x56, 0x00, 0x5b, 0x00},
		{0x60, 0x03, 0x56, 0x00},
		{0x5b, 0x60, 0x00, 0x56},
		{0x60, 0x01, 0x60, 0x07, 0x57, 0x00, 0xfe, 0x5b, 0x00},
	}
	for _, code := range codes {
		g := build(t, code)
		for _, b := range g.Blocks() {
			for _, e := range b.Succs {
				if e.Confidence == Unresolved || e.Kind == Fallthrough || e.Kind == ConditionalNotTaken {
					continue
				}
				if e.Target == g.InvalidSink() {
					if len(g.Anomalies()) == 0 {
						t.Errorf("%x: sink edge without anomaly", code)
					}
					continue
				}
				if !g.Block(e.Target).HeadedByJumpdest() {
					t.Errorf("%x: resolved edge %v to non-JUMPDEST block", code, e)
				}
			}
		}
	}
}

func TestTruncatedPushDoesNotBreakBuild(t *testing.T) {
	g := build(t, []byte{0x00, 0x63, 0xaa})
	if len(g.Blocks()) == 0 {
		t.Fatal("no blocks built")
	}
}

func TestSelectorIndex(t *testing.T) {
	// The solidity dispatcher shape: load the selector, compare, branch.
	code := evmasm.New().
		Push1(0x00).Op(opcodes.CALLDATALOAD).Push1(0xe0).Op(opcodes.SHR).
		Op(opcodes.DUP1).PushN(0xaa, 0xbb, 0xcc, 0xdd).Op(opcodes.EQ).PushLabel("fn").Op(opcodes.JUMPI).
		Op(opcodes.STOP).
		Jumpdest("fn").Op(opcodes.STOP).
		Bytes()
	g := build(t, code)
	sel := g.Selectors()
	id, ok := sel[0xaabbccdd]
	if !ok {
		t.Fatalf("selector index = %v", sel)
	}
	if !g.Block(id).HeadedByJumpdest() {
		t.Error("selector entry is not a JUMPDEST block")
	}
}
