package tracker

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/evmsleuth/sleuth/core/cfg"
	"github.com/evmsleuth/sleuth/core/disasm"
	"github.com/evmsleuth/sleuth/core/opcodes"
	"github.com/evmsleuth/sleuth/internal/evmasm"
)

func track(t *testing.T, code []byte) (*cfg.Graph, *Map) {
	t.Helper()
	instructions, _ := disasm.Decode(code)
	g := cfg.Build(instructions, cfg.DefaultLimits())
	return g, Track(g, cfg.DefaultLimits(), DefaultLimits())
}

// ownerGate emits: if (CALLER == SLOAD(slot)) goto label.
func ownerGate(b *evmasm.Builder, slot byte, label string) *evmasm.Builder {
	return b.Op(opcodes.CALLER).Push1(slot).Op(opcodes.SLOAD, opcodes.EQ).
		PushLabel(label).Op(opcodes.JUMPI)
}

func TestPlainAccesses(t *testing.T) {
	// SLOAD(1), POP, SSTORE(2) <- 5, STOP
	code := evmasm.New().
		Push1(0x01).Op(opcodes.SLOAD, opcodes.POP).
		Push1(0x05).Push1(0x02).Op(opcodes.SSTORE).
		Op(opcodes.STOP).
		Bytes()
	_, m := track(t, code)
	if len(m.Usages) != 2 {
		t.Fatalf("usages = %+v", m.Usages)
	}
	read := m.Usages[0]
	if read.Kind != Read || read.Slot.Symbolic || read.Slot.U.Uint64() != 1 {
		t.Errorf("read usage = %+v", read)
	}
	write := m.Usages[1]
	if write.Kind != Write || write.Slot.U.Uint64() != 2 {
		t.Errorf("write usage = %+v", write)
	}
	if write.Stored.Source != FromConst || write.Stored.Value.Uint64() != 5 {
		t.Errorf("stored provenance = %+v", write.Stored)
	}
	if len(read.Guards) != 0 || read.GuardsUnknown {
		t.Errorf("unguarded access carries guards: %+v", read)
	}
}

func TestCallerGuardProvenance(t *testing.T) {
	b := evmasm.New()
	ownerGate(b, 0x00, "priv")
	code := b.Op(opcodes.STOP).
		Jumpdest("priv").
		Push1(0x01).Push1(0x07).Op(opcodes.SSTORE).
		Op(opcodes.STOP).
		Bytes()
	g, m := track(t, code)

	cond := m.Condition(cfg.EntryBlock)
	if cond == nil {
		t.Fatal("entry condition not resolved")
	}
	if cond.CmpOp != opcodes.EQ || !cond.ReferencesCaller() {
		t.Errorf("condition = %+v", cond)
	}
	slot, ok := cond.ComparesCallerAgainstSlot()
	if !ok || slot.U.Uint64() != 0 {
		t.Errorf("caller-vs-slot = %v %v", slot, ok)
	}

	// The SSTORE in the gated block carries the caller guard, taken arm.
	var found bool
	for _, u := range m.Usages {
		if u.Kind != Write {
			continue
		}
		found = true
		if u.GuardsUnknown || len(u.Guards) != 1 {
			t.Fatalf("guards = %+v", u)
		}
		guard := u.Guards[0]
		if !guard.Taken || !guard.ReferencesCaller() {
			t.Errorf("guard = %+v", guard)
		}
		if g.Block(u.Block) == nil || g.Block(u.Block).StartPC == 0 {
			t.Errorf("write attributed to block %d", u.Block)
		}
	}
	if !found {
		t.Fatal("gated write not tracked")
	}
}

func TestSymbolicSlot(t *testing.T) {
	// SLOAD of a calldata-derived slot stays symbolic.
	code := []byte{0x5f, 0x35, 0x54, 0x00} // PUSH0 CALLDATALOAD SLOAD STOP
	_, m := track(t, code)
	if len(m.Usages) != 1 || !m.Usages[0].Slot.Symbolic {
		t.Fatalf("usages = %+v", m.Usages)
	}
}

func TestIszeroFlipsBranchSense(t *testing.T) {
	// if (CALLER != SLOAD(0)) goto out: EQ wrapped in ISZERO.
	b := evmasm.New()
	code := b.Op(opcodes.CALLER).Push1(0x00).Op(opcodes.SLOAD, opcodes.EQ, opcodes.ISZERO).
		PushLabel("out").Op(opcodes.JUMPI).
		Op(opcodes.STOP).
		Jumpdest("out").Op(opcodes.STOP).
		Bytes()
	_, m := track(t, code)
	cond := m.Condition(cfg.EntryBlock)
	if cond == nil || !cond.Negated || cond.CmpOp != opcodes.EQ {
		t.Fatalf("condition = %+v", cond)
	}
}

func TestUnreachableBlockGuardsUnknown(t *testing.T) {
	// An SSTORE only reachable through an unresolved jump has no usable
	// guard path.
	code := evmasm.New().
		Push1(0x00).Op(opcodes.CALLDATALOAD, opcodes.JUMP).
		Jumpdest("dead").
		Push1(0x01).Push1(0x01).Op(opcodes.SSTORE).
		Op(opcodes.STOP).
		Bytes()
	_, m := track(t, code)
	var checked bool
	for _, u := range m.Usages {
		if u.Kind == Write {
			checked = true
			if !u.GuardsUnknown {
				t.Errorf("write should degrade to unknown guards: %+v", u)
			}
		}
	}
	if !checked {
		t.Fatal("write not tracked at all")
	}
}

func TestPathBudgetExhaustionDegradesToUnknown(t *testing.T) {
	// Three chained calldata gates sit between entry and the store. A
	// two-block path budget cannot reach it, so the write must degrade to
	// unknown guards rather than report a partial guard set.
	b := evmasm.New()
	b.Op(opcodes.PUSH0, opcodes.CALLDATALOAD).PushLabel("g1").Op(opcodes.JUMPI)
	b.Op(opcodes.STOP)
	b.Jumpdest("g1")
	b.Op(opcodes.PUSH0, opcodes.CALLDATALOAD).PushLabel("g2").Op(opcodes.JUMPI)
	b.Op(opcodes.STOP)
	b.Jumpdest("g2")
	b.Op(opcodes.PUSH0, opcodes.CALLDATALOAD).PushLabel("store").Op(opcodes.JUMPI)
	b.Op(opcodes.STOP)
	code := b.Jumpdest("store").
		Push1(0x01).Push1(0x01).Op(opcodes.SSTORE).
		Op(opcodes.STOP).
		Bytes()

	instructions, _ := disasm.Decode(code)
	g := cfg.Build(instructions, cfg.DefaultLimits())

	gatedWrite := func(m *Map) Usage {
		for _, u := range m.Usages {
			if u.Kind == Write {
				return u
			}
		}
		t.Fatal("write not tracked")
		return Usage{}
	}

	// Generous bounds resolve the full three-guard chain.
	full := gatedWrite(Track(g, cfg.DefaultLimits(), DefaultLimits()))
	if full.GuardsUnknown || len(full.Guards) != 3 {
		t.Fatalf("unbounded guards = %+v", full)
	}

	tight := gatedWrite(Track(g, cfg.DefaultLimits(), Limits{MaxPaths: 1, MaxDepth: 2}))
	if !tight.GuardsUnknown {
		t.Errorf("exhausted budget should yield unknown guards: %+v", tight)
	}
	if len(tight.Guards) != 0 {
		t.Errorf("exhausted budget leaked a partial guard set: %+v", tight.Guards)
	}
}

func TestLayoutLookup(t *testing.T) {
	layout := NewLayout()
	layout.Add(uint256.NewInt(0), "owner")
	layout.Add(uint256.NewInt(3), "feeRate")

	if name, ok := layout.NameOf(Slot{U: uint256.NewInt(0)}); !ok || name != "owner" {
		t.Errorf("slot 0 = %q %v", name, ok)
	}
	if layout.Declared(Slot{U: uint256.NewInt(9)}) {
		t.Error("undeclared slot reported as declared")
	}
	if _, ok := layout.NameOf(Slot{Symbolic: true}); ok {
		t.Error("symbolic slot resolved to a name")
	}
	var nilLayout *Layout
	if nilLayout.Len() != 0 {
		t.Error("nil layout must behave as empty")
	}
}
