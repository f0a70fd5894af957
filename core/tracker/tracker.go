// Package tracker walks a control-flow graph and records which storage slots
// each basic block reads and writes, together with the branch conditions that
// gate reaching the block. Provenance that cannot be resolved degrades to
// Unknown; this stage never fails.
package tracker

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/evmsleuth/sleuth/core/cfg"
	"github.com/evmsleuth/sleuth/core/opcodes"
)

// AccessKind distinguishes slot reads from writes.
type AccessKind int

const (
	Read AccessKind = iota
	Write
)

func (k AccessKind) String() string {
	if k == Write {
		return "write"
	}
	return "read"
}

// Slot identifies a storage slot. Dynamically computed slots (mapping and
// array hashing) stay symbolic.
type Slot struct {
	U        *uint256.Int
	Symbolic bool
}

func (s Slot) String() string {
	if s.Symbolic {
		return "symbolic"
	}
	return fmt.Sprintf("%#x", s.U)
}

// Key returns a comparable identity for the slot. All symbolic slots share
// one key; pattern rules only need constant-slot identity.
func (s Slot) Key() string {
	if s.Symbolic {
		return "symbolic"
	}
	return s.U.Hex()
}

// Provenance tags where a compared operand ultimately came from, one
// resolution level back from the comparison.
type Provenance int

const (
	FromUnknown Provenance = iota
	FromConst
	FromCaller
	FromOrigin
	FromStorage
	FromClock // TIMESTAMP or NUMBER, the raw material of time locks
)

func (p Provenance) String() string {
	switch p {
	case FromConst:
		return "const"
	case FromCaller:
		return "caller"
	case FromOrigin:
		return "origin"
	case FromStorage:
		return "storage"
	case FromClock:
		return "clock"
	}
	return "unknown"
}

// OperandRef describes one operand of a guarding comparison.
type OperandRef struct {
	Source Provenance
	Slot   Slot         // set when Source == FromStorage
	Value  *uint256.Int // set when Source == FromConst
}

// ConditionRef names the comparison guarding a conditional edge: the JUMPI
// location, which arm was taken, the comparison opcode and where its operands
// came from (e.g. "EQ of CALLER against a value loaded from slot 0").
type ConditionRef struct {
	Block    cfg.BlockID
	PC       uint64
	Taken    bool
	CmpOp    opcodes.ByteCode
	Negated  bool // an odd number of ISZERO wrappers around the comparison
	Operands []OperandRef
}

// ComparesCallerAgainstSlot reports whether the condition compares
// CALLER/ORIGIN with a storage-loaded value, and returns that slot.
func (c *ConditionRef) ComparesCallerAgainstSlot() (Slot, bool) {
	var (
		hasCaller bool
		slot      Slot
		hasSlot   bool
	)
	for _, op := range c.Operands {
		switch op.Source {
		case FromCaller, FromOrigin:
			hasCaller = true
		case FromStorage:
			slot = op.Slot
			hasSlot = true
		}
	}
	if hasCaller && hasSlot {
		return slot, true
	}
	return Slot{}, false
}

// ReferencesCaller reports whether any operand originates from CALLER or
// ORIGIN.
func (c *ConditionRef) ReferencesCaller() bool {
	for _, op := range c.Operands {
		if op.Source == FromCaller || op.Source == FromOrigin {
			return true
		}
	}
	return false
}

// Usage is one storage access with its guarding path.
type Usage struct {
	Slot   Slot
	Block  cfg.BlockID
	PC     uint64
	Kind   AccessKind
	Stored OperandRef // provenance of the written value, writes only

	// Guards is the ordered sequence of conditional edges along one shortest
	// entry path to the block. GuardsUnknown is set when path enumeration
	// exceeded its bound; rules must treat that as insufficient evidence.
	Guards        []ConditionRef
	GuardsUnknown bool
}

// Limits bounds the guard-path enumeration.
type Limits struct {
	// MaxPaths caps how many distinct entry paths are explored per block.
	MaxPaths int
	// MaxDepth caps the path length in blocks.
	MaxDepth int
}

// DefaultLimits returns the path-enumeration bounds used when the caller
// does not care.
func DefaultLimits() Limits {
	return Limits{MaxPaths: 64, MaxDepth: 128}
}

// Map is the slot-usage map for one contract.
type Map struct {
	Usages []Usage

	conditions map[cfg.BlockID]*ConditionRef
}

// Track scans every block of g for SLOAD/SSTORE and records each access with
// its guarding path. Everything unresolvable degrades to Unknown/symbolic.
func Track(g *cfg.Graph, simLimits cfg.Limits, limits Limits) *Map {
	m := &Map{conditions: make(map[cfg.BlockID]*ConditionRef)}

	// Resolve the comparison behind every conditional block up front; the
	// guard paths below reference them by block.
	for _, b := range g.Blocks() {
		if last := b.Last(); last != nil && last.Op == opcodes.JUMPI {
			m.conditions[b.ID] = resolveCondition(b, last.PC, simLimits)
		}
	}

	for _, b := range g.Blocks() {
		res := cfg.SimulateBlock(b, simLimits)
		if len(res.Loads) == 0 && len(res.Stores) == 0 {
			continue
		}
		guards, unknown := m.guardPath(g, b.ID, limits)
		for _, ld := range res.Loads {
			m.Usages = append(m.Usages, Usage{
				Slot:          slotOf(ld.Slot, simLimits.FoldBudget),
				Block:         b.ID,
				PC:            ld.PC,
				Kind:          Read,
				Guards:        guards,
				GuardsUnknown: unknown || res.Truncated,
			})
		}
		for _, st := range res.Stores {
			m.Usages = append(m.Usages, Usage{
				Slot:          slotOf(st.Slot, simLimits.FoldBudget),
				Block:         b.ID,
				PC:            st.PC,
				Kind:          Write,
				Stored:        classify(st.Stored, simLimits.FoldBudget),
				Guards:        guards,
				GuardsUnknown: unknown || res.Truncated,
			})
		}
	}
	log.Trace("storage usage tracked", "accesses", len(m.Usages))
	return m
}

// Condition returns the guard comparison of the block ending in JUMPI, when
// it was resolvable.
func (m *Map) Condition(id cfg.BlockID) *ConditionRef {
	return m.conditions[id]
}

// ByBlock returns all usages recorded for one block.
func (m *Map) ByBlock(id cfg.BlockID) []Usage {
	var out []Usage
	for i := range m.Usages {
		if m.Usages[i].Block == id {
			out = append(out, m.Usages[i])
		}
	}
	return out
}

// Reads returns all read usages of the given constant slot.
func (m *Map) Reads(slot Slot) []Usage {
	return m.filter(slot, Read)
}

// Writes returns all write usages of the given constant slot.
func (m *Map) Writes(slot Slot) []Usage {
	return m.filter(slot, Write)
}

func (m *Map) filter(slot Slot, kind AccessKind) []Usage {
	var out []Usage
	for i := range m.Usages {
		u := &m.Usages[i]
		if u.Kind == kind && u.Slot.Key() == slot.Key() {
			out = append(out, *u)
		}
	}
	return out
}

// guardPath enumerates acyclic entry paths to target over resolved edges,
// bounded by limits, and returns the conditional-edge sequence of the
// shortest one. Exhausting the bound before a path completes reports
// unknown (too many paths).
func (m *Map) guardPath(g *cfg.Graph, target cfg.BlockID, limits Limits) ([]ConditionRef, bool) {
	if target == cfg.EntryBlock {
		return nil, false
	}
	type frame struct {
		id     cfg.BlockID
		guards []ConditionRef
		onPath map[cfg.BlockID]bool
	}
	var (
		best     []ConditionRef
		found    bool
		explored int
	)
	stack := []frame{{id: cfg.EntryBlock, onPath: map[cfg.BlockID]bool{cfg.EntryBlock: true}}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if explored >= limits.MaxPaths*limits.MaxDepth {
			break
		}
		explored++

		if f.id == target {
			if !found || len(f.guards) < len(best) {
				best = f.guards
				found = true
			}
			continue
		}
		if len(f.guards) >= limits.MaxDepth {
			continue
		}
		b := g.Block(f.id)
		for _, e := range b.Succs {
			if e.Target == cfg.NoBlock || f.onPath[e.Target] {
				continue
			}
			guards := f.guards
			if e.Kind == cfg.ConditionalTaken || e.Kind == cfg.ConditionalNotTaken {
				cond := m.conditions[f.id]
				ref := ConditionRef{Block: f.id, Taken: e.Kind == cfg.ConditionalTaken}
				if cond != nil {
					ref = *cond
					ref.Taken = e.Kind == cfg.ConditionalTaken
				}
				guards = append(append([]ConditionRef{}, f.guards...), ref)
			}
			onPath := make(map[cfg.BlockID]bool, len(f.onPath)+1)
			for k := range f.onPath {
				onPath[k] = true
			}
			onPath[e.Target] = true
			stack = append(stack, frame{id: e.Target, guards: guards, onPath: onPath})
		}
	}
	if !found {
		// Unreachable through resolved edges, or the bound cut the search
		// short. Either way there is no usable guard evidence.
		return nil, true
	}
	return best, false
}

// resolveCondition recovers the comparison feeding a block's JUMPI, one
// level back: comparison opcode plus the provenance of each operand.
func resolveCondition(b *cfg.BasicBlock, jumpPC uint64, simLimits cfg.Limits) *ConditionRef {
	res := cfg.SimulateBlock(b, simLimits)
	if res.Truncated || res.BranchCond == nil {
		return nil
	}
	ref := &ConditionRef{Block: b.ID, PC: jumpPC}

	cond := res.BranchCond
	// Unwrap ISZERO chains; each wrapper flips the branch sense.
	for depth := 0; depth < 4; depth++ {
		if cond.Kind == cfg.Expr && cond.Op == opcodes.ISZERO && len(cond.Args) == 1 {
			ref.Negated = !ref.Negated
			cond = cond.Args[0]
			continue
		}
		break
	}
	switch cond.Kind {
	case cfg.Expr:
		switch cond.Op {
		case opcodes.EQ, opcodes.LT, opcodes.GT, opcodes.SLT, opcodes.SGT:
			ref.CmpOp = cond.Op
			for _, arg := range cond.Args {
				ref.Operands = append(ref.Operands, classify(arg, simLimits.FoldBudget))
			}
		default:
			ref.CmpOp = cond.Op
			ref.Operands = append(ref.Operands, classify(cond, simLimits.FoldBudget))
		}
	default:
		ref.Operands = append(ref.Operands, classify(cond, simLimits.FoldBudget))
	}
	return ref
}

// classify maps an abstract value to its operand provenance. Constant AND
// masks are looked through, since solidity masks addresses before comparing.
func classify(v *cfg.Value, budget int) OperandRef {
	for depth := 0; v != nil && depth < 4; depth++ {
		if v.Kind == cfg.Expr && v.Op == opcodes.AND && len(v.Args) == 2 {
			if _, ok := v.Args[0].AsUint256(budget); ok {
				v = v.Args[1]
				continue
			}
			if _, ok := v.Args[1].AsUint256(budget); ok {
				v = v.Args[0]
				continue
			}
		}
		break
	}
	if v == nil {
		return OperandRef{Source: FromUnknown}
	}
	switch v.Kind {
	case cfg.Konst:
		u, _ := v.AsUint256(budget)
		return OperandRef{Source: FromConst, Value: u}
	case cfg.Caller:
		return OperandRef{Source: FromCaller}
	case cfg.Origin:
		return OperandRef{Source: FromOrigin}
	case cfg.Storage:
		return OperandRef{Source: FromStorage, Slot: slotOf(v.Args[0], budget)}
	case cfg.Expr:
		if v.Op == opcodes.TIMESTAMP || v.Op == opcodes.NUMBER {
			return OperandRef{Source: FromClock}
		}
	}
	if u, ok := v.AsUint256(budget); ok {
		return OperandRef{Source: FromConst, Value: u}
	}
	return OperandRef{Source: FromUnknown}
}

func slotOf(v *cfg.Value, budget int) Slot {
	if u, ok := v.AsUint256(budget); ok {
		return Slot{U: u}
	}
	return Slot{Symbolic: true}
}
