package cfg

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/log"

	"github.com/evmsleuth/sleuth/core/disasm"
	"github.com/evmsleuth/sleuth/core/opcodes"
)

// Limits bounds the work the builder may spend on a single block. The bounds
// are the defense against crafted bytecode turning analysis into unbounded
// search: crossing one degrades the specific fact to Unresolved, it never
// aborts the build.
type Limits struct {
	// SimWindow is the number of trailing instructions considered when
	// resolving a jump target through stack simulation.
	SimWindow int
	// FoldBudget caps the recursion depth of constant folding over operand
	// chains (arithmetic, DUP/SWAP shuffles).
	FoldBudget int
	// MaxSimSteps is the per-block ceiling on simulated instructions.
	MaxSimSteps int
}

// DefaultLimits returns the bounds used when the caller does not care.
func DefaultLimits() Limits {
	return Limits{SimWindow: 32, FoldBudget: 32, MaxSimSteps: 4096}
}

// Build partitions the decoded instruction sequence into basic blocks and
// resolves control-flow edges. It never fails: structurally broken jump
// plumbing is recorded as anomalies on the returned graph.
//
// Construction runs in three passes, mirroring how the EVM itself defines
// validity: JUMPDEST marking, block partition, then edge resolution with a
// bounded backward stack simulation for computed targets.
func Build(instructions []disasm.Instruction, limits Limits) *Graph {
	g := &Graph{
		byPC:         make(map[uint64]BlockID),
		jumpdests:    mapset.NewThreadUnsafeSet[uint64](),
		invalidSink:  NoBlock,
		implicitHalt: NoBlock,
		selectors:    make(map[uint32]BlockID),
	}
	if len(instructions) == 0 {
		return g
	}

	// Pass 1: JUMPDEST offsets are the only legal jump destinations.
	for i := range instructions {
		if instructions[i].Op == opcodes.JUMPDEST {
			g.jumpdests.Add(instructions[i].PC)
		}
	}

	// Pass 2: partition at JUMPDESTs and after control-altering instructions.
	// The start set is visited at most once per offset, which guarantees
	// termination even for self-referential jump patterns.
	startSet, starts := blockStarts(instructions)
	idxByPC := make(map[uint64]int, len(instructions))
	for i := range instructions {
		idxByPC[instructions[i].PC] = i
	}
	for _, startPC := range starts {
		first := idxByPC[startPC]
		last := first
		for {
			ins := &instructions[last]
			if ins.Op.AltersControlFlow() || !ins.Op.IsDefined() {
				break
			}
			// Cut before the next block start (JUMPDEST cuts land here too).
			if last+1 >= len(instructions) || startSet.Contains(instructions[last+1].PC) {
				break
			}
			last++
		}
		id := BlockID(len(g.blocks))
		g.blocks = append(g.blocks, &BasicBlock{
			ID:           id,
			StartPC:      startPC,
			EndPC:        instructions[last].PC,
			Instructions: instructions[first : last+1],
		})
		g.byPC[startPC] = id
	}

	// Synthetic sink for jumps whose destination is provably illegal. It has
	// no instructions and no successors; routing the edge here keeps the bad
	// jump visible instead of silently dropping it.
	sink := &BasicBlock{ID: BlockID(len(g.blocks)), StartPC: ^uint64(0)}
	g.blocks = append(g.blocks, sink)
	g.invalidSink = sink.ID

	// Pass 3: edge resolution.
	for _, b := range g.blocks {
		if b.ID == g.invalidSink {
			continue
		}
		g.resolveEdges(b, instructions, limits)
	}
	for _, b := range g.blocks {
		for _, e := range b.Succs {
			if e.Target != NoBlock {
				g.blocks[e.Target].addPred(b.ID)
			}
		}
	}

	g.indexSelectors()

	if len(g.anomalies) > 0 {
		log.Debug("CFG built with structural anomalies", "blocks", len(g.blocks), "anomalies", len(g.anomalies))
	}
	return g
}

// blockStarts returns every block start PC: PC 0, each JUMPDEST, and the
// instruction after each control-altering or undefined instruction (undefined
// bytes execute as INVALID, so what follows them is a fresh, possibly dead,
// block entry). The slice is the same set in ascending order.
func blockStarts(instructions []disasm.Instruction) (mapset.Set[uint64], []uint64) {
	set := mapset.NewThreadUnsafeSet[uint64]()
	set.Add(instructions[0].PC)
	for i := range instructions {
		ins := &instructions[i]
		if ins.Op == opcodes.JUMPDEST {
			set.Add(ins.PC)
		}
		if (ins.Op.AltersControlFlow() || !ins.Op.IsDefined()) && i+1 < len(instructions) {
			set.Add(instructions[i+1].PC)
		}
	}
	out := set.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return set, out
}

// resolveEdges attaches the outgoing edges of one block.
func (g *Graph) resolveEdges(b *BasicBlock, instructions []disasm.Instruction, limits Limits) {
	last := b.Last()
	if last == nil {
		return
	}
	switch last.Op {
	case opcodes.JUMP:
		target, conf := g.resolveTarget(b, limits)
		g.attachJump(b, UnconditionalJump, target, conf, last.PC)

	case opcodes.JUMPI:
		target, conf := g.resolveTarget(b, limits)
		g.attachJump(b, ConditionalTaken, target, conf, last.PC)
		// The not-taken arm always falls through: to the next instruction, or
		// off the code end, which the EVM executes as STOP.
		if next, ok := g.byPC[last.PC+last.Size()]; ok {
			b.addSucc(Edge{Kind: ConditionalNotTaken, Confidence: Exact, Target: next})
		} else {
			b.addSucc(Edge{Kind: ConditionalNotTaken, Confidence: Exact, Target: g.haltBlock(last.PC + last.Size())})
		}

	case opcodes.STOP, opcodes.RETURN, opcodes.REVERT, opcodes.INVALID, opcodes.SELFDESTRUCT:
		// terminators: no successors

	default:
		if !last.Op.IsDefined() {
			// Undefined byte: executes as INVALID, no successors.
			return
		}
		// Block was cut by the following JUMPDEST: plain fallthrough. With no
		// next instruction the block runs off the code end, an implicit STOP.
		if next, ok := g.byPC[last.PC+last.Size()]; ok {
			b.addSucc(Edge{Kind: Fallthrough, Confidence: Exact, Target: next})
		} else {
			b.addSucc(Edge{Kind: Fallthrough, Confidence: Exact, Target: g.haltBlock(last.PC + last.Size())})
		}
	}
}

// haltBlock returns the implicit-STOP block, creating it on first use. It
// models the EVM rule that execution past the last byte of code halts
// normally.
func (g *Graph) haltBlock(pc uint64) BlockID {
	if g.implicitHalt != NoBlock {
		return g.implicitHalt
	}
	halt := &BasicBlock{
		ID:           BlockID(len(g.blocks)),
		StartPC:      pc,
		EndPC:        pc,
		Instructions: []disasm.Instruction{{PC: pc, Op: opcodes.STOP}},
	}
	g.blocks = append(g.blocks, halt)
	g.byPC[pc] = halt.ID
	g.implicitHalt = halt.ID
	return halt.ID
}

// resolveTarget recovers the jump destination of the block's final JUMP or
// JUMPI. The immediately preceding PUSH resolves Exact; a constant recovered
// through the bounded stack simulation resolves Derived; anything else stays
// Unresolved.
func (g *Graph) resolveTarget(b *BasicBlock, limits Limits) (uint64, Confidence) {
	n := len(b.Instructions)
	if n >= 2 {
		prev := &b.Instructions[n-2]
		if prev.Op.IsPush() && !prev.Truncated {
			if pc, ok := pushValue(prev); ok {
				return pc, Exact
			}
		}
	}
	// Bounded backward resolution: simulate the trailing window of the block
	// and try to fold the value the jump pops.
	window := b.Instructions
	if limits.SimWindow > 0 && len(window) > limits.SimWindow {
		window = window[len(window)-limits.SimWindow:]
	}
	res := simulateBlock(window, limits.MaxSimSteps)
	if !res.Truncated && res.JumpTarget != nil {
		if pc, ok := res.JumpTarget.AsUint64(limits.FoldBudget); ok {
			return pc, Derived
		}
	}
	return 0, Unresolved
}

func pushValue(ins *disasm.Instruction) (uint64, bool) {
	if ins.Op == opcodes.PUSH0 {
		return 0, true
	}
	if len(ins.Arg) > 8 {
		for _, by := range ins.Arg[:len(ins.Arg)-8] {
			if by != 0 {
				return 0, false
			}
		}
	}
	var v uint64
	arg := ins.Arg
	if len(arg) > 8 {
		arg = arg[len(arg)-8:]
	}
	for _, by := range arg {
		v = v<<8 | uint64(by)
	}
	return v, true
}

// attachJump validates a resolved destination against the JUMPDEST rule and
// wires the edge. A resolved jump to a non-JUMPDEST routes to the invalid
// sink and is recorded as an anomaly; an unresolved jump keeps an explicit
// NoBlock edge.
func (g *Graph) attachJump(b *BasicBlock, kind EdgeKind, target uint64, conf Confidence, jumpPC uint64) {
	if conf == Unresolved {
		if kind == UnconditionalJump {
			kind = IndirectJump
		}
		b.addSucc(Edge{Kind: kind, Confidence: Unresolved, Target: NoBlock})
		g.anomalies = append(g.anomalies, Anomaly{Kind: UnresolvedJump, Block: b.ID, PC: jumpPC})
		return
	}
	if id, ok := g.byPC[target]; ok && g.IsJumpdest(target) {
		b.addSucc(Edge{Kind: kind, Confidence: conf, Target: id})
		return
	}
	b.addSucc(Edge{Kind: kind, Confidence: conf, Target: g.invalidSink})
	g.anomalies = append(g.anomalies, Anomaly{Kind: InvalidJumpTarget, Block: b.ID, PC: jumpPC, Target: target})
}

// SimulateBlock runs the abstract stack interpretation over a whole block.
// The storage tracker uses this to recover slot operands and branch-condition
// provenance.
func SimulateBlock(b *BasicBlock, limits Limits) SimResult {
	return simulateBlock(b.Instructions, limits.MaxSimSteps)
}

// indexSelectors walks the dispatcher chain from the entry block and records
// every PUSH4/EQ/JUMPI comparison as a function-selector entry point. Only
// the fallthrough spine is followed; solidity emits the dispatcher as a flat
// if-else ladder there.
func (g *Graph) indexSelectors() {
	if len(g.blocks) == 0 {
		return
	}
	seen := mapset.NewThreadUnsafeSet[BlockID]()
	id := EntryBlock
	for id != NoBlock && seen.Add(id) {
		b := g.Block(id)
		if b == nil || b.ID == g.invalidSink {
			return
		}
		if sel, ok := dispatcherCompare(b); ok {
			for _, e := range b.Succs {
				if e.Kind == ConditionalTaken && e.Target != NoBlock {
					g.selectors[sel] = e.Target
				}
			}
		}
		next := NoBlock
		for _, e := range b.Succs {
			if e.Kind == ConditionalNotTaken || e.Kind == Fallthrough {
				next = e.Target
			}
		}
		id = next
	}
}

// dispatcherCompare recognizes the PUSH4 <sel> EQ ... JUMPI shape inside a
// single block.
func dispatcherCompare(b *BasicBlock) (uint32, bool) {
	last := b.Last()
	if last == nil || last.Op != opcodes.JUMPI {
		return 0, false
	}
	for i := 0; i+1 < len(b.Instructions); i++ {
		ins := &b.Instructions[i]
		if ins.Op != opcodes.PUSH4 || len(ins.Arg) != 4 {
			continue
		}
		// EQ must follow within a couple of instructions (DUP shuffles allowed).
		for j := i + 1; j < len(b.Instructions) && j <= i+3; j++ {
			if b.Instructions[j].Op == opcodes.EQ {
				sel := uint32(ins.Arg[0])<<24 | uint32(ins.Arg[1])<<16 | uint32(ins.Arg[2])<<8 | uint32(ins.Arg[3])
				return sel, true
			}
		}
	}
	return 0, false
}
