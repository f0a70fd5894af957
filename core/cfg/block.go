package cfg

import (
	"fmt"

	"github.com/evmsleuth/sleuth/core/disasm"
	"github.com/evmsleuth/sleuth/core/opcodes"
)

// BlockID indexes a basic block inside its graph's arena. Blocks reference
// each other only through IDs, so cyclic control flow is just ordinary edges.
type BlockID int

// NoBlock marks an edge whose target could not be resolved.
const NoBlock BlockID = -1

// EdgeKind classifies how control reaches a successor block.
type EdgeKind int

const (
	Fallthrough EdgeKind = iota
	ConditionalTaken
	ConditionalNotTaken
	UnconditionalJump
	IndirectJump
)

func (k EdgeKind) String() string {
	switch k {
	case Fallthrough:
		return "fallthrough"
	case ConditionalTaken:
		return "cond-taken"
	case ConditionalNotTaken:
		return "cond-not-taken"
	case UnconditionalJump:
		return "jump"
	case IndirectJump:
		return "indirect"
	}
	return "?"
}

// Confidence grades how a jump target was established.
type Confidence int

const (
	// Exact: the target is the immediate of the PUSH directly preceding the
	// jump, used unmodified.
	Exact Confidence = iota
	// Derived: the target was recovered as a constant through the bounded
	// backward stack simulation.
	Derived
	// Unresolved: the target is a runtime value beyond the simulation bound.
	// The edge stays in the graph with Target == NoBlock; reachability
	// upper-bound queries treat it as "may reach any JUMPDEST block".
	Unresolved
)

func (c Confidence) String() string {
	switch c {
	case Exact:
		return "exact"
	case Derived:
		return "derived"
	case Unresolved:
		return "unresolved"
	}
	return "?"
}

// Edge is one outgoing control transfer of a basic block.
type Edge struct {
	Kind       EdgeKind
	Confidence Confidence
	Target     BlockID
}

func (e Edge) String() string {
	if e.Target == NoBlock {
		return fmt.Sprintf("%s(%s)->?", e.Kind, e.Confidence)
	}
	return fmt.Sprintf("%s(%s)->%d", e.Kind, e.Confidence, e.Target)
}

// BasicBlock is a maximal straight-line instruction run. A block ends at the
// first control-altering instruction or right before the next JUMPDEST.
type BasicBlock struct {
	ID           BlockID
	StartPC      uint64
	EndPC        uint64 // PC of the last instruction in the block
	Instructions []disasm.Instruction
	Succs        []Edge
	Preds        []BlockID
}

// Last returns the block's final instruction, or nil for the synthetic sink.
func (b *BasicBlock) Last() *disasm.Instruction {
	if len(b.Instructions) == 0 {
		return nil
	}
	return &b.Instructions[len(b.Instructions)-1]
}

// HeadedByJumpdest reports whether the block starts with JUMPDEST, i.e.
// whether it is a legal jump target under EVM rules.
func (b *BasicBlock) HeadedByJumpdest() bool {
	return len(b.Instructions) > 0 && b.Instructions[0].Op == opcodes.JUMPDEST
}

func (b *BasicBlock) addSucc(e Edge) {
	b.Succs = append(b.Succs, e)
}

func (b *BasicBlock) addPred(id BlockID) {
	for _, p := range b.Preds {
		if p == id {
			return
		}
	}
	b.Preds = append(b.Preds, id)
}
