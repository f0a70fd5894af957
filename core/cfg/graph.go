package cfg

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// AnomalyKind classifies structural problems found while building the graph.
// Anomalies are evidence about the contract, not engine failures: malformed
// jump plumbing is exactly the signal the analysis exists to surface.
type AnomalyKind int

const (
	// InvalidJumpTarget: a statically resolved jump whose destination is not
	// a JUMPDEST. The edge is routed to the invalid sink block.
	InvalidJumpTarget AnomalyKind = iota
	// UnresolvedJump: an indirect jump whose target stayed beyond the
	// simulation bound.
	UnresolvedJump
)

func (k AnomalyKind) String() string {
	switch k {
	case InvalidJumpTarget:
		return "invalid jump target"
	case UnresolvedJump:
		return "unresolved jump"
	}
	return "?"
}

// Anomaly is one structural finding produced during graph construction.
type Anomaly struct {
	Kind   AnomalyKind
	Block  BlockID
	PC     uint64 // PC of the offending jump
	Target uint64 // resolved destination, meaningful for InvalidJumpTarget
}

// Graph is the control-flow graph of one contract. Blocks live in an arena
// and are addressed by BlockID; the entry block always starts at PC 0.
type Graph struct {
	blocks    []*BasicBlock
	byPC      map[uint64]BlockID
	jumpdests mapset.Set[uint64]

	// invalidSink is a synthetic block that statically invalid jumps route
	// to, so they stay visible in the graph instead of being dropped.
	invalidSink BlockID

	// implicitHalt is the synthetic STOP block for code that falls off the
	// end, created lazily; NoBlock until a block needs it.
	implicitHalt BlockID

	anomalies []Anomaly
	selectors map[uint32]BlockID
}

// EntryBlock is the ID of the block at PC 0.
const EntryBlock BlockID = 0

// Block returns the block with the given ID.
func (g *Graph) Block(id BlockID) *BasicBlock {
	if id < 0 || int(id) >= len(g.blocks) {
		return nil
	}
	return g.blocks[id]
}

// Blocks returns the arena in ID order.
func (g *Graph) Blocks() []*BasicBlock {
	return g.blocks
}

// BlockByPC returns the block starting at the given program counter.
func (g *Graph) BlockByPC(pc uint64) *BasicBlock {
	id, ok := g.byPC[pc]
	if !ok {
		return nil
	}
	return g.blocks[id]
}

// InvalidSink returns the ID of the synthetic invalid-jump sink block.
func (g *Graph) InvalidSink() BlockID {
	return g.invalidSink
}

// IsJumpdest reports whether pc carries a JUMPDEST instruction.
func (g *Graph) IsJumpdest(pc uint64) bool {
	return g.jumpdests.Contains(pc)
}

// Anomalies returns the structural anomalies recorded during construction.
func (g *Graph) Anomalies() []Anomaly {
	return g.anomalies
}

// Selectors returns the 4-byte function selector index recovered from the
// solidity dispatcher pattern, keyed by selector.
func (g *Graph) Selectors() map[uint32]BlockID {
	return g.selectors
}

// Summary holds the graph-shape counters reported alongside findings.
type Summary struct {
	BlockCount       int `json:"block_count"`
	EdgeCount        int `json:"edge_count"`
	UnresolvedJumps  int `json:"unresolved_jump_count"`
	SelectorCount    int `json:"selector_count"`
	InvalidJumpCount int `json:"invalid_jump_count"`
}

// Summarize counts blocks, edges and unresolved jumps.
func (g *Graph) Summarize() Summary {
	s := Summary{BlockCount: len(g.blocks), SelectorCount: len(g.selectors)}
	for _, b := range g.blocks {
		s.EdgeCount += len(b.Succs)
		for _, e := range b.Succs {
			if e.Confidence == Unresolved {
				s.UnresolvedJumps++
			}
		}
	}
	for _, a := range g.anomalies {
		if a.Kind == InvalidJumpTarget {
			s.InvalidJumpCount++
		}
	}
	return s
}

// Reachable returns the set of blocks reachable from the entry block through
// resolved edges only. This is the precise-flow lower bound.
func (g *Graph) Reachable() mapset.Set[BlockID] {
	return g.reach(false)
}

// ReachableUpperBound additionally lets every unresolved jump reach every
// JUMPDEST-headed block. Use it only for "could this possibly run" queries,
// never for precise flow facts.
func (g *Graph) ReachableUpperBound() mapset.Set[BlockID] {
	return g.reach(true)
}

func (g *Graph) reach(upperBound bool) mapset.Set[BlockID] {
	seen := mapset.NewThreadUnsafeSet[BlockID]()
	if len(g.blocks) == 0 {
		return seen
	}
	worklist := []BlockID{EntryBlock}
	seen.Add(EntryBlock)
	for len(worklist) > 0 {
		id := worklist[0]
		worklist = worklist[1:]
		b := g.blocks[id]
		for _, e := range b.Succs {
			if e.Target != NoBlock {
				if seen.Add(e.Target) {
					worklist = append(worklist, e.Target)
				}
				continue
			}
			if !upperBound {
				continue
			}
			// Unresolved jump: may land on any JUMPDEST block.
			for _, cand := range g.blocks {
				if cand.HeadedByJumpdest() && seen.Add(cand.ID) {
					worklist = append(worklist, cand.ID)
				}
			}
		}
	}
	return seen
}

// DOT renders the graph in graphviz format.
func (g *Graph) DOT(title string) string {
	var sb strings.Builder
	sb.WriteString("digraph cfg {\n")
	if title != "" {
		fmt.Fprintf(&sb, "  label=%q;\n", title)
	}
	sb.WriteString("  node [shape=box fontname=\"monospace\"];\n")
	for _, b := range g.blocks {
		var body strings.Builder
		for i := range b.Instructions {
			body.WriteString(b.Instructions[i].String())
			body.WriteString("\\l")
		}
		label := body.String()
		if b.ID == g.invalidSink {
			label = "INVALID JUMP SINK\\l"
		}
		fmt.Fprintf(&sb, "  b%d [label=\"block %d @%#x\\l%s\"];\n", b.ID, b.ID, b.StartPC, label)
	}
	for _, b := range g.blocks {
		for _, e := range b.Succs {
			if e.Target == NoBlock {
				fmt.Fprintf(&sb, "  b%d -> unresolved [style=dashed label=%q];\n", b.ID, e.Kind.String())
				continue
			}
			fmt.Fprintf(&sb, "  b%d -> b%d [label=\"%s/%s\"];\n", b.ID, e.Target, e.Kind, e.Confidence)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}
