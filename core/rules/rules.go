// Package rules holds the pattern detectors. Each rule is an independent
// pure predicate over the read-only CFG and slot-usage map; rules never
// depend on each other's output, so new detectors are added by writing a new
// predicate, not by touching existing ones.
package rules

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/evmsleuth/sleuth/core/cfg"
	"github.com/evmsleuth/sleuth/core/opcodes"
	"github.com/evmsleuth/sleuth/core/report"
	"github.com/evmsleuth/sleuth/core/tracker"
)

// Context is the shared read-only input of every rule.
type Context struct {
	Graph     *cfg.Graph
	Usage     *tracker.Map
	Layout    *tracker.Layout // nil when no manifest was supplied
	SimLimits cfg.Limits

	reach mapset.Set[cfg.BlockID]
}

// Reachable returns (and caches) the precise-flow reachable set.
func (ctx *Context) Reachable() mapset.Set[cfg.BlockID] {
	if ctx.reach == nil {
		ctx.reach = ctx.Graph.Reachable()
	}
	return ctx.reach
}

// Rule is one detector. Run must not mutate anything in the context.
type Rule interface {
	ID() string
	Run(ctx *Context) []report.Finding
}

// All returns the detector set in its fixed, deterministic order.
func All() []Rule {
	return []Rule{
		ForcedRevertOnPath{},
		HiddenAuthoritySlot{},
		DynamicFeeMultiplier{},
		MutableDelegateTarget{},
		UnreachableOwnerBackdoor{},
	}
}

// exitProfile summarizes how control can leave the subgraph rooted at a
// block, following resolved edges only.
type exitProfile struct {
	reverts       bool // some path ends in REVERT/INVALID (or the invalid sink)
	normal        bool // some path ends in RETURN/STOP/SELFDESTRUCT
	sawUnresolved bool // an unresolved jump makes the profile a lower bound
}

// exitsFrom explores the subgraph rooted at id and classifies its terminal
// instructions. The walk is over resolved edges with a visited set, so it
// terminates on any graph.
func exitsFrom(g *cfg.Graph, id cfg.BlockID) exitProfile {
	var prof exitProfile
	seen := mapset.NewThreadUnsafeSet[cfg.BlockID]()
	worklist := []cfg.BlockID{id}
	seen.Add(id)
	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]
		b := g.Block(cur)
		if b == nil {
			continue
		}
		if cur == g.InvalidSink() {
			prof.reverts = true
			continue
		}
		if last := b.Last(); last != nil {
			switch {
			case last.Op == opcodes.REVERT || last.Op == opcodes.INVALID || !last.Op.IsDefined():
				prof.reverts = true
			case last.Op == opcodes.RETURN || last.Op == opcodes.STOP || last.Op == opcodes.SELFDESTRUCT:
				prof.normal = true
			}
		}
		for _, e := range b.Succs {
			if e.Target == cfg.NoBlock {
				prof.sawUnresolved = true
				continue
			}
			if seen.Add(e.Target) {
				worklist = append(worklist, e.Target)
			}
		}
	}
	return prof
}

// branchTargets returns the taken and not-taken successor of a block ending
// in JUMPI, NoBlock when the arm is missing or unresolved.
func branchTargets(b *cfg.BasicBlock) (taken, notTaken cfg.BlockID) {
	taken, notTaken = cfg.NoBlock, cfg.NoBlock
	for _, e := range b.Succs {
		switch e.Kind {
		case cfg.ConditionalTaken:
			taken = e.Target
		case cfg.ConditionalNotTaken:
			notTaken = e.Target
		}
	}
	return taken, notTaken
}

// needsReview builds the Info-severity "needs manual review" finding rules
// emit when Unknown provenance blocks a determination. False negatives are
// the primary risk this tool exists to reduce, so unknowns are surfaced,
// never dropped.
func needsReview(rule string, block cfg.BlockID, pc uint64, why string) report.Finding {
	return report.Finding{
		Rule:     rule,
		Block:    block,
		Severity: report.Info,
		Evidence: []report.Evidence{{PC: pc}},
		Message:  "needs manual review: " + why,
	}
}
