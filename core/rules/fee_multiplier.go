package rules

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/evmsleuth/sleuth/core/cfg"
	"github.com/evmsleuth/sleuth/core/opcodes"
	"github.com/evmsleuth/sleuth/core/report"
	"github.com/evmsleuth/sleuth/core/tracker"
)

// DynamicFeeMultiplier flags transfer arithmetic whose factors live in two
// independently written storage slots when at least one of the slots is not
// readable through any public getter. A fee rate the owner can quietly
// re-stage across two slots is the classic adjustable-tax honeypot.
type DynamicFeeMultiplier struct{}

func (DynamicFeeMultiplier) ID() string { return "DynamicFeeMultiplier" }

func (r DynamicFeeMultiplier) Run(ctx *Context) []report.Finding {
	var findings []report.Finding
	reach := ctx.Reachable()
	getters := gettersBySlot(ctx)

	for _, b := range ctx.Graph.Blocks() {
		if !reach.Contains(b.ID) {
			continue
		}
		res := cfg.SimulateBlock(b, ctx.SimLimits)
		if res.Truncated {
			continue
		}
		for _, sm := range res.SlotMath {
			slotA := slotFromValue(sm.SlotA, ctx.SimLimits.FoldBudget)
			slotB := slotFromValue(sm.SlotB, ctx.SimLimits.FoldBudget)
			if slotA.Symbolic || slotB.Symbolic {
				findings = append(findings, needsReview(r.ID(), b.ID, sm.PC,
					"storage-by-storage arithmetic over a dynamically computed slot"))
				continue
			}
			if slotA.Key() == slotB.Key() {
				continue
			}
			// Both factors must be independently written somewhere.
			if len(ctx.Usage.Writes(slotA)) == 0 && len(ctx.Usage.Writes(slotB)) == 0 {
				continue
			}
			hidden := tracker.Slot{}
			switch {
			case !getters.Contains(slotA.Key()):
				hidden = slotA
			case !getters.Contains(slotB.Key()):
				hidden = slotB
			default:
				continue
			}
			findings = append(findings, report.Finding{
				Rule:     r.ID(),
				Block:    b.ID,
				Severity: report.Medium,
				Evidence: []report.Evidence{{PC: sm.PC, Detail: sm.Op.String() + " of two storage slots"}},
				Message: fmt.Sprintf("%s at %#x combines storage slots %s and %s but slot %s has no public getter",
					sm.Op, sm.PC, slotA, slotB, hidden),
			})
		}
	}
	return findings
}

// gettersBySlot collects every constant slot that a selector-reachable
// function both reads and returns, i.e. slots a caller can inspect.
func gettersBySlot(ctx *Context) mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	for _, entry := range ctx.Graph.Selectors() {
		funcBlocks := blocksFrom(ctx.Graph, entry)
		returns := false
		var slots []tracker.Slot
		for _, id := range funcBlocks {
			b := ctx.Graph.Block(id)
			if last := b.Last(); last != nil && last.Op == opcodes.RETURN {
				returns = true
			}
			for _, u := range ctx.Usage.ByBlock(id) {
				if u.Kind == tracker.Read && !u.Slot.Symbolic {
					slots = append(slots, u.Slot)
				}
			}
		}
		if returns {
			for _, s := range slots {
				out.Add(s.Key())
			}
		}
	}
	return out
}

// blocksFrom returns every block reachable from id over resolved edges.
func blocksFrom(g *cfg.Graph, id cfg.BlockID) []cfg.BlockID {
	seen := mapset.NewThreadUnsafeSet[cfg.BlockID]()
	worklist := []cfg.BlockID{id}
	seen.Add(id)
	var out []cfg.BlockID
	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]
		out = append(out, cur)
		for _, e := range g.Block(cur).Succs {
			if e.Target != cfg.NoBlock && seen.Add(e.Target) {
				worklist = append(worklist, e.Target)
			}
		}
	}
	return out
}

func slotFromValue(v *cfg.Value, budget int) tracker.Slot {
	if u, ok := v.AsUint256(budget); ok {
		return tracker.Slot{U: u}
	}
	return tracker.Slot{Symbolic: true}
}
