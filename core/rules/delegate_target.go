package rules

import (
	"fmt"

	"github.com/evmsleuth/sleuth/core/cfg"
	"github.com/evmsleuth/sleuth/core/report"
	"github.com/evmsleuth/sleuth/core/tracker"
)

// MutableDelegateTarget flags DELEGATECALLs whose code address comes from a
// storage slot the caller-gated owner can rewrite at will. That is the
// upgradeable-proxy shape with no time lock: the contract's entire logic can
// be swapped out between a victim's read and their transaction.
type MutableDelegateTarget struct{}

func (MutableDelegateTarget) ID() string { return "MutableDelegateTarget" }

func (r MutableDelegateTarget) Run(ctx *Context) []report.Finding {
	var findings []report.Finding
	reach := ctx.Reachable()

	for _, b := range ctx.Graph.Blocks() {
		if !reach.Contains(b.ID) {
			continue
		}
		res := cfg.SimulateBlock(b, ctx.SimLimits)
		for _, del := range res.Delegates {
			slot, ok := delegateSourceSlot(del.Target, ctx.SimLimits.FoldBudget)
			if !ok {
				// A constant implementation address is the immutable-proxy
				// shape and not interesting; anything else is opaque.
				if _, konst := del.Target.AsUint256(ctx.SimLimits.FoldBudget); !konst {
					findings = append(findings, needsReview(r.ID(), b.ID, del.PC,
						"delegatecall target of unresolved provenance"))
				}
				continue
			}
			if slot.Symbolic {
				findings = append(findings, needsReview(r.ID(), b.ID, del.PC,
					"delegatecall target loaded from a dynamically computed slot"))
				continue
			}
			write, gated := callerGatedWrite(ctx.Usage, slot)
			if !gated {
				continue
			}
			if timeLocked(write.Guards) {
				// A clock-guarded write window is the time-lock pattern;
				// mutation is announced, not silent.
				continue
			}
			findings = append(findings, report.Finding{
				Rule:     r.ID(),
				Block:    b.ID,
				Severity: report.High,
				Evidence: []report.Evidence{
					{PC: del.PC, Detail: "delegatecall"},
					{PC: write.PC, Detail: "caller-gated write of target slot"},
				},
				Message: fmt.Sprintf("delegatecall at %#x targets an address in slot %s which a caller-gated path rewrites at %#x with no time lock",
					del.PC, slot, write.PC),
			})
		}
	}
	return findings
}

// delegateSourceSlot reports whether the delegate target is an SLOAD result
// and which slot it came from.
func delegateSourceSlot(v *cfg.Value, budget int) (tracker.Slot, bool) {
	// Address masks are applied between the load and the call.
	for depth := 0; v != nil && depth < 4; depth++ {
		if v.Kind == cfg.Expr && len(v.Args) == 2 {
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
	if v == nil || v.Kind != cfg.Storage {
		return tracker.Slot{}, false
	}
	return slotFromValue(v.Args[0], budget), true
}

// callerGatedWrite finds a write of slot reachable only through a
// caller-conditioned branch.
func callerGatedWrite(usage *tracker.Map, slot tracker.Slot) (tracker.Usage, bool) {
	for _, w := range usage.Writes(slot) {
		if w.GuardsUnknown {
			continue
		}
		for _, g := range w.Guards {
			if g.ReferencesCaller() {
				return w, true
			}
		}
	}
	return tracker.Usage{}, false
}

// timeLocked reports whether any guard compares against block time or
// number, the observable half of a time-lock.
func timeLocked(guards []tracker.ConditionRef) bool {
	for _, g := range guards {
		for _, op := range g.Operands {
			if op.Source == tracker.FromClock {
				return true
			}
		}
	}
	return false
}
