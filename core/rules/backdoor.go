package rules

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/evmsleuth/sleuth/core/opcodes"
	"github.com/evmsleuth/sleuth/core/report"
	"github.com/evmsleuth/sleuth/core/tracker"
)

// UnreachableOwnerBackdoor flags blocks gated on a storage slot equalling a
// specific non-zero constant, where the same contract writes that slot on a
// caller-gated path elsewhere. Under the slot's initial value the block is
// dead code; one owner transaction arms it. Freshly deployed storage is all
// zeros, so a non-zero equality gate is a switch that starts off.
type UnreachableOwnerBackdoor struct{}

func (UnreachableOwnerBackdoor) ID() string { return "UnreachableOwnerBackdoor" }

func (r UnreachableOwnerBackdoor) Run(ctx *Context) []report.Finding {
	var findings []report.Finding
	reach := ctx.Reachable()

	for _, b := range ctx.Graph.Blocks() {
		last := b.Last()
		if last == nil || last.Op != opcodes.JUMPI || !reach.Contains(b.ID) {
			continue
		}
		cond := ctx.Usage.Condition(b.ID)
		if cond == nil || cond.CmpOp != opcodes.EQ {
			continue
		}
		slot, konst, ok := slotEqualsConst(cond)
		if !ok || slot.Symbolic {
			continue
		}
		if konst == nil || konst.IsZero() {
			// Equality against zero is the un-armed/paused idiom, reachable
			// on a fresh deployment. Not a latent branch.
			continue
		}
		armed, armedPC, armedOK := armingWrite(ctx.Usage, slot)
		if !armedOK {
			continue
		}
		// The guarded arm is the one requiring the equality to hold.
		taken, notTaken := branchTargets(b)
		guardedID := taken
		if cond.Negated {
			guardedID = notTaken
		}
		if guardedID < 0 {
			findings = append(findings, needsReview(r.ID(), b.ID, last.PC,
				"storage-armed gate with an unresolved guarded arm"))
			continue
		}
		findings = append(findings, report.Finding{
			Rule:     r.ID(),
			Block:    guardedID,
			Severity: report.Critical,
			Evidence: []report.Evidence{
				{PC: last.PC, Detail: "gate on slot " + slot.String()},
				{PC: armedPC, Detail: "arming write"},
			},
			Message: fmt.Sprintf("block gated at %#x requires slot %s to equal a non-zero constant; a caller-gated write at %#x can arm it (%s)",
				last.PC, slot, armedPC, armed),
		})
	}
	return findings
}

// slotEqualsConst extracts (slot, constant) from an EQ comparison between a
// storage load and a literal.
func slotEqualsConst(cond *tracker.ConditionRef) (tracker.Slot, *uint256.Int, bool) {
	var (
		slot    tracker.Slot
		hasSlot bool
		konst   *uint256.Int
	)
	for _, op := range cond.Operands {
		switch op.Source {
		case tracker.FromStorage:
			slot = op.Slot
			hasSlot = true
		case tracker.FromConst:
			konst = op.Value
		}
	}
	if !hasSlot || konst == nil {
		return tracker.Slot{}, nil, false
	}
	return slot, konst, true
}

// armingWrite finds a caller-gated write of the gate slot somewhere else in
// the contract.
func armingWrite(usage *tracker.Map, slot tracker.Slot) (string, uint64, bool) {
	for _, w := range usage.Writes(slot) {
		if w.GuardsUnknown {
			continue
		}
		for _, g := range w.Guards {
			if g.ReferencesCaller() {
				return "write guarded by caller check", w.PC, true
			}
		}
	}
	return "", 0, false
}
