package rules

import (
	"fmt"

	"github.com/evmsleuth/sleuth/core/cfg"
	"github.com/evmsleuth/sleuth/core/opcodes"
	"github.com/evmsleuth/sleuth/core/report"
)

// ForcedRevertOnPath flags the honeypot skeleton: a caller-conditioned branch
// where one arm can only revert while the sibling arm completes normally.
// Legitimate access control looks the same at one branch, so the rule demands
// the dead end be exclusive (no RETURN/STOP anywhere below it).
type ForcedRevertOnPath struct{}

func (ForcedRevertOnPath) ID() string { return "ForcedRevertOnPath" }

func (r ForcedRevertOnPath) Run(ctx *Context) []report.Finding {
	var findings []report.Finding
	reach := ctx.Reachable()

	for _, b := range ctx.Graph.Blocks() {
		last := b.Last()
		if last == nil || last.Op != opcodes.JUMPI || !reach.Contains(b.ID) {
			continue
		}
		cond := ctx.Usage.Condition(b.ID)
		if cond == nil {
			continue
		}
		if !cond.ReferencesCaller() {
			continue
		}
		taken, notTaken := branchTargets(b)
		if taken == cfg.NoBlock || notTaken == cfg.NoBlock {
			findings = append(findings, needsReview(r.ID(), b.ID, last.PC,
				"caller-conditioned branch with an unresolved arm"))
			continue
		}
		takenProf := exitsFrom(ctx.Graph, taken)
		notTakenProf := exitsFrom(ctx.Graph, notTaken)

		if f, ok := r.asymmetricDeadEnd(ctx, b, last.PC, taken, takenProf, notTakenProf); ok {
			findings = append(findings, f)
			continue
		}
		if f, ok := r.asymmetricDeadEnd(ctx, b, last.PC, notTaken, notTakenProf, takenProf); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

// asymmetricDeadEnd checks whether the arm rooted at dead can only revert
// while the sibling arm reaches a normal exit.
func (r ForcedRevertOnPath) asymmetricDeadEnd(ctx *Context, b *cfg.BasicBlock, jumpPC uint64,
	dead cfg.BlockID, deadProf, siblingProf exitProfile) (report.Finding, bool) {

	if !deadProf.reverts || deadProf.normal || !siblingProf.normal {
		return report.Finding{}, false
	}
	if deadProf.sawUnresolved {
		// An unresolved jump below the dead arm could still reach a normal
		// exit; not enough evidence for the hard verdict.
		return needsReview(r.ID(), b.ID, jumpPC,
			"revert-only arm contains an unresolved jump"), true
	}
	deadBlock := ctx.Graph.Block(dead)
	ev := []report.Evidence{
		{PC: jumpPC, Detail: "caller-conditioned branch"},
		{PC: deadBlock.StartPC, Detail: "revert-only arm"},
	}
	return report.Finding{
		Rule:     r.ID(),
		Block:    dead,
		Severity: report.High,
		Evidence: ev,
		Message: fmt.Sprintf("branch at %#x conditioned on the caller leads only to revert at %#x while the sibling arm completes normally",
			jumpPC, deadBlock.StartPC),
	}, true
}
