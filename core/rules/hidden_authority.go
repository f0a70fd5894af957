package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/evmsleuth/sleuth/core/cfg"
	"github.com/evmsleuth/sleuth/core/report"
	"github.com/evmsleuth/sleuth/core/tracker"
)

// HiddenAuthoritySlot flags caller comparisons against a storage slot other
// than the contract's canonical owner slot. With a storage layout manifest
// the canonical slot is the declared owner-like variable; without one the
// most frequently caller-compared slot is treated as canonical, and any
// divergent slot is the anomaly. On an exact frequency tie the lowest slot
// number wins: owner variables are declared first and land in low slots.
type HiddenAuthoritySlot struct{}

func (HiddenAuthoritySlot) ID() string { return "HiddenAuthoritySlot" }

func (r HiddenAuthoritySlot) Run(ctx *Context) []report.Finding {
	type site struct {
		slot  tracker.Slot
		block cfg.BlockID
		pc    uint64
	}
	var (
		sites   []site
		reviews []report.Finding
		counts  = make(map[string]int)
		repr    = make(map[string]tracker.Slot)
	)
	for _, b := range ctx.Graph.Blocks() {
		cond := ctx.Usage.Condition(b.ID)
		if cond == nil {
			continue
		}
		slot, ok := cond.ComparesCallerAgainstSlot()
		if !ok {
			continue
		}
		if slot.Symbolic {
			// A caller check against a computed slot (mapping-based roles)
			// cannot be attributed to a declared variable.
			reviews = append(reviews, needsReview(r.ID(), b.ID, cond.PC,
				"caller compared against a dynamically computed storage slot"))
			continue
		}
		sites = append(sites, site{slot: slot, block: b.ID, pc: cond.PC})
		counts[slot.Key()]++
		repr[slot.Key()] = slot
	}
	if len(counts) < 2 && ctx.Layout.Len() == 0 {
		// A single authority slot (or none) is the normal shape.
		return reviews
	}

	canonical, ok := r.canonicalSlot(ctx, counts, repr)
	if !ok {
		return reviews
	}
	findings := reviews
	for _, s := range sites {
		if s.slot.Key() == canonical.Key() {
			continue
		}
		msg := fmt.Sprintf("caller is checked against slot %s instead of the canonical owner slot %s", s.slot, canonical)
		if name, declared := ctx.Layout.NameOf(s.slot); declared {
			msg = fmt.Sprintf("caller is checked against slot %s (%q) instead of the canonical owner slot %s", s.slot, name, canonical)
		}
		findings = append(findings, report.Finding{
			Rule:     r.ID(),
			Block:    s.block,
			Severity: report.Critical,
			Evidence: []report.Evidence{{PC: s.pc, Detail: "caller comparison"}},
			Message:  msg,
		})
	}
	return findings
}

// canonicalSlot picks the slot the contract presents as its owner.
func (r HiddenAuthoritySlot) canonicalSlot(ctx *Context, counts map[string]int, repr map[string]tracker.Slot) (tracker.Slot, bool) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return repr[keys[i]].U.Cmp(repr[keys[j]].U) < 0
	})
	// Declared layout wins: an owner-named variable is the canonical slot.
	if ctx.Layout.Len() > 0 {
		for _, k := range keys {
			if name, ok := ctx.Layout.NameOf(repr[k]); ok && ownerishName(name) {
				return repr[k], true
			}
		}
		// The declared owner slot may never appear in any caller check at
		// all; it is still the canonical authority, and every caller check
		// against some other slot diverges from it.
		if declared, ok := declaredOwnerSlot(ctx.Layout); ok {
			return declared, true
		}
	}
	// Majority heuristic over caller-compared slots, lowest slot on ties.
	if len(keys) == 0 {
		return tracker.Slot{}, false
	}
	return repr[keys[0]], true
}

// declaredOwnerSlot returns the lowest declared owner-named slot.
func declaredOwnerSlot(layout *tracker.Layout) (tracker.Slot, bool) {
	var (
		best  tracker.Slot
		found bool
	)
	layout.Each(func(s tracker.Slot, name string) {
		if s.Symbolic || !ownerishName(name) {
			return
		}
		if !found || s.U.Cmp(best.U) < 0 {
			best = s
			found = true
		}
	})
	return best, found
}

func ownerishName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "owner") || strings.Contains(lower, "admin")
}
