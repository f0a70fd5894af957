// Package report defines the finding and report types emitted by the
// analysis pipeline, and the risk aggregation over them.
package report

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/evmsleuth/sleuth/core/cfg"
)

// Severity grades a finding. The zero value is Info.
type Severity int

const (
	Info Severity = iota
	Low
	Medium
	High
	Critical
)

var severityNames = [...]string{"info", "low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < Info || s > Critical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText implements encoding.TextMarshaler so severities serialize as
// their names.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	for i, name := range severityNames {
		if name == string(text) {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", text)
}

// Weight returns the fixed risk weight of the severity.
func (s Severity) Weight() int {
	switch s {
	case Low:
		return 1
	case Medium:
		return 5
	case High:
		return 15
	case Critical:
		return 40
	}
	return 0
}

// Evidence points at one instruction backing a finding.
type Evidence struct {
	PC     uint64 `json:"pc"`
	Detail string `json:"detail,omitempty"`
}

// Finding is one rule hit. Findings are immutable, append-only outputs; they
// never feed back into the graph or the usage map.
type Finding struct {
	Rule     string      `json:"rule_id"`
	Block    cfg.BlockID `json:"block"`
	Severity Severity    `json:"severity"`
	Evidence []Evidence  `json:"evidence,omitempty"`
	Message  string      `json:"message"`
}

// Report is the per-contract analysis output, serializable as JSON for
// external reporting layers.
type Report struct {
	ContractID common.Hash `json:"contract_id"`
	RiskScore  int         `json:"risk_score"`
	Aborted    bool        `json:"aborted,omitempty"`
	Findings   []Finding   `json:"findings"`
	CFGSummary cfg.Summary `json:"cfg_summary"`
	Warnings   []string    `json:"decode_warnings,omitempty"`
}

// JSON renders the report with stable field order.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Copy returns a report sharing no mutable state with r, so a cached report
// can be handed to multiple callers.
func (r *Report) Copy() *Report {
	out := *r
	out.Findings = append([]Finding(nil), r.Findings...)
	for i := range out.Findings {
		out.Findings[i].Evidence = append([]Evidence(nil), r.Findings[i].Evidence...)
	}
	out.Warnings = append([]string(nil), r.Warnings...)
	return &out
}

// Aggregate deduplicates findings on (rule, block), orders them by severity
// (highest first, then block, then rule) and sums the severity weights into a
// single risk score. It is a deterministic function of the finding set.
func Aggregate(findings []Finding) (int, []Finding) {
	type key struct {
		rule  string
		block cfg.BlockID
	}
	seen := make(map[key]bool, len(findings))
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		k := key{rule: f.Rule, block: f.Block}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		if out[i].Block != out[j].Block {
			return out[i].Block < out[j].Block
		}
		return out[i].Rule < out[j].Rule
	})
	score := 0
	for _, f := range out {
		score += f.Severity.Weight()
	}
	return score, out
}
