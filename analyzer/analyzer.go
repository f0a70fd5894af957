// Package analyzer runs the full bytecode analysis pipeline: decode, CFG
// construction, storage tracking, pattern rules and risk aggregation. A
// single contract's pipeline is sequential and deterministic; batches fan
// out across a worker pool with no shared mutable state.
package analyzer

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/evmsleuth/sleuth/core/cfg"
	"github.com/evmsleuth/sleuth/core/disasm"
	"github.com/evmsleuth/sleuth/core/report"
	"github.com/evmsleuth/sleuth/core/rules"
	"github.com/evmsleuth/sleuth/core/tracker"
)

// ErrEmptyBytecode is the only fatal input error: there is nothing to
// analyze. Everything else the pipeline sees becomes data in the report.
var ErrEmptyBytecode = errors.New("empty bytecode")

// Config carries the analysis bounds and the rule set.
type Config struct {
	CFG   cfg.Limits
	Paths tracker.Limits
	// Rules defaults to the full detector set.
	Rules []rules.Rule
	// Layout is the optional compiler-emitted storage layout. It sharpens
	// slot attribution; its absence falls back to heuristics.
	Layout *tracker.Layout
}

// DefaultConfig returns the bounds used by the CLI and tests.
func DefaultConfig() *Config {
	return &Config{
		CFG:   cfg.DefaultLimits(),
		Paths: tracker.DefaultLimits(),
	}
}

func (c *Config) rules() []rules.Rule {
	if len(c.Rules) > 0 {
		return c.Rules
	}
	return rules.All()
}

// Contract is the complete result of one analysis. It aggregates everything
// derived from the bytecode and does not outlive the caller's interest in
// it; the engine keeps no cross-contract state.
type Contract struct {
	ID           common.Hash
	Code         []byte
	Instructions []disasm.Instruction
	Warnings     []disasm.Warning
	Graph        *cfg.Graph
	Usage        *tracker.Map
	Findings     []report.Finding
	RiskScore    int
	Aborted      bool
}

// Report renders the contract's analysis as a serializable report.
func (c *Contract) Report() *report.Report {
	r := &report.Report{
		ContractID: c.ID,
		RiskScore:  c.RiskScore,
		Aborted:    c.Aborted,
		Findings:   c.Findings,
	}
	if r.Findings == nil {
		r.Findings = []report.Finding{}
	}
	if c.Graph != nil {
		r.CFGSummary = c.Graph.Summarize()
	}
	for _, w := range c.Warnings {
		r.Warnings = append(r.Warnings, w.String())
	}
	return r
}

// Analyze runs the pipeline over raw deployed bytecode. Cancellation is
// honored at stage boundaries only: an expired context yields a partial
// contract tagged Aborted, never a crash. The only error return is
// ErrEmptyBytecode.
func Analyze(ctx context.Context, code []byte, config *Config) (*Contract, error) {
	if len(code) == 0 {
		return nil, ErrEmptyBytecode
	}
	if config == nil {
		config = DefaultConfig()
	}
	c := &Contract{ID: crypto.Keccak256Hash(code), Code: code}

	c.Instructions, c.Warnings = disasm.Decode(code)
	if aborted(ctx, c) {
		return c, nil
	}

	c.Graph = cfg.Build(c.Instructions, config.CFG)
	if aborted(ctx, c) {
		return c, nil
	}

	c.Usage = tracker.Track(c.Graph, config.CFG, config.Paths)
	if aborted(ctx, c) {
		return c, nil
	}

	findings := structuralFindings(c.Graph)
	rctx := &rules.Context{
		Graph:     c.Graph,
		Usage:     c.Usage,
		Layout:    config.Layout,
		SimLimits: config.CFG,
	}
	for _, rule := range config.rules() {
		findings = append(findings, rule.Run(rctx)...)
		if aborted(ctx, c) {
			c.RiskScore, c.Findings = report.Aggregate(findings)
			return c, nil
		}
	}

	c.RiskScore, c.Findings = report.Aggregate(findings)
	analysisCounter.Inc(1)
	log.Debug("analysis complete", "contract", c.ID, "blocks", len(c.Graph.Blocks()),
		"findings", len(c.Findings), "score", c.RiskScore)
	return c, nil
}

// AnalyzeHex accepts the conventional 0x-prefixed deployed-code string.
func AnalyzeHex(ctx context.Context, hexCode string, config *Config) (*Contract, error) {
	code, err := hexutil.Decode(hexCode)
	if err != nil {
		return nil, err
	}
	return Analyze(ctx, code, config)
}

func aborted(ctx context.Context, c *Contract) bool {
	if ctx.Err() == nil {
		return false
	}
	c.Aborted = true
	if c.Graph != nil {
		c.RiskScore, c.Findings = report.Aggregate(structuralFindings(c.Graph))
	}
	return true
}

// structuralFindings converts graph anomalies into findings. Bytecode that
// fails the structural checks is the tool's target signal, not a pipeline
// failure.
func structuralFindings(g *cfg.Graph) []report.Finding {
	var out []report.Finding
	for _, a := range g.Anomalies() {
		switch a.Kind {
		case cfg.InvalidJumpTarget:
			out = append(out, report.Finding{
				Rule:     "InvalidJumpTargetAtDesignTime",
				Block:    a.Block,
				Severity: report.Low,
				Evidence: []report.Evidence{{PC: a.PC, Detail: "jump"}, {PC: a.Target, Detail: "non-JUMPDEST destination"}},
				Message:  "statically resolved jump targets a byte that is not a JUMPDEST",
			})
		case cfg.UnresolvedJump:
			unresolvedCounter.Inc(1)
			out = append(out, report.Finding{
				Rule:     "UnresolvedIndirectJump",
				Block:    a.Block,
				Severity: report.Info,
				Evidence: []report.Evidence{{PC: a.PC, Detail: "jump"}},
				Message:  "indirect jump target beyond the simulation bound; reachability facts near this block are an upper bound",
			})
		}
	}
	return out
}
