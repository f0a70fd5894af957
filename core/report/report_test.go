package report

import (
	"encoding/json"
	"testing"
)

func TestSeverityWeights(t *testing.T) {
	weights := map[Severity]int{Info: 0, Low: 1, Medium: 5, High: 15, Critical: 40}
	for sev, want := range weights {
		if got := sev.Weight(); got != want {
			t.Errorf("%s weight = %d, want %d", sev, got, want)
		}
	}
}

func TestSeverityTextRoundTrip(t *testing.T) {
	for sev := Info; sev <= Critical; sev++ {
		text, err := sev.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var back Severity
		if err := back.UnmarshalText(text); err != nil {
			t.Fatal(err)
		}
		if back != sev {
			t.Errorf("%s round-tripped to %s", sev, back)
		}
	}
	var s Severity
	if err := s.UnmarshalText([]byte("catastrophic")); err == nil {
		t.Error("unknown severity accepted")
	}
}

func TestAggregateDedupAndScore(t *testing.T) {
	findings := []Finding{
		{Rule: "DynamicFeeMultiplier", Block: 2, Severity: Medium},
		{Rule: "HiddenAuthoritySlot", Block: 1, Severity: Critical},
		{Rule: "DynamicFeeMultiplier", Block: 2, Severity: Medium}, // duplicate
		{Rule: "ForcedRevertOnPath", Block: 4, Severity: High},
	}
	score, out := Aggregate(findings)
	if score != 40+15+5 {
		t.Errorf("score = %d", score)
	}
	if len(out) != 3 {
		t.Fatalf("findings = %+v", out)
	}
	// Severity descending, ties on block then rule.
	want := []string{"HiddenAuthoritySlot", "ForcedRevertOnPath", "DynamicFeeMultiplier"}
	for i, rule := range want {
		if out[i].Rule != rule {
			t.Errorf("out[%d] = %s, want %s", i, out[i].Rule, rule)
		}
	}
}

func TestAggregateDeterministicOrder(t *testing.T) {
	a := []Finding{
		{Rule: "B", Block: 1, Severity: High},
		{Rule: "A", Block: 1, Severity: High},
		{Rule: "A", Block: 0, Severity: High},
	}
	b := []Finding{a[2], a[0], a[1]}
	_, outA := Aggregate(a)
	_, outB := Aggregate(b)
	for i := range outA {
		if outA[i].Rule != outB[i].Rule || outA[i].Block != outB[i].Block {
			t.Fatalf("order differs: %+v vs %+v", outA, outB)
		}
	}
	if outA[0].Block != 0 || outA[1].Rule != "A" || outA[2].Rule != "B" {
		t.Errorf("order = %+v", outA)
	}
}

func TestAggregateEmpty(t *testing.T) {
	score, out := Aggregate(nil)
	if score != 0 || len(out) != 0 {
		t.Errorf("score = %d, findings = %+v", score, out)
	}
}

func TestReportJSONFields(t *testing.T) {
	r := &Report{
		RiskScore: 15,
		Findings: []Finding{
			{Rule: "ForcedRevertOnPath", Block: 3, Severity: High, Message: "dead arm"},
		},
	}
	raw, err := r.JSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"contract_id", "risk_score", "findings", "cfg_summary"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing field %q in %s", field, raw)
		}
	}
	if _, ok := decoded["aborted"]; ok {
		t.Error("aborted should be omitted when false")
	}
	findings := decoded["findings"].([]any)
	first := findings[0].(map[string]any)
	if first["severity"] != "high" || first["rule_id"] != "ForcedRevertOnPath" {
		t.Errorf("finding = %+v", first)
	}
}
