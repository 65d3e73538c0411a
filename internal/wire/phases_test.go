package wire

import "testing"

func TestPhaseForNode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		node string
		want Phase
		ok   bool
	}{
		{"analyzing", PhaseAnalyzing, true},
		{"query_crm", PhaseAudienceResearch, true},
		{"audience_research", PhaseAudienceResearch, true},
		{"generate_campaign_copy", PhaseCopyWriting, true},
		{"copy_writing", PhaseCopyWriting, true},
		{"schedule_campaign", PhaseScheduling, true},
		{"scheduling", PhaseScheduling, true},
		{"strategy", PhaseStrategy, true},
		{"  Query_CRM  ", PhaseAudienceResearch, true},
		{"web_search", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := PhaseForNode(tc.node)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("PhaseForNode(%q) got=%q,%v want=%q,%v", tc.node, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNodeForToolIsTotal(t *testing.T) {
	t.Parallel()
	if got := NodeForTool("query_crm"); got != NodeQueryCRM {
		t.Fatalf("got=%q", got)
	}
	if got := NodeForTool("something_else"); got != "something_else" {
		t.Fatalf("got=%q", got)
	}
}

func TestNormalizeStepStatus(t *testing.T) {
	t.Parallel()
	if got, ok := NormalizeStepStatus(" Done "); !ok || got != StepDone {
		t.Fatalf("got=%q ok=%v", got, ok)
	}
	if _, ok := NormalizeStepStatus("finished"); ok {
		t.Fatalf("unexpected ok for unknown status")
	}
}
