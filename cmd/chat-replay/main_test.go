package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeStream(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.ndjson")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write stream: %v", err)
	}
	return path
}

func TestReplayWellFormedStreamPasses(t *testing.T) {
	t.Parallel()
	path := writeStream(t,
		`{"type":"agent_step","node":"analyzing","status":"running"}`,
		`{"type":"agent_step","node":"query_crm","status":"running"}`,
		`{"type":"agent_step","node":"query_crm","status":"done"}`,
		`{"type":"audience_result","data":{"count":12,"segment_id":"seg_1","avg_spent":40,"open_rate":0.3,"fans":[]}}`,
		`{"type":"token","content":"Found 12 jazz fans."}`,
		`{"type":"agent_step","node":"analyzing","status":"done"}`,
		`{"type":"done"}`,
	)

	report, err := runReplay(path)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if report.Status != "pass" {
		t.Fatalf("status got=%q reasons=%v", report.Status, report.Reasons)
	}
	if len(report.Blocks) != 2 || report.Blocks[0] != "audience" || report.Blocks[1] != "text" {
		t.Fatalf("blocks got=%v", report.Blocks)
	}
}

func TestReplayMissingDoneFails(t *testing.T) {
	t.Parallel()
	path := writeStream(t,
		`{"type":"agent_step","node":"analyzing","status":"running"}`,
		`{"type":"token","content":"hi"}`,
	)

	report, err := runReplay(path)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if report.Status != "fail" {
		t.Fatalf("status got=%q", report.Status)
	}
	found := false
	for _, r := range report.Reasons {
		if r == "missing_done" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons got=%v, want missing_done", report.Reasons)
	}
}

func TestReplayMalformedFramesFail(t *testing.T) {
	t.Parallel()
	path := writeStream(t,
		`{"type":"agent_step","node":"analyzing","status":"running"}`,
		`{not json`,
		`{"type":"agent_step","node":"analyzing","status":"done"}`,
		`{"type":"done"}`,
	)

	report, err := runReplay(path)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if report.Status != "fail" || report.DroppedFrames != 1 {
		t.Fatalf("report got=%+v", report)
	}
}

func TestReplayErrorStreamStaysErrored(t *testing.T) {
	t.Parallel()
	path := writeStream(t,
		`{"type":"agent_step","node":"analyzing","status":"running"}`,
		`{"type":"error","message":"stopped after 8 iterations without completing"}`,
		`{"type":"done"}`,
	)

	report, err := runReplay(path)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if report.Status != "fail" || report.State != "errored" {
		t.Fatalf("report got=%+v", report)
	}
}
