// Command chat-eval replays scripted oracle scenarios through the real
// orchestrator, tool dispatcher, and a seeded CRM store, then checks the
// reduced transcript against per-scenario expectations. No provider API key
// is needed; the oracle turns come from the scenario file.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/showrunhq/showrun-agent/internal/ai"
	"github.com/showrunhq/showrun-agent/internal/ai/tools"
	"github.com/showrunhq/showrun-agent/internal/copygen"
	"github.com/showrunhq/showrun-agent/internal/crm"
	"github.com/showrunhq/showrun-agent/internal/transcript"
	"github.com/showrunhq/showrun-agent/internal/wire"
)

type scenarioResult struct {
	ID             string   `json:"id"`
	Title          string   `json:"title,omitempty"`
	Status         string   `json:"status"`
	Reasons        []string `json:"reasons,omitempty"`
	State          string   `json:"state"`
	Blocks         []string `json:"blocks"`
	AssistantChars int      `json:"assistant_chars"`
	DroppedFrames  int      `json:"dropped_frames"`
	DurationMS     int64    `json:"duration_ms"`
}

type evalReport struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	ScenarioPath string           `json:"scenario_path"`
	Passed       int              `json:"passed"`
	Failed       int              `json:"failed"`
	Results      []scenarioResult `json:"results"`
}

func main() {
	scenarioPath := flag.String("scenarios", filepath.Clean("eval/scenarios/default.yaml"), "scenario yaml path")
	onlyID := flag.String("only", "", "run a single scenario by id")
	reportPath := flag.String("report", "", "optional report.json output path")
	flag.Parse()

	scenarios, err := loadScenarios(*scenarioPath)
	if err != nil {
		fatalf("failed to load scenarios: %v", err)
	}

	if id := strings.TrimSpace(*onlyID); id != "" {
		filtered := scenarios[:0]
		for _, sc := range scenarios {
			if sc.ID == id {
				filtered = append(filtered, sc)
			}
		}
		if len(filtered) == 0 {
			fatalf("no scenario with id %q", id)
		}
		scenarios = filtered
	}

	fmt.Printf("[chat-eval] scenarios=%d\n", len(scenarios))

	report := evalReport{
		GeneratedAt:  time.Now(),
		ScenarioPath: filepath.Clean(*scenarioPath),
	}
	for _, sc := range scenarios {
		res := runScenario(context.Background(), sc)
		if res.Status == "pass" {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, res)
		fmt.Printf("  - %s: %s", sc.ID, res.Status)
		if len(res.Reasons) > 0 {
			fmt.Printf(" (%s)", strings.Join(res.Reasons, "; "))
		}
		fmt.Println()
	}

	if out := strings.TrimSpace(*reportPath); out != "" {
		b, _ := json.MarshalIndent(report, "", "  ")
		if err := os.WriteFile(out, append(b, '\n'), 0o600); err != nil {
			fatalf("failed to write report: %v", err)
		}
		fmt.Printf("[chat-eval] report: %s\n", out)
	}

	fmt.Printf("[chat-eval] passed=%d failed=%d\n", report.Passed, report.Failed)
	if report.Failed > 0 {
		os.Exit(2)
	}
}

func runScenario(ctx context.Context, sc scenarioItem) scenarioResult {
	res := scenarioResult{ID: sc.ID, Title: sc.Title}
	started := time.Now()

	red, err := executeScenario(ctx, sc)
	res.DurationMS = time.Since(started).Milliseconds()
	if err != nil {
		res.Status = "fail"
		res.Reasons = []string{"run_error:" + err.Error()}
		return res
	}

	res.State = string(red.State())
	res.Blocks = blockKinds(red)
	res.AssistantChars = utf8.RuneCountInString(strings.TrimSpace(red.AssistantText()))
	res.DroppedFrames = red.DroppedFrames()
	res.Reasons = evaluateExpectations(sc.Expect, red)
	res.Status = "pass"
	if len(res.Reasons) > 0 {
		res.Status = "fail"
	}
	return res
}

// executeScenario runs one scripted chat against a fresh seeded CRM store and
// returns the reduced transcript.
func executeScenario(ctx context.Context, sc scenarioItem) (*transcript.Reducer, error) {
	dir, err := os.MkdirTemp("", "chat-eval-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	store, err := crm.Open(filepath.Join(dir, "crm.db"))
	if err != nil {
		return nil, err
	}
	defer store.Close()
	if _, err := store.SeedStarterIfEmpty(ctx); err != nil {
		return nil, err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	dispatcher, err := tools.NewDispatcher(log, tools.BuiltinDefinitions(store, copygen.TemplateGenerator{}))
	if err != nil {
		return nil, err
	}

	svc, err := ai.NewService(ai.Options{
		Logger:        log,
		Oracle:        buildScriptedOracle(sc),
		Tools:         dispatcher,
		MaxIterations: sc.MaxIterations,
	})
	if err != nil {
		return nil, err
	}

	chatID, err := ai.NewChatID()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	req := ai.ChatRequest{Messages: []ai.ChatMessage{{Role: "user", Content: sc.UserMessage}}}
	if err := svc.StartChat(ctx, chatID, req, &buf); err != nil {
		return nil, err
	}

	red := transcript.NewReducer(transcript.DefaultFlushThreshold)
	red.Begin(sc.UserMessage)
	for _, line := range bytes.Split(buf.Bytes(), []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		red.ConsumeLine(line)
	}
	return red, nil
}

func buildScriptedOracle(sc scenarioItem) *ai.ScriptedOracle {
	turns := make([]ai.ScriptedTurn, 0, len(sc.Turns))
	callSeq := 0
	for _, turn := range sc.Turns {
		st := ai.ScriptedTurn{Text: turn.Text}
		if msg := strings.TrimSpace(turn.Error); msg != "" {
			st.Err = errors.New(msg)
		}
		for _, call := range turn.ToolCalls {
			callSeq++
			st.ToolCalls = append(st.ToolCalls, ai.ToolCall{
				ID:   fmt.Sprintf("call_%d", callSeq),
				Name: strings.TrimSpace(call.Name),
				Args: call.Args,
			})
		}
		turns = append(turns, st)
	}
	return &ai.ScriptedOracle{Turns: turns}
}

func evaluateExpectations(expect expectationSet, red *transcript.Reducer) []string {
	reasons := make([]string, 0, 4)

	wantState := strings.TrimSpace(strings.ToLower(expect.State))
	if wantState == "" {
		wantState = "completed"
	}
	if string(red.State()) != wantState {
		reasons = append(reasons, fmt.Sprintf("state:%s!=%s", red.State(), wantState))
	}

	blocks := blockKinds(red)
	if len(expect.Blocks) > 0 {
		if !stringSlicesEqual(blocks, expect.Blocks) {
			reasons = append(reasons, fmt.Sprintf("blocks:%v!=%v", blocks, expect.Blocks))
		}
	}

	if expect.MinAudience > 0 {
		best := -1
		for _, msg := range red.Messages() {
			for _, block := range msg.Blocks {
				if block.Kind == transcript.BlockAudience && block.Audience != nil && block.Audience.Count > best {
					best = block.Audience.Count
				}
			}
		}
		if best < expect.MinAudience {
			reasons = append(reasons, fmt.Sprintf("audience_count:%d<%d", best, expect.MinAudience))
		}
	}

	text := strings.ToLower(red.AssistantText())
	for _, must := range expect.MustContain {
		if !strings.Contains(text, strings.ToLower(must)) {
			reasons = append(reasons, "missing:"+must)
		}
	}
	for _, ban := range expect.Forbidden {
		if strings.Contains(text, strings.ToLower(ban)) {
			reasons = append(reasons, "forbidden:"+ban)
		}
	}

	phases := red.Phases()
	for _, want := range expect.PhasesDone {
		if phases[wire.Phase(strings.TrimSpace(want))] != wire.PhaseDone {
			reasons = append(reasons, "phase_not_done:"+want)
		}
	}
	return reasons
}

func blockKinds(red *transcript.Reducer) []string {
	kinds := make([]string, 0, 8)
	for _, msg := range red.Messages() {
		if msg.Role != "assistant" {
			continue
		}
		for _, block := range msg.Blocks {
			kinds = append(kinds, string(block.Kind))
		}
	}
	return kinds
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[chat-eval] "+format+"\n", args...)
	os.Exit(1)
}
