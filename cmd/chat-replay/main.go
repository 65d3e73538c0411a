// Command chat-replay folds a captured NDJSON chat stream through the
// transcript reducer and reports whether the stream is well formed: one
// terminal event, valid phase transitions, and a non-empty assistant reply.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/showrunhq/showrun-agent/internal/transcript"
	"github.com/showrunhq/showrun-agent/internal/wire"
)

type replayReport struct {
	Status         string                          `json:"status"`
	Reasons        []string                        `json:"reasons,omitempty"`
	State          string                          `json:"state"`
	Blocks         []string                        `json:"blocks"`
	Phases         map[wire.Phase]wire.PhaseStatus `json:"phases"`
	DroppedFrames  int                             `json:"dropped_frames"`
	AssistantChars int                             `json:"assistant_chars"`
}

func main() {
	streamPath := flag.String("stream", "", "captured NDJSON stream path")
	expect := flag.String("expect", "", "optional expectation: pass|fail")
	flag.Parse()

	if strings.TrimSpace(*streamPath) == "" {
		fatalf("--stream is required")
	}

	report, err := runReplay(strings.TrimSpace(*streamPath))
	if err != nil {
		fatalf("replay failed: %v", err)
	}

	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))

	expected := strings.TrimSpace(strings.ToLower(*expect))
	if expected == "" {
		if report.Status != "pass" {
			os.Exit(2)
		}
		return
	}
	if expected != "pass" && expected != "fail" {
		fatalf("invalid --expect: %s", expected)
	}
	if report.Status != expected {
		os.Exit(3)
	}
}

func runReplay(path string) (replayReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return replayReport{}, err
	}
	defer f.Close()

	red := transcript.NewReducer(transcript.DefaultFlushThreshold)
	red.Begin("(replayed)")

	terminalSeen := false
	framesAfterTerminal := 0

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if terminalSeen {
			framesAfterTerminal++
		}
		if e, err := wire.Decode(line); err == nil && e.Type == wire.TypeDone {
			terminalSeen = true
		}
		red.ConsumeLine(line)
	}
	if err := sc.Err(); err != nil {
		return replayReport{}, err
	}

	report := replayReport{
		State:          string(red.State()),
		Blocks:         blockKinds(red),
		Phases:         red.Phases(),
		DroppedFrames:  red.DroppedFrames(),
		AssistantChars: utf8.RuneCountInString(strings.TrimSpace(red.AssistantText())),
	}
	report.Reasons = evaluateReplay(red, terminalSeen, framesAfterTerminal)
	report.Status = "pass"
	if len(report.Reasons) > 0 {
		report.Status = "fail"
	}
	return report, nil
}

func evaluateReplay(red *transcript.Reducer, terminalSeen bool, framesAfterTerminal int) []string {
	reasons := make([]string, 0, 4)
	if !terminalSeen {
		reasons = append(reasons, "missing_done")
	}
	if framesAfterTerminal > 0 {
		reasons = append(reasons, fmt.Sprintf("frames_after_done:%d", framesAfterTerminal))
	}
	if red.State() == transcript.StateErrored {
		reasons = append(reasons, "errored:"+red.ErrorMessage())
	}
	if red.DroppedFrames() > 0 {
		reasons = append(reasons, fmt.Sprintf("dropped_frames:%d", red.DroppedFrames()))
	}
	phases := red.Phases()
	for _, phase := range wire.PhaseOrder {
		if phases[phase] == wire.PhaseRunning {
			reasons = append(reasons, "phase_stuck_running:"+string(phase))
		}
	}
	if red.State() == transcript.StateCompleted && strings.TrimSpace(red.AssistantText()) == "" && len(blockKinds(red)) == 0 {
		reasons = append(reasons, "empty_assistant_reply")
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

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[chat-replay] "+format+"\n", args...)
	os.Exit(1)
}
