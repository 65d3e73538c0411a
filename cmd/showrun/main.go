// Command showrun is a terminal chat client for a running showrun-agent.
// It streams the NDJSON chat protocol and renders phase updates, tokens,
// and structured campaign blocks as they arrive.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/showrunhq/showrun-agent/internal/transcript"
	"github.com/showrunhq/showrun-agent/internal/wire"
)

const defaultAgentURL = "http://127.0.0.1:8787"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

func main() {
	baseURL := flag.String("url", defaultAgentURL, "showrun-agent base URL")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	fmt.Println("showrun: campaign chat. Ctrl-D to quit.")
	fmt.Println()

	var history []chatMessage
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !in.Scan() {
			fmt.Println()
			return
		}
		text := strings.TrimSpace(in.Text())
		if text == "" {
			continue
		}

		history = append(history, chatMessage{Role: "user", Content: text})
		reply, err := streamChat(ctx, *baseURL, history)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "chat failed: %v\n", err)
			// Do not keep the failed user turn in history.
			history = history[:len(history)-1]
			continue
		}
		if strings.TrimSpace(reply) != "" {
			history = append(history, chatMessage{Role: "assistant", Content: reply})
		}
	}
}

// streamChat sends the full history, renders the stream, and returns the
// assistant's text for the next turn's history.
func streamChat(ctx context.Context, baseURL string, history []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{Messages: history})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	red := transcript.NewReducer(transcript.DefaultFlushThreshold)
	red.Begin(history[len(history)-1].Content)

	inText := false
	endText := func() {
		if inText {
			fmt.Println()
			inText = false
		}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		red.ConsumeLine(line)

		e, err := wire.Decode(line)
		if err != nil {
			continue
		}
		switch e.Type {
		case wire.TypeToken:
			fmt.Print(e.Content)
			inText = true
		case wire.TypeAgentStep:
			endText()
			renderStep(e)
		case wire.TypeAudienceResult:
			endText()
			if p, err := e.Audience(); err == nil {
				renderAudience(p)
			}
		case wire.TypeCampaignDraft:
			endText()
			if p, err := e.Draft(); err == nil {
				renderDraft(p)
			}
		case wire.TypeScheduled:
			endText()
			if p, err := e.Schedule(); err == nil {
				renderSchedule(p)
			}
		case wire.TypeError:
			endText()
			fmt.Printf("  !! %s\n", e.Message)
		case wire.TypeDone:
			endText()
		}
	}
	if err := sc.Err(); err != nil {
		red.Fail(err.Error())
		return red.AssistantText(), fmt.Errorf("stream interrupted: %w", err)
	}
	if red.State() != transcript.StateCompleted && red.State() != transcript.StateErrored {
		red.Fail("stream ended without done")
	}
	if n := red.DroppedFrames(); n > 0 {
		fmt.Fprintf(os.Stderr, "  (dropped %d malformed frames)\n", n)
	}
	fmt.Println()
	return red.AssistantText(), nil
}

func renderStep(e wire.Event) {
	phase, ok := wire.PhaseForNode(e.Node)
	if !ok {
		return
	}
	switch e.Status {
	case wire.StepRunning:
		fmt.Printf("  .. %s\n", phase)
	case wire.StepDone:
		fmt.Printf("  ok %s\n", phase)
	case wire.StepError:
		fmt.Printf("  !! %s\n", phase)
	}
}

func renderAudience(p wire.AudiencePayload) {
	fmt.Printf("  audience: %d fans", p.Count)
	if p.SegmentID != "" {
		fmt.Printf("  segment=%s", p.SegmentID)
	}
	fmt.Printf("  avg_spent=$%.2f  open_rate=%.0f%%\n", p.AvgSpent, p.OpenRate*100)
	for _, f := range p.Fans {
		name := strings.TrimSpace(f.FirstName + " " + f.LastName)
		fmt.Printf("    - %s (%s) last purchase %s\n", name, f.City, f.LastPurchaseDate)
	}
}

func renderDraft(p wire.CampaignDraftPayload) {
	fmt.Printf("  email subject: %s\n", p.Email.Subject)
	if p.Email.PreviewText != "" {
		fmt.Printf("  email preview: %s\n", p.Email.PreviewText)
	}
	for _, line := range strings.Split(strings.TrimSpace(p.Email.Body), "\n") {
		fmt.Printf("    %s\n", line)
	}
	fmt.Printf("  sms (%d/%d chars): %s\n", len(p.SMS.Body), wire.SMSBudgetChars, p.SMS.Body)
}

func renderSchedule(p wire.SchedulePayload) {
	fmt.Printf("  scheduled %s: %q to %d fans at %s (%s)\n",
		p.CampaignID, p.EventName, p.AudienceSize, p.SendAt, p.Status)
}
