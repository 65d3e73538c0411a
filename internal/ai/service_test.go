package ai

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/showrunhq/showrun-agent/internal/ai/tools"
)

func testService(t *testing.T) *Service {
	t.Helper()
	dispatcher, err := tools.NewDispatcher(slog.Default(), testToolDefs(t))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	oracle := &ScriptedOracle{Turns: []ScriptedTurn{{Text: "hi"}}}
	svc, err := NewService(Options{Oracle: oracle, Tools: dispatcher})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewChatIDShape(t *testing.T) {
	t.Parallel()
	a, err := NewChatID()
	if err != nil {
		t.Fatalf("new chat id: %v", err)
	}
	b, err := NewChatID()
	if err != nil {
		t.Fatalf("new chat id: %v", err)
	}
	if !strings.HasPrefix(a, "chat_") {
		t.Fatalf("chat id got=%q, want chat_ prefix", a)
	}
	if len(a) != len("chat_")+24 {
		t.Fatalf("chat id length got=%d want=%d", len(a), len("chat_")+24)
	}
	if a == b {
		t.Fatalf("chat ids must be unique, got %q twice", a)
	}
}

func TestStartChatRejectsInvalidRequests(t *testing.T) {
	t.Parallel()
	svc := testService(t)
	var buf bytes.Buffer

	cases := []struct {
		name string
		req  ChatRequest
	}{
		{"empty", ChatRequest{}},
		{"bad role", ChatRequest{Messages: []ChatMessage{{Role: "system", Content: "x"}}}},
		{"empty content", ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "   "}}}},
		{"assistant last", ChatRequest{Messages: []ChatMessage{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		}}},
	}
	for _, tc := range cases {
		if err := svc.StartChat(context.Background(), "chat_x", tc.req, &buf); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if buf.Len() != 0 {
			t.Fatalf("%s: invalid request must not write to the stream", tc.name)
		}
	}
}

func TestStartChatRefusesWhileDraining(t *testing.T) {
	t.Parallel()
	svc := testService(t)
	svc.BeginShutdown()

	var buf bytes.Buffer
	req := ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}}
	err := svc.StartChat(context.Background(), "chat_x", req, &buf)
	if !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("err got=%v want=%v", err, ErrShuttingDown)
	}
}

func TestStartChatTracksActiveCount(t *testing.T) {
	t.Parallel()
	svc := testService(t)
	if got := svc.ActiveChats(); got != 0 {
		t.Fatalf("active before got=%d want=0", got)
	}
	var buf bytes.Buffer
	req := ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}}
	if err := svc.StartChat(context.Background(), "chat_x", req, &buf); err != nil {
		t.Fatalf("start chat: %v", err)
	}
	if got := svc.ActiveChats(); got != 0 {
		t.Fatalf("active after got=%d want=0", got)
	}
}
