package ai

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/showrunhq/showrun-agent/internal/ai/tools"
	"github.com/showrunhq/showrun-agent/internal/auditlog"
)

var (
	ErrNotConfigured = errors.New("chat not configured")
	ErrShuttingDown  = errors.New("agent is shutting down")
)

type Options struct {
	Logger *slog.Logger
	Oracle Oracle
	Tools  *tools.Dispatcher

	// Audit receives chat and campaign entries. Optional.
	Audit *auditlog.Store

	// MaxIterations bounds oracle turns per request. Zero means the default.
	MaxIterations int
}

// Service runs chat requests. Each request gets its own loop instance and
// event stream; the service only tracks liveness for graceful shutdown.
type Service struct {
	log    *slog.Logger
	oracle Oracle
	tools  *tools.Dispatcher
	audit  *auditlog.Store

	maxIterations int

	mu       sync.Mutex
	active   map[string]struct{}
	draining bool
}

func NewService(opts Options) (*Service, error) {
	if opts.Oracle == nil {
		return nil, errors.New("missing oracle")
	}
	if opts.Tools == nil {
		return nil, errors.New("missing tool dispatcher")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Service{
		log:           log,
		oracle:        opts.Oracle,
		tools:         opts.Tools,
		audit:         opts.Audit,
		maxIterations: maxIterations,
		active:        make(map[string]struct{}),
	}, nil
}

// NewChatID mints a request id.
func NewChatID() (string, error) {
	var raw [18]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return "chat_" + base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ActiveChats reports the number of in-flight chat requests.
func (s *Service) ActiveChats() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// BeginShutdown refuses new chats. In-flight chats run to completion.
func (s *Service) BeginShutdown() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
}

// StartChat validates the request, then blocks driving the loop until the
// stream is terminal or ctx is cancelled. The caller owns w; response headers
// must already be written.
func (s *Service) StartChat(ctx context.Context, chatID string, req ChatRequest, w io.Writer) error {
	if s == nil {
		return ErrNotConfigured
	}
	if w == nil {
		return errors.New("missing stream writer")
	}
	if problem := req.Normalize(); problem != "" {
		return errors.New(problem)
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return errors.New("missing chat id")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	if _, busy := s.active[chatID]; busy {
		s.mu.Unlock()
		return errors.New("chat id already active")
	}
	s.active[chatID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, chatID)
		s.mu.Unlock()
	}()

	r := &chatRun{
		log:           s.log,
		id:            chatID,
		oracle:        s.oracle,
		tools:         s.tools,
		stream:        newEventStream(w),
		audit:         s.audit,
		maxIterations: s.maxIterations,
	}
	r.run(ctx, req)
	s.auditChat(r)
	return nil
}

func (s *Service) auditChat(r *chatRun) {
	if s.audit == nil {
		return
	}
	status := auditlog.StatusOK
	if r.endStatus != "completed" {
		status = auditlog.StatusError
	}
	if err := s.audit.Append(auditlog.Entry{
		Action: auditlog.ActionChat,
		Status: status,
		ChatID: r.id,
		Error:  r.endReason,
		Detail: r.endStatus,
	}); err != nil {
		s.log.Debug("audit append failed", "chat_id", r.id, "error", err.Error())
	}
}
