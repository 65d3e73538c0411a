// Package gateway is the HTTP surface of the agent: the NDJSON chat stream
// plus small JSON read APIs for campaigns, segments, audit, and health.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/showrunhq/showrun-agent/internal/ai"
	"github.com/showrunhq/showrun-agent/internal/auditlog"
	"github.com/showrunhq/showrun-agent/internal/crm"
	"github.com/showrunhq/showrun-agent/internal/monitor"
)

// ChatIDHeader carries the server-minted chat id on stream responses.
const ChatIDHeader = "X-Showrun-Chat-ID"

const defaultChatRatePerMinute = 5

type Options struct {
	Logger     *slog.Logger
	ListenAddr string

	AI      *ai.Service
	CRM     *crm.Store
	Audit   *auditlog.Store
	Monitor *monitor.Service

	Version string

	// AllowedOrigins enables CORS for the listed origins. "*" allows any.
	AllowedOrigins []string

	// ChatRatePerMinute caps chat requests per client IP. Zero means the
	// default; negative disables limiting (tests).
	ChatRatePerMinute int
}

type Gateway struct {
	log *slog.Logger

	aiSvc   *ai.Service
	crmSt   *crm.Store
	audit   *auditlog.Store
	monitor *monitor.Service

	version        string
	allowedOrigins []string
	limiter        *ipRateLimiter

	ln   net.Listener
	srv  *http.Server
	addr string
}

func New(opts Options) (*Gateway, error) {
	if opts.AI == nil {
		return nil, errors.New("missing AI service")
	}
	if opts.CRM == nil {
		return nil, errors.New("missing CRM store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := strings.TrimSpace(opts.ListenAddr)
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	var limiter *ipRateLimiter
	rate := opts.ChatRatePerMinute
	if rate == 0 {
		rate = defaultChatRatePerMinute
	}
	if rate > 0 {
		limiter = newIPRateLimiter(rate)
	}

	return &Gateway{
		log:            logger,
		aiSvc:          opts.AI,
		crmSt:          opts.CRM,
		audit:          opts.Audit,
		monitor:        opts.Monitor,
		version:        strings.TrimSpace(opts.Version),
		allowedOrigins: opts.AllowedOrigins,
		limiter:        limiter,
		addr:           addr,
	}, nil
}

func (g *Gateway) Start(ctx context.Context) error {
	if g == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if g.ln != nil {
		return nil
	}

	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return err
	}
	g.ln = ln

	g.srv = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = g.Close()
	}()

	go func() {
		if err := g.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Warn("gateway stopped", "error", err)
		}
	}()

	g.log.Info("gateway listening", "addr", g.ln.Addr().String())
	return nil
}

func (g *Gateway) Close() error {
	if g == nil {
		return nil
	}
	if g.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = g.srv.Shutdown(ctx)
	}
	if g.ln != nil {
		_ = g.ln.Close()
	}
	g.ln = nil
	return nil
}

func (g *Gateway) URL() string {
	if g == nil || g.ln == nil {
		return ""
	}
	return "http://" + g.ln.Addr().String()
}

// Handler returns the HTTP handler. Exposed so tests can drive the gateway
// through httptest without a listener.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", g.handleChat)
	mux.HandleFunc("/api/health", g.handleHealth)
	mux.HandleFunc("/api/campaigns", g.handleCampaigns)
	mux.HandleFunc("/api/segments", g.handleSegments)
	mux.HandleFunc("/api/audit", g.handleAudit)
	return g.withCORS(mux)
}

type apiResp struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" && g.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", ChatIDHeader)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) originAllowed(origin string) bool {
	for _, allowed := range g.allowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apiResp{OK: false, Error: "method not allowed"})
		return
	}
	if g.limiter != nil && !g.limiter.Allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, apiResp{OK: false, Error: "rate limit exceeded"})
		return
	}

	var req ai.ChatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResp{OK: false, Error: "invalid json"})
		return
	}
	if dec.More() {
		writeJSON(w, http.StatusBadRequest, apiResp{OK: false, Error: "invalid json"})
		return
	}
	if problem := req.Normalize(); problem != "" {
		writeJSON(w, http.StatusBadRequest, apiResp{OK: false, Error: problem})
		return
	}

	chatID, err := ai.NewChatID()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResp{OK: false, Error: "failed to allocate chat id"})
		return
	}

	// Headers must be final before the first frame is written.
	w.Header().Set(ChatIDHeader, chatID)
	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	// Defeats response buffering in nginx-style reverse proxies.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := g.aiSvc.StartChat(r.Context(), chatID, req, w); err != nil {
		// The stream is already open; all we can do is log.
		g.log.Warn("chat stream failed to start", "chat_id", chatID, "error", err.Error())
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, apiResp{OK: false, Error: "method not allowed"})
		return
	}
	data := map[string]any{
		"status":       "ok",
		"version":      g.version,
		"active_chats": g.aiSvc.ActiveChats(),
	}
	if g.monitor != nil {
		data["system"] = g.monitor.Snapshot(r.Context())
	}
	writeJSON(w, http.StatusOK, apiResp{OK: true, Data: data})
}

func (g *Gateway) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, apiResp{OK: false, Error: "method not allowed"})
		return
	}
	limit, cursor, err := listParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResp{OK: false, Error: err.Error()})
		return
	}
	campaigns, next, err := g.crmSt.ListCampaigns(r.Context(), limit, cursor)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResp{OK: false, Error: "list campaigns failed"})
		return
	}
	writeJSON(w, http.StatusOK, apiResp{OK: true, Data: map[string]any{
		"campaigns":   campaigns,
		"next_cursor": next,
	}})
}

func (g *Gateway) handleSegments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, apiResp{OK: false, Error: "method not allowed"})
		return
	}
	limit, cursor, err := listParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResp{OK: false, Error: err.Error()})
		return
	}
	segments, next, err := g.crmSt.ListSegments(r.Context(), limit, cursor)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResp{OK: false, Error: "list segments failed"})
		return
	}
	writeJSON(w, http.StatusOK, apiResp{OK: true, Data: map[string]any{
		"segments":    segments,
		"next_cursor": next,
	}})
}

func (g *Gateway) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, apiResp{OK: false, Error: "method not allowed"})
		return
	}
	if g.audit == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiResp{OK: false, Error: "audit log not configured"})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, apiResp{OK: false, Error: "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := g.audit.List(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResp{OK: false, Error: "list audit failed"})
		return
	}
	writeJSON(w, http.StatusOK, apiResp{OK: true, Data: map[string]any{"entries": entries}})
}

func listParams(r *http.Request) (int, crm.Cursor, error) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, crm.Cursor{}, errors.New("invalid limit")
		}
		limit = n
	}
	cursor, ok := crm.DecodeCursor(q.Get("cursor"))
	if !ok {
		return 0, crm.Cursor{}, errors.New("invalid cursor")
	}
	return limit, cursor, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
