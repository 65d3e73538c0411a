// Package agent wires the pieces of showrun-agent together: config, data
// stores, the reasoning oracle, the tool dispatcher, and the HTTP gateway.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/showrunhq/showrun-agent/internal/ai"
	"github.com/showrunhq/showrun-agent/internal/ai/tools"
	"github.com/showrunhq/showrun-agent/internal/auditlog"
	"github.com/showrunhq/showrun-agent/internal/config"
	"github.com/showrunhq/showrun-agent/internal/copygen"
	"github.com/showrunhq/showrun-agent/internal/crm"
	"github.com/showrunhq/showrun-agent/internal/gateway"
	"github.com/showrunhq/showrun-agent/internal/lockfile"
	"github.com/showrunhq/showrun-agent/internal/monitor"
	"github.com/showrunhq/showrun-agent/internal/settings"
)

// drainTimeout bounds how long shutdown waits for in-flight chats.
const drainTimeout = 10 * time.Second

type Options struct {
	Config *config.Config

	Version   string
	Commit    string
	BuildTime string
}

type Agent struct {
	cfg *config.Config
	log *slog.Logger

	version   string
	commit    string
	buildTime string

	dataDir string

	lock    *lockfile.Lock
	crm     *crm.Store
	audit   *auditlog.Store
	mon     *monitor.Service
	secrets *settings.SecretsStore
	aiSvc   *ai.Service
	gw      *gateway.Gateway
}

func New(opts Options) (*Agent, error) {
	if opts.Config == nil {
		return nil, errors.New("missing config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(strings.TrimSpace(opts.Config.LogFormat), strings.TrimSpace(opts.Config.LogLevel))
	if err != nil {
		return nil, err
	}

	dataDir, err := filepath.Abs(opts.Config.EffectiveDataDir())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &Agent{
		cfg:       opts.Config,
		log:       logger,
		version:   strings.TrimSpace(opts.Version),
		commit:    strings.TrimSpace(opts.Commit),
		buildTime: strings.TrimSpace(opts.BuildTime),
		dataDir:   dataDir,
		secrets:   settings.NewSecretsStore(filepath.Join(dataDir, "secrets.json")),
	}

	lockPath := filepath.Join(dataDir, "agent.lock")
	lock, err := lockfile.Acquire(lockPath)
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			if pid, ok := lockfile.HolderPID(lockPath); ok {
				return nil, fmt.Errorf("another showrun-agent (pid %d) already uses %s", pid, dataDir)
			}
			return nil, fmt.Errorf("another showrun-agent already uses %s", dataDir)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	a.lock = lock

	if err := a.initServices(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Agent) initServices() error {
	store, err := crm.Open(filepath.Join(a.dataDir, "crm.db"))
	if err != nil {
		return fmt.Errorf("open crm store: %w", err)
	}
	a.crm = store

	audit, err := auditlog.New(auditlog.Options{Logger: a.log, StateDir: a.dataDir})
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	a.audit = audit

	seeded, err := store.SeedStarterIfEmpty(context.Background())
	if err != nil {
		return fmt.Errorf("seed crm: %w", err)
	}
	if seeded > 0 {
		a.log.Info("seeded starter fans", "count", seeded)
		_ = audit.Append(auditlog.Entry{
			Action: auditlog.ActionSeed,
			Status: auditlog.StatusOK,
			Detail: fmt.Sprintf("fans=%d source=starter", seeded),
		})
	}

	a.mon = monitor.NewService(a.log)

	oracle, err := a.buildOracle()
	if err != nil {
		return err
	}

	dispatcher, err := tools.NewDispatcher(a.log, tools.BuiltinDefinitions(store, a.buildCopyGenerator()))
	if err != nil {
		return fmt.Errorf("init tools: %w", err)
	}

	aiSvc, err := ai.NewService(ai.Options{
		Logger:        a.log,
		Oracle:        oracle,
		Tools:         dispatcher,
		Audit:         audit,
		MaxIterations: a.cfg.EffectiveMaxIterations(),
	})
	if err != nil {
		return fmt.Errorf("init ai service: %w", err)
	}
	a.aiSvc = aiSvc

	gw, err := gateway.New(gateway.Options{
		Logger:            a.log,
		ListenAddr:        a.cfg.EffectiveListenAddr(),
		AI:                aiSvc,
		CRM:               store,
		Audit:             audit,
		Monitor:           a.mon,
		Version:           a.version,
		AllowedOrigins:    a.cfg.AllowedOrigins,
		ChatRatePerMinute: a.cfg.EffectiveChatRate(),
	})
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}
	a.gw = gw
	return nil
}

func (a *Agent) buildOracle() (ai.Oracle, error) {
	p := a.cfg.Provider
	providerType := strings.ToLower(strings.TrimSpace(p.Type))

	key, ok, err := a.secrets.GetProviderAPIKey(providerType)
	if err != nil {
		return nil, fmt.Errorf("read provider api key: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no api key for provider %q; run `showrun-agent secret set %s` or export SHOWRUN_%s_API_KEY",
			providerType, providerType, strings.ToUpper(strings.ReplaceAll(providerType, "-", "_")))
	}

	switch providerType {
	case "anthropic":
		return ai.NewAnthropicOracle(key, p.BaseURL, p.Model)
	case "openai":
		return ai.NewOpenAIOracle(key, p.BaseURL, p.Model, true)
	case "openai_compatible":
		// Strict tool schemas are off; support varies across gateways.
		return ai.NewOpenAIOracle(key, p.BaseURL, p.Model, false)
	default:
		return nil, fmt.Errorf("unsupported provider.type %q", p.Type)
	}
}

// buildCopyGenerator prefers the Anthropic drafting model and falls back to
// the deterministic template generator when no Anthropic key is configured.
func (a *Agent) buildCopyGenerator() copygen.Generator {
	key, ok, err := a.secrets.GetProviderAPIKey("anthropic")
	if err != nil || !ok {
		a.log.Info("no anthropic key; campaign copy uses the template generator")
		return copygen.TemplateGenerator{}
	}
	client := anthropic.NewClient(aoption.WithAPIKey(key))
	return copygen.NewAnthropicGenerator(client, strings.TrimSpace(a.cfg.CopyModel), a.log)
}

// Run starts the gateway and blocks until ctx is cancelled, then drains
// in-flight chats and shuts everything down.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.gw.Start(context.Background()); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	a.log.Info("agent started",
		"version", a.version,
		"commit", a.commit,
		"build_time", a.buildTime,
		"url", a.gw.URL(),
		"data_dir", a.dataDir,
		"provider", a.cfg.Provider.Type,
		"model", a.cfg.Provider.Model,
		"goos", runtime.GOOS,
		"goarch", runtime.GOARCH,
	)

	<-ctx.Done()

	a.log.Info("shutting down")
	a.aiSvc.BeginShutdown()
	a.drainChats()
	return a.Close()
}

// URL returns the gateway base URL once Run has started it.
func (a *Agent) URL() string {
	if a == nil || a.gw == nil {
		return ""
	}
	return a.gw.URL()
}

func (a *Agent) drainChats() {
	deadline := time.Now().Add(drainTimeout)
	for a.aiSvc.ActiveChats() > 0 {
		if time.Now().After(deadline) {
			a.log.Warn("drain timeout; abandoning chats", "active", a.aiSvc.ActiveChats())
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Close releases everything New acquired. Safe to call more than once.
func (a *Agent) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.gw != nil {
		errs = append(errs, a.gw.Close())
		a.gw = nil
	}
	if a.crm != nil {
		errs = append(errs, a.crm.Close())
		a.crm = nil
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Release())
		a.lock = nil
	}
	return errors.Join(errs...)
}

func newLogger(format string, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}
