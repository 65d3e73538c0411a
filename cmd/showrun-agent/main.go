package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/showrunhq/showrun-agent/internal/agent"
	"github.com/showrunhq/showrun-agent/internal/auditlog"
	"github.com/showrunhq/showrun-agent/internal/config"
	"github.com/showrunhq/showrun-agent/internal/crm"
	"github.com/showrunhq/showrun-agent/internal/settings"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	case "seed":
		seedCmd(os.Args[2:])
	case "secret":
		secretCmd(os.Args[2:])
	case "version":
		fmt.Printf("showrun-agent %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `showrun-agent

Usage:
  showrun-agent init [flags]
  showrun-agent run [flags]
  showrun-agent seed [flags]
  showrun-agent secret set|clear|status <provider>
  showrun-agent version

Commands:
  init      Write a starter config file.
  run       Run the agent using the local config file.
  seed      Load fans into the CRM database (starter set or a JSON file).
  secret    Manage provider API keys in the local secrets store.
  version   Print build information.

`)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	provider := fs.String("provider", "anthropic", "Provider type: anthropic|openai|openai_compatible")
	model := fs.String("model", "claude-sonnet-4-5", "Reasoning model id")
	baseURL := fs.String("base-url", "", "Provider base URL (required for openai_compatible)")
	listen := fs.String("listen", config.DefaultListenAddr, "Gateway listen address")
	_ = fs.Parse(args)

	cfg := &config.Config{
		ListenAddr: *listen,
		Provider: config.Provider{
			Type:    *provider,
			BaseURL: *baseURL,
			Model:   *model,
		},
	}
	if err := config.Save(filepath.Clean(*cfgPath), cfg); err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written: %s\n", filepath.Clean(*cfgPath))
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	noBanner := fs.Bool("no-banner", false, "Suppress the startup banner")
	_ = fs.Parse(args)

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	a, err := agent.New(agent.Options{
		Config:    cfg,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init agent: %v\n", err)
		os.Exit(1)
	}

	if !*noBanner {
		printWelcomeBanner(os.Stdout, welcomeBannerOptions{
			Version:    Version,
			ListenAddr: cfg.EffectiveListenAddr(),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "agent exited with error: %v\n", err)
		os.Exit(1)
	}
}

func seedCmd(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	fansFile := fs.String("fans", "", "JSON file with fans to load (default: built-in starter set)")
	_ = fs.Parse(args)

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	dataDir := cfg.EffectiveDataDir()
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "create data dir: %v\n", err)
		os.Exit(1)
	}

	store, err := crm.Open(filepath.Join(dataDir, "crm.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open crm store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	var fans []crm.Fan
	source := "starter"
	if strings.TrimSpace(*fansFile) != "" {
		fans, err = crm.LoadFansFile(*fansFile)
		source = filepath.Clean(*fansFile)
	} else {
		fans, err = crm.StarterFans()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fans: %v\n", err)
		os.Exit(1)
	}

	n, err := store.SeedFans(context.Background(), fans)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	if audit, aerr := auditlog.New(auditlog.Options{StateDir: dataDir}); aerr == nil {
		_ = audit.Append(auditlog.Entry{
			Action: auditlog.ActionSeed,
			Status: auditlog.StatusOK,
			Detail: fmt.Sprintf("fans=%d source=%s", n, source),
		})
	}
	fmt.Printf("Seeded %d fans from %s\n", n, source)
}

func secretCmd(args []string) {
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: showrun-agent secret set|clear|status <provider> [--config path]\n")
		os.Exit(2)
	}
	action, provider := args[0], args[1]

	fs := flag.NewFlagSet("secret", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args[2:])

	dataDir := config.DefaultDataDir()
	if cfg, err := config.Load(filepath.Clean(*cfgPath)); err == nil {
		dataDir = cfg.EffectiveDataDir()
	}
	store := settings.NewSecretsStore(filepath.Join(dataDir, "secrets.json"))

	switch action {
	case "set":
		fmt.Fprintf(os.Stderr, "Enter API key for %s: ", provider)
		key, err := readSecretLine()
		if err != nil {
			fmt.Fprintf(os.Stderr, "read key: %v\n", err)
			os.Exit(1)
		}
		if err := store.SetProviderAPIKey(provider, key); err != nil {
			fmt.Fprintf(os.Stderr, "store key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Stored API key for %s\n", provider)
	case "clear":
		if err := store.SetProviderAPIKey(provider, ""); err != nil {
			fmt.Fprintf(os.Stderr, "clear key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Cleared API key for %s\n", provider)
	case "status":
		set, err := store.ProviderAPIKeySet([]string{provider})
		if err != nil {
			fmt.Fprintf(os.Stderr, "read secrets: %v\n", err)
			os.Exit(1)
		}
		if set[provider] {
			fmt.Printf("%s: key set\n", provider)
		} else {
			fmt.Printf("%s: no key\n", provider)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown secret action %q\n", action)
		os.Exit(2)
	}
}
