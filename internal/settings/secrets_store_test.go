package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecretsRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "secrets.json")
	s := NewSecretsStore(path)

	if _, ok, err := s.GetProviderAPIKey("anthropic"); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	if err := s.SetProviderAPIKey("anthropic", "sk-ant-test"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := s.GetProviderAPIKey("anthropic")
	if err != nil || !ok || got != "sk-ant-test" {
		t.Fatalf("get got=%q ok=%v err=%v", got, ok, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm got=%o want=600", perm)
	}

	set, err := s.ProviderAPIKeySet([]string{"anthropic", "openai"})
	if err != nil {
		t.Fatalf("key set: %v", err)
	}
	if !set["anthropic"] || set["openai"] {
		t.Fatalf("key set got=%v", set)
	}

	if err := s.SetProviderAPIKey("anthropic", ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.GetProviderAPIKey("anthropic"); ok {
		t.Fatalf("key not cleared")
	}
}

func TestSecretsEnvOverride(t *testing.T) {
	s := NewSecretsStore(filepath.Join(t.TempDir(), "secrets.json"))
	if err := s.SetProviderAPIKey("openai", "from-file"); err != nil {
		t.Fatalf("set: %v", err)
	}
	t.Setenv("SHOWRUN_OPENAI_API_KEY", "from-env")

	got, ok, err := s.GetProviderAPIKey("openai")
	if err != nil || !ok || got != "from-env" {
		t.Fatalf("get got=%q ok=%v err=%v", got, ok, err)
	}
}
