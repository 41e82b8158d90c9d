package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "empathy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Limit != 10 || cfg.Language.Pivot != "en" {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Session, cfg.Language)
	}
	if cfg.Emotion.Fusion.RemoteWeight != 0.8 || cfg.Emotion.Fusion.DisagreeLocalWeight != 0.02 {
		t.Fatalf("fusion = %+v", cfg.Emotion.Fusion)
	}
	if cfg.Server.TurnTimeout != 90*time.Second || cfg.Emotion.RemoteTimeout != 1500*time.Millisecond {
		t.Fatalf("durations = %v %v", cfg.Server.TurnTimeout, cfg.Emotion.RemoteTimeout)
	}
	if len(cfg.Generation.Paths) != 1 || cfg.Generation.Paths[0].Credentials[0].APIKey != "sk-test" {
		t.Fatalf("default generation path = %+v", cfg.Generation.Paths)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging level = %q", cfg.Logging.Level)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("CLAUDE_KEY", "claude-secret")
	t.Setenv("EMPATHY_SERVER_HTTP_ADDR", ":7000")
	path := writeConfig(t, `
language:
  pivot: EN-us
generation:
  paths:
    - vendor: openai
      credentials:
        - name: primary
          api_key: sk-1
        - name: backup
          api_key: sk-2
      models: [gpt-4o-mini, gpt-4o]
    - vendor: claude
      credentials:
        - api_key: ${CLAUDE_KEY}
      models: [claude-3-5-haiku-latest]
    - vendor: ollama
      base_url: http://localhost:11434
      models: [llama3]
translation:
  providers:
    - kind: libretranslate
      base_url: http://localhost:5000
synthesis:
  order: [piper, openai]
  piper:
    voices:
      fr: fr_FR-siwis-medium
archive:
  driver: sqlite
  path: /tmp/empathy.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":7000" {
		t.Fatalf("env override lost: %q", cfg.Server.HTTPAddr)
	}
	if cfg.Language.Pivot != "en" {
		t.Fatalf("pivot not canonicalized: %q", cfg.Language.Pivot)
	}
	if len(cfg.Generation.Paths) != 3 {
		t.Fatalf("paths = %d", len(cfg.Generation.Paths))
	}
	if got := cfg.Generation.Paths[1].Credentials[0].APIKey; got != "claude-secret" {
		t.Fatalf("env ref not resolved: %q", got)
	}
	if len(cfg.Generation.Paths[0].Models) != 2 || cfg.Generation.Paths[2].BaseURL != "http://localhost:11434" {
		t.Fatalf("paths = %+v", cfg.Generation.Paths)
	}
	if cfg.Synthesis.Piper.Voices["fr"] != "fr_FR-siwis-medium" || len(cfg.Synthesis.Order) != 2 {
		t.Fatalf("synthesis = %+v", cfg.Synthesis)
	}
	if cfg.Archive.Driver != "sqlite" {
		t.Fatalf("archive = %+v", cfg.Archive)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"weights", "emotion:\n  fusion:\n    remote_weight: 0.7\n", "remote_weight + local_weight"},
		{"pivot", "language:\n  pivot: xx\n", "language.pivot"},
		{"archive", "archive:\n  driver: postgres\n", "archive.dsn"},
		{"translation kind", "translation:\n  providers:\n    - kind: google\n", "unknown kind"},
		{"no models", "generation:\n  paths:\n    - vendor: ollama\n", "has no models"},
		{"synth", "synthesis:\n  order: [espeak]\n", "unknown synthesizer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestResolveEnvRef(t *testing.T) {
	t.Setenv("EMPATHY_TEST_SECRET", "s3cret")
	if got := resolveEnvRef("${EMPATHY_TEST_SECRET}"); got != "s3cret" {
		t.Fatalf("got %q", got)
	}
	if got := resolveEnvRef("${EMPATHY_TEST_UNSET}"); got != "" {
		t.Fatalf("unset ref = %q", got)
	}
	if got := resolveEnvRef("plain"); got != "plain" {
		t.Fatalf("plain = %q", got)
	}
}
