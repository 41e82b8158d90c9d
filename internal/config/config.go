// Package config loads the empathy server configuration from file,
// environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"empathy/internal/language"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Language      LanguageConfig      `mapstructure:"language"`
	Emotion       EmotionConfig       `mapstructure:"emotion"`
	Session       SessionConfig       `mapstructure:"session"`
	Generation    GenerationConfig    `mapstructure:"generation"`
	Translation   TranslationConfig   `mapstructure:"translation"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	MQTT          MQTTConfig          `mapstructure:"mqtt"`
	Health        HealthConfig        `mapstructure:"health"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCPort        int           `mapstructure:"grpc_port"` // 0 disables the gRPC health service
	MaxTextRunes    int           `mapstructure:"max_text_runes"`
	MaxAudioBytes   int           `mapstructure:"max_audio_bytes"`
	TurnTimeout     time.Duration `mapstructure:"turn_timeout"`
	AlwaysSpeak     bool          `mapstructure:"always_speak"`
	DebugInvariants bool          `mapstructure:"debug_invariants"`
}

type LanguageConfig struct {
	Pivot     string  `mapstructure:"pivot"`
	Threshold float64 `mapstructure:"threshold"`
}

type EmotionConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RemoteURL     string        `mapstructure:"remote_url"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
	VoiceURL      string        `mapstructure:"voice_url"`
	VoiceTimeout  time.Duration `mapstructure:"voice_timeout"`
	Fusion        FusionConfig  `mapstructure:"fusion"`
}

type FusionConfig struct {
	RemoteWeight        float64 `mapstructure:"remote_weight"`
	LocalWeight         float64 `mapstructure:"local_weight"`
	DisagreeLocalWeight float64 `mapstructure:"disagree_local_weight"`
	TextWeight          float64 `mapstructure:"text_weight"`
	VoiceWeight         float64 `mapstructure:"voice_weight"`
}

type SessionConfig struct {
	Limit int `mapstructure:"limit"`
}

// GenerationConfig lists the vendor paths in the order they are tried.
type GenerationConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Paths       []PathConfig  `mapstructure:"paths"`
}

type PathConfig struct {
	Vendor      string             `mapstructure:"vendor"` // openai, claude, ollama
	BaseURL     string             `mapstructure:"base_url"`
	Credentials []CredentialConfig `mapstructure:"credentials"`
	Models      []string           `mapstructure:"models"`
}

type CredentialConfig struct {
	Name   string `mapstructure:"name"`
	APIKey string `mapstructure:"api_key"`
}

type TranslationConfig struct {
	Timeout   time.Duration               `mapstructure:"timeout"`
	Providers []TranslationProviderConfig `mapstructure:"providers"`
}

type TranslationProviderConfig struct {
	Kind    string `mapstructure:"kind"` // libretranslate, deepl, llm
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type TranscriptionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SynthesisConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`

	// Order names the synthesizers in the order they are tried.
	Order  []string           `mapstructure:"order"`
	Piper  PiperConfig        `mapstructure:"piper"`
	OpenAI OpenAISpeechConfig `mapstructure:"openai"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol). Endpoints maps
// language codes to per-language instances and wins over Endpoint.
type PiperConfig struct {
	Endpoint  string            `mapstructure:"endpoint"`
	Endpoints map[string]string `mapstructure:"endpoints"`
	Voices    map[string]string `mapstructure:"voices"`
	Fallback  string            `mapstructure:"fallback"`
}

type OpenAISpeechConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	APIKey  string            `mapstructure:"api_key"`
	Model   string            `mapstructure:"model"`
	Voice   string            `mapstructure:"voice"`
	Voices  map[string]string `mapstructure:"voices"`
}

type ArchiveConfig struct {
	Driver string `mapstructure:"driver"` // none, postgres, sqlite
	DSN    string `mapstructure:"dsn"`
	Path   string `mapstructure:"path"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
	AcceptTurns bool   `mapstructure:"accept_turns"`
}

type HealthConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":9020")
	v.SetDefault("server.grpc_port", 50061)
	v.SetDefault("server.max_text_runes", 4000)
	v.SetDefault("server.max_audio_bytes", 25<<20)
	v.SetDefault("server.turn_timeout", "90s")
	v.SetDefault("server.always_speak", false)
	v.SetDefault("server.debug_invariants", false)

	v.SetDefault("language.pivot", "en")
	v.SetDefault("language.threshold", 0.5)

	v.SetDefault("emotion.timeout", "6s")
	v.SetDefault("emotion.remote_url", "")
	v.SetDefault("emotion.remote_timeout", "1500ms")
	v.SetDefault("emotion.voice_url", "")
	v.SetDefault("emotion.voice_timeout", "5s")
	v.SetDefault("emotion.fusion.remote_weight", 0.8)
	v.SetDefault("emotion.fusion.local_weight", 0.2)
	v.SetDefault("emotion.fusion.disagree_local_weight", 0.02)
	v.SetDefault("emotion.fusion.text_weight", 0.5)
	v.SetDefault("emotion.fusion.voice_weight", 0.5)

	v.SetDefault("session.limit", 10)

	v.SetDefault("generation.timeout", "20s")
	v.SetDefault("generation.max_tokens", 512)
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.paths", []map[string]any{
		{
			"vendor":      "openai",
			"credentials": []map[string]any{{"name": "primary", "api_key": "${OPENAI_API_KEY}"}},
			"models":      []string{"gpt-4o-mini"},
		},
	})

	v.SetDefault("translation.timeout", "8s")

	v.SetDefault("transcription.base_url", "https://api.openai.com/v1")
	v.SetDefault("transcription.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("transcription.model", "whisper-1")
	v.SetDefault("transcription.timeout", "30s")

	v.SetDefault("synthesis.timeout", "15s")
	v.SetDefault("synthesis.order", []string{"piper"})
	v.SetDefault("synthesis.piper.endpoint", "localhost:10200")
	v.SetDefault("synthesis.piper.fallback", "en")
	v.SetDefault("synthesis.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("synthesis.openai.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("synthesis.openai.model", "gpt-4o-mini-tts")
	v.SetDefault("synthesis.openai.voice", "alloy")

	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.path", "empathy.db")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "empathy-server")
	v.SetDefault("mqtt.topic_prefix", "empathy")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.accept_turns", false)

	v.SetDefault("health.ttl", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads the configuration. If configFile is empty the search order is
// ./empathy.yaml, ./configs/empathy.yaml, /etc/empathy/empathy.yaml.
// Environment variables use the EMPATHY_ prefix, e.g. EMPATHY_SERVER_HTTP_ADDR.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("empathy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/empathy")
	}

	v.SetEnvPrefix("EMPATHY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.resolveSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveSecrets() {
	for i := range c.Generation.Paths {
		for j := range c.Generation.Paths[i].Credentials {
			c.Generation.Paths[i].Credentials[j].APIKey = resolveEnvRef(c.Generation.Paths[i].Credentials[j].APIKey)
		}
	}
	for i := range c.Translation.Providers {
		c.Translation.Providers[i].APIKey = resolveEnvRef(c.Translation.Providers[i].APIKey)
	}
	c.Transcription.APIKey = resolveEnvRef(c.Transcription.APIKey)
	c.Synthesis.OpenAI.APIKey = resolveEnvRef(c.Synthesis.OpenAI.APIKey)
	c.Archive.DSN = resolveEnvRef(c.Archive.DSN)
	c.MQTT.Password = resolveEnvRef(c.MQTT.Password)
}

func (c *Config) Validate() error {
	pivot, ok := language.Canonical(c.Language.Pivot)
	if !ok {
		return fmt.Errorf("language.pivot %q is not a supported language", c.Language.Pivot)
	}
	c.Language.Pivot = pivot

	f := c.Emotion.Fusion
	if !near(f.RemoteWeight+f.LocalWeight, 1) {
		return fmt.Errorf("emotion.fusion remote_weight + local_weight must be 1, got %.3f", f.RemoteWeight+f.LocalWeight)
	}
	if !near(f.TextWeight+f.VoiceWeight, 1) {
		return fmt.Errorf("emotion.fusion text_weight + voice_weight must be 1, got %.3f", f.TextWeight+f.VoiceWeight)
	}
	if f.DisagreeLocalWeight < 0 || f.DisagreeLocalWeight > f.LocalWeight {
		return fmt.Errorf("emotion.fusion.disagree_local_weight must be within [0, local_weight]")
	}
	if c.Session.Limit <= 0 {
		return fmt.Errorf("session.limit must be positive")
	}

	if len(c.Generation.Paths) == 0 {
		return fmt.Errorf("generation.paths is required")
	}
	for i, p := range c.Generation.Paths {
		if len(p.Models) == 0 {
			return fmt.Errorf("generation.paths[%d] (%s) has no models", i, p.Vendor)
		}
		if p.Vendor != "ollama" && len(p.Credentials) == 0 {
			return fmt.Errorf("generation.paths[%d] (%s) has no credentials", i, p.Vendor)
		}
	}

	for i, p := range c.Translation.Providers {
		switch p.Kind {
		case "libretranslate", "deepl", "llm":
		default:
			return fmt.Errorf("translation.providers[%d]: unknown kind %q", i, p.Kind)
		}
	}

	for _, name := range c.Synthesis.Order {
		switch name {
		case "piper", "openai":
		default:
			return fmt.Errorf("synthesis.order: unknown synthesizer %q", name)
		}
	}

	switch c.Archive.Driver {
	case "", "none":
	case "postgres":
		if c.Archive.DSN == "" {
			return fmt.Errorf("archive.dsn is required when archive.driver=postgres")
		}
	case "sqlite":
		if c.Archive.Path == "" {
			return fmt.Errorf("archive.path is required when archive.driver=sqlite")
		}
	default:
		return fmt.Errorf("archive.driver: unknown driver %q", c.Archive.Driver)
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// resolveEnvRef replaces "${VAR_NAME}" with the value of the environment
// variable. An unset variable resolves to the empty string.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
		return ""
	}
	return val
}

// SetupLogging builds the process logger and installs it as the slog default.
func SetupLogging(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
