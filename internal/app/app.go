// Package app builds the turn pipeline from configuration and runs its
// servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"empathy/internal/api"
	"empathy/internal/config"
	"empathy/internal/db"
	"empathy/internal/emotion"
	"empathy/internal/health"
	"empathy/internal/language"
	"empathy/internal/llm"
	"empathy/internal/memory"
	"empathy/internal/mqtt"
	"empathy/internal/orchestrator"
	"empathy/internal/prompt"
	"empathy/internal/provider"
	"empathy/internal/speech"
	"empathy/internal/translate"
	"empathy/internal/tts"
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Registry  *provider.Registry
	Service   *orchestrator.Service
	Sessions  *memory.Store
	Synthesis *tts.Orchestrator
	Health    *health.Server
	Hub       *mqtt.Hub

	closers []func()
}

// Build wires every component. Close releases the archive connection.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger, Registry: provider.NewRegistry(cfg.Health.TTL)}
	client := &http.Client{Timeout: 60 * time.Second}

	paths, err := llm.BuildPaths(client, generationPaths(cfg.Generation.Paths))
	if err != nil {
		return nil, fmt.Errorf("init generation paths: %w", err)
	}
	generator := llm.NewGenerator(paths, llm.GeneratorConfig{
		Timeout:     cfg.Generation.Timeout,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
	}, a.Registry, logger)

	translators, err := translationProviders(client, cfg.Translation.Providers, generator)
	if err != nil {
		return nil, err
	}

	var whisper speech.Transcriber
	if cfg.Transcription.BaseURL != "" {
		whisper = speech.NewWhisper(client, cfg.Transcription.BaseURL, cfg.Transcription.APIKey, cfg.Transcription.Model)
	}

	var remote emotion.Classifier
	if c := emotion.NewClient(cfg.Emotion.RemoteURL, cfg.Emotion.RemoteTimeout); c.Enabled() {
		remote = c
	}
	var voice emotion.VoiceClassifier
	if c := emotion.NewVoiceClient(cfg.Emotion.VoiceURL, cfg.Emotion.VoiceTimeout); c.Enabled() {
		voice = c
	}
	fusion := emotion.DefaultFusionConfig()
	fusion.RemoteWeight = cfg.Emotion.Fusion.RemoteWeight
	fusion.LocalWeight = cfg.Emotion.Fusion.LocalWeight
	fusion.DisagreeLocalWeight = cfg.Emotion.Fusion.DisagreeLocalWeight
	fusion.TextWeight = cfg.Emotion.Fusion.TextWeight
	fusion.VoiceWeight = cfg.Emotion.Fusion.VoiceWeight

	archive, closeArchive, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	if closeArchive != nil {
		a.closers = append(a.closers, closeArchive)
	}
	a.Sessions = memory.NewStore(cfg.Session.Limit, archive, logger)

	deps := orchestrator.Deps{
		Resolver:    language.NewResolver(cfg.Language.Pivot, cfg.Language.Threshold),
		Transcriber: speech.NewFrontEnd(whisper, cfg.Transcription.Timeout, a.Registry, logger),
		Translator:  translate.NewGateway(translators, cfg.Translation.Timeout, a.Registry, logger),
		Estimator:   emotion.NewEstimator(emotion.EstimatorConfig{Fusion: fusion, Timeout: cfg.Emotion.Timeout}, emotion.NewAnalyzer(), remote, voice, logger),
		Assembler:   prompt.NewAssembler(prompt.Config{Pivot: cfg.Language.Pivot}),
		Generator:   generator,
		Sessions:    a.Sessions,
	}

	if synths := Synthesizers(cfg.Synthesis, client, logger); len(synths) > 0 {
		a.Synthesis = tts.NewOrchestrator(synths, cfg.Synthesis.Timeout, a.Registry, logger)
		deps.Synthesizer = a.Synthesis
	}

	if cfg.MQTT.Enabled {
		a.Hub = mqtt.NewHub(mqtt.HubConfig{
			BrokerURL:   cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			AcceptTurns: cfg.MQTT.AcceptTurns,
		}, logger)
		deps.Events = a.Hub
	}

	a.Service = orchestrator.New(orchestrator.Config{
		MaxTextRunes:    cfg.Server.MaxTextRunes,
		MaxAudioBytes:   cfg.Server.MaxAudioBytes,
		TurnTimeout:     cfg.Server.TurnTimeout,
		AlwaysSpeak:     cfg.Server.AlwaysSpeak,
		DebugInvariants: cfg.Server.DebugInvariants,
	}, deps, logger)
	a.Health = health.New(cfg.Server.GRPCPort, a.Registry, logger)

	logger.Info("pipeline ready",
		"pivot", cfg.Language.Pivot,
		"generation_paths", len(paths),
		"translators", len(translators),
		"remote_emotion", remote != nil,
		"voice_emotion", voice != nil,
		"synthesis", a.Synthesis != nil,
		"archive", cfg.Archive.Driver,
		"mqtt", cfg.MQTT.Enabled,
	)
	return a, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Run serves HTTP, gRPC health and MQTT until ctx is cancelled or a server
// fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.Hub != nil {
		if err := a.Hub.Start(ctx, a.Service); err != nil {
			return fmt.Errorf("start mqtt hub: %w", err)
		}
	}

	errCh := make(chan error, 2)
	if a.cfg.Server.GRPCPort > 0 {
		go func() {
			if err := a.Health.ListenAndServe(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	var voices api.VoiceLister
	if a.Synthesis != nil {
		voices = a.Synthesis
	}
	handler := api.New(api.Config{MaxBodyBytes: int64(a.cfg.Server.MaxAudioBytes) * 3 / 2}, a.Service, a.Registry, voices, a.Health, a.logger)
	httpServer := &http.Server{
		Addr:              a.cfg.Server.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("empathy server started", "addr", a.cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	a.Health.SetReady(true)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
	}
	a.Health.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", "error", err)
	}
	return runErr
}

// Synthesizers returns the configured synthesizers in try order.
func Synthesizers(cfg config.SynthesisConfig, client *http.Client, logger *slog.Logger) []tts.Synthesizer {
	var out []tts.Synthesizer
	for _, name := range cfg.Order {
		switch name {
		case "piper":
			out = append(out, tts.NewPiper(tts.PiperConfig{
				Endpoint:  cfg.Piper.Endpoint,
				Endpoints: cfg.Piper.Endpoints,
				Voices:    cfg.Piper.Voices,
				Fallback:  cfg.Piper.Fallback,
			}, logger))
		case "openai":
			out = append(out, tts.NewOpenAISpeech(client, tts.OpenAIConfig{
				BaseURL: cfg.OpenAI.BaseURL,
				APIKey:  cfg.OpenAI.APIKey,
				Model:   cfg.OpenAI.Model,
				Voice:   cfg.OpenAI.Voice,
				Voices:  cfg.OpenAI.Voices,
			}))
		}
	}
	return out
}

func generationPaths(in []config.PathConfig) []llm.PathConfig {
	out := make([]llm.PathConfig, 0, len(in))
	for _, p := range in {
		creds := make([]llm.Credential, 0, len(p.Credentials))
		for _, c := range p.Credentials {
			creds = append(creds, llm.Credential{Name: c.Name, APIKey: c.APIKey})
		}
		out = append(out, llm.PathConfig{
			Vendor:      p.Vendor,
			BaseURL:     p.BaseURL,
			Credentials: creds,
			Models:      p.Models,
		})
	}
	return out
}

func translationProviders(client *http.Client, in []config.TranslationProviderConfig, completer translate.Completer) ([]translate.Provider, error) {
	out := make([]translate.Provider, 0, len(in))
	for i, p := range in {
		switch p.Kind {
		case "libretranslate":
			out = append(out, translate.NewLibreTranslate(client, p.BaseURL, p.APIKey))
		case "deepl":
			out = append(out, translate.NewDeepL(client, p.BaseURL, p.APIKey))
		case "llm":
			out = append(out, translate.NewLLMTranslator("llm", completer, p.Model))
		default:
			return nil, fmt.Errorf("translation.providers[%d]: unknown kind %q", i, p.Kind)
		}
	}
	return out, nil
}

func openArchive(ctx context.Context, cfg config.ArchiveConfig) (memory.Archive, func(), error) {
	switch cfg.Driver {
	case "postgres":
		store, err := db.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect archive: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrate archive: %w", err)
		}
		return store, store.Close, nil
	case "sqlite":
		store, err := db.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open archive: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}
	return nil, nil, nil
}
