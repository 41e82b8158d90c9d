package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"empathy/internal/app"
	"empathy/internal/config"
	"empathy/internal/domain"
	"empathy/internal/orchestrator"
	"empathy/internal/tts"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:          "empathy",
		Short:        "Empathetic reply pipeline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to empathy.yaml")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		config.SetupLogging(cfg.Logging)
		return cfg, nil
	}

	root.AddCommand(newServeCmd(load), newTurnCmd(load), newVoicesCmd(load))
	return root
}

type loader func() (*config.Config, error)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket, gRPC health and MQTT servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	}
}

func newTurnCmd(load loader) *cobra.Command {
	var (
		sessionID string
		text      string
		audioPath string
		ctype     string
		langHint  string
		speak     bool
		outPath   string
	)
	cmd := &cobra.Command{
		Use:   "turn",
		Short: "Run a single turn from text or an audio file and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if text == "" && audioPath == "" {
				return errors.New("one of --text or --audio is required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			req := domain.TurnRequest{SessionID: sessionID, Text: text, LanguageHint: langHint, Speak: speak || outPath != ""}
			if audioPath != "" {
				req.Audio, err = os.ReadFile(audioPath)
				if err != nil {
					return fmt.Errorf("read audio: %w", err)
				}
				req.ContentType = ctype
				if req.ContentType == "" {
					req.ContentType = mime.TypeByExtension(filepath.Ext(audioPath))
				}
			}

			ctx := cmd.Context()
			a, err := app.Build(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Service.ProcessTurn(ctx, req)
			if err != nil {
				var te *orchestrator.TurnError
				if errors.As(err, &te) {
					fmt.Fprintln(cmd.ErrOrStderr(), te.UserMessage)
				}
				return err
			}

			if outPath != "" && len(res.ReplyAudio) > 0 {
				if err := os.WriteFile(outPath, res.ReplyAudio, 0o644); err != nil {
					return fmt.Errorf("write reply audio: %w", err)
				}
			}
			res.ReplyAudio = nil
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "cli", "session id")
	cmd.Flags().StringVar(&text, "text", "", "typed utterance")
	cmd.Flags().StringVar(&audioPath, "audio", "", "voice clip to transcribe")
	cmd.Flags().StringVar(&ctype, "content-type", "", "content type of the voice clip (guessed from the extension)")
	cmd.Flags().StringVar(&langHint, "lang", "", "language hint")
	cmd.Flags().BoolVar(&speak, "speak", false, "synthesize the reply")
	cmd.Flags().StringVar(&outPath, "out", "", "write the synthesized reply to this file")
	cmd.MarkFlagsMutuallyExclusive("text", "audio")
	return cmd
}

func newVoicesCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "Print the voice table of every configured synthesizer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			synths := app.Synthesizers(cfg.Synthesis, nil, nil)
			if len(synths) == 0 {
				return errors.New("no synthesizers configured")
			}
			tables := tts.NewOrchestrator(synths, 0, nil, nil).VoiceTables()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tLANGUAGE\tVOICE")
			for _, s := range synths {
				voices := tables[s.Name()]
				langs := make([]string, 0, len(voices))
				for lang := range voices {
					langs = append(langs, lang)
				}
				sort.Strings(langs)
				for _, lang := range langs {
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name(), lang, voices[lang])
				}
			}
			return w.Flush()
		},
	}
}
