package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/health"
	"github.com/loqalabs/loqa-caption/internal/language"
	"github.com/loqalabs/loqa-caption/internal/stt"
	"github.com/loqalabs/loqa-caption/internal/translate"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "captionctl",
	Short:         "Talk to the translation and transcription backends directly",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var translateCmd = &cobra.Command{
	Use:   "translate [text...]",
	Short: "Translate text with the configured model",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		source, _ := cmd.Flags().GetString("source")
		target, _ := cmd.Flags().GetString("target")
		if source == "" {
			source = cfg.Captioner.SourceLanguage
		}
		if target == "" {
			target = cfg.Captioner.TargetLanguage
		}
		translator, err := translate.New(cfg.Translation, language.NewTable(cfg.Languages))
		if err != nil {
			return err
		}
		text, err := translator.Translate(cmd.Context(), strings.Join(args, " "), language.Code(source), language.Code(target))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file>",
	Short: "Send an audio file to the transcription service",
	Long: `Send an audio file to the transcription service.

Files ending in .pcm are treated as raw 16-bit little-endian PCM and wrapped
in a WAV container first; anything else is uploaded as is.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		hint, _ := cmd.Flags().GetString("language")
		mimeType, _ := cmd.Flags().GetString("mime")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		var req stt.Request
		if strings.EqualFold(filepath.Ext(args[0]), ".pcm") {
			req, err = stt.RequestFromPCM(data, cfg.Transcription.SampleRate, cfg.Transcription.Channels, hint)
			if err != nil {
				return err
			}
		} else {
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(args[0]))
			}
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			req = stt.Request{
				AudioBase64:  base64.StdEncoding.EncodeToString(data),
				MIMEType:     mimeType,
				LanguageHint: language.Code(hint),
			}
		}

		transcriber, err := stt.New(cfg.Transcription)
		if err != nil {
			return err
		}
		transcript, err := transcriber.Transcribe(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), transcript)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the translation and transcription services",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
		prober := health.NewProber(cfg, &http.Client{}, logger)
		status := prober.Check(cmd.Context())
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "translation:   %s\n", describe(status.TranslationOK, status.TranslationError))
		fmt.Fprintf(out, "transcription: %s\n", describe(status.TranscriptionOK, status.TranscriptionError))
		return nil
	},
}

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the configured languages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		options := language.NewTable(cfg.Languages).Options()
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(options)
		}
		for _, opt := range options {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", opt.Code, opt.Name)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	translateCmd.Flags().StringP("source", "s", "", "Source language code (defaults to captioner.source_language)")
	translateCmd.Flags().StringP("target", "t", "", "Target language code (defaults to captioner.target_language)")

	transcribeCmd.Flags().StringP("language", "l", "", "Language hint passed to the service")
	transcribeCmd.Flags().String("mime", "", "MIME type of the file (guessed from the extension when empty)")

	languagesCmd.Flags().Bool("json", false, "Print as JSON")

	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(languagesCmd)
	rootCmd.AddCommand(versionCmd)
}

func describe(ok bool, msg string) string {
	if ok {
		return "ok"
	}
	return "unavailable (" + msg + ")"
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
