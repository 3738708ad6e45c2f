package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/niallgpt/niallgpt/internal/adapters/llm"
	"github.com/niallgpt/niallgpt/internal/bootstrap"
	"github.com/niallgpt/niallgpt/internal/config"
	"github.com/niallgpt/niallgpt/internal/observability"
)

var (
	// Global flags
	verbose bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "niallgpt",
	Short: "NiallGPT - streaming chat assistant",
	Long: `NiallGPT is a conversational assistant backed by Gemini.

Sessions, settings and memory are stored locally (bbolt) by default;
set NIALL_STORAGE_BACKEND=firestore to keep them in Firestore instead.
Without an API key the built-in mock model is used.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		observability.Init(os.Stderr, level)
		return nil
	},
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, chatCmd, sessionsCmd, memoryCmd)
}

// openApp wires the application. Admin commands pass the mock model so
// they work offline.
func openApp(ctx context.Context, offline bool, opts ...bootstrap.Option) (*bootstrap.App, error) {
	if offline {
		opts = append(opts, bootstrap.WithCollaborator(llm.NewMockLLM()))
	}
	opts = append(opts, bootstrap.WithAlert(func(err error) {
		fmt.Fprintf(os.Stderr, "Warning: changes are not being saved (%v)\n", err)
	}))
	return bootstrap.New(ctx, cfg, opts...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
