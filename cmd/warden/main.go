// Command warden runs the tool-call mediation engine: one-shot prompts with
// an interactive approval prompt, or a long-running decision service.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/warden/kernel"
)

const defaultServer = "http://localhost:7420"

func main() {
	if err := newApp().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "warden:", err)
		os.Exit(1)
	}
}

func newApp() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "warden",
		Short: "Mediate every tool call a model makes",
		Example: `  Ask a question, approving gated tools at the terminal:
  $ warden run --config warden.json "what is on my calendar?"

  Serve the decision API and decide remotely:
  $ warden serve --config warden.json
  $ warden pending
  $ warden decide <request-id> approve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to warden config JSON file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging to stderr")
	rootCmd.PersistentFlags().String("server", defaultServer, "Decision service URL")

	rootCmd.AddCommand(
		newRunCommand(),
		newServeCommand(),
		newDecideCommand(),
		newPendingCommand(),
		newAbortCommand(),
		newTrustCommand(),
	)
	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*kernel.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		cfg := kernel.DefaultConfig()
		return &cfg, nil
	}

	cfg, err := kernel.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func defaultRequester() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "anonymous"
}
