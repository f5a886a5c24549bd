package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/warden/approval"
	"github.com/tailored-agentic-units/warden/decision"
	"github.com/tailored-agentic-units/warden/kernel"
	"github.com/tailored-agentic-units/warden/observability"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run PROMPT...",
		Short: "Run one prompt, approving gated tools at the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAction,
	}
	cmd.Flags().String("system-prompt", "", "System prompt (overrides config)")
	cmd.Flags().String("memory", "", "Path to memory directory (overrides config)")
	cmd.Flags().Int("max-rounds", 0, "Maximum tool rounds (overrides config)")
	cmd.Flags().String("model", "", "Model name (overrides config)")
	cmd.Flags().String("requester", defaultRequester(), "Identity the run acts for")
	return cmd
}

func runAction(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("system-prompt"); v != "" {
		cfg.SystemPrompt = v
	}
	if v, _ := cmd.Flags().GetString("memory"); v != "" {
		cfg.Memory.Path = v
	}
	if v, _ := cmd.Flags().GetInt("max-rounds"); v > 0 {
		cfg.MaxRounds = v
	}
	if v, _ := cmd.Flags().GetString("model"); v != "" {
		cfg.Model.Model = v
	}
	requester, _ := cmd.Flags().GetString("requester")

	terminal := decision.NewTerminal(os.Stdin, os.Stderr)
	observer := observability.NewMultiObserver(observability.NewSlogObserver(newLogger(cmd)), terminal)
	k, err := kernel.New(cfg,
		kernel.WithObserver(observer),
		kernel.WithGateOptions(approval.WithNotifier(terminal)),
	)
	if err != nil {
		return fmt.Errorf("failed to create kernel: %w", err)
	}
	defer k.Close()
	terminal.Attach(k.Gate())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if egress := k.Egress(); egress != nil {
		go egress.ListenAndServe(ctx, cfg.Sandbox.EgressListen)
	}

	sess, _, err := k.Sessions().Open("", requester)
	if err != nil {
		return err
	}
	result, err := k.Run(ctx, sess, strings.Join(args, " "))
	if err != nil && !errors.Is(err, kernel.ErrRoundLimitExceeded) && !errors.Is(err, kernel.ErrOutputBudgetExceeded) {
		return fmt.Errorf("run failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Response: %s\n", result.Response)

	if len(result.ToolCalls) > 0 {
		fmt.Fprintln(out, "\nTool Calls:")
		for i, tc := range result.ToolCalls {
			fmt.Fprintf(out, "  [%d] %s(%s)", i+1, tc.Name, tc.Arguments)
			if tc.Approval != "" {
				fmt.Fprintf(out, " [%s]", tc.Approval)
			}
			fmt.Fprintln(out)

			summary := tc.Content
			if len(summary) > 200 {
				summary = summary[:200] + "..."
			}
			if tc.Result.Failed() {
				fmt.Fprintf(out, "    %s\n", color.RedString(summary))
			} else {
				fmt.Fprintf(out, "    -> %s\n", summary)
			}
		}
	}

	fmt.Fprintf(out, "\nRounds: %d  Suspensions: %d\n", result.Rounds, result.Suspensions)
	return err
}
