package main

import (
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/warden/approval"
	"github.com/tailored-agentic-units/warden/decision"
)

func newClient(cmd *cobra.Command) *decision.Client {
	server, _ := cmd.Flags().GetString("server")
	return decision.NewClient(http.DefaultClient, server)
}

func newDecideCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decide REQUEST-ID approve|deny|trust",
		Short: "Decide a pending approval request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := approval.ParseDecision(args[1]); err != nil {
				return fmt.Errorf("%w: %q", err, args[1])
			}
			if err := newClient(cmd).Decide(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			color.Green("✓ %s: %s", args[0], args[1])
			return nil
		},
	}
}

func newPendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List pending approval requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reqs, err := newClient(cmd).Pending(cmd.Context())
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending requests")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTOOL\tREQUESTER\tSESSION\tEXPIRES IN\tARGUMENTS")
			for _, r := range reqs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Tool, r.Requester, r.SessionID,
					time.Until(r.ExpiresAt).Round(time.Second), r.Preview)
			}
			return w.Flush()
		},
	}
}

func newAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort SESSION-ID",
		Short: "Stop a session's run and expire its pending approvals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			aborted, err := newClient(cmd).Abort(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !aborted {
				color.Yellow("session %s had nothing to abort", args[0])
				return nil
			}
			color.Red("✗ session %s aborted", args[0])
			return nil
		},
	}
}

func newTrustCommand() *cobra.Command {
	trustCmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage trust records",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List trust records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			requester, _ := cmd.Flags().GetString("requester")
			records, err := newClient(cmd).ListTrust(cmd.Context(), requester)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REQUESTER\tTOOL\tGRANTED AT\tGRANTED BY")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					rec.Requester, rec.Tool, rec.GrantedAt.Local().Format(time.DateTime), rec.GrantedBy)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().String("requester", "", "Only list records of this requester")

	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the trust record of a requester for a tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			requester, _ := cmd.Flags().GetString("requester")
			tool, _ := cmd.Flags().GetString("tool")
			revoked, err := newClient(cmd).RevokeTrust(cmd.Context(), requester, tool)
			if err != nil {
				return err
			}
			if !revoked {
				color.Yellow("no trust record for %s / %s", requester, tool)
				return nil
			}
			color.Green("✓ revoked trust of %s for %s", requester, tool)
			return nil
		},
	}
	revokeCmd.Flags().String("requester", "", "Requester whose trust is revoked")
	revokeCmd.Flags().String("tool", "", "Tool the trust applies to")
	_ = revokeCmd.MarkFlagRequired("requester")
	_ = revokeCmd.MarkFlagRequired("tool")

	trustCmd.AddCommand(listCmd, revokeCmd)
	return trustCmd
}
