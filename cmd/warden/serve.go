package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/warden/approval"
	"github.com/tailored-agentic-units/warden/decision"
	"github.com/tailored-agentic-units/warden/kernel"
	"github.com/tailored-agentic-units/warden/observability"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the decision API",
		Args:  cobra.NoArgs,
		RunE:  serveAction,
	}
	cmd.Flags().String("listen", "localhost:7420", "Decision API listen address")
	cmd.Flags().String("gops", "", "Start a gops diagnostics agent on this address")
	return cmd
}

func serveAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	listen, _ := cmd.Flags().GetString("listen")
	gopsAddr, _ := cmd.Flags().GetString("gops")

	logger := newLogger(cmd)
	observer := observability.NewSlogObserver(logger)

	k, err := kernel.New(cfg,
		kernel.WithObserver(observer),
		kernel.WithGateOptions(approval.WithNotifier(decision.NewTerminal(nil, os.Stderr))),
	)
	if err != nil {
		return fmt.Errorf("failed to create kernel: %w", err)
	}
	defer k.Close()

	if gopsAddr != "" {
		if err := agent.Listen(agent.Options{Addr: gopsAddr}); err != nil {
			return fmt.Errorf("failed to start gops agent: %w", err)
		}
		defer agent.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle(decision.NewHandler(k, observer))
	srv := &http.Server{
		Addr:              listen,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("decision API listening", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if egress := k.Egress(); egress != nil {
		g.Go(func() error {
			logger.Info("egress proxy listening", "addr", cfg.Sandbox.EgressListen)
			return egress.ListenAndServe(ctx, cfg.Sandbox.EgressListen)
		})
	}

	return g.Wait()
}
