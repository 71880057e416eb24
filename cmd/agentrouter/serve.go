package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agentrouter/internal/httpapi"
)

type serveOptions struct {
	addr        string
	store       string
	corsOrigins string
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides orchestrator.addr)")
	cmd.Flags().StringVar(&opts.store, "store", "", "run store: memory, file or sqlite (overrides orchestrator.store)")
	cmd.Flags().StringVar(&opts.corsOrigins, "cors-origins", "", "comma separated origins allowed by CORS")
	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, opts *serveOptions) error {
	cfg, logger, err := flags.load()
	if err != nil {
		return err
	}
	cfg.Orchestrator.Addr = firstNonEmpty(opts.addr, cfg.Orchestrator.Addr)
	cfg.Orchestrator.Store = firstNonEmpty(opts.store, cfg.Orchestrator.Store)

	rt, err := newRuntime(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()
	rt.watchCatalog(ctx)

	api := httpapi.New(rt.runner, rt.registry, rt.bus, httpapi.Config{
		CORSOrigins: splitList(opts.corsOrigins),
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Orchestrator.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orchestrator started",
			"addr", cfg.Orchestrator.Addr,
			"store", cfg.Orchestrator.Store,
			"agents", rt.registry.Len(),
			"selection", cfg.Orchestrator.Selection,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
