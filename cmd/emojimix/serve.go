package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/emojimix/mixer"
)

type serveOptions struct {
	Addr   string
	Warmup bool
}

// NewServeCommand creates the serve subcommand.
func NewServeCommand(root *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if opts.Addr != "" {
				cfg.Addr = opts.Addr
			}
			svc, err := root.openService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			return serve(cmd.Context(), root, svc, cfg, opts.Warmup)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", env("EMOJIMIX_ADDR", ""), "listen address (default :21387)")
	cmd.Flags().BoolVar(&opts.Warmup, "warmup", true, "load the mapping at startup instead of on the first lookup")

	return cmd
}

func serve(ctx context.Context, root *RootOptions, svc *mixer.Service, cfg *mixer.Config, warmup bool) error {
	logger := root.logger

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Addr, "version", mixer.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return svc.Watch(gctx)
	})

	if warmup {
		g.Go(func() error {
			if err := svc.Bootstrap(gctx); err != nil && gctx.Err() == nil {
				// Lookups retry the bootstrap; a failed warm-up is not fatal.
				logger.Warn("warmup failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
		return nil
	})

	err := g.Wait()
	logger.Info("server stopped")
	return err
}
