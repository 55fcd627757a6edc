package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"speechd/internal/httpapi"
	"speechd/internal/speech"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr        string
		cors        string
		loadTimeout int64
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the admin HTTP server",
		Example: "  speechd serve --addr :8080\n  speechd serve --config /etc/speechd/config.yaml --log-format json",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") || os.Getenv("SPEECHD_ADDR") != "" {
				cfg.Addr = addr
			}
			if origins := splitCSV(cors); len(origins) > 0 {
				cfg.CORSOrigins = origins
			}
			log := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

			fams, err := speech.New(cfg, log)
			if err != nil {
				return err
			}

			for _, e := range fams.Engines() {
				if !e.Found {
					log.Warn().Str("family", e.Family).Str("bin", e.Bin).Str("error", e.Error).Msg("engine binary not found; loads will fail")
				}
			}

			httpapi.SetLogger(log.With().Str("component", "http").Logger())
			httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)
			httpapi.SetLoadTimeoutSeconds(loadTimeout)
			baseCtx, cancelBase := context.WithCancel(context.Background())
			defer cancelBase()
			httpapi.SetBaseContext(baseCtx)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := fams.Watch(ctx); err != nil {
					log.Warn().Err(err).Msg("models dir watcher stopped")
				}
			}()

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(fams),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Str("data_dir", cfg.DataDir).Msg("speechd listening")
				errCh <- srv.ListenAndServe()
			}()

			var serveErr error
			select {
			case <-ctx.Done():
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					serveErr = err
				}
			}

			// Graceful shutdown: refuse new loads, drain requests, then unload everything.
			cancelBase()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Error().Err(err).Msg("graceful shutdown")
			}
			if err := fams.Close(); err != nil {
				log.Warn().Err(err).Msg("unload on shutdown")
			}
			log.Info().Msg("speechd stopped")
			return serveErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envStr("SPEECHD_ADDR", ":8080"), "HTTP listen address, e.g. :8080 (defaults SPEECHD_ADDR)")
	cmd.Flags().StringVar(&cors, "cors-origins", os.Getenv("SPEECHD_CORS_ORIGINS"), "Comma separated allowed CORS origins; empty disables CORS")
	cmd.Flags().Int64Var(&loadTimeout, "load-timeout", 0, "Seconds a download or load request may run (0 = unlimited)")
	return cmd
}
