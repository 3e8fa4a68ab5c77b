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

	"github.com/spf13/cobra"

	"github.com/foomprep/lang-learn-tools/internal/config"
	"github.com/foomprep/lang-learn-tools/internal/server"
)

func newServeCmd(cfg config.Config, opts *rootOptions) *cobra.Command {
	var (
		addr           string
		maxUploadBytes int64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conversion HTTP server",
		Long: `Starts an HTTP server that converts ePubs posted to /v1/convert?lang=<lang>
and returns the rewritten archive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd.ErrOrStderr(), opts)
			if err != nil {
				return err
			}

			handler := server.New(serverOptions(opts, maxUploadBytes), log)

			srv := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       2 * time.Minute,
				WriteTimeout:      5 * time.Minute,
				IdleTimeout:       60 * time.Second,
			}

			// Channel to listen for errors coming from the listener.
			serverErrors := make(chan error, 1)
			go func() {
				log.Info("starting xpub server", "addr", srv.Addr, "backend", opts.backend)
				serverErrors <- srv.ListenAndServe()
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case <-ctx.Done():
				log.Info("shutting down")

				// Give outstanding conversions a deadline for completion.
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error("graceful shutdown did not complete", "error", err)
					return srv.Close()
				}
				log.Info("server stopped")
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", cfg.Addr, "Address to listen on")
	cmd.Flags().Int64Var(&maxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "Maximum size of an uploaded ePub")
	return cmd
}

// serverOptions maps the conversion flags onto the HTTP server settings.
func serverOptions(opts *rootOptions, maxUploadBytes int64) server.Options {
	return server.Options{
		Backend:        opts.backend,
		Workers:        opts.workers,
		SkipMalformed:  opts.skipMalformed,
		MaxUploadBytes: maxUploadBytes,
		MaxEntryBytes:  opts.maxEntryBytes,
	}
}
