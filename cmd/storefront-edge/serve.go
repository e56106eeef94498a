package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	storefront "github.com/dawitel/storefront-edge"
	"github.com/dawitel/storefront-edge/payment"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := storefront.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger := storefront.NewLogger(cfg.Logging, os.Stdout)
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(parent context.Context, cfg *storefront.Config, logger zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := storefront.NewClient(cfg, logger, storefront.Options{
		OnSettlement: func(ctx context.Context, s payment.Settlement) error {
			logger.Info().
				Str("order_id", s.OrderID).
				Str("status", s.Status).
				Int64("amount_total", s.AmountTotal).
				Str("currency", s.Currency).
				Msg("Order settlement received")
			return nil
		},
		Reviews: logSink{logger: logger},
	})
	if err != nil {
		return err
	}

	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Stop()

	storefront.ServeMetrics(ctx, cfg.Server.MetricsAddr, logger)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           client.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("Storefront edge server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// logSink records reviews in the log until a review store is attached.
type logSink struct {
	logger zerolog.Logger
}

func (s logSink) SubmitReview(ctx context.Context, r storefront.ReviewSubmission) error {
	s.logger.Info().
		Str("order_id", r.OrderID).
		Int("rating", r.Rating).
		Str("title", r.Title).
		Msg("Review pending moderation")
	return nil
}
