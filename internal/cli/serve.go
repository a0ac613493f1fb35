package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scalytics/skytext/internal/channels"
	"github.com/scalytics/skytext/internal/gateway"
)

// serveNotifyContext is swapped in tests.
var serveNotifyContext = signal.NotifyContext

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SMS webhook gateway",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	printHeader(cmd.OutOrStdout(), "🌦️ skytext Gateway")

	ctx, stop := serveNotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("Close trace store", "error", err)
		}
	}()

	if cfg.Twilio.AuthToken == "" {
		slog.Warn("Twilio auth token not set, webhook signatures are not verified")
	}
	stats := &channels.Stats{}
	webhook := channels.NewTwilio(channels.TwilioConfig{
		AuthToken:     cfg.Twilio.AuthToken,
		PublicBaseURL: cfg.Gateway.PublicBaseURL,
	}, rt.guard, stats)

	addr := cfg.Gateway.Addr()
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s (store=%s, weather=%s)\n", addr, cfg.Store.Mode, cfg.Weather.Mode)
	srv := gateway.NewServer(addr, gateway.NewHandler(webhook, stats))
	if err := srv.Run(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil && cmd.Context().Err() == nil {
		slog.Info("Shutdown signal received")
	}
	return nil
}
