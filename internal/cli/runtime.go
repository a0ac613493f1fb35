package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scalytics/skytext/internal/agent"
	"github.com/scalytics/skytext/internal/config"
	"github.com/scalytics/skytext/internal/tracestore"
	"github.com/scalytics/skytext/internal/weather"
)

// runtime holds the wired pipeline shared by serve, simulate and replay.
type runtime struct {
	store tracestore.Store
	exec  *agent.Executor
	guard *agent.Guard
}

func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	resolver, provider, err := weatherSources(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	opts := agent.Options{
		DefaultLocation: cfg.Agent.DefaultLocation,
		MaxInputChars:   cfg.Agent.MaxInputChars,
		MaxMessageChars: cfg.Agent.MaxMessageChars,
		IncludeRefID:    cfg.Agent.IncludeRefID,
		MemoryTTL:       cfg.Agent.MemoryTTL,
	}
	if url := strings.TrimSpace(cfg.Alerts.SlackWebhookURL); url != "" {
		opts.Notifier = agent.NewSlackNotifier(url)
	}

	exec := agent.NewExecutor(store, resolver, provider, opts)
	return &runtime{
		store: store,
		exec:  exec,
		guard: agent.NewGuard(store, exec, agent.DefaultGuardOptions()),
	}, nil
}

// Close waits for pending failure alerts, then releases the store.
func (r *runtime) Close() error {
	r.exec.Wait()
	return r.store.Close()
}

func storeOptions(cfg *config.Config) tracestore.Options {
	return tracestore.Options{
		Mode:        cfg.Store.Mode,
		Path:        cfg.Store.Path,
		Driver:      cfg.Store.Driver,
		DSN:         cfg.Store.DSN,
		AutoMigrate: cfg.Store.AutoMigrate,
		RedisURL:    cfg.Store.RedisURL,
		KeyPrefix:   cfg.Store.KeyPrefix,
		TTL:         cfg.Store.TTL,
	}
}

// openStore opens the configured backend and wraps it in the Kafka mirror
// when brokers are set.
func openStore(ctx context.Context, cfg *config.Config) (tracestore.Store, error) {
	store, err := tracestore.Open(ctx, storeOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	slog.Debug("Trace store opened", "mode", cfg.Store.Mode)
	if !cfg.Mirror.Enabled() {
		return store, nil
	}
	slog.Info("Mirroring traces to Kafka", "brokers", cfg.Mirror.Brokers, "topic", cfg.Mirror.Topic)
	pub := tracestore.NewKafkaPublisher(cfg.Mirror.Brokers, cfg.Mirror.Topic)
	return tracestore.NewMirror(store, pub), nil
}

func weatherSources(cfg *config.Config) (weather.Resolver, weather.Provider, error) {
	wc := cfg.Weather
	switch strings.ToLower(wc.Mode) {
	case config.WeatherModeFixture:
		resolver, err := weather.LoadFixtureResolver(wc.FixturesDir)
		if err != nil {
			return nil, nil, fmt.Errorf("load location fixtures: %w", err)
		}
		provider, err := weather.LoadFixtureProvider(wc.FixturesDir)
		if err != nil {
			return nil, nil, fmt.Errorf("load weather fixtures: %w", err)
		}
		slog.Info("Using fixture weather", "dir", wc.FixturesDir)
		return resolver, provider, nil
	case config.WeatherModeLive:
		fetch := weather.FetchConfig{Timeout: wc.Timeout, Retries: wc.Retries, RetryDelay: wc.RetryDelay}
		client := weather.NewHTTPClient()
		geocoder := weather.NewGeocoder(weather.GeocoderOptions{
			BaseURL:         wc.GeocodeURL,
			Client:          client,
			Fetch:           fetch,
			RatePerSecond:   wc.GeocodeRatePerSec,
			DefaultLocation: cfg.Agent.DefaultLocation,
		})
		return geocoder, weather.NewOpenMeteo(wc.ForecastURL, client, fetch), nil
	default:
		return nil, nil, errors.New("unknown weather mode " + wc.Mode)
	}
}
