// Package telemetry installs the OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporters accepted by Setup.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config selects the span exporter.
type Config struct {
	Exporter string
	// Writer receives stdout spans; nil means os.Stderr so stdout stays
	// clean for command output.
	Writer io.Writer
}

// Setup installs a global tracer provider and returns its shutdown func.
// With no exporter configured the default no-op provider stays in place.
func Setup(cfg Config) (func(context.Context) error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Exporter)) {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q", cfg.Exporter)
	}
}
