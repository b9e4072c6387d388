// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing installs an OpenTelemetry tracer provider for one
// storykeep invocation. Lock acquisition, writes and updates open spans
// through otel.Tracer; with no provider installed those spans are no-ops.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Exporter names accepted in Config.Exporter.
const (
	ExporterStdout   = "stdout"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
)

// Config controls tracing for an invocation.
type Config struct {
	// Enabled turns tracing on. When false Setup returns a nil Provider.
	Enabled bool

	ServiceName    string
	ServiceVersion string

	// Exporter selects where spans go. Default: ExporterStdout
	Exporter string

	// Writer receives exported spans for the stdout exporter. Default: os.Stderr
	Writer io.Writer

	// PrettyPrint indents exported spans.
	PrettyPrint bool

	// OTLP configures the otlp-grpc and otlp-http exporters.
	OTLP OTLPConfig
}

// Provider wraps the SDK tracer provider and restores the previous global
// provider on shutdown.
type Provider struct {
	tp       *sdktrace.TracerProvider
	previous trace.TracerProvider
}

// Setup creates a provider exporting to cfg.Exporter and installs it as the
// global provider.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Exporter {
	case "", ExporterStdout:
		exporter, err := NewConsoleExporter(ConsoleConfig{
			Writer:      cfg.Writer,
			PrettyPrint: cfg.PrettyPrint,
		})
		if err != nil {
			return nil, err
		}
		// Spans are printed as they end; an invocation is short lived.
		return NewProvider(cfg.ServiceName, cfg.ServiceVersion, sdktrace.WithSyncer(exporter))
	case ExporterOTLPGRPC, ExporterOTLPHTTP:
		newExporter := NewOTLPExporter
		if cfg.Exporter == ExporterOTLPHTTP {
			newExporter = NewOTLPHTTPExporter
		}
		exporter, err := newExporter(ctx, cfg.OTLP)
		if err != nil {
			return nil, err
		}
		// Shutdown flushes the batch before the process exits
		return NewProvider(cfg.ServiceName, cfg.ServiceVersion, sdktrace.WithBatcher(exporter))
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// NewProvider creates a tracer provider and installs it globally.
func NewProvider(serviceName, version string, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	// No schema URL, so merging with the default resource cannot conflict
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	allOpts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}, opts...)

	p := &Provider{
		tp:       sdktrace.NewTracerProvider(allOpts...),
		previous: otel.GetTracerProvider(),
	}
	otel.SetTracerProvider(p.tp)
	return p, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil {
		return otel.Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans and reinstates the previous global provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	otel.SetTracerProvider(p.previous)
	return p.tp.Shutdown(ctx)
}
