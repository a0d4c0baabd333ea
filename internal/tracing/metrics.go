// Copyright 2025 Mortem Authors
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

package tracing

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics exposes the run counters through a Prometheus scrape endpoint.
// The session controller feeds it as its meter.
type Metrics struct {
	mp      *sdkmetric.MeterProvider
	handler http.Handler

	errorsSeen        metric.Int64Counter
	sessionsStarted   metric.Int64Counter
	reportsEmitted    metric.Int64Counter
	reportsSuppressed metric.Int64Counter
}

// NewMetrics builds an OTel meter backed by a Prometheus exporter. A nil
// registry uses the process-default one; tests pass their own to stay
// isolated.
func NewMetrics(reg *promclient.Registry) (*Metrics, error) {
	var opts []prometheus.Option
	handler := promhttp.Handler()
	if reg != nil {
		opts = append(opts, prometheus.WithRegisterer(reg))
		handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	exporter, err := prometheus.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := mp.Meter("mortem")

	m := &Metrics{mp: mp, handler: handler}

	m.errorsSeen, err = meter.Int64Counter(
		"mortem_errors_seen_total",
		metric.WithDescription("Errors the analysis tool paused on"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.sessionsStarted, err = meter.Int64Counter(
		"mortem_debug_sessions_total",
		metric.WithDescription("Debug sessions attached to the target"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	m.reportsEmitted, err = meter.Int64Counter(
		"mortem_reports_emitted_total",
		metric.WithDescription("Error reports written to the destinations"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return nil, err
	}

	m.reportsSuppressed, err = meter.Int64Counter(
		"mortem_reports_suppressed_total",
		metric.WithDescription("Error reports dropped by dedup, globs or the filter"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ErrorSeen counts one error the analysis tool paused on.
func (m *Metrics) ErrorSeen(ctx context.Context) {
	m.errorsSeen.Add(ctx, 1)
}

// SessionStarted counts one attached debug session.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.sessionsStarted.Add(ctx, 1)
}

// ReportEmitted counts one rendered report.
func (m *Metrics) ReportEmitted(ctx context.Context) {
	m.reportsEmitted.Add(ctx, 1)
}

// ReportSuppressed counts one report dropped before rendering.
func (m *Metrics) ReportSuppressed(ctx context.Context) {
	m.reportsSuppressed.Add(ctx, 1)
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Shutdown flushes the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.mp.Shutdown(ctx)
}
