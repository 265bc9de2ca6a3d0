// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lint

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/parallint/services/parallint/report"
)

// Package-level tracer and meter for lint operations.
var (
	tracer = otel.Tracer("parallint.lint")
	meter  = otel.Meter("parallint.lint")
)

// Metrics for verify operations.
var (
	verifyLatency  metric.Float64Histogram
	verifyTotal    metric.Int64Counter
	messagesFound  metric.Int64Counter
	fatalFound     metric.Int64Counter
	filesFixed     metric.Int64Counter
	metricsOnce    sync.Once
	metricsInitErr error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		if verifyLatency, err = meter.Float64Histogram(
			"parallint_verify_duration_seconds",
			metric.WithDescription("Duration of single-file verify operations"),
			metric.WithUnit("s"),
		); err != nil {
			metricsInitErr = err
			return
		}

		if verifyTotal, err = meter.Int64Counter(
			"parallint_verify_total",
			metric.WithDescription("Total number of files verified"),
		); err != nil {
			metricsInitErr = err
			return
		}

		if messagesFound, err = meter.Int64Counter(
			"parallint_messages_total",
			metric.WithDescription("Total number of lint messages reported"),
		); err != nil {
			metricsInitErr = err
			return
		}

		if fatalFound, err = meter.Int64Counter(
			"parallint_fatal_total",
			metric.WithDescription("Total number of files that could not be linted"),
		); err != nil {
			metricsInitErr = err
			return
		}

		filesFixed, metricsInitErr = meter.Int64Counter(
			"parallint_files_fixed_total",
			metric.WithDescription("Total number of files changed by autofix"),
		)
	})
	return metricsInitErr
}

// startVerifySpan starts a span for one verify call.
func startVerifySpan(ctx context.Context, src *Source, modules int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "lint.Verify",
		trace.WithAttributes(
			attribute.String("lint.file", src.Path),
			attribute.String("lint.language", src.Language),
			attribute.Int("lint.modules", modules),
		),
	)
}

// setVerifySpanResult records the result counts on the span.
func setVerifySpanResult(span trace.Span, result report.Result) {
	span.SetAttributes(
		attribute.Int("lint.errors", result.ErrorCount),
		attribute.Int("lint.warnings", result.WarningCount),
		attribute.Bool("lint.fatal", result.HasFatal()),
		attribute.Bool("lint.fixed", result.Output != ""),
	)
}

// recordVerifyMetrics records metrics for one verify call.
func recordVerifyMetrics(ctx context.Context, language string, duration time.Duration, result report.Result) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("language", language))
	verifyLatency.Record(ctx, duration.Seconds(), attrs)
	verifyTotal.Add(ctx, 1, attrs)
	messagesFound.Add(ctx, int64(len(result.Messages)), attrs)
	if result.HasFatal() {
		fatalFound.Add(ctx, 1, attrs)
	}
	if result.Output != "" {
		filesFixed.Add(ctx, 1, attrs)
	}
}
