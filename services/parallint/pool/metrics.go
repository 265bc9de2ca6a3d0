// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("parallint.pool")

var (
	workersSpawnedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parallint_pool_workers_spawned_total",
		Help: "Workers spawned across all pools",
	})

	workerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallint_pool_worker_failures_total",
		Help: "Workers lost by reason",
	}, []string{"reason"})

	jobsDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parallint_pool_jobs_dispatched_total",
		Help: "Jobs dispatched to workers",
	})

	jobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallint_pool_jobs_completed_total",
		Help: "Jobs completed by outcome",
	}, []string{"outcome"})

	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parallint_pool_active_jobs",
		Help: "Jobs dispatched and not yet acknowledged",
	})

	jobSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parallint_pool_job_files",
		Help:    "Files per dispatched job",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
	})
)
