// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package journal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Operations counts coordinator operations by name and outcome.
var Operations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quill_journal_operations_total",
		Help: "Total number of journal operations by operation and outcome",
	},
	[]string{"operation", "outcome"},
)

// AudioJobs counts audio synthesis jobs by outcome.
var AudioJobs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quill_audio_jobs_total",
		Help: "Total number of audio synthesis jobs by outcome",
	},
	[]string{"outcome"},
)

// OwnershipRepairs counts index references dropped because their entry was gone.
var OwnershipRepairs = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "quill_ownership_repairs_total",
		Help: "Total number of dangling ownership references removed",
	},
)

// OrphansCollected counts entries removed by orphan collection.
var OrphansCollected = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "quill_orphans_collected_total",
		Help: "Total number of unowned entries deleted",
	},
)

// RegisterMetrics registers journal package metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Operations)
	reg.MustRegister(AudioJobs)
	reg.MustRegister(OwnershipRepairs)
	reg.MustRegister(OrphansCollected)
}

func observe(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	Operations.WithLabelValues(operation, outcome).Inc()
}
