// Package observability exposes the proxy's Prometheus collectors,
// following the teacher's promauto global-var-block style
// (control_plane/observability/metrics.go) with metric names and labels
// reshaped for the fair-share dispatcher domain (spec.md section 4.5).
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of pending tasks per user.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flowgate_queue_depth",
		Help: "Current number of queued tasks for a user",
	}, []string{"user"})

	// ActiveUsers tracks how many users currently have a non-empty queue.
	ActiveUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowgate_active_users",
		Help: "Number of users with at least one queued task",
	})

	// ProcessedTotal counts tasks that streamed to completion, per user.
	ProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowgate_processed_total",
		Help: "Total number of tasks completed successfully, by user",
	}, []string{"user"})

	// DroppedTotal counts tasks that did not complete, per user and reason.
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowgate_dropped_total",
		Help: "Total number of tasks dropped before completion, by user and reason",
	}, []string{"user", "reason"})

	// DispatchWaitSeconds tracks time spent queued before a worker picks a
	// task up.
	DispatchWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowgate_dispatch_wait_seconds",
		Help:    "Time a task spent queued before being dispatched",
		Buckets: prometheus.DefBuckets,
	})

	// UpstreamCallSeconds tracks the duration of the full upstream call,
	// from dispatch to either completion or failure.
	UpstreamCallSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowgate_upstream_call_seconds",
		Help:    "Duration of the upstream call issued by the dispatch worker",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// BlockedRequestsTotal counts requests rejected by the access-control
	// facade before being enqueued.
	BlockedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowgate_blocked_requests_total",
		Help: "Total number of requests rejected by the IP or user block list",
	}, []string{"reason"})
)

// ObserveDispatchWait records the time between enqueue and dispatch.
func ObserveDispatchWait(since time.Time) {
	DispatchWaitSeconds.Observe(time.Since(since).Seconds())
}

// ObserveUpstreamCall records the time an upstream call took, labeled by
// outcome ("processed", "dropped").
func ObserveUpstreamCall(since time.Time, outcome string) {
	UpstreamCallSeconds.WithLabelValues(outcome).Observe(time.Since(since).Seconds())
}
