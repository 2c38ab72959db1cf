// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "federation"

var (
	Enqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "enqueued_total",
		Help:      "Items enqueued, by handler.",
	}, []string{"handler"})

	Processed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "processed_total",
		Help:      "Items handled, by handler and result.",
	}, []string{"handler", "result"})

	Redeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "redeliveries_total",
		Help:      "Broker redeliveries observed, by handler.",
	}, []string{"handler"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "dead_letters_total",
		Help:      "Items moved to dead-letter storage, by handler.",
	}, []string{"handler"})

	QueueLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "latency_seconds",
		Help:      "Time from enqueue to handling.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"handler"})

	BrokerUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "broker_up",
		Help:      "1 when the broker connection is established.",
	}, []string{"server"})

	PushAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "websub",
		Name:      "push_attempts_total",
		Help:      "Content pushes to subscriber callbacks, by result.",
	}, []string{"result"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "websub",
		Name:      "verifications_total",
		Help:      "Intent verifications, by mode and result.",
	}, []string{"mode", "result"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "activitypub",
		Name:      "deliveries_total",
		Help:      "Signed inbox deliveries, by result.",
	}, []string{"result"})

	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "activitypub",
		Name:      "delivery_duration_seconds",
		Help:      "Time taken by signed inbox deliveries.",
		Buckets:   prometheus.DefBuckets,
	})

	InboundActivities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inbox",
		Name:      "activities_total",
		Help:      "Inbound activities, by result.",
	}, []string{"result"})
)
