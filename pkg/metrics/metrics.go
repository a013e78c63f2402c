package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransportAttempts counts realtime connection attempts by result (connected|failed|skipped).
	TransportAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketlive_transport_attempts_total",
			Help: "Realtime connection attempts by outcome",
		},
		[]string{"result"},
	)

	// TransportConnected is 1 while the STOMP session is established.
	TransportConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketlive_transport_connected",
			Help: "Whether the realtime transport is connected",
		},
	)

	// PushMessages counts inbound push frames per destination.
	PushMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketlive_push_messages_total",
			Help: "Inbound realtime messages",
		},
		[]string{"destination"},
	)

	// NotificationsUnread mirrors the unread badge.
	NotificationsUnread = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketlive_notifications_unread",
			Help: "Current unread notification count",
		},
	)

	// NotificationSyncs counts notification store synchronisations by source (history|poll|push|mark_read).
	NotificationSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketlive_notification_syncs_total",
			Help: "Notification store synchronisations",
		},
		[]string{"source", "result"},
	)

	// ChatMessagesSent counts outgoing chat messages by type and result.
	ChatMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketlive_chat_messages_sent_total",
			Help: "Outgoing chat messages",
		},
		[]string{"type", "result"},
	)

	// BackendRequests measures REST calls against the marketplace backend.
	BackendRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketlive_backend_request_seconds",
			Help:    "Marketplace backend request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// APILatency measures local HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketlive_api_latency_seconds",
			Help:    "Local API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
