package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_session", Name: "chat_connected", Help: "1 while a chat room connection is live"})
	ChatConnects  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_session", Name: "chat_connects_total", Help: "Chat connection attempts by result"},
		[]string{"result"},
	)
	ChatEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_session", Name: "chat_events_total", Help: "Inbound chat events applied, by event name"},
		[]string{"event"},
	)
	ChatEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_session", Name: "chat_events_dropped_total", Help: "Inbound chat events dropped, by reason"},
		[]string{"reason"},
	)
	ChatMessagesSent = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_session", Name: "chat_messages_sent_total", Help: "Chat messages sent with local echo"})

	MatchingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_session", Name: "matching_transitions_total", Help: "Matching state transitions"},
		[]string{"from", "to"},
	)
	StatusPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_session", Name: "status_polls_total", Help: "Status query polls by result"},
		[]string{"result"},
	)
	SettlementPoints = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_session", Name: "settlement_points_total", Help: "Points surfaced to drivers on completion"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_session", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_session",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	HubRooms = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_session", Name: "devserver_rooms", Help: "Chat rooms open on the devserver"})
)
