package main

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_gateway_connections",
			Help: "Current number of open support chat sockets.",
		},
	)
	wsRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_gateway_rooms",
			Help: "Customer rooms with at least one socket on this gateway.",
		},
	)
	wsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_gateway_messages_published_total",
			Help: "Messages accepted from sockets and published to the broker.",
		},
	)
	wsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_gateway_frames_delivered_total",
			Help: "Message frames queued to sockets.",
		},
	)
	wsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_gateway_rejected_total",
			Help: "Sockets closed by policy, by close code.",
		},
		[]string{"code"},
	)
	wsThrottled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_gateway_throttled_total",
			Help: "Inbound messages dropped by the per-socket rate limit.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsRooms, wsPublished, wsDelivered, wsRejected, wsThrottled)
}

func incConnections() {
	wsConnections.Inc()
}

func decConnections() {
	wsConnections.Dec()
}

func setRooms(count int) {
	wsRooms.Set(float64(count))
}

func addDelivered(count int) {
	wsDelivered.Add(float64(count))
}
