package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "usher",
		Subsystem: "hub",
		Name:      "clients",
		Help:      "Currently connected websocket clients per channel.",
	}, []string{"channel"})

	metricFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usher",
		Subsystem: "hub",
		Name:      "frames_total",
		Help:      "Frames received from the bus per channel.",
	}, []string{"channel"})

	metricDroppedClients = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usher",
		Subsystem: "hub",
		Name:      "dropped_clients_total",
		Help:      "Clients dropped because their send buffer was full.",
	}, []string{"channel"})
)
