package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var framesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forge_proxy_frames_forwarded_total",
	Help: "counter of frames forwarded between controllers and executors",
}, []string{"kind"})

var framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forge_proxy_frames_dropped_total",
	Help: "counter of frames the proxy could not deliver",
}, []string{"reason"})

var clientsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "forge_proxy_clients",
	Help: "currently connected websocket clients by role",
}, []string{"role"})
