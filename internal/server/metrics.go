package server

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerMetrics() {
	factory := promauto.With(s.registry)
	s.requests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "chathub_http_requests_total",
		Help: "Total number of HTTP requests by method",
	}, []string{"method"})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "chathub_messages_total",
		Help: "Total number of chat messages received from clients",
	}, func() float64 { return float64(s.messages.Load()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "chathub_admin_sessions_active",
		Help: "Number of unexpired admin sessions",
	}, func() float64 { return float64(s.auth.Active()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "chathub_uptime_seconds",
		Help: "Seconds since the server started",
	}, func() float64 { return s.now().Sub(s.started).Seconds() })
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog: slogErrorLogger{s},
	})
}

// slogErrorLogger adapts the server logger to promhttp.Logger.
type slogErrorLogger struct{ s *Server }

func (l slogErrorLogger) Println(v ...any) {
	l.s.log.Error("metrics exposition error", "detail", v)
}

func memoryUsage() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}
