package lsp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// serverMetrics is nil-safe like feature.Metrics.
type serverMetrics struct {
	requests      *prometheus.CounterVec
	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quill",
				Subsystem: "lsp",
				Name:      "messages_total",
				Help:      "Client messages received, by method.",
			},
			[]string{"method"},
		),
		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quill",
				Subsystem: "lsp",
				Name:      "builds_total",
				Help:      "Document builds, by result.",
			},
			[]string{"result"},
		),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quill",
			Subsystem: "lsp",
			Name:      "build_duration_seconds",
			Help:      "Wall time of document builds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.builds, m.buildDuration)
	}
	return m
}

func (m *serverMetrics) request(method string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method).Inc()
}

func (m *serverMetrics) build(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(result).Inc()
	if result == "ok" {
		m.buildDuration.Observe(d.Seconds())
	}
}

// ServeMetrics exposes g on addr under /metrics until ctx ends.
func ServeMetrics(ctx context.Context, addr string, g prometheus.Gatherer, log zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
