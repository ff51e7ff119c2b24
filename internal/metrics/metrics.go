// Package metrics exposes client-side counters for gateway calls, push
// traffic and stale-response discards.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// GatewayRequestsTotal counts gateway calls by operation and outcome.
	GatewayRequestsTotal *prometheus.CounterVec

	// GatewayLatency observes gateway call duration.
	GatewayLatency *prometheus.HistogramVec

	// PushEventsTotal counts push channel events by direction (in/out) and kind.
	PushEventsTotal *prometheus.CounterVec

	// StaleResponsesTotal counts fetch responses discarded because the
	// selection moved on.
	StaleResponsesTotal *prometheus.CounterVec

	// ChannelState is 0 closed, 0.5 connecting, 1 open.
	ChannelState prometheus.Gauge
)

func init() {
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total gateway requests",
		},
		[]string{"op", "outcome"},
	)

	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatsync",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Gateway request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op"},
	)

	PushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "channel",
			Name:      "events_total",
			Help:      "Total push channel events",
		},
		[]string{"direction", "event"},
	)

	StaleResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "engine",
			Name:      "stale_responses_total",
			Help:      "Responses discarded because a newer request superseded them",
		},
		[]string{"op"},
	)

	ChannelState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatsync",
			Subsystem: "channel",
			Name:      "state",
			Help:      "Push channel state (0=closed, 0.5=connecting, 1=open)",
		},
	)

	prometheus.MustRegister(GatewayRequestsTotal)
	prometheus.MustRegister(GatewayLatency)
	prometheus.MustRegister(PushEventsTotal)
	prometheus.MustRegister(StaleResponsesTotal)
	prometheus.MustRegister(ChannelState)
}

// RecordRequest records one gateway call.
func RecordRequest(op, outcome string, d time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	GatewayRequestsTotal.WithLabelValues(op, outcome).Inc()
	GatewayLatency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordPushIn records an inbound push event.
func RecordPushIn(event string) {
	PushEventsTotal.WithLabelValues("in", event).Inc()
}

// RecordPushOut records an outbound push event.
func RecordPushOut(event string) {
	PushEventsTotal.WithLabelValues("out", event).Inc()
}

// RecordStale records a discarded stale response.
func RecordStale(op string) {
	StaleResponsesTotal.WithLabelValues(op).Inc()
}

// SetChannelState sets the channel state gauge.
func SetChannelState(state string) {
	var val float64
	switch state {
	case "CONNECTING":
		val = 0.5
	case "OPEN":
		val = 1
	}
	ChannelState.Set(val)
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr
// disables the endpoint.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
