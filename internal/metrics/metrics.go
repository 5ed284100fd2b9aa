// Package metrics exposes controller and monitor counters to Prometheus.
// Each Metrics value owns its registry, so tests and multiple engines in
// one process do not collide.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clipkeeper"

type Metrics struct {
	reg *prometheus.Registry

	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	EventsTotal     *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	EventsCoalesced prometheus.Counter
	QueueDepth      prometheus.Gauge
	NotifyDropped   prometheus.Counter
	CapturesTotal   *prometheus.CounterVec
	CaptureSkipped  *prometheus.CounterVec
	VaultLocked     prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "commands_total",
			Help:      "Commands processed, by command and result.",
		}, []string{"command", "result"}),
		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "command_duration_seconds",
			Help:      "Command handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "events_total",
			Help:      "Clipboard events processed, by outcome.",
		}, []string{"outcome"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "events_dropped_total",
			Help:      "Clipboard events dropped because the event buffer was full.",
		}),
		EventsCoalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "events_coalesced_total",
			Help:      "Clipboard events merged into an already queued event with the same hash.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "event_queue_depth",
			Help:      "Clipboard events waiting for the controller.",
		}),
		NotifyDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notifications not delivered to a full subscriber.",
		}),
		CapturesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "captures_total",
			Help:      "Clipboard payloads emitted by the monitor, by kind.",
		}, []string{"kind"}),
		CaptureSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "skipped_total",
			Help:      "Clipboard payloads the monitor did not emit, by reason.",
		}, []string{"reason"}),
		VaultLocked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "locked",
			Help:      "1 while the vault is locked.",
		}),
	}
}

// ObserveCommand records one handled command.
func (m *Metrics) ObserveCommand(name, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(name, result).Inc()
	m.CommandDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
