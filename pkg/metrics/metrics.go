// Package metrics provides Prometheus counters for the L0 link.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry and the link meters.
type Metrics struct {
	Registry         *prometheus.Registry
	FramesReceived   prometheus.Counter
	FramesMalformed  prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	CommandsTotal    *prometheus.CounterVec
	ConfirmableTotal *prometheus.CounterVec
	Retransmissions  *prometheus.CounterVec
	InboxDrops       *prometheus.CounterVec
}

// Drop reasons for FramesDropped.
const (
	DropUnregistered = "unregistered"
	DropNotReady     = "not_ready"
)

// NewMetrics creates a custom registry with all meters registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	framesReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grinder_frames_received_total",
		Help: "Total number of complete frames received on the link.",
	})

	framesMalformed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grinder_frames_malformed_total",
		Help: "Total number of received frames rejected by the codec.",
	})

	framesDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_frames_dropped_total",
		Help: "Total number of decoded frames dropped by the dispatcher.",
	}, []string{"reason"})

	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_commands_total",
		Help: "Total number of commands processed by drivers.",
	}, []string{"driver", "result"})

	confirmableTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_confirmable_total",
		Help: "Total number of confirmable sends by terminal outcome.",
	}, []string{"driver", "outcome"})

	retransmissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_retransmissions_total",
		Help: "Total number of confirmable frames resent after a timeout.",
	}, []string{"driver"})

	inboxDrops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_inbox_drops_total",
		Help: "Total number of non-blocking inbox posts dropped on a full inbox.",
	}, []string{"driver"})

	reg.MustRegister(framesReceived, framesMalformed, framesDropped,
		commandsTotal, confirmableTotal, retransmissions, inboxDrops)

	return &Metrics{
		Registry:         reg,
		FramesReceived:   framesReceived,
		FramesMalformed:  framesMalformed,
		FramesDropped:    framesDropped,
		CommandsTotal:    commandsTotal,
		ConfirmableTotal: confirmableTotal,
		Retransmissions:  retransmissions,
		InboxDrops:       inboxDrops,
	}
}

// FrameReceived counts a complete frame off the wire.
func (m *Metrics) FrameReceived() {
	if m != nil {
		m.FramesReceived.Inc()
	}
}

// FrameMalformed counts a frame rejected by the codec.
func (m *Metrics) FrameMalformed() {
	if m != nil {
		m.FramesMalformed.Inc()
	}
}

// FrameDropped counts a frame the dispatcher could not deliver.
func (m *Metrics) FrameDropped(reason string) {
	if m != nil {
		m.FramesDropped.WithLabelValues(reason).Inc()
	}
}

// CommandProcessed counts a command reply ("ack" or a nack reason).
func (m *Metrics) CommandProcessed(driver, result string) {
	if m != nil {
		m.CommandsTotal.WithLabelValues(driver, result).Inc()
	}
}

// ConfirmableDone counts the terminal outcome of a confirmable send.
func (m *Metrics) ConfirmableDone(driver, outcome string) {
	if m != nil {
		m.ConfirmableTotal.WithLabelValues(driver, outcome).Inc()
	}
}

// Retransmitted counts a resend.
func (m *Metrics) Retransmitted(driver string) {
	if m != nil {
		m.Retransmissions.WithLabelValues(driver).Inc()
	}
}

// InboxDropped counts a dropped non-blocking post.
func (m *Metrics) InboxDropped(driver string) {
	if m != nil {
		m.InboxDrops.WithLabelValues(driver).Inc()
	}
}

// Serve exposes the registry on addr at /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		glog.Infof("metrics listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
