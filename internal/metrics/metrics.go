// Package metrics exposes Prometheus counters for a duplex pipe exchange.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	pipeerr "github.com/LiboWorks/pipedemo/internal/errors"
)

// Exchange holds the counters of one controller. A nil *Exchange is valid
// and records nothing.
type Exchange struct {
	LinesSent     prometheus.Counter
	LinesReceived prometheus.Counter
	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter
	PollsEmpty    prometheus.Counter
	Failures      *prometheus.CounterVec
}

// New registers the exchange counters on reg.
func New(reg prometheus.Registerer) *Exchange {
	f := promauto.With(reg)

	return &Exchange{
		LinesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "pipedemo_lines_sent_total",
			Help: "Messages fully written to the outbound pipe",
		}),
		LinesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "pipedemo_lines_received_total",
			Help: "Complete lines assembled from the inbound pipe",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "pipedemo_bytes_sent_total",
			Help: "Bytes written to the outbound pipe",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "pipedemo_bytes_received_total",
			Help: "Bytes of complete lines read from the inbound pipe",
		}),
		PollsEmpty: f.NewCounter(prometheus.CounterOpts{
			Name: "pipedemo_polls_empty_total",
			Help: "Polls that returned without a complete line",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipedemo_channel_failures_total",
			Help: "Fatal channel failures by kind",
		}, []string{"kind"}),
	}
}

// Sent records a message of n bytes written to the worker.
func (m *Exchange) Sent(n int) {
	if m == nil {
		return
	}
	m.LinesSent.Inc()
	m.BytesSent.Add(float64(n))
}

// Received records a line of n bytes read from the worker.
func (m *Exchange) Received(n int) {
	if m == nil {
		return
	}
	m.LinesReceived.Inc()
	m.BytesReceived.Add(float64(n))
}

// PollEmpty records a poll that produced no line.
func (m *Exchange) PollEmpty() {
	if m == nil {
		return
	}
	m.PollsEmpty.Inc()
}

// Failed records a fatal error, labelled by its kind.
func (m *Exchange) Failed(err error) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(pipeerr.KindOf(err).Label()).Inc()
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
