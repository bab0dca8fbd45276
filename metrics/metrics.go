// Package metrics exposes the runner's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// Loop metrics
	IterationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pzrunner_iterations_total",
			Help: "Total number of work iterations by outcome",
		},
		[]string{"result"},
	)

	NetworkSwitchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pzrunner_network_switches_total",
			Help: "Total number of times a new network was installed",
		},
	)

	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pzrunner_build_duration_seconds",
			Help:    "Engine build duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// Generation metrics
	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pzrunner_generation_duration_seconds",
			Help:    "Duration of one generator run in seconds",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10),
		},
	)

	PositionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pzrunner_positions_total",
			Help: "Total number of positions generated",
		},
	)

	GamesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pzrunner_games_total",
			Help: "Total number of games generated",
		},
	)

	PositionsPerSecond = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pzrunner_positions_per_second",
			Help: "Most recent positions-per-second reported by the generator",
		},
	)

	// API metrics
	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pzrunner_reports_total",
			Help: "Total number of progress reports by status",
		},
		[]string{"status"},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pzrunner_heartbeats_total",
			Help: "Total number of heartbeats by status",
		},
		[]string{"status"},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pzrunner_uploads_total",
			Help: "Total number of output files handled by result",
		},
		[]string{"result"},
	)

	UploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pzrunner_upload_bytes_total",
			Help: "Total compressed bytes uploaded",
		},
	)
)

func init() {
	prometheus.MustRegister(IterationsTotal)
	prometheus.MustRegister(NetworkSwitchesTotal)
	prometheus.MustRegister(BuildDuration)
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(PositionsTotal)
	prometheus.MustRegister(GamesTotal)
	prometheus.MustRegister(PositionsPerSecond)
	prometheus.MustRegister(ReportsTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(UploadBytesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

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

// Timer measures an operation and records it into a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
