package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pzchessbot/pzrunner/metrics"
)

// heartbeat announces liveness right away and then every HeartbeatInterval
// until ctx is done. Errors never leave this function.
func (w *Worker) heartbeat(ctx context.Context) {
	interval := w.config.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	hb := Heartbeat{Cores: w.identity.Cores, CPU: w.identity.CPUBrand}
	for {
		w.beat(ctx, hb)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) beat(ctx context.Context, hb Heartbeat) {
	if err := w.client.SendHeartbeat(ctx, w.identity.WorkerID, hb); err != nil {
		log.Debug().Err(err).Str("worker-id", w.identity.WorkerID).Msg("heartbeat failed")
		metrics.HeartbeatsTotal.WithLabelValues("error").Inc()
		return
	}
	log.Debug().Str("worker-id", w.identity.WorkerID).Msg("sent heartbeat")
	metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()
}
