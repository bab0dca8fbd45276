package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pzchessbot/pzrunner/build"
	"github.com/pzchessbot/pzrunner/datagen"
	"github.com/pzchessbot/pzrunner/events"
	"github.com/pzchessbot/pzrunner/metrics"
	"github.com/pzchessbot/pzrunner/sysinfo"
	"github.com/pzchessbot/pzrunner/upload"
)

// NetworkUpdater keeps the engine's weights file in line with the server.
type NetworkUpdater interface {
	Current() string
	Apply(ctx context.Context, name string) error
}

// Builder rebuilds the engine with the given search parameters.
type Builder interface {
	Build(ctx context.Context, softNodes, numRand int) error
}

// Generator runs the self-play binary until it exits.
type Generator interface {
	Generate(ctx context.Context, cores int, onProgress func(datagen.Delta)) (datagen.Result, error)
}

// Uploader ships the generator's output files.
type Uploader interface {
	Run(ctx context.Context, cores int) upload.Summary
}

// Deps are the stages of one iteration.
type Deps struct {
	Networks  NetworkUpdater
	Builder   Builder
	Generator Generator
	Uploader  Uploader
	// Events may be nil.
	Events events.Publisher
}

// Worker polls the server for work and runs the build, generate and
// upload stages for it, forever.
type Worker struct {
	config   *WorkerConfig
	client   *Client
	identity sysinfo.Identity
	deps     Deps
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a new worker
func NewWorker(cfg *WorkerConfig, identity sysinfo.Identity, client *Client, deps Deps) *Worker {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &Worker{
		config:   cfg,
		client:   client,
		identity: identity,
		deps:     deps,
		sleep:    sleepCtx,
	}
}

// Run starts the main loop and the heartbeat. It returns only once ctx is
// done.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().
		Str("api-url", w.config.APIURL).
		Str("worker-id", w.identity.WorkerID).
		Str("cpu", w.identity.CPUBrand).
		Int("cores", w.identity.Cores).
		Dur("heartbeat-interval", w.config.HeartbeatInterval).
		Msg("starting worker")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.heartbeat(ctx)
		return nil
	})
	g.Go(func() error {
		for {
			if err := w.iterate(ctx); err != nil {
				log.Info().Msg("worker shutting down")
				return err
			}
		}
	})
	return g.Wait()
}

// iterate performs one poll, update, build, generate and upload cycle.
// Failures of a stage end the cycle early, after the appropriate delay. The
// only error returned is the context's.
func (w *Worker) iterate(ctx context.Context) error {
	rc, err := w.client.FetchConfig(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error().Err(err).Dur("retry-in", w.config.ConfigRetryDelay).Msg("failed to fetch config")
		metrics.IterationsTotal.WithLabelValues("config-failed").Inc()
		return w.sleep(ctx, w.config.ConfigRetryDelay)
	}
	log.Info().
		Int("num-rand", rc.NumRandomPlies).
		Int("soft-nodes", rc.SoftNodeLimit).
		Str("net-file", rc.NetFile).
		Msg("fetched config")
	w.deps.Events.Publish(events.Event{Kind: events.KindConfig, WorkerID: w.identity.WorkerID, Network: rc.NetFile})

	previous := w.deps.Networks.Current()
	if err := w.deps.Networks.Apply(ctx, rc.NetFile); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error().Err(err).Str("net-file", rc.NetFile).Msg("failed to install network")
		metrics.IterationsTotal.WithLabelValues("network-failed").Inc()
		return w.sleep(ctx, w.config.NetRetryDelay)
	}
	if current := w.deps.Networks.Current(); current != previous {
		log.Info().Str("net-file", current).Str("previous", previous).Msg("installed network")
		metrics.NetworkSwitchesTotal.Inc()
		w.deps.Events.Publish(events.Event{Kind: events.KindNetwork, WorkerID: w.identity.WorkerID, Network: current})
	}

	timer := metrics.NewTimer()
	if err := w.deps.Builder.Build(ctx, rc.SoftNodeLimit, rc.NumRandomPlies); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev := log.Error().Err(err).Dur("retry-in", w.config.ConfigRetryDelay)
		var berr *build.Error
		if errors.As(err, &berr) {
			ev = ev.Str("output", berr.Output)
		}
		ev.Msg("build failed; not launching generator")
		metrics.IterationsTotal.WithLabelValues("build-failed").Inc()
		return w.sleep(ctx, w.config.ConfigRetryDelay)
	}
	timer.ObserveDuration(metrics.BuildDuration)

	timer = metrics.NewTimer()
	res, genErr := w.deps.Generator.Generate(ctx, w.identity.Cores, func(d datagen.Delta) {
		w.report(ctx, d)
	})
	timer.ObserveDuration(metrics.GenerationDuration)
	var exitErr *datagen.ExitError
	switch {
	case genErr == nil:
		log.Info().
			Int64("positions", res.Positions).
			Int64("games", res.Games).
			Int("reports", res.Reports).
			Interface("pps", res.PPS.Summary()).
			Dur("duration", res.Duration).
			Msg("generator finished")
	case errors.As(genErr, &exitErr):
		log.Error().Err(genErr).Int("exit-code", exitErr.Code).Msg("generator exited with failure; uploading what it wrote")
	case ctx.Err() == nil:
		log.Error().Err(genErr).Msg("generator failed")
	}
	w.deps.Events.Publish(events.Event{
		Kind:      events.KindFinished,
		WorkerID:  w.identity.WorkerID,
		Network:   rc.NetFile,
		Positions: res.Positions,
		Games:     res.Games,
		Error:     errString(genErr),
	})

	// Output of an interrupted run is still uploaded on the way out.
	uploadCtx := ctx
	if ctx.Err() != nil {
		uploadCtx = context.WithoutCancel(ctx)
	}
	sum := w.deps.Uploader.Run(uploadCtx, w.identity.Cores)
	w.deps.Events.Publish(events.Event{
		Kind:     events.KindUpload,
		WorkerID: w.identity.WorkerID,
		Uploaded: sum.Uploaded,
		Failed:   sum.Failed,
	})

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if genErr != nil {
		metrics.IterationsTotal.WithLabelValues("generate-failed").Inc()
	} else {
		metrics.IterationsTotal.WithLabelValues("ok").Inc()
	}
	return nil
}

// report posts one progress delta. It runs on the supervisor's read loop so
// reports leave in the order of the generator's output.
func (w *Worker) report(ctx context.Context, d datagen.Delta) {
	metrics.PositionsTotal.Add(float64(d.Positions))
	metrics.GamesTotal.Add(float64(d.Games))
	metrics.PositionsPerSecond.Set(float64(d.PPS))
	w.deps.Events.Publish(events.Event{
		Kind:      events.KindProgress,
		WorkerID:  w.identity.WorkerID,
		Positions: d.Positions,
		Games:     d.Games,
		PPS:       d.PPS,
	})

	err := w.client.SendReport(ctx, w.identity.WorkerID, Report{
		CPU:       w.identity.CPUBrand,
		Positions: d.Positions,
		Games:     d.Games,
		PPS:       d.PPS,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to send report")
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.ReportsTotal.WithLabelValues("ok").Inc()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
