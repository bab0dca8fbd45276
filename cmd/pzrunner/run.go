package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/nightlyone/lockfile"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pzchessbot/pzrunner/build"
	"github.com/pzchessbot/pzrunner/config"
	"github.com/pzchessbot/pzrunner/datagen"
	"github.com/pzchessbot/pzrunner/events"
	"github.com/pzchessbot/pzrunner/metrics"
	"github.com/pzchessbot/pzrunner/netfile"
	"github.com/pzchessbot/pzrunner/state"
	"github.com/pzchessbot/pzrunner/sysinfo"
	"github.com/pzchessbot/pzrunner/upload"
	"github.com/pzchessbot/pzrunner/worker"
)

const (
	lockName  = "pzrunner.lck"
	stateName = "pzrunner.db"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the generation loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.close()

		identity := detectIdentity()
		wcfg := worker.NewWorkerConfig(cfg)
		client := worker.NewClient(wcfg.APIURL, wcfg.HTTPTimeout, wcfg.DownloadTimeout)
		engineDir := cfg.GetString(config.ConfigEngineDir)

		nets, err := netfile.New(netfile.Options{
			WeightsPath: cfg.WeightsPath(),
			CacheDir:    filepath.Join(env.dir, "nets"),
			CacheSize:   cfg.GetInt(config.ConfigNetCacheSize),
			Attempts:    3,
			RetryDelay:  2 * time.Second,
		}, client, env.store)
		if err != nil {
			return err
		}

		jobs := cfg.GetInt(config.ConfigBuildJobs)
		if jobs <= 0 {
			jobs = identity.Cores
		}
		builder, err := build.New(cfg.GetString(config.ConfigMake), engineDir, jobs, cfg.GetString(config.ConfigBuildArgs))
		if err != nil {
			return err
		}

		datagenArgs, err := shellquote.Split(cfg.GetString(config.ConfigDatagenArgs))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", config.ConfigDatagenArgs, err)
		}
		generator := &datagen.Supervisor{
			Binary:    cfg.GetString(config.ConfigBinary),
			Dir:       engineDir,
			ExtraArgs: datagenArgs,
		}

		pipeline, err := newPipeline(client, env, identity)
		if err != nil {
			return err
		}

		publisher := newPublisher()
		defer publisher.Close()

		w := worker.NewWorker(wcfg, identity, client, worker.Deps{
			Networks:  nets,
			Builder:   builder,
			Generator: generator,
			Uploader:  pipeline,
			Events:    publisher,
		})

		g, ctx := errgroup.WithContext(ctx)
		if addr := cfg.GetString(config.ConfigMetricsAddr); addr != "" {
			g.Go(func() error { return metrics.Serve(ctx, addr) })
		}
		g.Go(func() error { return w.Run(ctx) })

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info().Msg("runner stopped")
		return nil
	},
}

// runnerEnv holds the resources tied to the runner directory.
type runnerEnv struct {
	dir   string
	lock  lockfile.Lockfile
	store *state.Store
}

// openEnv locks the runner directory and opens its state database.
func openEnv() (*runnerEnv, error) {
	dir := cfg.GetString(config.ConfigRunnerDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lock, err := lockfile.New(filepath.Join(dir, lockName))
	if err != nil {
		return nil, fmt.Errorf("cannot init lockfile: %w", err)
	}
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, lockfile.ErrBusy) {
			return nil, fmt.Errorf("another runner is using %s", dir)
		}
		return nil, fmt.Errorf("unable to lock %s: %w", dir, err)
	}
	store, err := state.Open(filepath.Join(dir, stateName))
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &runnerEnv{dir: dir, lock: lock, store: store}, nil
}

func (e *runnerEnv) close() {
	if err := e.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close state database")
	}
	if err := e.lock.Unlock(); err != nil {
		log.Warn().Err(err).Msg("failed to release lock")
	}
}

func detectIdentity() sysinfo.Identity {
	return sysinfo.Detect(cfg.GetInt(config.ConfigMaxCores), uint64(cfg.GetInt(config.ConfigMemoryPerCoreMB)))
}

func newPipeline(client *worker.Client, env *runnerEnv, identity sysinfo.Identity) (*upload.Pipeline, error) {
	var archiver upload.Archiver
	if bucket := cfg.GetString(config.ConfigArchiveBucket); bucket != "" {
		a, err := upload.NewS3Archiver(upload.S3Config{
			Endpoint:  cfg.GetString(config.ConfigArchiveEndpoint),
			AccessKey: cfg.GetString(config.ConfigArchiveAccessKey),
			SecretKey: cfg.GetString(config.ConfigArchiveSecretKey),
			Bucket:    bucket,
			UseSSL:    cfg.GetBool(config.ConfigArchiveUseSSL),
		})
		if err != nil {
			return nil, err
		}
		archiver = a
	}
	return upload.NewPipeline(upload.Options{
		Dir:              cfg.GetString(config.ConfigEngineDir),
		SpoolDir:         filepath.Join(env.dir, "spool"),
		WorkerID:         identity.WorkerID,
		Attempts:         uint(cfg.GetInt(config.ConfigUploadAttempts)),
		RetryDelay:       upload.DefaultRetryDelay,
		RetainFailed:     cfg.GetBool(config.ConfigRetainFailed),
		SpoolMaxAttempts: cfg.GetInt(config.ConfigSpoolMaxAttempts),
		VerifyPGN:        cfg.GetBool(config.ConfigVerifyPGN),
	}, client, upload.NewCompressor(cfg.GetString(config.ConfigCompressor)), archiver, env.store), nil
}

func newPublisher() events.Publisher {
	url := cfg.GetString(config.ConfigNatsURL)
	if url == "" {
		return events.Nop{}
	}
	p, err := events.Connect(url, cfg.GetString(config.ConfigNatsSubject))
	if err != nil {
		log.Warn().Err(err).Str("nats-url", url).Msg("progress events disabled")
		return events.Nop{}
	}
	return p
}
