// Package upload ships the game files written by the generator to the
// coordination server.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pzchessbot/pzrunner/metrics"
	"github.com/pzchessbot/pzrunner/state"
)

// DataSuffix follows the core index in the name of each output file.
const DataSuffix = "_datagen.pgn"

const (
	DefaultAttempts   = 3
	DefaultRetryDelay = 2 * time.Second
)

var (
	ErrMissingArtifact = errors.New("output file missing")
	ErrUploadFailed    = errors.New("upload failed")
)

// Sender delivers one compressed file to the server.
type Sender interface {
	UploadData(ctx context.Context, body io.Reader, size int64) error
}

type Options struct {
	// Dir is where the generator writes its output files.
	Dir string
	// SpoolDir holds compressed files whose upload failed.
	SpoolDir string
	// WorkerID prefixes archive keys.
	WorkerID string
	// Attempts is how many times one upload is tried.
	Attempts uint
	// RetryDelay is the initial backoff between attempts.
	RetryDelay time.Duration
	// RetainFailed keeps files whose upload failed in SpoolDir for later
	// runs instead of deleting them.
	RetainFailed bool
	// SpoolMaxAttempts bounds how often a spooled file is tried.
	SpoolMaxAttempts int
	// VerifyPGN parses each file before upload and drops files without games.
	VerifyPGN bool
}

// Summary counts what happened to the files of one run.
type Summary struct {
	Uploaded int
	Failed   int
	Missing  int
	Empty    int
	Spooled  int
	Drained  int
	Dropped  int
	Bytes    int64
}

// Pipeline compresses, uploads and removes output files.
type Pipeline struct {
	opts       Options
	sender     Sender
	compressor Compressor
	archiver   Archiver
	store      *state.Store
	now        func() time.Time
}

// NewPipeline creates a pipeline. archiver and store may be nil; without a
// store nothing is spooled.
func NewPipeline(opts Options, sender Sender, compressor Compressor, archiver Archiver, store *state.Store) *Pipeline {
	if opts.Attempts == 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.SpoolMaxAttempts <= 0 {
		opts.SpoolMaxAttempts = 1
	}
	return &Pipeline{
		opts:       opts,
		sender:     sender,
		compressor: compressor,
		archiver:   archiver,
		store:      store,
		now:        time.Now,
	}
}

// ArtifactPath is the output file the generator writes for a core index.
func ArtifactPath(dir string, index int) string {
	return filepath.Join(dir, strconv.Itoa(index)+DataSuffix)
}

// Run handles the output files of core indices 0 to cores-1, after retrying
// anything left in the spool. Failures are per file; Run itself never fails.
func (p *Pipeline) Run(ctx context.Context, cores int) Summary {
	var sum Summary
	p.drainSpool(ctx, &sum)
	for i := 0; i < cores; i++ {
		if ctx.Err() != nil {
			break
		}
		p.process(ctx, i, &sum)
	}
	log.Info().
		Int("uploaded", sum.Uploaded).
		Int("failed", sum.Failed).
		Int("missing", sum.Missing).
		Int("spooled", sum.Spooled).
		Int("drained", sum.Drained).
		Int64("bytes", sum.Bytes).
		Msg("upload pass finished")
	return sum
}

func (p *Pipeline) process(ctx context.Context, index int, sum *Summary) {
	src := ArtifactPath(p.opts.Dir, index)
	logger := log.With().Int("index", index).Str("file", src).Logger()

	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info().Err(ErrMissingArtifact).Msg("skipping core")
			sum.Missing++
			metrics.UploadsTotal.WithLabelValues("missing").Inc()
			return
		}
		logger.Error().Err(err).Msg("cannot stat output file")
		sum.Failed++
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		return
	}

	if p.opts.VerifyPGN {
		games, err := CountGames(src)
		switch {
		case err != nil:
			logger.Warn().Err(err).Int("games", games).Msg("output file did not parse cleanly; uploading anyway")
		case games == 0:
			logger.Info().Msg("output file holds no games; removing")
			removeAll(logger, src)
			sum.Empty++
			metrics.UploadsTotal.WithLabelValues("empty").Inc()
			return
		default:
			logger.Debug().Int("games", games).Msg("output file verified")
		}
	}

	// On compression failure the uncompressed file stays; the generator appends to
	// it on the next run.
	zst, err := p.compressor.Compress(ctx, src)
	if err != nil {
		logger.Error().Err(err).Msg("compression failed")
		sum.Failed++
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		return
	}
	if _, err := os.Stat(zst); err != nil {
		logger.Error().Err(err).Msg("compressed file missing")
		sum.Failed++
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		return
	}

	size, err := p.send(ctx, zst)
	if p.archiver != nil {
		key := fmt.Sprintf("%s/%d-%s", p.opts.WorkerID, p.now().Unix(), filepath.Base(zst))
		if aerr := p.archiver.Archive(ctx, zst, key); aerr != nil {
			logger.Warn().Err(aerr).Str("key", key).Msg("failed to archive compressed file")
		}
	}
	if err == nil {
		logger.Info().Int64("bytes", size).Msg("uploaded output file")
		sum.Uploaded++
		sum.Bytes += size
		metrics.UploadsTotal.WithLabelValues("uploaded").Inc()
		metrics.UploadBytesTotal.Add(float64(size))
		removeAll(logger, src, zst)
		return
	}

	logger.Error().Err(err).Msg("upload failed")
	sum.Failed++
	metrics.UploadsTotal.WithLabelValues("failed").Inc()
	if p.opts.RetainFailed && p.store != nil {
		if serr := p.spool(zst, index, err); serr != nil {
			logger.Error().Err(serr).Msg("failed to spool compressed file; discarding it")
		} else {
			sum.Spooled++
			metrics.UploadsTotal.WithLabelValues("spooled").Inc()
			removeAll(logger, src)
			return
		}
	}
	removeAll(logger, src, zst)
}

// send uploads path, retrying transport errors and server-side failures.
func (p *Pipeline) send(ctx context.Context, path string) (int64, error) {
	var size int64
	err := retry.Do(
		func() error {
			f, err := os.Open(path)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return retry.Unrecoverable(err)
			}
			size = info.Size()
			return p.sender.UploadData(ctx, f, size)
		},
		retry.Context(ctx),
		retry.Attempts(p.opts.Attempts),
		retry.Delay(p.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Str("file", path).Msg("upload attempt failed")
		}),
	)
	if err != nil {
		return size, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	return size, nil
}

// retryable refuses to retry requests the server rejected outright.
func retryable(err error) bool {
	var se interface{ HTTPStatus() int }
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		return code >= 500 || code == 429
	}
	return true
}

func (p *Pipeline) spool(zst string, index int, cause error) error {
	if err := os.MkdirAll(p.opts.SpoolDir, 0o755); err != nil {
		return err
	}
	info, err := os.Stat(zst)
	if err != nil {
		return err
	}
	now := p.now()
	name := fmt.Sprintf("%d-%s", now.UnixNano(), filepath.Base(zst))
	if err := os.Rename(zst, filepath.Join(p.opts.SpoolDir, name)); err != nil {
		return err
	}
	log.Info().Int("index", index).Str("spooled-as", name).Msg("kept compressed file for a later upload")
	return p.store.Spool(state.SpoolEntry{
		File:       name,
		Size:       info.Size(),
		Attempts:   1,
		FirstError: cause.Error(),
		SpooledAt:  now,
	})
}

func (p *Pipeline) drainSpool(ctx context.Context, sum *Summary) {
	if p.store == nil {
		return
	}
	entries, err := p.store.Spooled()
	if err != nil {
		log.Error().Err(err).Msg("failed to read spool")
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		path := filepath.Join(p.opts.SpoolDir, e.File)
		logger := log.With().Str("file", path).Int("attempts", e.Attempts).Logger()
		if _, err := os.Stat(path); err != nil {
			logger.Warn().Err(err).Msg("spooled file vanished; forgetting it")
			p.unspool(logger, e.File)
			continue
		}

		size, err := p.send(ctx, path)
		if err == nil {
			logger.Info().Int64("bytes", size).Msg("uploaded spooled file")
			sum.Drained++
			sum.Bytes += size
			metrics.UploadsTotal.WithLabelValues("drained").Inc()
			metrics.UploadBytesTotal.Add(float64(size))
			removeAll(logger, path)
			p.unspool(logger, e.File)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		e.Attempts++
		if e.Attempts >= p.opts.SpoolMaxAttempts {
			logger.Warn().Err(err).Msg("giving up on spooled file")
			sum.Dropped++
			metrics.UploadsTotal.WithLabelValues("dropped").Inc()
			removeAll(logger, path)
			p.unspool(logger, e.File)
			continue
		}
		logger.Warn().Err(err).Msg("spooled file upload failed again")
		if err := p.store.Spool(e); err != nil {
			logger.Error().Err(err).Msg("failed to update spool entry")
		}
	}
}

func (p *Pipeline) unspool(logger zerolog.Logger, file string) {
	if err := p.store.Unspool(file); err != nil {
		logger.Error().Err(err).Msg("failed to remove spool entry")
	}
}

func removeAll(logger zerolog.Logger, paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("failed to remove file")
		}
	}
}
