// Package datagen runs the native self-play generator and follows its
// progress output.
package datagen

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pzchessbot/pzrunner/stats"
)

const (
	DefaultStopGrace = 30 * time.Second
	maxLineLength    = 1 << 20
)

var (
	ErrProcess     = errors.New("generator failed")
	errLineTooLong = errors.New("line too long")
)

// ExitError reports a generator that exited with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("generator exited with status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return ErrProcess }

// Result summarizes one generator run.
type Result struct {
	Lines         int
	Reports       int
	Positions     int64
	Games         int64
	EngineVersion string
	Duration      time.Duration
	// PPS summarizes the positions-per-second readings of the run.
	PPS stats.Running
}

// Supervisor launches the generator and reports its progress.
type Supervisor struct {
	// Binary is the generator executable. A bare name is looked up in Dir,
	// not in PATH.
	Binary string
	// Dir is the working directory of the generator; its output files are
	// written there.
	Dir string
	// ExtraArgs are appended after the core count.
	ExtraArgs []string
	// StopGrace is how long the generator gets to flush its files after
	// being interrupted before it is killed.
	StopGrace time.Duration
}

func (s *Supervisor) binaryPath() string {
	if filepath.IsAbs(s.Binary) || filepath.Base(s.Binary) != s.Binary {
		return s.Binary
	}
	return filepath.Join(s.Dir, s.Binary)
}

// Generate runs the generator with cores threads and blocks until it exits.
// Output is consumed while the generator runs; for every progress line,
// onProgress is called with the change since the previous one before the
// next line is read.
func (s *Supervisor) Generate(ctx context.Context, cores int, onProgress func(Delta)) (Result, error) {
	var res Result
	start := time.Now()

	args := append([]string{strconv.Itoa(cores)}, s.ExtraArgs...)
	cmd := exec.CommandContext(ctx, s.binaryPath(), args...)
	cmd.Dir = s.Dir
	// SIGINT lets the generator flush its output files.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = s.StopGrace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultStopGrace
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrProcess, err)
	}
	cmd.Stderr = cmd.Stdout

	logger := log.With().Str("component", "datagen").Logger()
	logger.Info().Strs("args", cmd.Args).Str("dir", cmd.Dir).Msg("starting generator")

	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("%w: failed to start: %w", ErrProcess, err)
	}

	var tracker Tracker
	r := bufio.NewReaderSize(stdout, 64*1024)
	for {
		line, err := readLine(r, maxLineLength)
		if errors.Is(err, errLineTooLong) {
			logger.Warn().Int("limit", maxLineLength).Msg("skipped overlong generator output line")
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn().Err(err).Msg("stopped reading generator output")
				// Keep draining so the generator never blocks on a full pipe.
				_, _ = io.Copy(io.Discard, stdout)
			}
			break
		}
		res.Lines++
		logger.Info().Msg(line)

		if res.EngineVersion == "" {
			if v, ok := ParseBanner(line); ok {
				res.EngineVersion = v
				logger.Info().Str("engine-version", v).Msg("generator identified")
			}
		}
		p, ok := ParseProgress(line)
		if !ok {
			continue
		}
		d := tracker.Observe(p)
		res.Reports++
		res.PPS.Push(p.PPS)
		if onProgress != nil {
			onProgress(d)
		}
	}

	err = cmd.Wait()
	res.Positions, res.Games = tracker.Totals()
	res.Duration = time.Since(start)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{Code: exitErr.ExitCode()}
	}
	return res, fmt.Errorf("%w: %w", ErrProcess, err)
}

// readLine returns the next line without its line ending. A line longer than
// limit is consumed whole and reported as errLineTooLong. A final line without a
// newline is returned before io.EOF.
func readLine(r *bufio.Reader, limit int) (string, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			buf = append(buf, chunk...)
			if len(buf) > limit+1 {
				tooLong, buf = true, nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			return "", errLineTooLong
		}
		if err != nil && (len(buf) == 0 || !errors.Is(err, io.EOF)) {
			return "", err
		}
		return strings.TrimRight(string(buf), "\r\n"), nil
	}
}
