package datagen

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGenerateReportsInOrder(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	writeScript(t, dir, "gen", `echo "PZChessBot v3.1 parallelized data generation script"
echo "Using $1 worker threads"
echo "Positions: 1500, Time: 10s, PPS: 150.4, Games: 30"
echo "some warning" 1>&2
echo "Positions: 3000, Time: 20s, PPS: 150.0, Games: 60"
echo "Positions: 4500, Time: 30s, PPS: 149.6, Games: 95"
touch "$1_ran"
`)
	s := &Supervisor{Binary: "gen", Dir: dir}

	var deltas []Delta
	res, err := s.Generate(context.Background(), 3, func(d Delta) {
		deltas = append(deltas, d)
	})
	is.NoErr(err)
	is.Equal(deltas, []Delta{
		{Positions: 1500, Games: 30, PPS: 150},
		{Positions: 1500, Games: 30, PPS: 150},
		{Positions: 1500, Games: 35, PPS: 150},
	})
	is.Equal(res.Reports, 3)
	is.Equal(res.PPS.Count(), 3)
	is.Equal(res.PPS.Summary().Max, 150.4)
	is.Equal(res.Lines, 6)
	is.Equal(res.Positions, int64(4500))
	is.Equal(res.Games, int64(95))
	is.Equal(res.EngineVersion, "3.1")

	// the core count is the first argument and the generator runs in Dir
	_, err = os.Stat(filepath.Join(dir, "3_ran"))
	is.NoErr(err)
}

func TestGenerateSkipsOverlongLines(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	writeScript(t, dir, "gen", `echo "Positions: 100, Time: 1s, PPS: 100, Games: 2"
head -c 1100000 /dev/zero | tr '\0' x
echo
echo "Positions: 300, Time: 2s, PPS: 150, Games: 6"
`)
	s := &Supervisor{Binary: "gen", Dir: dir}

	var deltas []Delta
	res, err := s.Generate(context.Background(), 1, func(d Delta) {
		deltas = append(deltas, d)
	})
	is.NoErr(err)
	is.Equal(deltas, []Delta{
		{Positions: 100, Games: 2, PPS: 100},
		{Positions: 200, Games: 4, PPS: 150},
	})
	is.Equal(res.Lines, 2)
}

func TestReadLine(t *testing.T) {
	is := is.New(t)
	r := bufio.NewReaderSize(strings.NewReader("short\r\n"+strings.Repeat("y", 40)+"\nnext\nlast"), 16)

	line, err := readLine(r, 10)
	is.NoErr(err)
	is.Equal(line, "short")
	_, err = readLine(r, 10)
	is.True(errors.Is(err, errLineTooLong))
	line, err = readLine(r, 10)
	is.NoErr(err)
	is.Equal(line, "next")
	line, err = readLine(r, 10)
	is.NoErr(err)
	is.Equal(line, "last")
	_, err = readLine(r, 10)
	is.True(errors.Is(err, io.EOF))
}

func TestGenerateStreamsBeforeExit(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	writeScript(t, dir, "gen", `echo "Positions: 10, Time: 1s, PPS: 10, Games: 1"
exec sleep 5
`)
	s := &Supervisor{Binary: "gen", Dir: dir, StopGrace: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Delta, 1)
	done := make(chan error, 1)
	go func() {
		_, err := s.Generate(ctx, 1, func(d Delta) { got <- d })
		done <- err
	}()

	select {
	case d := <-got:
		is.Equal(d.Positions, int64(10))
	case <-time.After(3 * time.Second):
		t.Fatal("progress was not reported while the generator was running")
	}
	cancel()
	select {
	case err := <-done:
		is.True(errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("generator was not stopped")
	}
}

func TestGenerateExitCode(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	writeScript(t, dir, "gen", "echo \"Positions: 5, Time: 1s, PPS: 5, Games: 1\"\nexit 3\n")
	s := &Supervisor{Binary: "gen", Dir: dir}

	res, err := s.Generate(context.Background(), 1, nil)
	is.True(errors.Is(err, ErrProcess))
	var exitErr *ExitError
	is.True(errors.As(err, &exitErr))
	is.Equal(exitErr.Code, 3)
	is.Equal(res.Positions, int64(5))
}

func TestGenerateMissingBinary(t *testing.T) {
	is := is.New(t)
	s := &Supervisor{Binary: "does-not-exist", Dir: t.TempDir()}
	_, err := s.Generate(context.Background(), 1, nil)
	is.True(errors.Is(err, ErrProcess))
}
