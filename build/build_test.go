package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
)

// fakeMake records its arguments, one invocation per line, and fails when
// asked to build with NRAND=0.
func fakeMake(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls")
	script := `#!/bin/sh
echo "$@" >> ` + logPath + `
for a in "$@"; do
	if [ "$a" = "NRAND=0" ]; then
		echo "error: bad NRAND" 1>&2
		exit 2
	fi
done
`
	path := filepath.Join(dir, "make")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path, logPath
}

func TestArgs(t *testing.T) {
	is := is.New(t)
	b, err := New("make", "/engine", 8, `CXX=clang++ EXTRA="-O3 -march=native"`)
	is.NoErr(err)
	is.Equal(b.Args(5000, 12), []string{"SNODES=5000", "NRAND=12", "-j8", "CXX=clang++", "EXTRA=-O3 -march=native"})

	b.Jobs = 0
	is.Equal(b.Args(1, 2)[:3], []string{"SNODES=1", "NRAND=2", "-j"})
}

func TestNewRejectsBadQuoting(t *testing.T) {
	is := is.New(t)
	_, err := New("make", ".", 1, `CXX="clang++`)
	is.True(err != nil)
}

func TestBuildRunsCleanThenBuild(t *testing.T) {
	is := is.New(t)
	makePath, logPath := fakeMake(t)
	b, err := New(makePath, t.TempDir(), 4, "")
	is.NoErr(err)

	is.NoErr(b.Build(context.Background(), 5000, 12))

	calls, err := os.ReadFile(logPath)
	is.NoErr(err)
	is.Equal(strings.Split(strings.TrimSpace(string(calls)), "\n"), []string{
		"clean",
		"SNODES=5000 NRAND=12 -j4",
	})
}

func TestBuildFailure(t *testing.T) {
	is := is.New(t)
	makePath, _ := fakeMake(t)
	b, err := New(makePath, t.TempDir(), 1, "")
	is.NoErr(err)

	err = b.Build(context.Background(), 5000, 0)
	is.True(errors.Is(err, ErrBuild))
	var berr *Error
	is.True(errors.As(err, &berr))
	is.Equal(berr.ExitCode, 2)
	is.True(strings.Contains(berr.Output, "bad NRAND"))
	is.True(strings.Contains(err.Error(), "error: bad NRAND"))
}

func TestLastLine(t *testing.T) {
	is := is.New(t)
	is.Equal(lastLine("g++ -O3 nnue.cpp\nnnue.cpp:12: error: bad\n\n"), "nnue.cpp:12: error: bad")
	is.Equal(lastLine("one"), "one")
	is.Equal(lastLine(" \n"), "")
}
