// Package build recompiles the engine with the parameters handed out by the
// coordination server.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"
)

const outputTail = 2048

var ErrBuild = errors.New("build failed")

// Error describes a failed build step.
type Error struct {
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s (exit %d): %v", strings.Join(e.Args, " "), e.ExitCode, e.Err)
	if last := lastLine(e.Output); last != "" {
		msg += ": " + last
	}
	return msg
}

func (e *Error) Unwrap() []error { return []error{ErrBuild, e.Err} }

// Builder runs make in the engine directory.
type Builder struct {
	Make string
	Dir  string
	// Jobs is passed as -j<Jobs>; zero or less passes a bare -j.
	Jobs int
	// ExtraArgs are appended to the build step.
	ExtraArgs []string
}

// New creates a Builder. extraArgs is split the way a shell would split it.
func New(makePath, dir string, jobs int, extraArgs string) (*Builder, error) {
	args, err := shellquote.Split(extraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid build arguments %q: %w", extraArgs, err)
	}
	if makePath == "" {
		makePath = "make"
	}
	return &Builder{Make: makePath, Dir: dir, Jobs: jobs, ExtraArgs: args}, nil
}

// Args returns the arguments of the parameterized build step.
func (b *Builder) Args(softNodes, numRand int) []string {
	jobs := "-j"
	if b.Jobs > 0 {
		jobs += strconv.Itoa(b.Jobs)
	}
	args := []string{
		"SNODES=" + strconv.Itoa(softNodes),
		"NRAND=" + strconv.Itoa(numRand),
		jobs,
	}
	return append(args, b.ExtraArgs...)
}

// Build cleans the engine directory and rebuilds the generator. Either step
// failing stops the build.
func (b *Builder) Build(ctx context.Context, softNodes, numRand int) error {
	if err := b.run(ctx, "clean"); err != nil {
		return err
	}
	return b.run(ctx, b.Args(softNodes, numRand)...)
}

func (b *Builder) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, b.Make, args...)
	cmd.Dir = b.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	log.Debug().Strs("args", cmd.Args).Str("dir", b.Dir).Msg("running build step")
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return &Error{
		Args:     cmd.Args,
		ExitCode: exitCode,
		Output:   tail(out.String(), outputTail),
		Err:      err,
	}
}

// lastLine is the final non-blank line of s, usually the compiler's or
// make's own complaint.
func lastLine(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
