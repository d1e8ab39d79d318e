package pio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrCommandFailed is returned when the pio CLI exits with a non-zero status.
var ErrCommandFailed = errors.New("pio command failed")

// Runner runs a pio CLI command in dir and returns its standard output.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// CLI runs the real pio executable.
type CLI struct {
	// Path is the pio executable. Defaults to "pio".
	Path string
}

// Run implements Runner.
func (c CLI) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	path := c.Path
	if path == "" {
		path = "pio"
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			return nil, fmt.Errorf("%w: %s %s: %s", ErrCommandFailed, path, strings.Join(args, " "), msg)
		}
		return nil, fmt.Errorf("running %s: %w", path, err)
	}
	return out, nil
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return f(ctx, dir, args...)
}
