// Package runner executes connector commands through sh.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const (
	// MaxStdout bounds the records a single invocation may print.
	MaxStdout = 64 << 20
	stderrTail = 4 << 10
)

// ErrOutputTooLarge is returned when stdout exceeds MaxStdout.
var ErrOutputTooLarge = errors.New("command output exceeds limit")

// Invocation describes one external program run on behalf of a connector.
type Invocation struct {
	ConnectorID string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Env         map[string]string
	Dir         string
}

// Result is the outcome of a command run.
type Result struct {
	ExitCode int
	Stdout   []byte
	// Stderr holds the last few kilobytes written to stderr.
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// tail keeps the most recent max bytes written to it.
type tail struct {
	max int
	buf []byte
}

func (t *tail) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// capped fails writes once max bytes have been buffered.
type capped struct {
	max int
	buf bytes.Buffer
}

func (c *capped) Write(p []byte) (int, error) {
	if c.buf.Len()+len(p) > c.max {
		return 0, ErrOutputTooLarge
	}
	return c.buf.Write(p)
}

// Run executes command with the invocation environment. A non-nil error means
// the command did not complete successfully; Result is always returned.
func Run(ctx context.Context, command string, inv Invocation, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = BuildEnv(inv)
	cmd.Dir = inv.Dir
	// Grandchildren may hold the output pipes open after sh is killed.
	cmd.WaitDelay = time.Second

	stdout := &capped{max: MaxStdout}
	stderr := &tail{max: stderrTail}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.buf.Bytes(),
		Stderr:   string(stderr.buf),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		return res, fmt.Errorf("command timed out after %s", res.Duration.Round(time.Millisecond))
	}
	return res, fmt.Errorf("command exited %d: %w", res.ExitCode, err)
}
