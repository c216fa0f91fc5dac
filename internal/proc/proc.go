// Package proc runs external tools (ffmpeg, the RIFE inference script, the
// quality-metrics tool) synchronously and reports failures with the tail of
// their stderr.
package proc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/gwlsn/rifelab/internal/logger"
)

// Command describes one external invocation.
type Command struct {
	// Description is a human-readable label used in logs and errors
	Description string
	Name        string
	Args        []string
	// Dir is the working directory; empty means the current one
	Dir string
	// OnLine, if set, receives each stdout line as it is produced.
	// Lines are split on \n and \r so carriage-return progress bars stream too.
	OnLine func(line string)
	// MergeStderr feeds stderr lines to OnLine as well. Stderr is still
	// captured separately for ExitError.
	MergeStderr bool
}

// String renders the command line for logging.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds captured output of a finished command.
type Result struct {
	Stdout string
	Stderr string
}

// ExitError is returned when a command exits non-zero or fails to start.
type ExitError struct {
	Description string
	ExitCode    int // -1 if the process never ran
	Stderr      string
	Err         error
}

func (e *ExitError) Error() string {
	tail := LastLines(e.Stderr, 3)
	if tail == "" {
		return fmt.Sprintf("%s failed: %v", e.Description, e.Err)
	}
	return fmt.Sprintf("%s failed: %v (%s)", e.Description, e.Err, tail)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Runner executes commands. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Succeeded is the boolean view of a Run error.
func Succeeded(err error) bool {
	return err == nil
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	log *logger.Logger
}

// NewExecRunner creates a runner that logs through log.
func NewExecRunner(log *logger.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

// Run executes cmd and blocks until it exits. There is no timeout; cancel ctx
// to kill the child.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir

	r.log.Info(cmd.Description + "...")
	r.log.Debug("Running command", "cmd", cmd.String(), "dir", cmd.Dir)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	// Streamed output goes through a pipe scanned on its own goroutine; the
	// buffers still receive every byte.
	var pw *io.PipeWriter
	scanned := make(chan struct{})
	if cmd.OnLine != nil {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		c.Stdout = io.MultiWriter(&stdout, pw)
		if cmd.MergeStderr {
			c.Stderr = io.MultiWriter(&stderr, pw)
		}
		go func() {
			defer close(scanned)
			scanner := bufio.NewScanner(pr)
			scanner.Split(ScanLinesCR)
			for scanner.Scan() {
				line := scanner.Text()
				r.log.Debug(line)
				cmd.OnLine(line)
			}
			// Drain whatever the scanner left behind so the child never blocks on write
			_, _ = io.Copy(io.Discard, pr)
		}()
	} else {
		close(scanned)
	}

	if err := c.Start(); err != nil {
		if pw != nil {
			pw.Close()
		}
		<-scanned
		return nil, &ExitError{Description: cmd.Description, ExitCode: -1, Err: err}
	}

	err := c.Wait()
	if pw != nil {
		pw.Close()
	}
	<-scanned

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		r.log.Error("Command failed", "description", cmd.Description, "error", err, "stderr", LastLines(res.Stderr, 5))
		return res, &ExitError{Description: cmd.Description, ExitCode: code, Stderr: res.Stderr, Err: err}
	}
	return res, nil
}

// ScanLinesCR is a bufio.SplitFunc that splits on \n, \r\n, or a bare \r.
func ScanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// Might be the first half of \r\n; wait for more
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// LastLines returns the last n non-empty lines of output joined with " | ".
func LastLines(output string, n int) string {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(output), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// LookPath reports whether a tool can be executed, resolving it on PATH.
func LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
