package proc

import (
	"bufio"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	"github.com/gwlsn/rifelab/internal/logger"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunSuccessCapturesOutput(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(logger.Discard())

	res, err := r.Run(context.Background(), Command{
		Description: "Echo",
		Name:        "sh",
		Args:        []string{"-c", "echo hello; echo oops >&2"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !Succeeded(err) {
		t.Error("Succeeded(nil) = false")
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(logger.Discard())

	_, err := r.Run(context.Background(), Command{
		Description: "Failing step",
		Name:        "sh",
		Args:        []string{"-c", "echo 'codec not found' >&2; exit 3"},
	})
	if Succeeded(err) {
		t.Fatal("expected failure")
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T", err)
	}
	if exitErr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.ExitCode)
	}
	if !strings.Contains(err.Error(), "codec not found") {
		t.Errorf("error should include stderr tail, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "Failing step") {
		t.Errorf("error should include description, got %q", err.Error())
	}
}

func TestRunMissingBinary(t *testing.T) {
	r := NewExecRunner(logger.Discard())
	_, err := r.Run(context.Background(), Command{Description: "Ghost", Name: "/nonexistent/tool"})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if exitErr.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", exitErr.ExitCode)
	}
}

func TestRunStreamsLines(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(logger.Discard())

	var lines []string
	_, err := r.Run(context.Background(), Command{
		Description: "Progress",
		Name:        "sh",
		Args:        []string{"-c", `printf '10%%\r50%%\r100%%\ndone\n'`},
		OnLine:      func(l string) { lines = append(lines, l) },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []string{"10%", "50%", "100%", "done"}
	if strings.Join(lines, ",") != strings.Join(want, ",") {
		t.Errorf("lines = %v, want %v", lines, want)
	}
}

func TestRunMergeStderrStreamsProgress(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(logger.Discard())

	var lines []string
	res, err := r.Run(context.Background(), Command{
		Description: "Progress on stderr",
		Name:        "sh",
		Args:        []string{"-c", `printf '50%%\r' >&2; sleep 0.1; echo done`},
		OnLine:      func(l string) { lines = append(lines, l) },
		MergeStderr: true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.Join(lines, ",") != "50%,done" {
		t.Errorf("lines = %v, want [50%% done]", lines)
	}
	if res.Stderr != "50%\r" {
		t.Errorf("stderr = %q, want it captured separately", res.Stderr)
	}
	if strings.TrimSpace(res.Stdout) != "done" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestRunWithoutMergeIgnoresStderrLines(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(logger.Discard())

	var lines []string
	res, err := r.Run(context.Background(), Command{
		Description: "Progress",
		Name:        "sh",
		Args:        []string{"-c", `echo noise >&2; echo out`},
		OnLine:      func(l string) { lines = append(lines, l) },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.Join(lines, ",") != "out" {
		t.Errorf("lines = %v, want [out]", lines)
	}
	if strings.TrimSpace(res.Stderr) != "noise" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestRunStreamedFailureKeepsStderr(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(logger.Discard())

	_, err := r.Run(context.Background(), Command{
		Description: "Streamed failure",
		Name:        "sh",
		Args:        []string{"-c", "echo 10%; echo 'CUDA out of memory' >&2; exit 1"},
		OnLine:      func(string) {},
		MergeStderr: true,
	})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if !strings.Contains(exitErr.Stderr, "CUDA out of memory") {
		t.Errorf("ExitError.Stderr = %q", exitErr.Stderr)
	}
}

func TestRunCancelledContext(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Run(ctx, Command{Description: "Sleep", Name: "sh", Args: []string{"-c", "sleep 5"}}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestScanLinesCR(t *testing.T) {
	input := "a\r\nb\rc\nd"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(ScanLinesCR)

	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	want := []string{"a", "b", "c", "d"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLastLines(t *testing.T) {
	out := "one\n\ntwo\nthree\nfour\n"
	if got := LastLines(out, 2); got != "three | four" {
		t.Errorf("LastLines = %q", got)
	}
	if got := LastLines("", 3); got != "" {
		t.Errorf("LastLines(empty) = %q", got)
	}
}
