package rife

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gwlsn/rifelab/internal/config"
	"github.com/gwlsn/rifelab/internal/logger"
	"github.com/gwlsn/rifelab/internal/proc"
	"github.com/gwlsn/rifelab/internal/proc/proctest"
)

func setupConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.RIFE.Dir = filepath.Join(dir, "Practical-RIFE")
	cfg.Model.WeightsPath = filepath.Join(dir, "train_log", "flownet.pkl")
	cfg.Model.URLs = map[string]string{"4.25": url}
	return cfg
}

// cloneCreatesDir simulates git clone by creating the target directory.
func cloneCreatesDir(cmd proc.Command) (*proc.Result, error) {
	return &proc.Result{}, os.MkdirAll(cmd.Args[len(cmd.Args)-1], 0755)
}

func TestSetupFresh(t *testing.T) {
	weights := []byte("flownet weights")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(weights)
	}))
	defer srv.Close()

	cfg := setupConfig(t, srv.URL+"/flownet.pkl")
	runner := (&proctest.Runner{}).On("Cloning", cloneCreatesDir)

	var progress bytes.Buffer
	s := NewSetup(cfg, runner, logger.Discard()).WithClient(srv.Client())
	s.DownloadProgress = func(total int64, desc string) io.Writer { return &progress }

	if err := s.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	clone, ok := runner.Find("Cloning")
	if !ok {
		t.Fatal("git clone was not run")
	}
	if clone.Args[0] != "clone" || clone.Args[len(clone.Args)-1] != cfg.RIFE.Dir {
		t.Errorf("clone args = %v", clone.Args)
	}

	for _, p := range []string{cfg.Model.WeightsPath, cfg.WeightsInRIFE()} {
		got, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("reading %s: %v", p, err)
		}
		if !bytes.Equal(got, weights) {
			t.Errorf("%s = %q, want %q", p, got, weights)
		}
	}
	if progress.Len() != len(weights) {
		t.Errorf("progress saw %d bytes, want %d", progress.Len(), len(weights))
	}
}

func TestSetupSkipsExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no download expected")
	}))
	defer srv.Close()

	cfg := setupConfig(t, srv.URL)
	os.MkdirAll(filepath.Join(cfg.RIFE.Dir, "train_log"), 0755)
	os.MkdirAll(filepath.Dir(cfg.Model.WeightsPath), 0755)
	os.WriteFile(cfg.Model.WeightsPath, []byte("old"), 0644)

	runner := &proctest.Runner{}
	if err := NewSetup(cfg, runner, logger.Discard()).WithClient(srv.Client()).Run(context.Background(), "4.25"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if runner.Calls() != 0 {
		t.Errorf("expected no commands, got %d", runner.Calls())
	}
	// Copy still happens when the checkout lacks the weights
	if got, _ := os.ReadFile(cfg.WeightsInRIFE()); string(got) != "old" {
		t.Errorf("weights in checkout = %q, want copied file", got)
	}
}

func TestSetupUnknownVersion(t *testing.T) {
	cfg := setupConfig(t, "http://unused")
	os.MkdirAll(cfg.RIFE.Dir, 0755)

	err := NewSetup(cfg, &proctest.Runner{}, logger.Discard()).Run(context.Background(), "9.99")
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestSetupDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := setupConfig(t, srv.URL)
	os.MkdirAll(cfg.RIFE.Dir, 0755)

	err := NewSetup(cfg, &proctest.Runner{}, logger.Discard()).WithClient(srv.Client()).Run(context.Background(), "")
	if err == nil {
		t.Fatal("expected download error")
	}
	if _, statErr := os.Stat(cfg.Model.WeightsPath); statErr == nil {
		t.Error("failed download must not leave a weights file")
	}
}

func TestSetupCloneFailure(t *testing.T) {
	cfg := setupConfig(t, "http://unused")
	runner := (&proctest.Runner{}).Fail("Cloning", "fatal: unable to access")

	err := NewSetup(cfg, runner, logger.Discard()).Run(context.Background(), "")
	var exitErr *proc.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *proc.ExitError, got %v", err)
	}
}
