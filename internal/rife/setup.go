package rife

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gwlsn/rifelab/internal/config"
	"github.com/gwlsn/rifelab/internal/logger"
	"github.com/gwlsn/rifelab/internal/proc"
)

// ErrUnknownModel is returned by Setup for a version with no download URL.
var ErrUnknownModel = errors.New("unknown model version")

// Setup clones Practical-RIFE and installs model weights. Every step is
// skipped when its target already exists; contents are not verified.
type Setup struct {
	cfg    *config.Config
	runner proc.Runner
	client *http.Client
	log    *logger.Logger

	// DownloadProgress, if set, wraps the weight download. total is -1 when
	// the server does not send a length.
	DownloadProgress func(total int64, desc string) io.Writer
}

// NewSetup creates a Setup using http.DefaultClient.
func NewSetup(cfg *config.Config, runner proc.Runner, log *logger.Logger) *Setup {
	return &Setup{cfg: cfg, runner: runner, client: http.DefaultClient, log: log}
}

// WithClient overrides the HTTP client used for downloads.
func (s *Setup) WithClient(c *http.Client) *Setup {
	s.client = c
	return s
}

// Run performs clone, download and copy for the given model version.
// An empty version uses the configured one.
func (s *Setup) Run(ctx context.Context, version string) error {
	if version == "" {
		version = s.cfg.Model.Version
	}

	if err := s.cloneRepo(ctx); err != nil {
		return err
	}

	weights := s.cfg.Model.WeightsPath
	if exists(weights) {
		s.log.Info("Model weights already exist", "path", weights)
	} else {
		url, ok := s.cfg.Model.URLs[version]
		if !ok {
			return fmt.Errorf("%w: %q (known: %s)", ErrUnknownModel, version, strings.Join(knownVersions(s.cfg.Model.URLs), ", "))
		}
		s.log.Info("Downloading RIFE weights", "version", version, "url", url)
		if err := s.download(ctx, url, weights); err != nil {
			return err
		}
		s.log.Info("Downloaded model", "path", weights)
	}

	dst := s.cfg.WeightsInRIFE()
	if exists(dst) {
		s.log.Debug("Weights already present in checkout", "path", dst)
	} else if err := copyFile(weights, dst); err != nil {
		return fmt.Errorf("install weights into %s: %w", dst, err)
	}

	s.log.Info("Setup complete")
	return nil
}

func (s *Setup) cloneRepo(ctx context.Context) error {
	dir := s.cfg.RIFE.Dir
	if exists(dir) {
		s.log.Info("Practical-RIFE already exists", "path", dir)
		return nil
	}
	_, err := s.runner.Run(ctx, proc.Command{
		Description: "Cloning Practical-RIFE",
		Name:        s.cfg.Tools.Git,
		Args:        []string{"clone", "--depth", "1", s.cfg.RIFE.RepoURL, dir},
	})
	return err
}

// download writes url to dst via a temp file in the same directory so an
// interrupted download never leaves a partial file at dst.
func (s *Setup) download(ctx context.Context, url, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create weights directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".flownet-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	if s.DownloadProgress != nil {
		w = io.MultiWriter(tmp, s.DownloadProgress(resp.ContentLength, "Downloading weights"))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func copyFile(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func knownVersions(urls map[string]string) []string {
	out := make([]string, 0, len(urls))
	for v := range urls {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
