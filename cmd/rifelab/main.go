package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/gwlsn/rifelab/internal/bench"
	"github.com/gwlsn/rifelab/internal/config"
	"github.com/gwlsn/rifelab/internal/ffmpeg"
	"github.com/gwlsn/rifelab/internal/logger"
	"github.com/gwlsn/rifelab/internal/proc"
	"github.com/gwlsn/rifelab/internal/store"
	"github.com/gwlsn/rifelab/internal/ui"
)

// Version is the rifelab release.
const Version = "0.4.0"

const defaultConfigPath = "config/rifelab.yaml"

// env is what every command needs, built once from the global flags.
type env struct {
	ctx      context.Context
	cfg      *config.Config
	cfgPath  string
	log      *logger.Logger
	logClose io.Closer
	runner   proc.Runner
	prober   *ffmpeg.Prober
	out      io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(ctx, os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, ui.Error(err.Error()))
		stop()
		os.Exit(1)
	}
}

func newApp(ctx context.Context, out io.Writer) *cli.App {
	e := &env{ctx: ctx, out: out}

	app := cli.NewApp()
	app.Name = "rifelab"
	app.Usage = "Frame interpolation experiments on gameplay footage"
	app.Version = Version
	app.HideVersion = true
	app.Writer = out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "path to config file",
			Value:  defaultConfigPath,
			EnvVar: "RIFELAB_CONFIG",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "debug logging",
		},
	}
	app.Before = func(c *cli.Context) error {
		return e.init(c.GlobalString("config"), c.GlobalBool("verbose"))
	}
	app.After = func(c *cli.Context) error {
		if e.logClose != nil {
			return e.logClose.Close()
		}
		return nil
	}
	app.Commands = []cli.Command{
		interpolateCommand(e),
		metricsCommand(e),
		benchmarkCommand(e),
		downsampleCommand(e),
		experimentCommand(e),
		setupCommand(e),
		infoCommand(e),
		historyCommand(e),
	}
	return app
}

// init loads config and builds the logger and process runner.
func (e *env) init(cfgPath string, verbose bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if ff := os.Getenv("RIFELAB_FFMPEG"); ff != "" {
		cfg.Tools.FFmpeg = ff
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	log, closer, err := logger.Open(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	e.cfg = cfg
	e.cfgPath = cfgPath
	e.log = log
	e.logClose = closer
	e.runner = proc.NewExecRunner(log)
	e.prober = ffmpeg.NewProber(cfg.Tools.FFprobe)
	log.Debug("Loaded config", "path", cfgPath, "ffmpeg", cfg.Tools.FFmpeg)
	return nil
}

func (e *env) printf(format string, args ...any) {
	fmt.Fprintf(e.out, format, args...)
}

func (e *env) println(s string) {
	fmt.Fprintln(e.out, s)
}

// openHistory returns nil when the history database cannot be opened;
// history never blocks a run.
func (e *env) openHistory() *store.SQLiteStore {
	if e.cfg.HistoryDB == "" {
		return nil
	}
	s, err := store.NewSQLiteStore(e.cfg.HistoryDB)
	if err != nil {
		e.log.Warn("Run history unavailable", "path", e.cfg.HistoryDB, "error", err)
		return nil
	}
	return s
}

// recordRun stores a finished one-shot command. Benchmark reports also
// get their per-resolution rows.
func (e *env) recordRun(kind store.Kind, source string, started time.Time, payload any, runErr error) {
	s := e.openHistory()
	if s == nil {
		return
	}
	defer s.Close()

	run := &store.Run{
		ID:          uuid.NewString(),
		Kind:        kind,
		Source:      source,
		Status:      store.StatusComplete,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	if runErr != nil {
		run.Status = store.StatusFailed
		run.Error = runErr.Error()
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			run.Record = data
		}
	}
	if err := s.SaveRun(run); err != nil {
		e.log.Warn("Failed to record run history", "error", err)
		return
	}

	if rep, ok := payload.(*bench.Report); ok {
		if err := s.SaveBenchmarkResults(run.ID, benchmarkRows(run.ID, rep)); err != nil {
			e.log.Warn("Failed to record benchmark results", "error", err)
		}
	}
}

func benchmarkRows(runID string, rep *bench.Report) []store.BenchmarkResult {
	rows := make([]store.BenchmarkResult, len(rep.Results))
	for i, r := range rep.Results {
		rows[i] = store.BenchmarkResult{
			RunID:         runID,
			Resolution:    r.Resolution,
			FPS:           r.FPS,
			RealtimeRatio: r.RealtimeRatio,
			Realtime:      r.Realtime,
			Frames:        r.FrameCount,
			Elapsed:       r.Elapsed,
			GPU:           rep.GPU,
		}
	}
	return rows
}

// requireArgs fails unless the command got exactly n positional arguments.
func requireArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return fmt.Errorf("%s: expected %d argument(s): %s", c.Command.Name, n, c.Command.ArgsUsage)
	}
	return nil
}
