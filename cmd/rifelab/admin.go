package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/gwlsn/rifelab/internal/bench"
	"github.com/gwlsn/rifelab/internal/browse"
	"github.com/gwlsn/rifelab/internal/ffmpeg"
	"github.com/gwlsn/rifelab/internal/metrics"
	"github.com/gwlsn/rifelab/internal/proc"
	"github.com/gwlsn/rifelab/internal/rife"
	"github.com/gwlsn/rifelab/internal/store"
	"github.com/gwlsn/rifelab/internal/ui"
)

func setupCommand(e *env) cli.Command {
	return cli.Command{
		Name:  "setup",
		Usage: "Clone Practical-RIFE and download model weights",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "model", Usage: "model version (default model.version)"},
		},
		Action: func(c *cli.Context) error {
			if _, err := os.Stat(e.cfg.RIFE.Dir); os.IsNotExist(err) {
				if err := ffmpeg.RequireTool(e.cfg.Tools.Git, "install git to clone Practical-RIFE"); err != nil {
					return err
				}
			}
			s := rife.NewSetup(e.cfg, e.runner, e.log)
			s.DownloadProgress = ui.DownloadBar(os.Stderr)
			if err := s.Run(e.ctx, c.String("model")); err != nil {
				return err
			}
			e.println(ui.Success("RIFE is ready: " + e.cfg.RIFE.Dir))
			return nil
		},
	}
}

func infoCommand(e *env) cli.Command {
	return cli.Command{
		Name:      "info",
		Usage:     "Show toolchain, GPU and encoder support, or describe a video or directory of videos",
		ArgsUsage: "[video|dir]",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "recursive, r", Usage: "include subdirectories when listing a directory"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return e.describeSystem()
			}
			path := c.Args().Get(0)
			if st, err := os.Stat(path); err == nil && st.IsDir() {
				return e.describeDir(path, c.Bool("recursive"))
			}
			return e.describeVideo(path)
		},
	}
}

func (e *env) describeSystem() error {
	version, err := ffmpeg.Version(e.ctx, e.cfg.Tools.FFmpeg)
	if err != nil {
		version = "not found (" + e.cfg.Tools.FFmpeg + ")"
	}

	gpu := bench.CPUOnly
	if _, err := proc.LookPath(e.cfg.Tools.NvidiaSMI); err == nil {
		gpu = bench.NewGPUProbe(e.cfg.Tools.NvidiaSMI, e.runner).Describe(e.ctx)
	}

	vmaf := "not available"
	if support := metrics.DetectVMAF(e.ctx, e.runner, e.cfg.Tools.FFmpeg); support.Available {
		vmaf = "available"
		if len(support.Models) > 0 {
			vmaf += " (" + strings.Join(support.Models, ", ") + ")"
		}
	}

	rifeStatus := "missing (run: rifelab setup)"
	if _, err := rife.NewInterpolator(e.cfg, e.runner, e.prober, e.log); err == nil {
		rifeStatus = "ready"
	}

	e.println(ui.Title("rifelab " + Version))
	e.println(ui.Fields([]ui.Field{
		{Label: "Go", Value: runtime.Version()},
		{Label: "Platform", Value: runtime.GOOS + "/" + runtime.GOARCH},
		{Label: "Config", Value: e.cfgPath},
		{Label: "FFmpeg", Value: version},
		{Label: "GPU", Value: gpu.Name},
		{Label: "VRAM", Value: gpu.VRAM},
		{Label: "VMAF", Value: vmaf},
		{Label: "RIFE", Value: rifeStatus},
	}))

	encoders, err := ffmpeg.DetectEncoders(e.ctx, e.cfg.Tools.FFmpeg)
	if err != nil {
		e.println(ui.Warn(err.Error()))
		return nil
	}
	var rows [][]string
	for _, enc := range encoders.H264Encoders() {
		status := "-"
		if enc.Available {
			status = "yes"
		}
		rows = append(rows, []string{enc.Name, enc.Encoder, status})
	}
	e.println(ui.Table([]string{"Encoder", "Name", "Available"}, rows))
	return nil
}

func (e *env) describeVideo(path string) error {
	vi, err := e.prober.Info(e.ctx, path)
	if err != nil {
		return err
	}
	e.println(ui.Title(path))
	e.println(ui.Fields([]ui.Field{
		{Label: "Resolution", Value: vi.Resolution()},
		{Label: "Frame rate", Value: fmt.Sprintf("%.3f fps", vi.FPS)},
		{Label: "Frames", Value: humanize.Comma(int64(vi.FrameCount))},
		{Label: "Duration", Value: ui.Seconds(vi.Duration())},
		{Label: "Codec", Value: vi.Codec},
		{Label: "Size", Value: humanize.Bytes(uint64(vi.Size))},
	}))
	return nil
}

func (e *env) describeDir(dir string, recursive bool) error {
	result, err := browse.NewBrowser(e.prober, runtime.NumCPU()).Browse(e.ctx, dir, recursive)
	if err != nil {
		return err
	}
	if len(result.Entries) == 0 {
		e.printf("No videos in %s\n", result.Dir)
		return nil
	}

	rows := make([][]string, len(result.Entries))
	for i, entry := range result.Entries {
		name, _ := filepath.Rel(result.Dir, entry.Path)
		if entry.Info == nil {
			rows[i] = []string{name, "?", "?", "?", "?", humanize.Bytes(uint64(entry.Size))}
			continue
		}
		rows[i] = []string{
			name,
			entry.Info.Resolution(),
			fmt.Sprintf("%.2f", entry.Info.FPS),
			humanize.Comma(int64(entry.Info.FrameCount)),
			ui.Seconds(entry.Info.Duration()),
			humanize.Bytes(uint64(entry.Size)),
		}
	}
	e.println(ui.Title(result.Dir))
	e.println(ui.Table([]string{"File", "Resolution", "FPS", "Frames", "Duration", "Size"}, rows))
	e.printf("%d videos, %s, %s of footage\n", len(result.Entries),
		humanize.Bytes(uint64(result.TotalSize)), ui.Seconds(result.TotalDuration))
	return nil
}

func historyCommand(e *env) cli.Command {
	return cli.Command{
		Name:  "history",
		Usage: "List recorded runs",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "limit, n", Value: 20, Usage: "number of runs to show (0 for all)"},
			cli.StringFlag{Name: "import", Usage: "record every JSON report in this directory first"},
			cli.BoolFlag{Name: "mark-interrupted", Usage: "fail runs left running by a process that died"},
		},
		Action: func(c *cli.Context) error {
			var (
				s   *store.SQLiteStore
				err error
			)
			if c.Bool("mark-interrupted") {
				s, err = store.InitStore(e.cfg.HistoryDB, e.log)
			} else {
				s, err = store.NewSQLiteStore(e.cfg.HistoryDB)
			}
			if err != nil {
				return err
			}
			defer s.Close()

			if dir := c.String("import"); dir != "" {
				res, err := store.ImportReports(s, dir, e.log)
				if err != nil {
					return err
				}
				e.println(ui.Success(fmt.Sprintf("Imported %d report(s), skipped %d", res.Imported, res.Skipped)))
			}

			runs, err := s.ListRuns(c.Int("limit"))
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				e.println("No runs recorded yet.")
				return nil
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = historyRow(r)
			}
			e.println(ui.Table([]string{"ID", "Kind", "Status", "Started", "Took", "Source", "Detail"}, rows))

			stats, err := s.Stats()
			if err != nil {
				return err
			}
			e.printf("%d runs: %d complete, %d failed, %d cancelled, %d running\n",
				stats.Total, stats.Complete, stats.Failed, stats.Cancelled, stats.Running)
			return nil
		},
	}
}

func historyRow(r *store.Run) []string {
	took := "-"
	if d := r.Duration(); d > 0 {
		took = d.Round(time.Second).String()
	}
	detail := ""
	switch {
	case r.FailedStep != "":
		detail = "failed at " + r.FailedStep
	case r.Error != "":
		detail = r.Error
	}
	if len(detail) > 60 {
		detail = detail[:57] + "..."
	}
	return []string{
		r.ID[:min(8, len(r.ID))],
		string(r.Kind),
		string(r.Status),
		humanize.Time(r.StartedAt),
		took,
		r.Source,
		detail,
	}
}
