package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/gwlsn/rifelab/internal/config"
	"github.com/gwlsn/rifelab/internal/ffmpeg"
	"github.com/gwlsn/rifelab/internal/metrics"
	"github.com/gwlsn/rifelab/internal/report"
	"github.com/gwlsn/rifelab/internal/rife"
	"github.com/gwlsn/rifelab/internal/store"
	"github.com/gwlsn/rifelab/internal/ui"
)

func interpolateCommand(e *env) cli.Command {
	return cli.Command{
		Name:      "interpolate",
		Aliases:   []string{"i"},
		Usage:     "Interpolate a video with RIFE",
		ArgsUsage: "<input> <output>",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "multi, m", Usage: "frame multiplier (2, 4 or 8)"},
			cli.Float64Flag{Name: "scale, s", Usage: "RIFE scale factor, lower is faster"},
			cli.BoolFlag{Name: "fp16", Usage: "half precision inference"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			input, output := c.Args().Get(0), c.Args().Get(1)

			opts := rife.Options{
				Multi: e.cfg.Interpolation.DefaultMulti,
				Scale: e.cfg.Interpolation.Scale,
				FP16:  e.cfg.RIFE.FP16 || c.Bool("fp16"),
			}
			if c.IsSet("multi") {
				opts.Multi = c.Int("multi")
			}
			if c.IsSet("scale") {
				opts.Scale = c.Float64("scale")
			}
			if !config.IsValidMultiplier(opts.Multi) {
				return fmt.Errorf("invalid multiplier %d: must be 2, 4 or 8", opts.Multi)
			}

			interp, err := rife.NewInterpolator(e.cfg, e.runner, e.prober, e.log)
			if err != nil {
				return err
			}
			bar := ui.NewPercentBar(os.Stderr, "Interpolating")
			interp.OnProgress(bar.Update)

			started := time.Now()
			stats, err := interp.Process(e.ctx, input, output, opts)
			bar.Finish()
			if err != nil {
				e.recordRun(store.KindInterpolate, input, started, nil, err)
				return err
			}
			e.recordRun(store.KindInterpolate, input, started, stats, nil)

			e.println(ui.Title("Interpolation complete"))
			e.println(ui.Fields([]ui.Field{
				{Label: "Output", Value: output},
				{Label: "Resolution", Value: stats.Resolution},
				{Label: "Frame rate", Value: fmt.Sprintf("%.2f -> %.2f fps (x%d)", stats.InputFPS, stats.OutputFPS, stats.Multi)},
				{Label: "Frames", Value: fmt.Sprintf("%d -> %d", stats.FrameCount, stats.OutputFrames)},
				{Label: "Elapsed", Value: ui.Seconds(stats.ElapsedTime)},
				{Label: "Throughput", Value: fmt.Sprintf("%.2f fps", stats.ProcessingFPS)},
			}))
			return nil
		},
	}
}

func metricsCommand(e *env) cli.Command {
	return cli.Command{
		Name:      "metrics",
		Usage:     "Score an interpolated video against its reference",
		ArgsUsage: "<interpolated> <reference>",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "mode", Value: "direct", Usage: "direct (ffmpeg filters) or delegated (ffmpeg-quality-metrics)"},
			cli.StringFlag{Name: "metrics", Value: "psnr,ssim,vmaf", Usage: "comma-separated metrics"},
			cli.StringFlag{Name: "output, o", Usage: "write the report to this JSON path (a CSV is written alongside)"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			interpolated, reference := c.Args().Get(0), c.Args().Get(1)

			wanted, err := metrics.ParseMetrics([]string{c.String("metrics")})
			if err != nil {
				return err
			}
			calc, err := e.calculator(c.String("mode"), wanted)
			if err != nil {
				return err
			}

			started := time.Now()
			req := metrics.Request{Reference: reference, Interpolated: interpolated, Metrics: wanted}
			if out := c.String("output"); out != "" && c.String("mode") == "delegated" {
				req.OutputPath = strings.TrimSuffix(out, filepath.Ext(out)) + "_raw.json"
			}
			res, err := calc.Compute(e.ctx, req)
			if err != nil {
				e.recordRun(store.KindMetrics, reference, started, nil, err)
				return err
			}

			rec := metricsRecord(res, reference, interpolated)

			if out := c.String("output"); out != "" {
				saved, paths, err := report.Save(rec, filepath.Dir(out), strings.TrimSuffix(filepath.Base(out), filepath.Ext(out)), time.Now())
				if err != nil {
					return err
				}
				rec = saved
				defer e.printf("\nSaved %s and %s\n", paths.JSON, paths.CSV)
			}
			e.recordRun(store.KindMetrics, reference, started, rec, nil)

			e.println(ui.Title(fmt.Sprintf("Quality metrics (%d frames)", res.FrameCount)))
			e.println(ui.Table([]string{"Metric", "Score", "Rating"}, metricRows(res, wanted)))
			return nil
		},
	}
}

// metricsRecord is the saved report of a standalone metrics run.
func metricsRecord(res *metrics.Result, reference, interpolated string) *report.Record {
	rec := report.NewRecord()
	for _, v := range res.Values {
		rec.Set(v.Name, v.Value)
	}
	rec.Set("frame_count", res.FrameCount)
	if len(res.NotComputed) > 0 {
		rec.Set("not_computed", strings.Join(res.NotComputed, ","))
	}
	rec.Set("reference_video", reference)
	rec.Set("interpolated_video", interpolated)
	return rec
}

// calculator builds the scorer for mode.
func (e *env) calculator(mode string, wanted []metrics.Metric) (metrics.Calculator, error) {
	switch mode {
	case "direct", "":
		var vmaf metrics.VMAFSupport
		for _, m := range wanted {
			if m == metrics.VMAF {
				vmaf = metrics.DetectVMAF(e.ctx, e.runner, e.cfg.Tools.FFmpeg)
			}
		}
		return metrics.NewDirect(e.cfg.Tools.FFmpeg, e.runner, e.prober, vmaf, e.log), nil
	case "delegated":
		if err := ffmpeg.RequireTool(e.cfg.Tools.QualityMetrics, "pip install ffmpeg-quality-metrics"); err != nil {
			return nil, err
		}
		dir := filepath.Join(e.cfg.Experiment.ResultsDir, "metrics")
		return metrics.NewDelegated(e.cfg.Tools.QualityMetrics, e.runner, e.prober, dir, e.log), nil
	default:
		return nil, fmt.Errorf("unknown metrics mode %q (use direct or delegated)", mode)
	}
}

func metricRows(res *metrics.Result, wanted []metrics.Metric) [][]string {
	skipped := map[string]bool{}
	for _, n := range res.NotComputed {
		skipped[n] = true
	}
	var rows [][]string
	for _, m := range wanted {
		v, ok := res.Score(m)
		if !ok || skipped[string(m)] {
			rows = append(rows, []string{strings.ToUpper(string(m)), "-", "not computed"})
			continue
		}
		score := strconv.FormatFloat(v, 'f', 4, 64)
		if unit := metrics.Unit(m); unit != "" {
			score += " " + unit
		}
		rows = append(rows, []string{strings.ToUpper(string(m)), score, ui.Rating(metrics.Rate(m, v))})
	}
	return rows
}

func downsampleCommand(e *env) cli.Command {
	return cli.Command{
		Name:      "downsample",
		Usage:     "Keep every Kth frame of a video",
		ArgsUsage: "<input> <output>",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "skip, k", Usage: "stride K (default experiment.stride)"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			stride := e.cfg.Experiment.Stride
			if c.IsSet("skip") {
				stride = c.Int("skip")
			}
			if stride < 1 {
				return fmt.Errorf("invalid stride %d: must be at least 1", stride)
			}

			tr := e.transformer()
			stats, err := tr.Downsample(e.ctx, c.Args().Get(0), c.Args().Get(1), stride)
			if err != nil {
				return err
			}
			if stats.Skipped {
				e.println(ui.Warn("Output already exists, left unchanged"))
			}
			fields := []ui.Field{
				{Label: "Output", Value: c.Args().Get(1)},
				{Label: "Stride", Value: strconv.Itoa(stats.Stride)},
				{Label: "Frame rate", Value: fmt.Sprintf("%.2f -> %.2f fps", stats.InputFPS, stats.OutputFPS)},
				{Label: "Frames", Value: fmt.Sprintf("%d -> %d", stats.InputFrames, stats.OutputFrames)},
			}
			if st, err := os.Stat(c.Args().Get(1)); err == nil {
				fields = append(fields, ui.Field{Label: "Size", Value: humanize.Bytes(uint64(st.Size()))})
			}
			e.println(ui.Fields(fields))
			return nil
		},
	}
}

func (e *env) transformer() *ffmpeg.Transformer {
	enc := ffmpeg.EncodeSettings{Codec: e.cfg.Encode.Codec, Preset: e.cfg.Encode.Preset, CRF: e.cfg.Encode.CRF}
	return ffmpeg.NewTransformer(e.cfg.Tools.FFmpeg, e.runner, e.prober, enc, e.log)
}
