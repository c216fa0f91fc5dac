package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/gwlsn/rifelab/internal/bench"
	"github.com/gwlsn/rifelab/internal/compare"
	"github.com/gwlsn/rifelab/internal/config"
	"github.com/gwlsn/rifelab/internal/ffmpeg"
	"github.com/gwlsn/rifelab/internal/metrics"
	"github.com/gwlsn/rifelab/internal/pipeline"
	"github.com/gwlsn/rifelab/internal/proc"
	"github.com/gwlsn/rifelab/internal/rife"
	"github.com/gwlsn/rifelab/internal/store"
	"github.com/gwlsn/rifelab/internal/ui"
)

func experimentCommand(e *env) cli.Command {
	return cli.Command{
		Name:      "experiment",
		Aliases:   []string{"x"},
		Usage:     "Extract, downsample, interpolate, score and compare a clip",
		ArgsUsage: "<source>",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "clip", Usage: "clip length in seconds (default experiment.clip_duration)"},
			cli.IntFlag{Name: "stride", Usage: "keep every Kth frame (default experiment.stride)"},
			cli.IntFlag{Name: "multi, m", Usage: "frame multiplier (default experiment.multi)"},
			cli.Float64Flag{Name: "scale, s", Usage: "RIFE scale factor (default experiment.scale)"},
			cli.StringFlag{Name: "name", Usage: "experiment name used in output file names"},
			cli.BoolFlag{Name: "vmaf", Usage: "also score VMAF when ffmpeg has libvmaf"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			params, err := e.experimentParams(c)
			if err != nil {
				return err
			}

			// Preconditions come before any processing
			encoders, err := ffmpeg.DetectEncoders(e.ctx, e.cfg.Tools.FFmpeg)
			if err != nil {
				return err
			}
			if err := encoders.Require(e.cfg.Encode.Codec, e.cfg.Comparison.Codec); err != nil {
				return err
			}
			interp, err := rife.NewInterpolator(e.cfg, e.runner, e.prober, e.log)
			if err != nil {
				return err
			}
			bar := ui.NewPercentBar(os.Stderr, "Interpolating")
			interp.OnProgress(bar.Update)

			var vmaf metrics.VMAFSupport
			if e.cfg.Experiment.VMAF || c.Bool("vmaf") {
				vmaf = metrics.DetectVMAF(e.ctx, e.runner, e.cfg.Tools.FFmpeg)
				params.Metrics = metrics.DefaultMetrics
			}

			cmp := e.cfg.Comparison
			deps := pipeline.Deps{
				Transformer:  e.transformer(),
				Interpolator: &finishingInterpolator{interp: interp, bar: bar},
				Metrics:      metrics.NewDirect(e.cfg.Tools.FFmpeg, e.runner, e.prober, vmaf, e.log),
				Compare: compare.NewBuilder(e.cfg.Tools.FFmpeg, e.runner,
					ffmpeg.EncodeSettings{Codec: cmp.Codec, Preset: cmp.Preset, CRF: cmp.CRF},
					cmp.Duration, compare.NewRandomChooser(cmp.Seed), e.log),
				Info: e.prober,
			}
			if h := e.openHistory(); h != nil {
				defer h.Close()
				deps.History = h
			}

			out, err := pipeline.New(deps, e.log).Run(e.ctx, params)
			if err != nil {
				return err
			}
			printExperiment(e, params, out)
			return nil
		},
	}
}

func (e *env) experimentParams(c *cli.Context) (pipeline.Params, error) {
	x := e.cfg.Experiment
	p := pipeline.Params{
		Source:      c.Args().Get(0),
		ClipSeconds: x.ClipDuration,
		Stride:      x.Stride,
		Interp:      rife.Options{Multi: x.Multi, Scale: x.Scale, FP16: e.cfg.RIFE.FP16},
		Metrics:     []metrics.Metric{metrics.PSNR, metrics.SSIM},
	}
	if c.IsSet("clip") {
		p.ClipSeconds = c.Int("clip")
	}
	if c.IsSet("stride") {
		p.Stride = c.Int("stride")
	}
	if c.IsSet("multi") {
		p.Interp.Multi = c.Int("multi")
	}
	if c.IsSet("scale") {
		p.Interp.Scale = c.Float64("scale")
	}

	switch {
	case p.ClipSeconds <= 0:
		return p, fmt.Errorf("invalid clip duration %d", p.ClipSeconds)
	case p.Stride < 1:
		return p, fmt.Errorf("invalid stride %d", p.Stride)
	case !config.IsValidMultiplier(p.Interp.Multi):
		return p, fmt.Errorf("invalid multiplier %d: must be 2, 4 or 8", p.Interp.Multi)
	case p.Interp.Scale <= 0:
		return p, fmt.Errorf("invalid scale %g", p.Interp.Scale)
	}

	name := c.String("name")
	if name == "" {
		name = x.Name
	}
	p.Paths = pipeline.DefaultPaths(x.DataDir, x.ResultsDir, name)
	return p, nil
}

// finishingInterpolator ends the progress bar line when interpolation returns.
type finishingInterpolator struct {
	interp *rife.Interpolator
	bar    *ui.PercentBar
}

func (f *finishingInterpolator) Process(ctx context.Context, input, output string, opts rife.Options) (*rife.ProcessingStats, error) {
	defer f.bar.Finish()
	return f.interp.Process(ctx, input, output, opts)
}

func printExperiment(e *env, params pipeline.Params, out *pipeline.Outcome) {
	e.println(ui.Title("Experiment complete"))

	fields := []ui.Field{
		{Label: "Run", Value: out.RunID},
		{Label: "Source", Value: params.Source},
	}
	if out.Downsample != nil {
		fields = append(fields, ui.Field{
			Label: "Downsampled",
			Value: fmt.Sprintf("%d -> %d frames (every %d)", out.Downsample.InputFrames, out.Downsample.OutputFrames, out.Downsample.Stride),
		})
	}
	if out.Processing != nil {
		fields = append(fields,
			ui.Field{Label: "Interpolated", Value: fmt.Sprintf("%d frames at %.2f fps", out.Processing.OutputFrames, out.Processing.OutputFPS)},
			ui.Field{Label: "RIFE time", Value: ui.Seconds(out.Processing.ElapsedTime)},
		)
	}
	fields = append(fields,
		ui.Field{Label: "Report", Value: out.Reports.JSON},
		ui.Field{Label: "Side-by-side", Value: params.Paths.SideBySide},
		ui.Field{Label: "Blind test", Value: params.Paths.BlindTest},
	)
	e.println(ui.Fields(fields))

	var rows [][]string
	for _, m := range params.Metrics {
		v, ok := out.Record.Get(string(m) + "_mean")
		if !ok {
			v, ok = out.Record.Get(string(m))
		}
		if !ok {
			continue
		}
		f, _ := v.(float64)
		rows = append(rows, []string{strings.ToUpper(string(m)), strconv.FormatFloat(f, 'f', 4, 64), ui.Rating(metrics.Rate(m, f))})
	}
	if len(rows) > 0 {
		e.println(ui.Table([]string{"Metric", "Mean", "Rating"}, rows))
	}

	for _, f := range out.CompareFails {
		e.println(ui.Warn(f.Error()))
	}
	if out.Answer != nil {
		e.printf("Blind test answer key written to %s (don't peek)\n", params.Paths.Answer)
	}
}

func benchmarkCommand(e *env) cli.Command {
	return cli.Command{
		Name:      "benchmark",
		Usage:     "Measure interpolation speed at several resolutions",
		ArgsUsage: "<input>",
		Flags: []cli.Flag{
			cli.StringSliceFlag{Name: "resolution, r", Usage: "720p, 1080p, 1440p or 4k (repeatable)"},
			cli.StringFlag{Name: "output, o", Usage: "JSON results path"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			input := c.Args().Get(0)
			resolutions := c.StringSlice("resolution")
			if len(resolutions) == 0 {
				resolutions = e.cfg.Benchmark.Resolutions
			}
			for _, r := range resolutions {
				if _, _, err := bench.ParseResolution(r); err != nil {
					return err
				}
			}

			interp, err := rife.NewInterpolator(e.cfg, e.runner, e.prober, e.log)
			if err != nil {
				return err
			}
			var gpu *bench.GPUProbe
			if _, err := proc.LookPath(e.cfg.Tools.NvidiaSMI); err == nil {
				gpu = bench.NewGPUProbe(e.cfg.Tools.NvidiaSMI, e.runner)
			}
			opts := rife.Options{Multi: e.cfg.Interpolation.DefaultMulti, Scale: e.cfg.Interpolation.Scale, FP16: e.cfg.RIFE.FP16}
			b := bench.New(e.transformer(), e.prober, interp, gpu, opts, e.cfg.Benchmark.ClipSeconds, e.log)

			started := time.Now()
			rep, err := b.Run(e.ctx, input, resolutions)
			if err != nil {
				e.recordRun(store.KindBenchmark, input, started, nil, err)
				return err
			}

			path := c.String("output")
			if path == "" {
				path = bench.DefaultPath(e.cfg.Benchmark.OutputDir, started)
			}
			if err := bench.Save(path, rep); err != nil {
				return err
			}
			e.recordRun(store.KindBenchmark, input, started, rep, nil)

			e.println(ui.Title(fmt.Sprintf("Benchmark on %s (%s)", rep.GPU, rep.VRAM)))
			rows := make([][]string, 0, len(rep.Results))
			for _, r := range rep.Results {
				realtime := "no"
				if r.Realtime {
					realtime = "yes"
				}
				rows = append(rows, []string{
					r.Resolution,
					fmt.Sprintf("%.1f", r.FPS),
					fmt.Sprintf("%.2fx", r.RealtimeRatio),
					realtime,
					ui.Seconds(r.Elapsed),
				})
			}
			e.println(ui.Table([]string{"Resolution", "FPS", "Ratio", "Realtime", "Elapsed"}, rows))
			e.printf("Saved %s\n", path)
			return nil
		},
	}
}
