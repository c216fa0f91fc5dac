// Package bench measures interpolation throughput at standard resolutions.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gwlsn/rifelab/internal/ffmpeg"
	"github.com/gwlsn/rifelab/internal/logger"
	"github.com/gwlsn/rifelab/internal/proc"
	"github.com/gwlsn/rifelab/internal/rife"
)

// Resolutions maps a label to its frame size.
var Resolutions = map[string][2]int{
	"720p":  {1280, 720},
	"1080p": {1920, 1080},
	"1440p": {2560, 1440},
	"4k":    {3840, 2160},
}

// ParseResolution looks up a label such as "1080p".
func ParseResolution(label string) (width, height int, err error) {
	wh, ok := Resolutions[strings.ToLower(label)]
	if !ok {
		return 0, 0, fmt.Errorf("unknown resolution %q (want 720p, 1080p, 1440p or 4k)", label)
	}
	return wh[0], wh[1], nil
}

// minElapsed floors the measured time so a near-instant run cannot divide by zero.
const minElapsed = 0.01

// Result is one resolution's measurement.
type Result struct {
	Resolution    string  `json:"resolution"`
	FPS           float64 `json:"fps"`
	RealtimeRatio float64 `json:"realtime_ratio"`
	Realtime      bool    `json:"realtime"`
	FrameCount    int     `json:"frames"`
	Elapsed       float64 `json:"elapsed"`
}

// Report is a full benchmark run.
type Report struct {
	Timestamp string   `json:"timestamp"`
	GPU       string   `json:"gpu"`
	VRAM      string   `json:"vram"`
	Results   []Result `json:"benchmarks"`
}

// Interpolator is the part of rife.Interpolator the benchmark needs.
type Interpolator interface {
	Process(ctx context.Context, input, output string, opts rife.Options) (*rife.ProcessingStats, error)
}

// Scaler resizes the benchmark input.
type Scaler interface {
	ScaleClip(ctx context.Context, src, dst string, width, height, seconds int) error
}

// Benchmarker runs the interpolator on scaled copies of one input.
type Benchmarker struct {
	scaler      Scaler
	info        ffmpeg.InfoReader
	interp      Interpolator
	gpu         *GPUProbe
	opts        rife.Options
	clipSeconds int
	log         *logger.Logger
	now         func() time.Time
}

// New creates a Benchmarker. clipSeconds bounds each scaled clip.
func New(scaler Scaler, info ffmpeg.InfoReader, interp Interpolator, gpu *GPUProbe, opts rife.Options, clipSeconds int, log *logger.Logger) *Benchmarker {
	return &Benchmarker{
		scaler:      scaler,
		info:        info,
		interp:      interp,
		gpu:         gpu,
		opts:        opts,
		clipSeconds: clipSeconds,
		log:         log,
		now:         time.Now,
	}
}

// Run benchmarks each resolution in order. A resolution that fails is
// logged and left out of the report.
func (b *Benchmarker) Run(ctx context.Context, input string, resolutions []string) (*Report, error) {
	gpu := b.gpu.Describe(ctx)
	b.log.Info("Benchmarking", "gpu", gpu.Name, "resolutions", strings.Join(resolutions, ", "))

	tmp, err := os.MkdirTemp("", "rifelab-bench-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	report := &Report{
		Timestamp: b.now().Format(time.RFC3339),
		GPU:       gpu.Name,
		VRAM:      gpu.VRAM,
		Results:   []Result{},
	}
	for _, res := range resolutions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := b.runOne(ctx, tmp, input, res)
		if err != nil {
			b.log.Warn("Benchmark failed for resolution", "resolution", res, "error", err)
			continue
		}
		b.log.Info(res, "fps", fmt.Sprintf("%.1f", r.FPS), "realtime_ratio", fmt.Sprintf("%.2fx", r.RealtimeRatio))
		report.Results = append(report.Results, *r)
	}
	return report, nil
}

func (b *Benchmarker) runOne(ctx context.Context, tmp, input, res string) (*Result, error) {
	w, h, err := ParseResolution(res)
	if err != nil {
		return nil, err
	}
	scaled := filepath.Join(tmp, "input_"+res+".mp4")
	if err := b.scaler.ScaleClip(ctx, input, scaled, w, h, b.clipSeconds); err != nil {
		return nil, err
	}
	info, err := b.info.Info(ctx, scaled)
	if err != nil {
		return nil, err
	}

	stats, err := b.interp.Process(ctx, scaled, filepath.Join(tmp, "output_"+res+".mp4"), b.opts)
	if err != nil {
		return nil, err
	}
	return measure(res, info.FrameCount, info.FPS, stats.ElapsedTime), nil
}

func measure(res string, frames int, inputFPS, elapsed float64) *Result {
	fps := float64(frames) / max(elapsed, minElapsed)
	r := &Result{
		Resolution: res,
		FPS:        fps,
		Realtime:   inputFPS > 0 && fps >= inputFPS,
		FrameCount: frames,
		Elapsed:    elapsed,
	}
	if inputFPS > 0 {
		r.RealtimeRatio = fps / inputFPS
	}
	return r
}

// Save writes the report as indented JSON.
func Save(path string, r *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// DefaultPath is the report file name for a run started at t.
func DefaultPath(dir string, t time.Time) string {
	return filepath.Join(dir, "benchmark_"+t.Format("20060102_150405")+".json")
}

// GPU describes the first visible GPU.
type GPU struct {
	Name string
	VRAM string
}

// CPUOnly is reported when no NVIDIA GPU can be queried.
var CPUOnly = GPU{Name: "CPU Only", VRAM: "N/A"}

// GPUProbe queries nvidia-smi.
type GPUProbe struct {
	nvidiaSMI string
	runner    proc.Runner
}

func NewGPUProbe(nvidiaSMI string, runner proc.Runner) *GPUProbe {
	return &GPUProbe{nvidiaSMI: nvidiaSMI, runner: runner}
}

// Describe returns the first GPU's name and memory, or CPUOnly when
// nvidia-smi is missing or fails.
func (p *GPUProbe) Describe(ctx context.Context) GPU {
	if p == nil {
		return CPUOnly
	}
	res, err := p.runner.Run(ctx, proc.Command{
		Description: "Querying GPU",
		Name:        p.nvidiaSMI,
		Args:        []string{"--query-gpu=name,memory.total", "--format=csv,noheader,nounits"},
	})
	if err != nil {
		return CPUOnly
	}
	return parseGPU(res.Stdout)
}

// parseGPU reads "NVIDIA GeForce RTX 3080, 10240" (memory in MiB).
func parseGPU(out string) GPU {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	name, mem, ok := strings.Cut(line, ",")
	name = strings.TrimSpace(name)
	if name == "" {
		return CPUOnly
	}
	gpu := GPU{Name: name, VRAM: "N/A"}
	if ok {
		if mib, err := strconv.ParseUint(strings.TrimSpace(mem), 10, 64); err == nil {
			gpu.VRAM = humanize.IBytes(mib * 1024 * 1024)
		}
	}
	return gpu
}
