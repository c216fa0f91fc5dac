// Package rife drives the Practical-RIFE inference script as an external
// process and prepares its checkout and model weights.
package rife

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gwlsn/rifelab/internal/config"
	"github.com/gwlsn/rifelab/internal/ffmpeg"
	"github.com/gwlsn/rifelab/internal/logger"
	"github.com/gwlsn/rifelab/internal/proc"
)

// ScriptName is the inference entry point inside the Practical-RIFE checkout.
const ScriptName = "inference_video.py"

// ErrMissingAsset is returned when the RIFE checkout or model weights are absent.
var ErrMissingAsset = errors.New("missing RIFE asset")

// Options control one interpolation run.
type Options struct {
	Multi int
	Scale float64
	FP16  bool
}

// ProcessingStats describes an interpolation run. ProcessingFPS is input
// frames divided by wall-clock seconds.
type ProcessingStats struct {
	ElapsedTime   float64 `json:"elapsed_time"`
	FrameCount    int     `json:"frame_count"`
	ProcessingFPS float64 `json:"processing_fps"`

	InputFPS     float64 `json:"input_fps"`
	OutputFPS    float64 `json:"output_fps"`
	OutputFrames int     `json:"output_frames"`
	Multi        int     `json:"multi"`
	Resolution   string  `json:"resolution"`
}

// Interpolator runs inference_video.py. It checks for its assets when
// constructed, so a missing checkout fails before any processing starts.
type Interpolator struct {
	python   string
	script   string
	modelDir string
	runner   proc.Runner
	info     ffmpeg.InfoReader
	log      *logger.Logger

	progress func(pct float64)
	now      func() time.Time
}

// NewInterpolator verifies that the script and the weights exist.
func NewInterpolator(cfg *config.Config, runner proc.Runner, info ffmpeg.InfoReader, log *logger.Logger) (*Interpolator, error) {
	script := filepath.Join(cfg.RIFE.Dir, ScriptName)
	if err := requireFile(script); err != nil {
		return nil, err
	}
	if err := requireFile(cfg.Model.WeightsPath); err != nil {
		return nil, err
	}

	modelDir, err := filepath.Abs(filepath.Dir(cfg.Model.WeightsPath))
	if err != nil {
		return nil, fmt.Errorf("resolve model directory: %w", err)
	}

	return &Interpolator{
		python:   cfg.Tools.Python,
		script:   script,
		modelDir: modelDir,
		runner:   runner,
		info:     info,
		log:      log,
		now:      time.Now,
	}, nil
}

func requireFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s not found (run: rifelab setup)", ErrMissingAsset, path)
		}
		return fmt.Errorf("checking %s: %w", path, err)
	}
	return nil
}

// OnProgress registers a callback for percent-complete updates parsed from
// the script's output. Malformed lines never reach it.
func (i *Interpolator) OnProgress(fn func(pct float64)) {
	i.progress = fn
}

// Process interpolates input into output, blocking until the script exits.
func (i *Interpolator) Process(ctx context.Context, input, output string, opts Options) (*ProcessingStats, error) {
	if !config.IsValidMultiplier(opts.Multi) {
		return nil, fmt.Errorf("invalid multiplier %d (must be 2, 4 or 8)", opts.Multi)
	}
	if opts.Scale <= 0 {
		return nil, fmt.Errorf("invalid scale %g (must be positive)", opts.Scale)
	}

	in, err := i.info.Info(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("reading input info: %w", err)
	}
	i.log.Info("Interpolating",
		"input", fmt.Sprintf("%s @ %.1f fps", in.Resolution(), in.FPS),
		"target", fmt.Sprintf("%.1f fps (%dx)", in.FPS*float64(opts.Multi), opts.Multi))

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	cmd := proc.Command{
		Description: "Running RIFE",
		Name:        i.python,
		Args:        i.Args(input, output, opts),
		// The progress bar is printed on stderr
		MergeStderr: true,
		OnLine: func(line string) {
			if pct, ok := ParseProgress(line); ok && i.progress != nil {
				i.progress(pct)
			}
		},
	}

	start := i.now()
	_, err = i.runner.Run(ctx, cmd)
	elapsed := i.now().Sub(start).Seconds()
	if err != nil {
		return nil, err
	}

	stats := &ProcessingStats{
		ElapsedTime: elapsed,
		FrameCount:  in.FrameCount,
		InputFPS:    in.FPS,
		Multi:       opts.Multi,
		Resolution:  in.Resolution(),
	}
	if elapsed > 0 {
		stats.ProcessingFPS = float64(in.FrameCount) / elapsed
	}

	out, err := i.info.Info(ctx, output)
	if err != nil {
		return nil, fmt.Errorf("reading output info: %w", err)
	}
	stats.OutputFPS = out.FPS
	stats.OutputFrames = out.FrameCount

	i.log.Info("Interpolation finished",
		"frames", stats.FrameCount,
		"elapsed", fmt.Sprintf("%.2fs", elapsed),
		"processing_fps", fmt.Sprintf("%.2f", stats.ProcessingFPS))
	return stats, nil
}

// Args builds the script invocation. --scale is omitted at 1.0.
func (i *Interpolator) Args(input, output string, opts Options) []string {
	args := []string{
		i.script,
		"--video=" + input,
		"--output=" + output,
		"--model=" + i.modelDir,
		"--multi=" + strconv.Itoa(opts.Multi),
	}
	if opts.Scale != 1.0 {
		args = append(args, "--scale="+strconv.FormatFloat(opts.Scale, 'f', -1, 64))
	}
	if opts.FP16 {
		args = append(args, "--fp16")
	}
	return args
}

// ParseProgress extracts a percentage from a progress line: the last
// whitespace-separated token before the first "%". Lines without a
// parseable value in [0, 100] return ok=false.
func ParseProgress(line string) (pct float64, ok bool) {
	before, _, found := strings.Cut(line, "%")
	if !found {
		return 0, false
	}
	fields := strings.Fields(before)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil || !(v >= 0 && v <= 100) {
		return 0, false
	}
	return v, true
}
