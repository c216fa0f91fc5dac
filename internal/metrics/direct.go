package metrics

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gwlsn/rifelab/internal/ffmpeg"
	"github.com/gwlsn/rifelab/internal/logger"
	"github.com/gwlsn/rifelab/internal/proc"
)

// MaxPSNR replaces infinite PSNR (identical frames) so the series stays finite.
const MaxPSNR = 100.0

// Direct computes PSNR and SSIM per frame on the luma plane with ffmpeg's
// psnr and ssim filters, then summarizes the series. VMAF is added when
// requested and libvmaf is available.
type Direct struct {
	ffmpegPath string
	runner     proc.Runner
	info       ffmpeg.InfoReader
	vmaf       VMAFSupport
	log        *logger.Logger
}

// NewDirect creates a direct calculator.
func NewDirect(ffmpegPath string, runner proc.Runner, info ffmpeg.InfoReader, vmaf VMAFSupport, log *logger.Logger) *Direct {
	return &Direct{ffmpegPath: ffmpegPath, runner: runner, info: info, vmaf: vmaf, log: log}
}

// Compute scores req.Interpolated against req.Reference over the first
// min(ref, cand) frames. Keys are <metric>_mean/_std/_min/_max, plus vmaf.
func (d *Direct) Compute(ctx context.Context, req Request) (*Result, error) {
	wanted := req.Metrics
	if len(wanted) == 0 {
		wanted = []Metric{PSNR, SSIM}
	}

	ref, err := d.info.Info(ctx, req.Reference)
	if err != nil {
		return nil, fmt.Errorf("reading reference: %w", err)
	}
	cand, err := d.info.Info(ctx, req.Interpolated)
	if err != nil {
		return nil, fmt.Errorf("reading interpolated: %w", err)
	}
	if err := CheckResolution(ref, cand); err != nil {
		return nil, err
	}

	frames := min(ref.FrameCount, cand.FrameCount)
	if frames <= 0 {
		return nil, fmt.Errorf("%w: reference has %d, interpolated has %d", ErrNoFrames, ref.FrameCount, cand.FrameCount)
	}
	if ref.FrameCount != cand.FrameCount {
		d.log.Warn("Frame counts differ, truncating to the shorter video",
			"reference", ref.FrameCount, "interpolated", cand.FrameCount, "compared", frames)
	}
	d.log.Info("Comparing frames", "frames", frames, "resolution", ref.Resolution())

	dir, err := os.MkdirTemp("", "rifelab-metrics-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	res := &Result{FrameCount: frames}
	for _, m := range wanted {
		switch m {
		case PSNR, SSIM:
			series, err := d.perFrame(ctx, m, dir, req.Reference, req.Interpolated, frames)
			if err != nil {
				return nil, err
			}
			if len(series) < frames {
				d.log.Warn("Filter reported fewer frames than expected", "metric", m, "got", len(series), "want", frames)
			}
			s := Summarize(series)
			res.add(string(m)+"_mean", s.Mean)
			res.add(string(m)+"_std", s.Std)
			res.add(string(m)+"_min", s.Min)
			res.add(string(m)+"_max", s.Max)
			d.log.Info(strings.ToUpper(string(m)), "mean", s.Mean, "std", s.Std, "min", s.Min, "max", s.Max)

		case VMAF:
			if !d.vmaf.Available {
				d.log.Warn("libvmaf not available in this ffmpeg build, VMAF not computed")
				res.add(string(VMAF), 0)
				res.NotComputed = append(res.NotComputed, string(VMAF))
				continue
			}
			score, err := d.scoreVMAF(ctx, dir, req.Reference, req.Interpolated, ref.Height, frames)
			if err != nil {
				return nil, err
			}
			res.add(string(VMAF), score)
			d.log.Info("VMAF", "score", score)
		}
	}
	return res, nil
}

// perFrame runs the psnr or ssim filter and returns the per-frame series,
// truncated to frames entries.
func (d *Direct) perFrame(ctx context.Context, m Metric, dir, reference, interpolated string, frames int) ([]float64, error) {
	statsPath := filepath.Join(dir, string(m)+".log")

	_, err := d.runner.Run(ctx, proc.Command{
		Description: "Computing " + strings.ToUpper(string(m)),
		Name:        d.ffmpegPath,
		Args: []string{"-hide_banner", "-nostats",
			"-i", interpolated,
			"-i", reference,
			"-lavfi", statsFilter(m, statsPath),
			"-frames:v", strconv.Itoa(frames),
			"-f", "null", "-",
		},
	})
	if err != nil {
		return nil, err
	}

	f, err := os.Open(statsPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s stats: %w", m, err)
	}
	defer f.Close()

	series, err := parseStats(f, m)
	if err != nil {
		return nil, err
	}
	if len(series) > frames {
		series = series[:frames]
	}
	return series, nil
}

// statsFilter converts both inputs to grayscale before comparing so only
// luma is scored. [0:v] is the interpolated video, [1:v] the reference.
func statsFilter(m Metric, statsPath string) string {
	return fmt.Sprintf("[0:v]format=gray[main];[1:v]format=gray[ref];[main][ref]%s=stats_file=%s",
		m, escapeFilterValue(statsPath))
}

// parseStats reads a psnr or ssim stats_file. PSNR lines look like
// "n:1 mse_avg:0.52 ... psnr_y:50.97 ..."; SSIM lines like
// "n:1 Y:0.993 All:0.993 (21.6)". Lines without the value are skipped.
func parseStats(r io.Reader, m Metric) ([]float64, error) {
	keys := []string{"psnr_y", "psnr_avg"}
	if m == SSIM {
		keys = []string{"Y", "All"}
	}

	var series []float64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := parseFields(scanner.Text())
		for _, k := range keys {
			raw, ok := fields[k]
			if !ok {
				continue
			}
			v, ok := parseStatValue(raw)
			if ok {
				series = append(series, v)
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s stats: %w", m, err)
	}
	return series, nil
}

func parseFields(line string) map[string]string {
	fields := make(map[string]string)
	for _, tok := range strings.Fields(line) {
		if k, v, ok := strings.Cut(tok, ":"); ok {
			fields[k] = v
		}
	}
	return fields
}

func parseStatValue(raw string) (float64, bool) {
	if strings.EqualFold(raw, "inf") {
		return MaxPSNR, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(v) {
		return 0, false
	}
	if math.IsInf(v, 0) {
		return MaxPSNR, true
	}
	return v, true
}

// escapeFilterValue escapes a filter option value for use inside a
// filtergraph: first for the option parser, then for the graph parser.
func escapeFilterValue(v string) string {
	opt := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`).Replace(v)
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`, `[`, `\[`, `]`, `\]`, `,`, `\,`, `;`, `\;`).Replace(opt)
}
