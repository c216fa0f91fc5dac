// Package metrics scores an interpolated video against its ground-truth
// reference. Scoring is delegated: Direct reads per-frame values from
// ffmpeg's psnr/ssim/libvmaf filters, Delegated reads the JSON written by
// ffmpeg-quality-metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/gwlsn/rifelab/internal/ffmpeg"
)

// Metric names a quality metric.
type Metric string

const (
	PSNR Metric = "psnr"
	SSIM Metric = "ssim"
	VMAF Metric = "vmaf"
)

// DefaultMetrics is used when the caller does not choose.
var DefaultMetrics = []Metric{PSNR, SSIM, VMAF}

var (
	// ErrResolutionMismatch is returned before scoring when the two videos
	// do not share a frame size.
	ErrResolutionMismatch = errors.New("resolution mismatch")

	// ErrNoFrames is returned when either input has no decodable frames.
	ErrNoFrames = errors.New("no frames to compare")
)

// ParseMetrics validates a list of metric names. Empty input yields DefaultMetrics.
func ParseMetrics(names []string) ([]Metric, error) {
	if len(names) == 0 {
		return append([]Metric(nil), DefaultMetrics...), nil
	}
	var out []Metric
	seen := make(map[Metric]bool)
	for _, raw := range names {
		for _, n := range strings.Split(raw, ",") {
			m := Metric(strings.ToLower(strings.TrimSpace(n)))
			switch m {
			case PSNR, SSIM, VMAF:
			case "":
				continue
			default:
				return nil, fmt.Errorf("unknown metric %q (want psnr, ssim or vmaf)", n)
			}
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// Request describes one scoring run.
type Request struct {
	Reference    string
	Interpolated string
	Metrics      []Metric

	// OutputPath is where Delegated asks the tool to write its JSON.
	// Direct ignores it.
	OutputPath string
}

// Value is one named number in a Result.
type Value struct {
	Name  string
	Value float64
}

// Result is an ordered set of metric values.
type Result struct {
	// FrameCount is the number of frame pairs compared, i.e. min(ref, cand)
	FrameCount int
	Values     []Value

	// NotComputed lists requested metrics the backend did not report.
	// Their values are recorded as 0.
	NotComputed []string

	// OutputFile is the raw per-frame JSON written by Delegated
	OutputFile string
}

func (r *Result) add(name string, v float64) {
	r.Values = append(r.Values, Value{Name: name, Value: v})
}

// Get looks up a value by name.
func (r *Result) Get(name string) (float64, bool) {
	for _, v := range r.Values {
		if v.Name == name {
			return v.Value, true
		}
	}
	return 0, false
}

// Score returns the headline number for m: the plain value from Delegated,
// or the mean from Direct.
func (r *Result) Score(m Metric) (float64, bool) {
	if v, ok := r.Get(string(m)); ok {
		return v, true
	}
	return r.Get(string(m) + "_mean")
}

// Calculator computes quality metrics for a reference/interpolated pair.
type Calculator interface {
	Compute(ctx context.Context, req Request) (*Result, error)
}

// Summary reduces a per-frame series.
type Summary struct {
	Mean, Std, Min, Max float64
}

// Summarize computes population mean/std and the range of values.
// An empty series yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return Summary{
		Mean: mean,
		Std:  std,
		Min:  floats.Min(values),
		Max:  floats.Max(values),
	}
}

// CheckResolution rejects pairs whose frame sizes differ.
func CheckResolution(ref, cand *ffmpeg.VideoInfo) error {
	if ref.Width != cand.Width || ref.Height != cand.Height {
		return fmt.Errorf("%w: reference %s, interpolated %s",
			ErrResolutionMismatch, ref.Resolution(), cand.Resolution())
	}
	return nil
}

// Rate maps a headline score to Excellent, Good or Fair.
func Rate(m Metric, v float64) string {
	var good, excellent float64
	switch m {
	case PSNR:
		excellent, good = 35, 30
	case SSIM:
		excellent, good = 0.97, 0.95
	case VMAF:
		excellent, good = 90, 80
	default:
		return ""
	}
	switch {
	case v > excellent:
		return "Excellent"
	case v > good:
		return "Good"
	default:
		return "Fair"
	}
}

// Unit is the display suffix for m.
func Unit(m Metric) string {
	if m == PSNR {
		return " dB"
	}
	return ""
}
