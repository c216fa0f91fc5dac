package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gwlsn/rifelab/internal/ffmpeg"
	"github.com/gwlsn/rifelab/internal/logger"
	"github.com/gwlsn/rifelab/internal/proc"
)

// globalKeys maps each metric to its pooled entry under "global".
var globalKeys = map[Metric]string{
	PSNR: "psnr_avg",
	SSIM: "ssim_avg",
	VMAF: "vmaf",
}

// Delegated runs ffmpeg-quality-metrics and reads its JSON summary.
type Delegated struct {
	toolPath  string
	runner    proc.Runner
	info      ffmpeg.InfoReader // optional; enables the resolution check
	outputDir string
	log       *logger.Logger
}

// NewDelegated creates a calculator around the ffmpeg-quality-metrics tool.
// info may be nil. outputDir receives the JSON when a request has no OutputPath.
func NewDelegated(toolPath string, runner proc.Runner, info ffmpeg.InfoReader, outputDir string, log *logger.Logger) *Delegated {
	return &Delegated{toolPath: toolPath, runner: runner, info: info, outputDir: outputDir, log: log}
}

// Compute runs the tool and returns the pooled mean of each requested metric.
// Metrics the tool did not report are 0 and listed in NotComputed.
func (d *Delegated) Compute(ctx context.Context, req Request) (*Result, error) {
	wanted := req.Metrics
	if len(wanted) == 0 {
		wanted = DefaultMetrics
	}

	if d.info != nil {
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
	}

	out := req.OutputPath
	if out == "" {
		out = filepath.Join(d.outputDir, "metrics_"+time.Now().Format("20060102_150405")+".json")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	args := []string{req.Interpolated, req.Reference, "--metrics"}
	for _, m := range wanted {
		args = append(args, string(m))
	}
	args = append(args, "-o", out, "-of", "json")

	if _, err := d.runner.Run(ctx, proc.Command{
		Description: "Calculating quality metrics",
		Name:        d.toolPath,
		Args:        args,
	}); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("reading metrics output: %w", err)
	}
	res, err := parseQualityMetrics(data, wanted)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", out, err)
	}
	res.OutputFile = out

	for _, name := range res.NotComputed {
		d.log.Warn("Metric missing from tool output, recorded as 0", "metric", name)
	}
	return res, nil
}

// globalSection is global.<metric>.<key> -> pooled statistics.
type globalSection map[string]map[string]map[string]any

// parseQualityMetrics extracts global.<metric>.<key>.mean for each metric.
// Newer tool versions name the pooled value "average"; both are accepted.
func parseQualityMetrics(data []byte, wanted []Metric) (*Result, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var global globalSection
	if g, ok := raw["global"]; ok {
		if err := json.Unmarshal(g, &global); err != nil {
			return nil, fmt.Errorf("global section: %w", err)
		}
	}

	res := &Result{}
	for _, m := range wanted {
		v, ok := global.pooledMean(m)
		res.add(string(m), v)
		if !ok {
			res.NotComputed = append(res.NotComputed, string(m))
		}
		if res.FrameCount == 0 {
			res.FrameCount = frameCount(raw[string(m)])
		}
	}
	return res, nil
}

func (g globalSection) pooledMean(m Metric) (float64, bool) {
	entry, ok := g[string(m)][globalKeys[m]]
	if !ok {
		return 0, false
	}
	for _, key := range []string{"mean", "average"} {
		if v, ok := entry[key].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

// frameCount is the length of a per-frame array, or 0.
func frameCount(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var frames []json.RawMessage
	if err := json.Unmarshal(raw, &frames); err != nil {
		return 0
	}
	return len(frames)
}
