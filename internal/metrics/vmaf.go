package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gwlsn/rifelab/internal/proc"
)

const (
	defaultVMAFModel = "vmaf_v0.6.1"
	vmaf4KModel      = "vmaf_4k_v0.6.1"
)

// VMAFSupport describes what the local ffmpeg build can do with libvmaf.
type VMAFSupport struct {
	Available bool
	Models    []string
}

// DetectVMAF probes ffmpeg for the libvmaf filter and its bundled models.
// A failing probe means "not available", not an error.
func DetectVMAF(ctx context.Context, runner proc.Runner, ffmpegPath string) VMAFSupport {
	res, err := runner.Run(ctx, proc.Command{
		Description: "Probing ffmpeg filters",
		Name:        ffmpegPath,
		Args:        []string{"-hide_banner", "-filters"},
	})
	if err != nil || !strings.Contains(res.Stdout, "libvmaf") {
		return VMAFSupport{}
	}

	models := []string{defaultVMAFModel}
	res, err = runner.Run(ctx, proc.Command{
		Description: "Probing libvmaf models",
		Name:        ffmpegPath,
		Args:        []string{"-hide_banner", "-h", "filter=libvmaf"},
	})
	if err == nil && strings.Contains(res.Stdout, "vmaf_4k") {
		models = append(models, vmaf4KModel)
	}
	return VMAFSupport{Available: true, Models: models}
}

// SelectModel picks the 4K model for 2160p-class content when present,
// otherwise the default model, otherwise whatever was detected first.
func (s VMAFSupport) SelectModel(height int) string {
	has := func(name string) bool {
		for _, m := range s.Models {
			if m == name {
				return true
			}
		}
		return false
	}
	if height >= 2160 && has(vmaf4KModel) {
		return vmaf4KModel
	}
	if has(defaultVMAFModel) || len(s.Models) == 0 {
		return defaultVMAFModel
	}
	return s.Models[0]
}

// vmafFilter compares [0:v] (distorted) against [1:v] (reference).
func vmafFilter(model, logPath string) string {
	return "[0:v]format=yuv420p[dist];[1:v]format=yuv420p[ref];" +
		fmt.Sprintf("[dist][ref]libvmaf=model=version=%s:log_fmt=json:log_path=%s", model, escapeFilterValue(logPath))
}

var vmafScorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`VMAF score:\s*([\d.]+)`),
	regexp.MustCompile(`"vmaf"[^}]*"mean":\s*([\d.]+)`),
	regexp.MustCompile(`vmaf_v.*mean:\s*([\d.]+)`),
}

// parseVMAFScore extracts the pooled VMAF mean from a libvmaf JSON log or
// ffmpeg's console summary.
func parseVMAFScore(output string) (float64, error) {
	for _, re := range vmafScorePatterns {
		matches := re.FindStringSubmatch(output)
		if len(matches) >= 2 {
			score, err := strconv.ParseFloat(strings.TrimSpace(matches[1]), 64)
			if err == nil {
				return score, nil
			}
		}
	}
	return 0, fmt.Errorf("could not parse VMAF score from output")
}

// scoreVMAF runs libvmaf over at most frames frame pairs.
func (d *Direct) scoreVMAF(ctx context.Context, dir, reference, interpolated string, height, frames int) (float64, error) {
	logPath := filepath.Join(dir, "vmaf.json")
	model := d.vmaf.SelectModel(height)

	res, err := d.runner.Run(ctx, proc.Command{
		Description: "Scoring VMAF (" + model + ")",
		Name:        d.ffmpegPath,
		Args: []string{"-hide_banner", "-nostats",
			"-i", interpolated,
			"-i", reference,
			"-lavfi", vmafFilter(model, logPath),
			"-frames:v", strconv.Itoa(frames),
			"-f", "null", "-",
		},
	})
	if err != nil {
		return 0, err
	}

	if data, readErr := os.ReadFile(logPath); readErr == nil {
		if score, err := parseVMAFScore(string(data)); err == nil {
			return score, nil
		}
	}
	return parseVMAFScore(res.Stderr)
}
