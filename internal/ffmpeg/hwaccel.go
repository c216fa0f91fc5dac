package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrEncoderUnavailable is returned when the configured codec is not built into ffmpeg.
var ErrEncoderUnavailable = errors.New("encoder not available in ffmpeg")

// ErrToolNotFound is returned when an external binary cannot be executed.
var ErrToolNotFound = errors.New("tool not found")

// HWAccel represents a hardware acceleration method
type HWAccel string

const (
	HWAccelNone         HWAccel = "none"         // Software encoding
	HWAccelVideoToolbox HWAccel = "videotoolbox" // Apple Silicon / Intel Mac
	HWAccelNVENC        HWAccel = "nvenc"        // NVIDIA GPU
	HWAccelQSV          HWAccel = "qsv"          // Intel Quick Sync
	HWAccelVAAPI        HWAccel = "vaapi"        // Linux VA-API (Intel/AMD)
)

// Encoder describes one H.264 encoder the harness can use for clips and
// comparison videos.
type Encoder struct {
	Accel     HWAccel `json:"accel"`
	Name      string  `json:"name"`
	Encoder   string  `json:"encoder"` // FFmpeg encoder name (e.g., h264_nvenc)
	Available bool    `json:"available"`
}

// h264Encoders lists the encoders reported by `rifelab info`, software first.
var h264Encoders = []Encoder{
	{Accel: HWAccelNone, Name: "Software H.264", Encoder: "libx264"},
	{Accel: HWAccelNVENC, Name: "NVIDIA NVENC H.264", Encoder: "h264_nvenc"},
	{Accel: HWAccelQSV, Name: "Intel Quick Sync H.264", Encoder: "h264_qsv"},
	{Accel: HWAccelVAAPI, Name: "VAAPI H.264", Encoder: "h264_vaapi"},
	{Accel: HWAccelVideoToolbox, Name: "VideoToolbox H.264", Encoder: "h264_videotoolbox"},
}

// EncoderSet is the set of encoder names compiled into an ffmpeg build.
type EncoderSet map[string]bool

// DetectEncoders lists the encoders ffmpeg was built with.
func DetectEncoders(ctx context.Context, ffmpegPath string) (EncoderSet, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner")
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s (install ffmpeg or set tools.ffmpeg)", ErrToolNotFound, ffmpegPath)
		}
		return nil, fmt.Errorf("listing ffmpeg encoders: %w", err)
	}
	return parseEncoderList(string(output)), nil
}

// parseEncoderList reads `ffmpeg -encoders` output. Data lines look like
// " V....D libx264              libx264 H.264 / AVC ..." after a "------" separator.
func parseEncoderList(output string) EncoderSet {
	set := EncoderSet{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	inList := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			set[fields[1]] = true
		}
	}
	return set
}

// Has reports whether the encoder is present.
func (s EncoderSet) Has(name string) bool {
	return s[name]
}

// Require fails with ErrEncoderUnavailable unless every name is present.
func (s EncoderSet) Require(names ...string) error {
	for _, name := range names {
		if !s.Has(name) {
			return fmt.Errorf("%w: %s", ErrEncoderUnavailable, name)
		}
	}
	return nil
}

// H264Encoders returns the known H.264 encoders with availability filled in.
func (s EncoderSet) H264Encoders() []Encoder {
	out := make([]Encoder, len(h264Encoders))
	for i, enc := range h264Encoders {
		enc.Available = s.Has(enc.Encoder)
		out[i] = enc
	}
	return out
}

// RequireTool fails with ErrToolNotFound if name cannot be resolved on PATH.
func RequireTool(name, remedy string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s (%s)", ErrToolNotFound, name, remedy)
	}
	return nil
}

// Version returns the first line of `ffmpeg -version`.
func Version(ctx context.Context, ffmpegPath string) (string, error) {
	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(first), nil
}
