package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gwlsn/rifelab/internal/logger"
	"github.com/gwlsn/rifelab/internal/proc"
)

// EncodeSettings are the codec flags appended to every re-encode.
type EncodeSettings struct {
	Codec  string
	Preset string
	CRF    int
}

// Args renders -c:v/-preset/-crf.
func (e EncodeSettings) Args() []string {
	return []string{"-c:v", e.Codec, "-preset", e.Preset, "-crf", strconv.Itoa(e.CRF)}
}

// DownsampleStats describes a stride downsample.
type DownsampleStats struct {
	InputFPS     float64 `json:"input_fps"`
	OutputFPS    float64 `json:"output_fps"`
	InputFrames  int     `json:"input_frames"`
	OutputFrames int     `json:"output_frames"`
	Stride       int     `json:"skip"`
	Skipped      bool    `json:"skipped"` // output already existed
}

// Transformer builds the clip-extraction and frame-rate transcoder invocations.
type Transformer struct {
	ffmpegPath string
	runner     proc.Runner
	info       InfoReader
	encode     EncodeSettings
	log        *logger.Logger
}

// NewTransformer creates a Transformer.
func NewTransformer(ffmpegPath string, runner proc.Runner, info InfoReader, encode EncodeSettings, log *logger.Logger) *Transformer {
	return &Transformer{ffmpegPath: ffmpegPath, runner: runner, info: info, encode: encode, log: log}
}

// ExtractClip writes the first seconds of src to dst, re-encoded, without
// audio. If dst already exists the step is skipped and reported as done.
func (t *Transformer) ExtractClip(ctx context.Context, src, dst string, seconds int) (skipped bool, err error) {
	if seconds <= 0 {
		return false, fmt.Errorf("clip duration must be positive, got %d", seconds)
	}
	if OutputExists(dst) {
		t.log.Warn("Clip already exists, skipping extraction (contents not verified)", "path", dst)
		return true, nil
	}
	if err := ensureDir(dst); err != nil {
		return false, err
	}

	_, err = t.runner.Run(ctx, proc.Command{
		Description: "Extracting clip",
		Name:        t.ffmpegPath,
		Args:        ExtractClipArgs(src, dst, seconds, t.encode),
	})
	return false, err
}

// ExtractClipArgs builds: -y -i src -t N -c:v .. -preset .. -crf .. -an dst
func ExtractClipArgs(src, dst string, seconds int, enc EncodeSettings) []string {
	args := []string{"-y", "-i", src, "-t", strconv.Itoa(seconds)}
	args = append(args, enc.Args()...)
	return append(args, "-an", dst)
}

// Downsample keeps every stride-th frame of src and re-times the result so
// it plays at input_fps/stride. If dst already exists the step is skipped.
func (t *Transformer) Downsample(ctx context.Context, src, dst string, stride int) (*DownsampleStats, error) {
	if stride < 1 {
		return nil, fmt.Errorf("stride must be at least 1, got %d", stride)
	}

	in, err := t.info.Info(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("reading input info: %w", err)
	}
	stats := &DownsampleStats{InputFPS: in.FPS, InputFrames: in.FrameCount, Stride: stride}

	if OutputExists(dst) {
		t.log.Warn("Downsampled clip already exists, skipping (contents not verified)", "path", dst)
		stats.Skipped = true
	} else {
		if err := ensureDir(dst); err != nil {
			return nil, err
		}
		t.log.Info("Downsampling", "source", src, "resolution", in.Resolution(), "fps", in.FPS, "stride", stride)
		_, err := t.runner.Run(ctx, proc.Command{
			Description: fmt.Sprintf("Downsampling to %.4g fps", in.FPS/float64(stride)),
			Name:        t.ffmpegPath,
			Args:        DownsampleArgs(src, dst, stride, in.FPS, t.encode),
		})
		if err != nil {
			return nil, err
		}
	}

	out, err := t.info.Info(ctx, dst)
	if err != nil {
		return nil, fmt.Errorf("reading output info: %w", err)
	}
	stats.OutputFPS = out.FPS
	stats.OutputFrames = out.FrameCount
	return stats, nil
}

// DownsampleArgs builds the stride filter invocation. inputFPS of 0 omits -r
// and lets ffmpeg keep the source rate.
func DownsampleArgs(src, dst string, stride int, inputFPS float64, enc EncodeSettings) []string {
	args := []string{"-y", "-i", src, "-vf", StrideFilter(stride)}
	if inputFPS > 0 {
		args = append(args, "-r", strconv.FormatFloat(inputFPS/float64(stride), 'f', -1, 64))
	}
	args = append(args, enc.Args()...)
	return append(args, "-an", dst)
}

// StrideFilter keeps frames whose index is a multiple of stride and rebuilds
// timestamps from the new frame index.
func StrideFilter(stride int) string {
	return fmt.Sprintf("select='not(mod(n,%d))',setpts=N/FRAME_RATE/TB", stride)
}

// StrideFrameCount is the number of frames a stride downsample keeps: ceil(n/k).
func StrideFrameCount(n, k int) int {
	if k < 1 || n <= 0 {
		return 0
	}
	return (n + k - 1) / k
}

// ScaleClip resizes the first seconds of src to width x height for
// benchmarking. It always runs; benchmark inputs live in a temp dir.
func (t *Transformer) ScaleClip(ctx context.Context, src, dst string, width, height, seconds int) error {
	args := []string{"-y", "-i", src,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
	}
	args = append(args, EncodeSettings{Codec: t.encode.Codec, Preset: "ultrafast", CRF: 23}.Args()...)
	args = append(args, "-t", strconv.Itoa(seconds), "-an", dst)

	_, err := t.runner.Run(ctx, proc.Command{
		Description: fmt.Sprintf("Scaling to %dx%d", width, height),
		Name:        t.ffmpegPath,
		Args:        args,
	})
	return err
}

// OutputExists is the resume check for extract and downsample: a non-empty
// file at path counts as a finished output. Truncated files are not detected.
func OutputExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular() && st.Size() > 0
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}
