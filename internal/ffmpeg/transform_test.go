package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gwlsn/rifelab/internal/logger"
	"github.com/gwlsn/rifelab/internal/proc"
	"github.com/gwlsn/rifelab/internal/proc/proctest"
)

type staticInfo map[string]*VideoInfo

func (s staticInfo) Info(_ context.Context, path string) (*VideoInfo, error) {
	if vi, ok := s[path]; ok {
		return vi, nil
	}
	return nil, fmt.Errorf("no info for %s: %w", path, os.ErrNotExist)
}

var testEncode = EncodeSettings{Codec: "libx264", Preset: "slow", CRF: 18}

// writeOutput makes the fake ffmpeg produce a non-empty output file.
func writeOutput(cmd proc.Command) (*proc.Result, error) {
	return &proc.Result{}, os.WriteFile(proctest.OutputArg(cmd), []byte("video"), 0644)
}

func TestExtractClipArgs(t *testing.T) {
	args := ExtractClipArgs("in.mp4", "out.mp4", 10, testEncode)
	want := "-y -i in.mp4 -t 10 -c:v libx264 -preset slow -crf 18 -an out.mp4"
	if got := strings.Join(args, " "); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestExtractClip(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "clips", "clip.mp4")
	runner := (&proctest.Runner{}).On("Extracting", writeOutput)
	tr := NewTransformer("ffmpeg", runner, staticInfo{}, testEncode, logger.Discard())

	skipped, err := tr.ExtractClip(context.Background(), "src.mp4", dst, 10)
	if err != nil {
		t.Fatalf("ExtractClip failed: %v", err)
	}
	if skipped {
		t.Error("first extraction should not be skipped")
	}
	if runner.Calls() != 1 {
		t.Fatalf("expected 1 command, got %d", runner.Calls())
	}

	// Second call finds the output and does nothing
	skipped, err = tr.ExtractClip(context.Background(), "src.mp4", dst, 10)
	if err != nil {
		t.Fatalf("ExtractClip failed: %v", err)
	}
	if !skipped {
		t.Error("second extraction should be skipped")
	}
	if runner.Calls() != 1 {
		t.Errorf("skip should not run ffmpeg, got %d calls", runner.Calls())
	}
}

func TestExtractClipEmptyFileNotSkipped(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(dst, nil, 0644); err != nil {
		t.Fatal(err)
	}
	runner := (&proctest.Runner{}).On("Extracting", writeOutput)
	tr := NewTransformer("ffmpeg", runner, staticInfo{}, testEncode, logger.Discard())

	skipped, err := tr.ExtractClip(context.Background(), "src.mp4", dst, 5)
	if err != nil {
		t.Fatalf("ExtractClip failed: %v", err)
	}
	if skipped || runner.Calls() != 1 {
		t.Errorf("zero-byte output should be regenerated (skipped=%v calls=%d)", skipped, runner.Calls())
	}
}

func TestExtractClipFailure(t *testing.T) {
	runner := (&proctest.Runner{}).Fail("Extracting", "Invalid data found when processing input")
	tr := NewTransformer("ffmpeg", runner, staticInfo{}, testEncode, logger.Discard())

	_, err := tr.ExtractClip(context.Background(), "src.mp4", filepath.Join(t.TempDir(), "c.mp4"), 10)
	var exitErr *proc.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *proc.ExitError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data") {
		t.Errorf("error should carry stderr tail: %v", err)
	}
}

func TestExtractClipRejectsBadDuration(t *testing.T) {
	runner := &proctest.Runner{}
	tr := NewTransformer("ffmpeg", runner, staticInfo{}, testEncode, logger.Discard())
	if _, err := tr.ExtractClip(context.Background(), "a", "b", 0); err == nil {
		t.Error("expected error for zero duration")
	}
	if runner.Calls() != 0 {
		t.Error("runner should not be called")
	}
}

func TestDownsample(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "clip.mp4")
	dst := filepath.Join(dir, "clip_30fps.mp4")
	info := staticInfo{
		src: {Width: 1920, Height: 1080, FPS: 60, FrameCount: 600},
		dst: {Width: 1920, Height: 1080, FPS: 30, FrameCount: 300},
	}
	runner := (&proctest.Runner{}).On("Downsampling", writeOutput)
	tr := NewTransformer("ffmpeg", runner, info, testEncode, logger.Discard())

	stats, err := tr.Downsample(context.Background(), src, dst, 2)
	if err != nil {
		t.Fatalf("Downsample failed: %v", err)
	}
	if stats.Skipped {
		t.Error("should not be skipped")
	}
	if stats.InputFPS != 60 || stats.OutputFPS != 30 {
		t.Errorf("fps = %v -> %v, want 60 -> 30", stats.InputFPS, stats.OutputFPS)
	}
	if stats.InputFrames != 600 || stats.OutputFrames != 300 {
		t.Errorf("frames = %d -> %d, want 600 -> 300", stats.InputFrames, stats.OutputFrames)
	}

	cmd := runner.Last()
	if vf, _ := proctest.ArgValue(cmd.Args, "-vf"); vf != "select='not(mod(n,2))',setpts=N/FRAME_RATE/TB" {
		t.Errorf("-vf = %q", vf)
	}
	if r, _ := proctest.ArgValue(cmd.Args, "-r"); r != "30" {
		t.Errorf("-r = %q, want 30", r)
	}
	if proctest.OutputArg(cmd) != dst {
		t.Errorf("output = %q, want %q", proctest.OutputArg(cmd), dst)
	}
}

func TestDownsampleSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(dst, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	info := staticInfo{
		"src.mp4": {FPS: 60, FrameCount: 120},
		dst:       {FPS: 30, FrameCount: 60},
	}
	runner := &proctest.Runner{}
	tr := NewTransformer("ffmpeg", runner, info, testEncode, logger.Discard())

	stats, err := tr.Downsample(context.Background(), "src.mp4", dst, 2)
	if err != nil {
		t.Fatalf("Downsample failed: %v", err)
	}
	if !stats.Skipped {
		t.Error("expected skip")
	}
	if runner.Calls() != 0 {
		t.Errorf("expected no commands, got %d", runner.Calls())
	}
	if stats.OutputFrames != 60 {
		t.Errorf("output frames = %d, want 60 from probing the existing file", stats.OutputFrames)
	}
}

func TestDownsampleArgs(t *testing.T) {
	tests := []struct {
		name   string
		stride int
		fps    float64
		wantR  string
		hasR   bool
	}{
		{"60 stride 2", 2, 60, "30", true},
		{"60 stride 4", 4, 60, "15", true},
		{"ntsc stride 2", 2, 59.94, "29.97", true},
		{"unknown fps", 3, 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := DownsampleArgs("in", "out", tt.stride, tt.fps, testEncode)
			r, ok := proctest.ArgValue(args, "-r")
			if ok != tt.hasR || r != tt.wantR {
				t.Errorf("-r = %q (present %v), want %q (present %v)", r, ok, tt.wantR, tt.hasR)
			}
			if vf, _ := proctest.ArgValue(args, "-vf"); !strings.Contains(vf, fmt.Sprintf("mod(n,%d)", tt.stride)) {
				t.Errorf("filter %q does not use stride %d", vf, tt.stride)
			}
			if args[len(args)-2] != "-an" {
				t.Error("audio should be dropped")
			}
		})
	}
}

func TestDownsampleRejectsBadStride(t *testing.T) {
	tr := NewTransformer("ffmpeg", &proctest.Runner{}, staticInfo{}, testEncode, logger.Discard())
	if _, err := tr.Downsample(context.Background(), "a", "b", 0); err == nil {
		t.Error("expected error for stride 0")
	}
}

func TestStrideFrameCount(t *testing.T) {
	tests := []struct {
		n, k, want int
	}{
		{600, 2, 300},
		{601, 2, 301},
		{100, 3, 34},
		{1, 4, 1},
		{10, 1, 10},
		{0, 2, 0},
		{10, 0, 0},
	}
	for _, tt := range tests {
		if got := StrideFrameCount(tt.n, tt.k); got != tt.want {
			t.Errorf("StrideFrameCount(%d, %d) = %d, want %d", tt.n, tt.k, got, tt.want)
		}
	}
}

func TestScaleClip(t *testing.T) {
	runner := &proctest.Runner{}
	tr := NewTransformer("ffmpeg", runner, staticInfo{}, testEncode, logger.Discard())
	if err := tr.ScaleClip(context.Background(), "in.mp4", "out.mp4", 1280, 720, 5); err != nil {
		t.Fatalf("ScaleClip failed: %v", err)
	}
	args := runner.Last().Args
	if vf, _ := proctest.ArgValue(args, "-vf"); vf != "scale=1280:720" {
		t.Errorf("-vf = %q", vf)
	}
	if p, _ := proctest.ArgValue(args, "-preset"); p != "ultrafast" {
		t.Errorf("-preset = %q", p)
	}
	if d, _ := proctest.ArgValue(args, "-t"); d != "5" {
		t.Errorf("-t = %q", d)
	}
}

func TestOutputExists(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "full")
	empty := filepath.Join(dir, "empty")
	os.WriteFile(full, []byte("x"), 0644)
	os.WriteFile(empty, nil, 0644)

	if !OutputExists(full) {
		t.Error("non-empty file should count")
	}
	if OutputExists(empty) {
		t.Error("empty file should not count")
	}
	if OutputExists(dir) {
		t.Error("directory should not count")
	}
	if OutputExists(filepath.Join(dir, "missing")) {
		t.Error("missing file should not count")
	}
}
