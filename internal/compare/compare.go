// Package compare builds the human-evaluation videos: a labelled
// side-by-side and a randomized A/B blind test with its answer key.
package compare

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gwlsn/rifelab/internal/ffmpeg"
	"github.com/gwlsn/rifelab/internal/logger"
	"github.com/gwlsn/rifelab/internal/proc"
)

const (
	LabelOriginal     = "Original"
	LabelInterpolated = "Interpolated"
)

// BlindTestAnswer records which clip was played first.
type BlindTestAnswer struct {
	OriginalFirst bool
}

// Labels returns the sources of clip A and clip B.
func (a BlindTestAnswer) Labels() (clipA, clipB string) {
	if a.OriginalFirst {
		return LabelOriginal, LabelInterpolated
	}
	return LabelInterpolated, LabelOriginal
}

// String renders the answer key file contents.
func (a BlindTestAnswer) String() string {
	clipA, clipB := a.Labels()
	return fmt.Sprintf("Clip A: %s\nClip B: %s\n", clipA, clipB)
}

// Builder renders comparison videos with ffmpeg.
type Builder struct {
	ffmpegPath string
	runner     proc.Runner
	encode     ffmpeg.EncodeSettings
	duration   int
	chooser    Chooser
	log        *logger.Logger
}

// NewBuilder creates a Builder. duration bounds the side-by-side in seconds;
// 0 keeps the full length.
func NewBuilder(ffmpegPath string, runner proc.Runner, encode ffmpeg.EncodeSettings, duration int, chooser Chooser, log *logger.Logger) *Builder {
	return &Builder{
		ffmpegPath: ffmpegPath,
		runner:     runner,
		encode:     encode,
		duration:   duration,
		chooser:    chooser,
		log:        log,
	}
}

// SideBySide places original left and interpolated right, each labelled.
func (b *Builder) SideBySide(ctx context.Context, original, interpolated, output string) error {
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	_, err := b.runner.Run(ctx, proc.Command{
		Description: "Creating side-by-side comparison",
		Name:        b.ffmpegPath,
		Args:        b.sideBySideArgs(original, interpolated, output),
	})
	return err
}

func (b *Builder) sideBySideArgs(original, interpolated, output string) []string {
	args := []string{"-y",
		"-i", original,
		"-i", interpolated,
		"-filter_complex", SideBySideFilter(),
		"-map", "[vout]",
	}
	args = append(args, b.encode.Args()...)
	if b.duration > 0 {
		args = append(args, "-t", strconv.Itoa(b.duration))
	}
	return append(args, output)
}

// SideBySideFilter stacks [0:v] and [1:v] horizontally and labels each half.
func SideBySideFilter() string {
	return "[0:v][1:v]hstack=inputs=2[v];" +
		"[v]" + drawLabel(LabelOriginal, "10", 48, "white") + "," +
		drawLabel(LabelInterpolated, "w/2+10", 48, "white") + "[vout]"
}

// BlindTest flips the chooser, concatenates the two clips in that order
// labelled "Clip A" and "Clip B", and writes the answer key. The key is
// written only after the video is built.
func (b *Builder) BlindTest(ctx context.Context, original, interpolated, output, answerPath string) (BlindTestAnswer, error) {
	answer := BlindTestAnswer{OriginalFirst: b.chooser.ChooseOrder()}

	first, second := interpolated, original
	if answer.OriginalFirst {
		first, second = original, interpolated
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return answer, fmt.Errorf("create output directory: %w", err)
	}
	args := []string{"-y",
		"-i", first,
		"-i", second,
		"-filter_complex", BlindTestFilter(),
		"-map", "[vout]",
	}
	args = append(args, b.encode.Args()...)
	args = append(args, output)

	if _, err := b.runner.Run(ctx, proc.Command{
		Description: "Creating blind test",
		Name:        b.ffmpegPath,
		Args:        args,
	}); err != nil {
		return answer, err
	}

	if err := WriteAnswer(answerPath, answer); err != nil {
		return answer, err
	}
	b.log.Info("Blind test answer saved", "path", answerPath)
	return answer, nil
}

// BlindTestFilter labels the first input "Clip A" and the second "Clip B"
// and plays them back to back.
func BlindTestFilter() string {
	return "[0:v]" + drawLabel("Clip A", "10", 72, "yellow") + "[v0];" +
		"[1:v]" + drawLabel("Clip B", "10", 72, "yellow") + "[v1];" +
		"[v0][v1]concat=n=2:v=1:a=0[vout]"
}

func drawLabel(text, x string, size int, color string) string {
	return fmt.Sprintf("drawtext=text='%s':x=%s:y=10:fontsize=%d:fontcolor=%s:box=1:boxcolor=black@0.5", text, x, size, color)
}

// WriteAnswer writes the answer key, replacing any previous one.
func WriteAnswer(path string, a BlindTestAnswer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(a.String()), 0644); err != nil {
		return fmt.Errorf("write answer key: %w", err)
	}
	return nil
}

// ParseAnswer reads an answer key back.
func ParseAnswer(data string) (BlindTestAnswer, error) {
	switch data {
	case BlindTestAnswer{OriginalFirst: true}.String():
		return BlindTestAnswer{OriginalFirst: true}, nil
	case BlindTestAnswer{OriginalFirst: false}.String():
		return BlindTestAnswer{OriginalFirst: false}, nil
	}
	return BlindTestAnswer{}, fmt.Errorf("unrecognized answer key %q", data)
}
