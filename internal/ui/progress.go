package ui

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// PercentBar shows progress reported as a percentage, as parsed from
// the interpolator's output.
type PercentBar struct {
	bar *progressbar.ProgressBar
	w   io.Writer
}

// NewPercentBar creates a 0..100 bar writing to w.
func NewPercentBar(w io.Writer, desc string) *PercentBar {
	return &PercentBar{
		w: w,
		bar: progressbar.NewOptions(100,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "▐",
				BarEnd:        "▌",
			}),
			progressbar.OptionSetRenderBlankState(true),
		),
	}
}

// Update moves the bar to pct, clamped to [0, 100].
func (p *PercentBar) Update(pct float64) {
	_ = p.bar.Set(int(min(max(pct, 0), 100)))
}

// Finish fills the bar and ends the line.
func (p *PercentBar) Finish() {
	_ = p.bar.Finish()
	_, _ = io.WriteString(p.w, "\n")
}

// DownloadBar returns a byte-counting bar factory for rife.Setup.
// A total of -1 renders a spinner.
func DownloadBar(w io.Writer) func(total int64, desc string) io.Writer {
	return func(total int64, desc string) io.Writer {
		return progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				_, _ = io.WriteString(w, "\n")
			}),
		)
	}
}
