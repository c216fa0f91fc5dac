package pipeline

import "path/filepath"

// Paths are the files an experiment reads and writes.
type Paths struct {
	Clip         string // extracted reference clip
	Downsampled  string
	Interpolated string
	SideBySide   string
	BlindTest    string
	Answer       string
	MetricsDir   string
	ReportName   string // base name of the JSON and CSV report
}

// DefaultPaths lays out an experiment named name under dataDir and resultsDir.
func DefaultPaths(dataDir, resultsDir, name string) Paths {
	input := filepath.Join(dataDir, "input")
	output := filepath.Join(dataDir, "output")
	return Paths{
		Clip:         filepath.Join(input, name+"_clip.mp4"),
		Downsampled:  filepath.Join(input, name+"_downsampled.mp4"),
		Interpolated: filepath.Join(output, name+"_interpolated.mp4"),
		SideBySide:   filepath.Join(output, name+"_sidebyside.mp4"),
		BlindTest:    filepath.Join(output, name+"_blind_test.mp4"),
		Answer:       filepath.Join(output, name+"_blind_test_answer.txt"),
		MetricsDir:   filepath.Join(resultsDir, "metrics"),
		ReportName:   name + "_metrics",
	}
}
