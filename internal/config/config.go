package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// LogLevel is one of debug, info, warn, error (default info)
	LogLevel string `yaml:"log_level"`

	// LogFile, if set, receives a copy of every log line
	LogFile string `yaml:"log_file"`

	// HistoryDB is the SQLite file that records past runs
	HistoryDB string `yaml:"history_db"`

	Tools         ToolsConfig         `yaml:"tools"`
	Model         ModelConfig         `yaml:"model"`
	RIFE          RIFEConfig          `yaml:"rife"`
	Interpolation InterpolationConfig `yaml:"interpolation"`
	Encode        EncodeConfig        `yaml:"encode"`
	Comparison    ComparisonConfig    `yaml:"comparison"`
	Experiment    ExperimentConfig    `yaml:"experiment"`
	Benchmark     BenchmarkConfig     `yaml:"benchmark"`
}

// ToolsConfig holds the external binaries the harness shells out to.
type ToolsConfig struct {
	FFmpeg         string `yaml:"ffmpeg"`
	FFprobe        string `yaml:"ffprobe"`
	Python         string `yaml:"python"`
	QualityMetrics string `yaml:"quality_metrics"` // ffmpeg-quality-metrics
	Git            string `yaml:"git"`
	NvidiaSMI      string `yaml:"nvidia_smi"`
}

type ModelConfig struct {
	// Version selects the weights to download during setup
	Version string `yaml:"version"`

	// WeightsPath is where setup downloads the weights before copying them
	// into the RIFE checkout
	WeightsPath string `yaml:"weights_path"`

	// URLs maps model version to download URL
	URLs map[string]string `yaml:"urls"`
}

type RIFEConfig struct {
	// Dir is the Practical-RIFE checkout containing inference_video.py
	Dir string `yaml:"dir"`

	// RepoURL is cloned into Dir by setup
	RepoURL string `yaml:"repo_url"`

	// FP16 passes --fp16 to the inference script
	FP16 bool `yaml:"fp16"`
}

type InterpolationConfig struct {
	DefaultMulti int     `yaml:"default_multi"`
	Scale        float64 `yaml:"scale"`
}

// EncodeConfig is used for clip extraction and downsampling.
type EncodeConfig struct {
	Codec  string `yaml:"codec"`
	Preset string `yaml:"preset"`
	CRF    int    `yaml:"crf"`
}

// ComparisonConfig is used for the side-by-side and blind test videos.
type ComparisonConfig struct {
	Codec    string `yaml:"codec"`
	Preset   string `yaml:"preset"`
	CRF      int    `yaml:"crf"`
	Duration int    `yaml:"duration"` // seconds kept in the side-by-side

	// Seed makes the blind test order reproducible; 0 means seed from the clock
	Seed uint64 `yaml:"seed"`
}

type ExperimentConfig struct {
	Name         string  `yaml:"name"`
	ClipDuration int     `yaml:"clip_duration"` // seconds
	Stride       int     `yaml:"stride"`        // keep every Nth frame
	Multi        int     `yaml:"multi"`
	Scale        float64 `yaml:"scale"`
	DataDir      string  `yaml:"data_dir"`
	ResultsDir   string  `yaml:"results_dir"`
	VMAF         bool    `yaml:"vmaf"`
}

type BenchmarkConfig struct {
	Resolutions []string `yaml:"resolutions"`
	ClipSeconds int      `yaml:"clip_seconds"`
	OutputDir   string   `yaml:"output_dir"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		HistoryDB: "results/history.db",
		Tools: ToolsConfig{
			FFmpeg:         "ffmpeg",
			FFprobe:        "ffprobe",
			Python:         "python3",
			QualityMetrics: "ffmpeg-quality-metrics",
			Git:            "git",
			NvidiaSMI:      "nvidia-smi",
		},
		Model: ModelConfig{
			Version:     "4.25",
			WeightsPath: "train_log/flownet.pkl",
			URLs: map[string]string{
				"4.25":      "https://github.com/hzwer/Practical-RIFE/releases/download/v4.25/flownet.pkl",
				"4.25.lite": "https://github.com/hzwer/Practical-RIFE/releases/download/v4.25/flownet_lite.pkl",
			},
		},
		RIFE: RIFEConfig{
			Dir:     "Practical-RIFE",
			RepoURL: "https://github.com/hzwer/Practical-RIFE.git",
		},
		Interpolation: InterpolationConfig{
			DefaultMulti: 2,
			Scale:        1.0,
		},
		Encode: EncodeConfig{
			Codec:  "libx264",
			Preset: "slow",
			CRF:    18,
		},
		Comparison: ComparisonConfig{
			Codec:    "libx264",
			Preset:   "medium",
			CRF:      23,
			Duration: 10,
		},
		Experiment: ExperimentConfig{
			Name:         "experiment",
			ClipDuration: 10,
			Stride:       2,
			Multi:        2,
			Scale:        0.5,
			DataDir:      "data",
			ResultsDir:   "results",
		},
		Benchmark: BenchmarkConfig{
			Resolutions: []string{"720p", "1080p", "1440p"},
			ClipSeconds: 5,
			OutputDir:   "results/benchmarks",
		},
	}
}

// Load reads config from a YAML file on top of the defaults. A missing file
// yields the defaults; unknown keys and invalid values are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field against the schema's constraints.
func (c *Config) Validate() error {
	var errs []error

	if !IsValidMultiplier(c.Interpolation.DefaultMulti) {
		errs = append(errs, fmt.Errorf("interpolation.default_multi must be 2, 4 or 8, got %d", c.Interpolation.DefaultMulti))
	}
	if !IsValidMultiplier(c.Experiment.Multi) {
		errs = append(errs, fmt.Errorf("experiment.multi must be 2, 4 or 8, got %d", c.Experiment.Multi))
	}
	if c.Interpolation.Scale <= 0 {
		errs = append(errs, fmt.Errorf("interpolation.scale must be positive, got %g", c.Interpolation.Scale))
	}
	if c.Experiment.Scale <= 0 {
		errs = append(errs, fmt.Errorf("experiment.scale must be positive, got %g", c.Experiment.Scale))
	}
	if c.Experiment.Stride < 1 {
		errs = append(errs, fmt.Errorf("experiment.stride must be at least 1, got %d", c.Experiment.Stride))
	}
	if c.Experiment.ClipDuration <= 0 {
		errs = append(errs, fmt.Errorf("experiment.clip_duration must be positive, got %d", c.Experiment.ClipDuration))
	}
	if c.Comparison.Duration <= 0 {
		errs = append(errs, fmt.Errorf("comparison.duration must be positive, got %d", c.Comparison.Duration))
	}
	if c.Benchmark.ClipSeconds <= 0 {
		errs = append(errs, fmt.Errorf("benchmark.clip_seconds must be positive, got %d", c.Benchmark.ClipSeconds))
	}
	for _, crf := range []struct {
		name string
		val  int
	}{{"encode.crf", c.Encode.CRF}, {"comparison.crf", c.Comparison.CRF}} {
		if crf.val < 0 || crf.val > 51 {
			errs = append(errs, fmt.Errorf("%s must be within 0-51, got %d", crf.name, crf.val))
		}
	}
	for _, tool := range []struct {
		name string
		val  string
	}{
		{"tools.ffmpeg", c.Tools.FFmpeg},
		{"tools.ffprobe", c.Tools.FFprobe},
		{"tools.python", c.Tools.Python},
		{"rife.dir", c.RIFE.Dir},
		{"encode.codec", c.Encode.Codec},
		{"comparison.codec", c.Comparison.Codec},
	} {
		if tool.val == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", tool.name))
		}
	}

	return errors.Join(errs...)
}

// IsValidMultiplier reports whether m is a supported frame multiplier.
func IsValidMultiplier(m int) bool {
	return m == 2 || m == 4 || m == 8
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// WeightsInRIFE is where the inference script expects the model weights.
func (c *Config) WeightsInRIFE() string {
	return filepath.Join(c.RIFE.Dir, "train_log", "flownet.pkl")
}
