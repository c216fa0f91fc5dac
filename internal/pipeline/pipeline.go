// Package pipeline runs a full interpolation experiment: extract a clip,
// drop frames, interpolate them back, score the result against the clip,
// save the report and build the comparison videos.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/rifelab/internal/compare"
	"github.com/gwlsn/rifelab/internal/ffmpeg"
	"github.com/gwlsn/rifelab/internal/logger"
	"github.com/gwlsn/rifelab/internal/metrics"
	"github.com/gwlsn/rifelab/internal/report"
	"github.com/gwlsn/rifelab/internal/rife"
	"github.com/gwlsn/rifelab/internal/store"
)

// Step names a pipeline stage.
type Step string

const (
	StepExtractClip    Step = "extract_clip"
	StepDownsample     Step = "downsample"
	StepInterpolate    Step = "interpolate"
	StepComputeMetrics Step = "compute_metrics"
	StepSaveReport     Step = "save_report"
	StepSideBySide     Step = "build_side_by_side"
	StepBlindTest      Step = "build_blind_test"
)

// Steps lists the stages in execution order.
var Steps = []Step{
	StepExtractClip, StepDownsample, StepInterpolate, StepComputeMetrics,
	StepSaveReport, StepSideBySide, StepBlindTest,
}

// StepError reports which stage halted the run.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Transformer is the clip extraction and downsampling stage.
type Transformer interface {
	ExtractClip(ctx context.Context, src, dst string, seconds int) (skipped bool, err error)
	Downsample(ctx context.Context, src, dst string, stride int) (*ffmpeg.DownsampleStats, error)
}

// Interpolator is the frame synthesis stage.
type Interpolator interface {
	Process(ctx context.Context, input, output string, opts rife.Options) (*rife.ProcessingStats, error)
}

// Comparator builds the human-evaluation videos.
type Comparator interface {
	SideBySide(ctx context.Context, original, interpolated, output string) error
	BlindTest(ctx context.Context, original, interpolated, output, answerPath string) (compare.BlindTestAnswer, error)
}

// Deps are the collaborators of a Pipeline. History may be nil.
type Deps struct {
	Transformer  Transformer
	Interpolator Interpolator
	Metrics      metrics.Calculator
	Compare      Comparator
	Info         ffmpeg.InfoReader
	History      store.Store
}

// Params describe one experiment.
type Params struct {
	Source      string
	ClipSeconds int
	Stride      int
	Interp      rife.Options
	Metrics     []metrics.Metric
	Paths       Paths
}

// Outcome is what a completed run produced.
type Outcome struct {
	RunID        string
	Record       *report.Record
	Reports      report.Paths
	Downsample   *ffmpeg.DownsampleStats
	Processing   *rife.ProcessingStats
	Answer       *compare.BlindTestAnswer
	ClipSkipped  bool
	CompareFails []*StepError
}

// Pipeline runs the stages in order on a single goroutine.
type Pipeline struct {
	deps Deps
	log  *logger.Logger

	now   func() time.Time
	newID func() string
}

// New creates a Pipeline.
func New(deps Deps, log *logger.Logger) *Pipeline {
	return &Pipeline{
		deps:  deps,
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Run executes every stage. The first failure among extract, downsample,
// interpolate, metrics and report halts the run with a *StepError.
// Comparison video failures are logged and listed in Outcome.CompareFails.
func (p *Pipeline) Run(ctx context.Context, params Params) (*Outcome, error) {
	out := &Outcome{RunID: p.newID()}
	run := &store.Run{
		ID:        out.RunID,
		Kind:      store.KindExperiment,
		Source:    params.Source,
		Status:    store.StatusRunning,
		StartedAt: p.now(),
	}
	p.record(run)

	err := p.run(ctx, params, out)
	p.finish(run, out, err)
	if err != nil {
		return out, err
	}
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, params Params, out *Outcome) error {
	paths := params.Paths
	if params.Interp.Multi != params.Stride {
		p.log.Warn("Multiplier differs from stride, interpolated frame rate will not match the reference",
			"stride", params.Stride, "multi", params.Interp.Multi)
	}
	p.log.Info("Starting experiment", "run", out.RunID, "source", params.Source,
		"clip_seconds", params.ClipSeconds, "stride", params.Stride, "multi", params.Interp.Multi)

	var err error

	p.logStep(StepExtractClip)
	out.ClipSkipped, err = p.deps.Transformer.ExtractClip(ctx, params.Source, paths.Clip, params.ClipSeconds)
	if err != nil {
		return &StepError{Step: StepExtractClip, Err: err}
	}

	p.logStep(StepDownsample)
	out.Downsample, err = p.deps.Transformer.Downsample(ctx, paths.Clip, paths.Downsampled, params.Stride)
	if err != nil {
		return &StepError{Step: StepDownsample, Err: err}
	}

	p.logStep(StepInterpolate)
	out.Processing, err = p.deps.Interpolator.Process(ctx, paths.Downsampled, paths.Interpolated, params.Interp)
	if err != nil {
		return &StepError{Step: StepInterpolate, Err: err}
	}

	p.logStep(StepComputeMetrics)
	res, err := p.deps.Metrics.Compute(ctx, metrics.Request{
		Reference:    paths.Clip,
		Interpolated: paths.Interpolated,
		Metrics:      params.Metrics,
		OutputPath:   filepath.Join(paths.MetricsDir, paths.ReportName+"_raw.json"),
	})
	if err != nil {
		return &StepError{Step: StepComputeMetrics, Err: err}
	}

	p.logStep(StepSaveReport)
	rec := BuildRecord(res, out.Processing, params)
	p.addVideoInfo(ctx, rec, paths)
	out.Record, out.Reports, err = report.Save(rec, paths.MetricsDir, paths.ReportName, p.now())
	if err != nil {
		return &StepError{Step: StepSaveReport, Err: err}
	}
	p.log.Info("Saved report", "json", out.Reports.JSON, "csv", out.Reports.CSV)

	// Comparison videos are best effort
	p.logStep(StepSideBySide)
	if err := p.deps.Compare.SideBySide(ctx, paths.Clip, paths.Interpolated, paths.SideBySide); err != nil {
		p.compareFailed(out, StepSideBySide, err)
	}

	p.logStep(StepBlindTest)
	answer, err := p.deps.Compare.BlindTest(ctx, paths.Clip, paths.Interpolated, paths.BlindTest, paths.Answer)
	if err != nil {
		p.compareFailed(out, StepBlindTest, err)
	} else {
		out.Answer = &answer
	}

	// A cancelled context makes the comparison steps fail too; report it
	if err := ctx.Err(); err != nil {
		return err
	}

	p.log.Info("Experiment complete", "run", out.RunID)
	return nil
}

func (p *Pipeline) logStep(s Step) {
	for i, step := range Steps {
		if step == s {
			p.log.Info(fmt.Sprintf("Step %d/%d: %s", i+1, len(Steps), s))
			return
		}
	}
}

func (p *Pipeline) compareFailed(out *Outcome, step Step, err error) {
	p.log.Warn("Comparison video failed, continuing", "step", step, "error", err)
	out.CompareFails = append(out.CompareFails, &StepError{Step: step, Err: err})
}

// BuildRecord lays out the report fields: metric values, the compared
// frame count, processing stats, then run parameters. The metrics frame
// count is authoritative; the interpolator's output count is kept as
// interpolated_frames.
func BuildRecord(res *metrics.Result, stats *rife.ProcessingStats, params Params) *report.Record {
	rec := report.NewRecord()
	for _, v := range res.Values {
		rec.Set(v.Name, v.Value)
	}
	rec.Set("frame_count", res.FrameCount)
	if len(res.NotComputed) > 0 {
		rec.Set("not_computed", strings.Join(res.NotComputed, ","))
	}

	if stats != nil {
		rec.Set("elapsed_time", stats.ElapsedTime)
		rec.Set("processing_fps", stats.ProcessingFPS)
		rec.Set("interpolated_frames", stats.OutputFrames)
	}

	rec.Set("source_video", params.Source)
	rec.Set("scale", params.Interp.Scale)
	rec.Set("multi", params.Interp.Multi)
	rec.Set("stride", params.Stride)
	rec.Set("clip_duration", params.ClipSeconds)
	return rec
}

// addVideoInfo appends resolution and frame rate of both compared videos.
// Probe failures only drop the fields.
func (p *Pipeline) addVideoInfo(ctx context.Context, rec *report.Record, paths Paths) {
	for _, v := range []struct {
		prefix, path string
	}{
		{"reference", paths.Clip},
		{"interpolated", paths.Interpolated},
	} {
		info, err := p.deps.Info.Info(ctx, v.path)
		if err != nil {
			p.log.Warn("Could not read video info for report", "path", v.path, "error", err)
			continue
		}
		rec.Set(v.prefix+"_resolution", info.Resolution())
		rec.Set(v.prefix+"_fps", info.FPS)
	}
}

// record writes run to history. History is advisory; failures are logged.
func (p *Pipeline) record(run *store.Run) {
	if p.deps.History == nil {
		return
	}
	if err := p.deps.History.SaveRun(run); err != nil {
		p.log.Warn("Failed to record run history", "run", run.ID, "error", err)
	}
}

func (p *Pipeline) finish(run *store.Run, out *Outcome, err error) {
	run.CompletedAt = p.now()
	switch {
	case err == nil:
		run.Status = store.StatusComplete
	case errors.Is(err, context.Canceled):
		run.Status = store.StatusCancelled
		run.Error = err.Error()
	default:
		run.Status = store.StatusFailed
		run.Error = err.Error()
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		run.FailedStep = string(stepErr.Step)
		p.log.Error("Experiment failed", "step", stepErr.Step, "error", stepErr.Err)
	}
	if out.Record != nil {
		if data, mErr := json.Marshal(out.Record); mErr == nil {
			run.Record = data
		}
	}
	p.record(run)
}
