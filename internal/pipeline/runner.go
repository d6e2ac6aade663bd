package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fragility/internal/artifact"
	"fragility/internal/cache"
	"fragility/internal/logging"
	"fragility/internal/perturb"
	"fragility/internal/recording"
	"fragility/internal/runstate"
	"fragility/internal/sysid"
	"fragility/internal/window"
	"fragility/internal/workpool"
)

// Locker serializes runs that share a cache key. cache.FileCache implements
// it with a file lock so separate processes do not compute the same entry.
type Locker interface {
	Lock(ctx context.Context, key cache.Key) (func() error, error)
}

// Options configures a Runner. Every field is optional.
type Options struct {
	Logger    *slog.Logger
	Windows   cache.WindowCache
	Artifacts cache.ArtifactCache
	Locker    Locker
	// Parallelism is the worker count; 0 and 1 run windows serially.
	Parallelism   int
	Overwrite     bool
	FailurePolicy FailurePolicy
	Recorder      Recorder
	Metrics       Collector
}

// Runner executes analysis runs. It is safe to call Run concurrently.
type Runner struct {
	opts         Options
	logger       *slog.Logger
	newEstimator func(sysid.Method, sysid.Options) (sysid.Estimator, error)
}

// New validates opts and returns a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Parallelism < 0 {
		return nil, fmt.Errorf("parallelism must be >= 0, got %d", opts.Parallelism)
	}
	if opts.Parallelism == 0 {
		opts.Parallelism = 1
	}
	policy, err := ParseFailurePolicy(string(opts.FailurePolicy))
	if err != nil {
		return nil, err
	}
	opts.FailurePolicy = policy
	return &Runner{
		opts:         opts,
		logger:       logging.NewComponentLogger(opts.Logger, "pipeline"),
		newEstimator: sysid.New,
	}, nil
}

// AllWindowsFailedError reports a skip-policy run in which no window
// produced a result.
type AllWindowsFailedError struct {
	Windows int
}

func (e *AllWindowsFailedError) Error() string {
	return fmt.Sprintf("all %d windows failed", e.Windows)
}

// ErrorKind classifies the error for run registry status mapping.
func (e *AllWindowsFailedError) ErrorKind() string { return KindNumerical }

// Run analyses rec with params. The returned Report is filled even when the
// run fails.
func (r *Runner) Run(ctx context.Context, rec *recording.Recording, params Params) (*artifact.Artifact, Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if rec == nil {
		return nil, Report{State: runstate.RunFailed}, &configError{errors.New("recording is required")}
	}
	params = params.withDefaults()
	if err := params.Validate(); err != nil {
		return nil, Report{State: runstate.RunFailed}, &configError{fmt.Errorf("invalid parameters: %w", err)}
	}
	est, err := r.newEstimator(params.Solver, sysid.Options{RidgeAlpha: params.RidgeAlpha})
	if err != nil {
		return nil, Report{State: runstate.RunFailed}, &configError{err}
	}

	size, step := params.Samples(rec.SamplingRate())
	ex := &execution{
		r:       r,
		rec:     rec,
		params:  params,
		est:     est,
		size:    size,
		step:    step,
		tracker: runstate.NewTracker(),
		sampler: logging.NewProgressSampler(10),
	}
	ex.key = cache.Key{Recording: rec.Identity(), Params: params.Fingerprint(size, step)}
	ex.report = Report{
		RunID:         uuid.NewString(),
		State:         runstate.RunPending,
		RecordingName: rec.Name(),
		RecordingID:   ex.key.Recording,
		ParamsHash:    ex.key.Params,
		Channels:      rec.NumChannels(),
		StartedAt:     time.Now().UTC(),
	}
	ctx = logging.WithRunID(ctx, ex.report.RunID)
	ex.logger = r.logger

	art, err := ex.run(ctx)
	ex.finish(ctx, art, err)
	if err != nil {
		return nil, ex.report, err
	}
	return art, ex.report, nil
}

// execution is the state of a single Run call.
type execution struct {
	r       *Runner
	rec     *recording.Recording
	params  Params
	est     sysid.Estimator
	size    int
	step    int
	key     cache.Key
	tracker *runstate.Tracker
	report  Report
	logger  *slog.Logger

	perturbOnce sync.Once

	progressMu sync.Mutex
	finished   int
	pending    int
	sampler    *logging.ProgressSampler
}

func (ex *execution) run(ctx context.Context) (*artifact.Artifact, error) {
	opts := ex.r.opts
	ex.logger.InfoContext(ctx, "run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("recording", ex.rec.Name()),
		logging.Int("channels", ex.rec.NumChannels()),
		logging.Int("samples", ex.rec.NumSamples()),
		logging.String("mode", string(ex.params.Mode)),
		logging.Float64("radius", ex.params.Radius),
		logging.String("solver", string(ex.params.Solver)),
		logging.Int("parallelism", opts.Parallelism),
		logging.String("recording_id", ex.key.Recording),
		logging.String("params_hash", ex.key.Params),
	)
	for _, warning := range ex.rec.Warnings() {
		logging.WarnWithContext(ctx, ex.logger, warning, "recording_warning",
			logging.String(logging.FieldImpact, "results may be less reliable"),
			logging.String(logging.FieldErrorHint, "check the recording's sampling rate, length and montage"),
		)
	}
	if opts.Recorder != nil {
		err := opts.Recorder.RunStarted(ctx, RunInfo{
			ID:            ex.report.RunID,
			RecordingName: ex.rec.Name(),
			RecordingID:   ex.key.Recording,
			ParamsHash:    ex.key.Params,
			Params:        ex.params,
			Channels:      ex.rec.NumChannels(),
			Samples:       ex.rec.NumSamples(),
			StartedAt:     ex.report.StartedAt,
		})
		ex.recorderFailed(ctx, "run_started", err)
	}

	if opts.Locker != nil {
		unlock, err := opts.Locker.Lock(ctx, ex.key)
		if err != nil {
			return nil, fmt.Errorf("acquire cache lock: %w", err)
		}
		defer func() {
			if err := unlock(); err != nil {
				ex.logger.WarnContext(ctx, "cache lock release failed", logging.Error(err))
			}
		}()
	}

	if art, ok := ex.cachedArtifact(ctx); ok {
		ex.report.CacheHit = true
		ex.report.Windows = art.NumWindows()
		ex.report.WindowsCached = art.NumWindows()
		if err := ex.advance(ctx, runstate.RunDone); err != nil {
			return nil, err
		}
		return art, nil
	}

	if err := ex.advance(ctx, runstate.RunSegmenting); err != nil {
		return nil, err
	}
	windows, err := window.Segment(ex.size, ex.step, ex.rec.NumSamples())
	if err != nil {
		return nil, err
	}
	ex.tracker.SetWindows(len(windows))
	ex.report.Windows = len(windows)

	results := make([]artifact.WindowResult, len(windows))
	var pending []int
	for i := range windows {
		res, ok := ex.cachedWindow(ctx, i)
		if !ok {
			pending = append(pending, i)
			continue
		}
		if err := ex.tracker.TransitionWindow(i, runstate.WindowPending, runstate.WindowCached); err != nil {
			return nil, err
		}
		results[i] = res
		ex.report.WindowsCached++
	}
	if ex.report.WindowsCached > 0 {
		ex.logger.InfoContext(ctx, "resuming from cached windows",
			logging.String(logging.FieldEventType, "windows_resumed"),
			logging.Int("windows_cached", ex.report.WindowsCached),
			logging.Int("windows", len(windows)),
		)
	}

	if len(pending) > 0 {
		if err := ex.advance(ctx, runstate.RunEstimating); err != nil {
			return nil, err
		}
		ex.pending = len(pending)
		computed, err := workpool.Map(ctx, opts.Parallelism, len(pending), func(ctx context.Context, k int) (artifact.WindowResult, error) {
			return ex.processWindow(ctx, pending[k], windows[pending[k]])
		})
		if err != nil {
			return nil, err
		}
		for k, res := range computed {
			results[pending[k]] = res
		}
	}

	if err := ex.advance(ctx, runstate.RunAssembling); err != nil {
		return nil, err
	}
	failed := ex.tracker.Failed()
	ex.report.WindowsFailed = len(failed)
	ex.report.WindowsComputed = ex.tracker.Counts()[runstate.WindowCompleted]
	if len(failed) == len(windows) {
		return nil, &AllWindowsFailedError{Windows: len(windows)}
	}

	art, err := artifact.Assemble(ex.metadata(windows), results)
	if err != nil {
		return nil, fmt.Errorf("assemble artifact: %w", err)
	}
	ex.report.FailedWindows = append([]int(nil), art.Metadata.FailedWindows...)
	if opts.Artifacts != nil && len(art.Metadata.FailedWindows) == 0 {
		if err := opts.Artifacts.Put(ex.key, art); err != nil {
			logging.WarnWithContext(ctx, ex.logger, "artifact cache write failed", "cache_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the next identical run recomputes from window entries"),
				logging.String(logging.FieldErrorHint, "check free space and permissions under paths.cache_dir"),
			)
		}
	}
	if err := ex.advance(ctx, runstate.RunDone); err != nil {
		return nil, err
	}
	return art, nil
}

func (ex *execution) metadata(windows []window.Window) artifact.Metadata {
	meta := artifact.Metadata{
		ChannelNames:      ex.rec.Channels(),
		WindowSizeSamples: ex.size,
		StepSizeSamples:   ex.step,
		StabilityRadius:   ex.params.Radius,
		PerturbationMode:  string(ex.params.Mode),
		SamplingRate:      ex.rec.SamplingRate(),
		SolverMethod:      string(ex.params.Solver),
		Normalization:     string(ex.params.Normalization),
		Windows:           windows,
		RecordingName:     ex.rec.Name(),
		RecordingID:       ex.key.Recording,
		ParamsHash:        ex.key.Params,
	}
	if ex.params.Solver == sysid.MethodRidge {
		meta.RidgeAlpha = ex.params.RidgeAlpha
	}
	return meta
}

// cachedArtifact returns a cached artifact unless overwriting, in which case
// the whole entry is dropped so nothing stale is reused.
func (ex *execution) cachedArtifact(ctx context.Context) (*artifact.Artifact, bool) {
	artifacts := ex.r.opts.Artifacts
	if artifacts == nil {
		return nil, false
	}
	if ex.r.opts.Overwrite {
		if err := artifacts.Invalidate(ex.key); err != nil {
			logging.WarnWithContext(ctx, ex.logger, "cache invalidation failed", "cache_invalidate_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale entries stay on disk until overwritten"),
			)
		}
		return nil, false
	}
	art, ok, err := artifacts.Get(ex.key)
	if err != nil {
		ex.cacheReadFailed(ctx, "cached artifact unusable; recomputing", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if art.NumChannels() != ex.rec.NumChannels() {
		ex.cacheReadFailed(ctx, "cached artifact unusable; recomputing",
			&cache.ConsistencyError{Key: ex.key, Reason: "channel count differs"})
		return nil, false
	}
	ex.logger.InfoContext(ctx, "artifact served from cache",
		logging.String(logging.FieldEventType, "cache_hit"),
		logging.Bool("cache_hit", true),
		logging.Int("windows", art.NumWindows()),
	)
	return art, true
}

func (ex *execution) cachedWindow(ctx context.Context, index int) (artifact.WindowResult, bool) {
	windows := ex.r.opts.Windows
	if windows == nil || ex.r.opts.Overwrite {
		return artifact.WindowResult{}, false
	}
	c := ex.rec.NumChannels()
	res, ok, err := windows.Get(ex.key, index, c)
	if err != nil {
		ex.cacheReadFailed(logging.WithWindow(ctx, index), "cached window unusable; recomputing", err)
		return artifact.WindowResult{}, false
	}
	if !ok || res.Failed || res.Transition == nil || res.Vectors == nil {
		return artifact.WindowResult{}, false
	}
	if r, cols := res.Transition.Dims(); r != c || cols != c {
		return artifact.WindowResult{}, false
	}
	return res, true
}

func (ex *execution) cacheReadFailed(ctx context.Context, msg string, err error) {
	var consistency *cache.ConsistencyError
	hint := "check permissions under paths.cache_dir"
	if errors.As(err, &consistency) {
		hint = "run fragility cache clear if this repeats"
	}
	logging.WarnWithContext(ctx, ex.logger, msg, "cache_read_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorKind, ErrorKind(err)),
		logging.String(logging.FieldImpact, "the entry is recomputed"),
		logging.String(logging.FieldErrorHint, hint),
	)
}

func (ex *execution) processWindow(ctx context.Context, index int, w window.Window) (artifact.WindowResult, error) {
	ctx = logging.WithWindow(ctx, index)
	if err := ex.tracker.TransitionWindow(index, runstate.WindowPending, runstate.WindowEstimating); err != nil {
		return artifact.WindowResult{}, err
	}
	a, err := sysid.FitRows(ex.est, index, ex.rec.Rows(), w.Start, w.End)
	if err != nil {
		return ex.windowFailed(ctx, index, runstate.WindowEstimating, err)
	}

	if err := ex.tracker.TransitionWindow(index, runstate.WindowEstimating, runstate.WindowPerturbing); err != nil {
		return artifact.WindowResult{}, err
	}
	ex.perturbOnce.Do(func() { ex.notifyState(ctx, runstate.RunPerturbing) })
	p, err := perturb.Solve(index, a, ex.params.Mode, ex.params.Radius)
	if err != nil {
		return ex.windowFailed(ctx, index, runstate.WindowPerturbing, err)
	}
	if err := ex.tracker.TransitionWindow(index, runstate.WindowPerturbing, runstate.WindowCompleted); err != nil {
		return artifact.WindowResult{}, err
	}

	res := artifact.WindowResult{Index: index, Transition: a, Norms: p.Norms, Vectors: p.Deltas}
	if windows := ex.r.opts.Windows; windows != nil {
		if err := windows.Put(ex.key, res); err != nil {
			ex.logger.WarnContext(ctx, "window cache write failed",
				logging.String(logging.FieldEventType, "cache_write_failed"),
				logging.Error(err),
				logging.String(logging.FieldImpact, "window is recomputed if the run is interrupted"),
			)
		}
	}
	ex.logger.DebugContext(ctx, "window complete",
		logging.Int("start", w.Start),
		logging.Int("end", w.End),
		logging.String("dominant", fmt.Sprint(p.Dominant)),
	)
	ex.progress(ctx)
	return res, nil
}

func (ex *execution) windowFailed(ctx context.Context, index int, from runstate.WindowState, cause error) (artifact.WindowResult, error) {
	if err := ex.tracker.TransitionWindow(index, from, runstate.WindowFailed); err != nil {
		return artifact.WindowResult{}, errors.Join(cause, err)
	}
	kind := ErrorKind(cause)
	if rec := ex.r.opts.Recorder; rec != nil {
		ex.recorderFailed(ctx, "window_failed", rec.WindowFailed(ctx, ex.report.RunID, index, kind, cause.Error()))
	}
	if ex.r.opts.FailurePolicy != FailSkip {
		return artifact.WindowResult{}, cause
	}
	logging.WarnWithContext(ctx, ex.logger, "window failed; recorded as NaN", "window_skipped",
		logging.Error(cause),
		logging.String(logging.FieldErrorKind, kind),
		logging.String(logging.FieldImpact, "the window's fragility is NaN in the artifact"),
		logging.String(logging.FieldErrorHint, "inspect the window's samples or try solver_method = \"ridge\""),
	)
	ex.progress(ctx)
	return artifact.WindowResult{Index: index, Failed: true}, nil
}

func (ex *execution) progress(ctx context.Context) {
	ex.progressMu.Lock()
	ex.finished++
	done, total := ex.finished, ex.pending
	emit := ex.sampler.ShouldLog(done, total, "")
	ex.progressMu.Unlock()
	if emit {
		ex.logger.InfoContext(logging.WithStage(ctx, string(ex.tracker.Run())), "window progress",
			logging.Int("windows_done", done),
			logging.Int("windows", total),
			logging.Float64("progress_percent", logging.Percent(done, total)),
		)
	}
}

func (ex *execution) advance(ctx context.Context, to runstate.RunState) error {
	if err := ex.tracker.Advance(to); err != nil {
		return err
	}
	ex.notifyState(ctx, to)
	return nil
}

func (ex *execution) notifyState(ctx context.Context, state runstate.RunState) {
	ex.logger.DebugContext(logging.WithStage(ctx, string(state)), "run state changed")
	if rec := ex.r.opts.Recorder; rec != nil {
		ex.recorderFailed(ctx, "run_state", rec.RunStateChanged(ctx, ex.report.RunID, state))
	}
}

func (ex *execution) recorderFailed(ctx context.Context, event string, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(ctx, ex.logger, "run registry update failed", "registry_write_failed",
		logging.String("registry_event", event),
		logging.Error(err),
		logging.String(logging.FieldImpact, "fragility runs may show stale state for this run"),
		logging.String(logging.FieldErrorHint, "check paths.registry_path"),
	)
}

// finish settles the final state and reports the run to the recorder,
// metrics and log. Reporting uses a context that survives cancellation so
// aborted runs are still recorded.
func (ex *execution) finish(ctx context.Context, art *artifact.Artifact, runErr error) {
	if runErr != nil {
		ex.tracker.Fail()
		if ex.report.WindowsFailed == 0 {
			ex.report.WindowsFailed = len(ex.tracker.Failed())
		}
		ex.report.WindowsComputed = ex.tracker.Counts()[runstate.WindowCompleted]
	}
	ex.report.State = ex.tracker.Run()
	ex.report.Duration = time.Since(ex.report.StartedAt)

	reportCtx := context.WithoutCancel(ctx)
	kind, message := "", ""
	if runErr != nil {
		kind, message = ErrorKind(runErr), runErr.Error()
	}
	if rec := ex.r.opts.Recorder; rec != nil {
		ex.recorderFailed(reportCtx, "run_finished", rec.RunFinished(reportCtx, ex.report, kind, message))
	}
	if m := ex.r.opts.Metrics; m != nil {
		m.ObserveRun(ex.report, runErr)
	}

	if runErr != nil {
		logging.ErrorWithContext(reportCtx, ex.logger, "run failed", "run_failed",
			logging.Error(runErr),
			logging.String(logging.FieldErrorKind, kind),
			logging.Int("windows_computed", ex.report.WindowsComputed),
			logging.Int("windows_failed", ex.report.WindowsFailed),
			logging.Duration("stage_duration", ex.report.Duration),
		)
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Bool("cache_hit", ex.report.CacheHit),
		logging.Int("windows", ex.report.Windows),
		logging.Int("windows_computed", ex.report.WindowsComputed),
		logging.Int("windows_cached", ex.report.WindowsCached),
		logging.Int("windows_failed", ex.report.WindowsFailed),
		logging.Duration("stage_duration", ex.report.Duration),
	}
	if art != nil && len(art.Metadata.FailedWindows) > 0 {
		attrs = append(attrs, logging.Alert("artifact contains failed windows"))
	}
	ex.logger.InfoContext(reportCtx, "run complete", logging.Args(attrs...)...)
}
