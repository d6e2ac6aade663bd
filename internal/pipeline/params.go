package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"fragility/internal/artifact"
	"fragility/internal/cache"
	"fragility/internal/config"
	"fragility/internal/normalize"
	"fragility/internal/perturb"
	"fragility/internal/sysid"
	"fragility/internal/window"
)

// Params are the analysis parameters of one run.
type Params struct {
	// WindowSizeMs and StepSizeMs are converted to samples with the
	// recording's sampling rate. WindowSamples and StepSamples, when
	// positive, take precedence.
	WindowSizeMs  float64
	StepSizeMs    float64
	WindowSamples int
	StepSamples   int

	Mode          perturb.Mode
	Radius        float64
	Solver        sysid.Method
	RidgeAlpha    float64
	Normalization normalize.Scheme
}

// DefaultParams returns the stock analysis parameters.
func DefaultParams() Params {
	return Params{
		WindowSizeMs:  250,
		StepSizeMs:    125,
		Mode:          perturb.ModeColumn,
		Radius:        perturb.DefaultRadius,
		Solver:        sysid.MethodPinv,
		RidgeAlpha:    sysid.DefaultRidgeAlpha,
		Normalization: normalize.SchemeRangeRatio,
	}
}

// ParamsFromConfig builds Params from the [analysis] section.
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	if cfg == nil {
		return DefaultParams(), nil
	}
	mode, err := perturb.ParseMode(cfg.Analysis.PerturbationMode)
	if err != nil {
		return Params{}, err
	}
	solver, err := sysid.ParseMethod(cfg.Analysis.SolverMethod)
	if err != nil {
		return Params{}, err
	}
	scheme, err := normalize.ParseScheme(cfg.Analysis.Normalization)
	if err != nil {
		return Params{}, err
	}
	p := Params{
		WindowSizeMs:  cfg.Analysis.WindowSizeMs,
		StepSizeMs:    cfg.Analysis.StepSizeMs,
		Mode:          mode,
		Radius:        cfg.Analysis.StabilityRadius,
		Solver:        solver,
		RidgeAlpha:    cfg.Analysis.RidgeAlpha,
		Normalization: scheme,
	}
	return p, p.Validate()
}

// withDefaults fills empty enum fields so equivalent parameter sets share a
// fingerprint.
func (p Params) withDefaults() Params {
	if p.Mode == "" {
		p.Mode = perturb.ModeColumn
	}
	if p.Solver == "" {
		p.Solver = sysid.MethodPinv
	}
	if p.Normalization == "" {
		p.Normalization = normalize.SchemeRangeRatio
	}
	if p.RidgeAlpha == 0 {
		p.RidgeAlpha = sysid.DefaultRidgeAlpha
	}
	return p
}

// Validate checks the parameters independent of any recording.
func (p Params) Validate() error {
	if p.WindowSamples <= 0 && !positive(p.WindowSizeMs) {
		return fmt.Errorf("window size must be positive, got %v ms", p.WindowSizeMs)
	}
	if p.StepSamples <= 0 && !positive(p.StepSizeMs) {
		return fmt.Errorf("step size must be positive, got %v ms", p.StepSizeMs)
	}
	if !positive(p.Radius) {
		return fmt.Errorf("stability radius must be positive, got %v", p.Radius)
	}
	if _, err := perturb.StrategyFor(p.Mode); err != nil {
		return err
	}
	if _, err := sysid.ParseMethod(string(p.Solver)); err != nil {
		return err
	}
	if p.Solver == sysid.MethodRidge && !positive(p.RidgeAlpha) {
		return errors.New("ridge alpha must be positive")
	}
	if _, err := normalize.For(p.Normalization); err != nil {
		return err
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// Samples resolves window and step lengths in samples for a sampling rate.
func (p Params) Samples(rate float64) (size, step int) {
	size, step = p.WindowSamples, p.StepSamples
	if size <= 0 {
		size = window.SamplesFromMs(p.WindowSizeMs, rate)
	}
	if step <= 0 {
		step = window.SamplesFromMs(p.StepSizeMs, rate)
	}
	return size, step
}

// Fingerprint identifies every parameter that changes stored results.
// Normalization, parallelism, overwrite and failure policy only affect how
// results are ranked or produced, so they are absent.
func (p Params) Fingerprint(size, step int) string {
	fields := map[string]string{
		"format_version": strconv.Itoa(artifact.FormatVersion),
		"window_samples": strconv.Itoa(size),
		"step_samples":   strconv.Itoa(step),
		"mode":           string(p.Mode),
		"radius":         strconv.FormatFloat(p.Radius, 'g', -1, 64),
		"solver":         string(p.Solver),
	}
	if p.Solver == sysid.MethodRidge {
		fields["ridge_alpha"] = strconv.FormatFloat(p.RidgeAlpha, 'g', -1, 64)
	}
	return cache.Fingerprint(fields)
}

// FailurePolicy decides what a window failure does to the run.
type FailurePolicy string

const (
	// FailAbort stops the run at the first failed window.
	FailAbort FailurePolicy = "abort"
	// FailSkip records the window as failed with NaN placeholders and continues.
	FailSkip FailurePolicy = "skip"
)

// ParseFailurePolicy resolves a policy name. Empty means FailAbort.
func ParseFailurePolicy(name string) (FailurePolicy, error) {
	switch FailurePolicy(name) {
	case "", FailAbort:
		return FailAbort, nil
	case FailSkip:
		return FailSkip, nil
	}
	return "", fmt.Errorf("unknown failure policy %q", name)
}
