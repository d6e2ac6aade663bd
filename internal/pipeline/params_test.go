package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"fragility/internal/cache"
	"fragility/internal/normalize"
	"fragility/internal/perturb"
	"fragility/internal/pipeline"
	"fragility/internal/sysid"
	"fragility/internal/testsupport"
	"fragility/internal/window"
)

func TestParamsFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindowMs(500, 250))
	cfg.Analysis.PerturbationMode = "row"
	cfg.Analysis.SolverMethod = "ridge"
	cfg.Analysis.RidgeAlpha = 0.01
	cfg.Analysis.Normalization = "zscore"

	params, err := pipeline.ParamsFromConfig(cfg)
	if err != nil {
		t.Fatalf("ParamsFromConfig: %v", err)
	}
	if params.WindowSizeMs != 500 || params.StepSizeMs != 250 {
		t.Fatalf("unexpected window params %+v", params)
	}
	if params.Mode != perturb.ModeRow || params.Solver != sysid.MethodRidge || params.Normalization != normalize.SchemeZScore {
		t.Fatalf("unexpected enums %+v", params)
	}
	if params.RidgeAlpha != 0.01 {
		t.Fatalf("expected ridge alpha 0.01, got %v", params.RidgeAlpha)
	}
}

func TestParamsFromConfigRejectsUnknownMode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Analysis.PerturbationMode = "diagonal"
	if _, err := pipeline.ParamsFromConfig(cfg); err == nil {
		t.Fatal("expected error for unknown perturbation mode")
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*pipeline.Params)
	}{
		{"zero window", func(p *pipeline.Params) { p.WindowSizeMs = 0 }},
		{"negative step", func(p *pipeline.Params) { p.StepSizeMs = -1 }},
		{"zero radius", func(p *pipeline.Params) { p.Radius = 0 }},
		{"unknown mode", func(p *pipeline.Params) { p.Mode = "diagonal" }},
		{"unknown solver", func(p *pipeline.Params) { p.Solver = "svd" }},
		{"ridge without alpha", func(p *pipeline.Params) { p.Solver = sysid.MethodRidge; p.RidgeAlpha = 0 }},
		{"unknown normalization", func(p *pipeline.Params) { p.Normalization = "softmax" }},
	}
	if err := pipeline.DefaultParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := pipeline.DefaultParams()
			tc.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParamsSamples(t *testing.T) {
	p := pipeline.DefaultParams()
	size, step := p.Samples(1000)
	if size != 250 || step != 125 {
		t.Fatalf("expected 250/125 samples, got %d/%d", size, step)
	}
	p.WindowSamples, p.StepSamples = 64, 32
	size, step = p.Samples(1000)
	if size != 64 || step != 32 {
		t.Fatalf("explicit samples should win, got %d/%d", size, step)
	}
	if got := window.SamplesFromMs(250, 512); got != 128 {
		t.Fatalf("expected 128 samples at 512 Hz, got %d", got)
	}
}

func TestFingerprint(t *testing.T) {
	base := pipeline.DefaultParams()
	ref := base.Fingerprint(250, 125)
	if ref != base.Fingerprint(250, 125) {
		t.Fatal("fingerprint is not stable")
	}
	if !(cache.Key{Recording: "abc", Params: ref}).Valid() {
		t.Fatalf("fingerprint %q is not a valid key segment", ref)
	}

	variants := map[string]func(*pipeline.Params){
		"mode":   func(p *pipeline.Params) { p.Mode = perturb.ModeRow },
		"radius": func(p *pipeline.Params) { p.Radius = 1.2 },
		"solver": func(p *pipeline.Params) { p.Solver = sysid.MethodLstsq },
	}
	for name, mutate := range variants {
		p := base
		mutate(&p)
		if p.Fingerprint(250, 125) == ref {
			t.Fatalf("changing %s did not change the fingerprint", name)
		}
	}
	if base.Fingerprint(200, 125) == ref || base.Fingerprint(250, 100) == ref {
		t.Fatal("window geometry must change the fingerprint")
	}

	for _, scheme := range []normalize.Scheme{normalize.SchemeMinMax, normalize.SchemeZScore} {
		p := base
		p.Normalization = scheme
		if p.Fingerprint(250, 125) != ref {
			t.Fatalf("normalization %s changed the fingerprint", scheme)
		}
	}

	// Ridge alpha only matters for the ridge solver.
	p := base
	p.RidgeAlpha = 0.5
	if p.Fingerprint(250, 125) != ref {
		t.Fatal("ridge alpha changed the fingerprint of a pinv run")
	}
	r1, r2 := base, base
	r1.Solver, r2.Solver = sysid.MethodRidge, sysid.MethodRidge
	r2.RidgeAlpha = 0.5
	if r1.Fingerprint(250, 125) == r2.Fingerprint(250, 125) {
		t.Fatal("ridge alpha must change the fingerprint of a ridge run")
	}
}

func TestParseFailurePolicy(t *testing.T) {
	for input, want := range map[string]pipeline.FailurePolicy{
		"":      pipeline.FailAbort,
		"abort": pipeline.FailAbort,
		"skip":  pipeline.FailSkip,
	} {
		got, err := pipeline.ParseFailurePolicy(input)
		if err != nil || got != want {
			t.Fatalf("ParseFailurePolicy(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := pipeline.ParseFailurePolicy("retry"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("boom"), pipeline.KindInternal},
		{context.Canceled, pipeline.KindCancelled},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), pipeline.KindCancelled},
		{&window.InvalidWindowError{Reason: "too long"}, pipeline.KindConfiguration},
		{fmt.Errorf("window: %w", &sysid.EstimationError{Err: errors.New("singular")}), pipeline.KindNumerical},
		{&cache.ConsistencyError{Reason: "shape"}, pipeline.KindCache},
		{&pipeline.AllWindowsFailedError{Windows: 3}, pipeline.KindNumerical},
	}
	for _, tc := range tests {
		if got := pipeline.ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if !pipeline.NeedsAttention(&window.InvalidWindowError{}) {
		t.Fatal("configuration errors need attention")
	}
	if pipeline.NeedsAttention(context.Canceled) {
		t.Fatal("cancellation does not need attention")
	}
}
