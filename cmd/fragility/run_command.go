package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fragility/internal/normalize"
	"fragility/internal/perturb"
	"fragility/internal/pipeline"
	"fragility/internal/preflight"
	"fragility/internal/recording"
	"fragility/internal/sysid"
)

// analysisFlags are the parameter overrides shared by run and watch.
type analysisFlags struct {
	rate          float64
	badChannels   string
	mode          string
	radius        float64
	windowMs      float64
	stepMs        float64
	solver        string
	normalization string
	workers       int
	overwrite     bool
	skipFailed    bool
	publish       bool
}

func methodNames() string {
	methods := sysid.Methods()
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

func (f *analysisFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Float64Var(&f.rate, "rate", 0, "Sampling rate in Hz (required for CSV recordings)")
	flags.StringVar(&f.badChannels, "bad-channels", "", "Comma-separated channels to drop before analysis")
	flags.StringVar(&f.mode, "mode", "", "Perturbation mode (column or row)")
	flags.Float64Var(&f.radius, "radius", 0, "Stability radius the perturbation targets")
	flags.Float64Var(&f.windowMs, "window-ms", 0, "Window length in milliseconds")
	flags.Float64Var(&f.stepMs, "step-ms", 0, "Step between window starts in milliseconds")
	flags.StringVar(&f.solver, "solver", "", "Transition matrix solver ("+methodNames()+")")
	flags.StringVar(&f.normalization, "normalization", "", "Fragility normalization (range_ratio, minmax, zscore)")
	flags.IntVarP(&f.workers, "workers", "j", 0, "Parallel window workers (default execution.parallelism)")
	flags.BoolVar(&f.overwrite, "overwrite", false, "Recompute even when cached results exist")
	flags.BoolVar(&f.skipFailed, "skip-failed", false, "Record failed windows as NaN instead of aborting")
	flags.BoolVar(&f.publish, "publish", false, "Upload the artifact to the configured object store")
}

// params resolves analysis parameters from config plus any flags the user
// set explicitly.
func (f *analysisFlags) params(cmd *cobra.Command, base pipeline.Params) (pipeline.Params, error) {
	p := base
	changed := cmd.Flags().Changed
	if changed("mode") {
		mode, err := perturb.ParseMode(f.mode)
		if err != nil {
			return p, err
		}
		p.Mode = mode
	}
	if changed("radius") {
		p.Radius = f.radius
	}
	if changed("window-ms") {
		p.WindowSizeMs = f.windowMs
	}
	if changed("step-ms") {
		p.StepSizeMs = f.stepMs
	}
	if changed("solver") {
		solver, err := sysid.ParseMethod(f.solver)
		if err != nil {
			return p, err
		}
		p.Solver = solver
	}
	if changed("normalization") {
		scheme, err := normalize.ParseScheme(f.normalization)
		if err != nil {
			return p, err
		}
		p.Normalization = scheme
	}
	return p, p.Validate()
}

func (f *analysisFlags) loadOptions() recording.LoadOptions {
	return recording.LoadOptions{
		SamplingRate: f.rate,
		BadChannels:  recording.ParseChannelList(f.badChannels),
	}
}

func (f *analysisFlags) overrides() runnerOverrides {
	return runnerOverrides{workers: f.workers, overwrite: f.overwrite, skipFailed: f.skipFailed}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags analysisFlags
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run <recording>",
		Short: "Analyse a recording and export its fragility artifact",
		Long: "Analyse a recording (" + strings.Join(recording.Extensions(), ", ") + ") and write the\n" +
			".npz artifact bundle and JSON sidecar to paths.artifact_dir. Identical reruns are\n" +
			"served from the cache.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.workers < 0 {
				return fmt.Errorf("--workers must be >= 0, got %d", flags.workers)
			}
			req, err := ctx.prepareAnalysis(cmd, &flags)
			if err != nil {
				return err
			}
			req.path = args[0]
			runner, _, err := ctx.newRunner(cmd, flags.overrides())
			if err != nil {
				return err
			}
			summary, err := ctx.analyze(cmd, runner, req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, summary)
			}
			printRunSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run summary as JSON")
	return cmd
}

// prepareAnalysis runs preflight checks and resolves parameters.
func (c *commandContext) prepareAnalysis(cmd *cobra.Command, flags *analysisFlags) (analysisRequest, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return analysisRequest{}, err
	}
	if failed := preflight.Failed(preflight.RunAll(cmd.Context(), cfg)); len(failed) > 0 {
		return analysisRequest{}, preflightError(failed)
	}
	base, err := pipeline.ParamsFromConfig(cfg)
	if err != nil {
		return analysisRequest{}, err
	}
	params, err := flags.params(cmd, base)
	if err != nil {
		return analysisRequest{}, fmt.Errorf("invalid analysis parameters: %w", err)
	}
	return analysisRequest{
		load:    flags.loadOptions(),
		params:  params,
		publish: flags.publish,
	}, nil
}

func preflightError(failed []preflight.Result) error {
	parts := make([]string, len(failed))
	for i, r := range failed {
		parts[i] = r.Name + ": " + r.Detail
	}
	return fmt.Errorf("%w: %s", errPreflightFailed, strings.Join(parts, "; "))
}
