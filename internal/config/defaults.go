package config

import "runtime"

const (
	defaultArtifactDir      = "~/.local/share/fragility/artifacts"
	defaultLogDir           = "~/.local/share/fragility/logs"
	defaultRegistryPath     = "~/.local/share/fragility/registry.db"
	defaultLogRetentionDays = 30
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultWindowSizeMs     = 250
	defaultStepSizeMs       = 125
	defaultPerturbationMode = "column"
	defaultStabilityRadius  = 1.5
	defaultSolverMethod     = "pinv"
	defaultRidgeAlpha       = 1e-6
	defaultNormalization    = "range_ratio"
	defaultFailurePolicy    = "abort"
	defaultPublishPrefix    = "fragility"
	defaultPublishRegion    = "us-east-1"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir:     defaultCacheDir(),
			ArtifactDir:  defaultArtifactDir,
			LogDir:       defaultLogDir,
			RegistryPath: defaultRegistryPath,
		},
		Analysis: Analysis{
			WindowSizeMs:     defaultWindowSizeMs,
			StepSizeMs:       defaultStepSizeMs,
			PerturbationMode: defaultPerturbationMode,
			StabilityRadius:  defaultStabilityRadius,
			SolverMethod:     defaultSolverMethod,
			RidgeAlpha:       defaultRidgeAlpha,
			Normalization:    defaultNormalization,
		},
		Execution: Execution{
			Parallelism:   runtime.NumCPU(),
			FailurePolicy: defaultFailurePolicy,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Publish: Publish{
			Region: defaultPublishRegion,
			UseSSL: true,
			Prefix: defaultPublishPrefix,
		},
	}
}
