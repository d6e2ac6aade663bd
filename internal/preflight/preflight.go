package preflight

import (
	"context"
	"path/filepath"

	"fragility/internal/config"
	"fragility/internal/publish"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Directories are expected to exist already (config.EnsureDirectories).
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
		CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Registry directory", filepath.Dir(cfg.Paths.RegistryPath)),
	}

	if cfg.Metrics.Textfile != "" {
		results = append(results, CheckDirectoryAccess("Metrics textfile directory", filepath.Dir(cfg.Metrics.Textfile)))
	}

	if cfg.Publish.Enabled {
		pub, err := publish.New(cfg.Publish, nil)
		if err != nil {
			results = append(results, Result{Name: objectStoreCheck, Detail: err.Error()})
		} else {
			results = append(results, CheckObjectStore(ctx, cfg.Publish.Endpoint, pub))
		}
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
