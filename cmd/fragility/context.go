package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"fragility/internal/cache"
	"fragility/internal/config"
	"fragility/internal/logging"
	"fragility/internal/metrics"
	"fragility/internal/pipeline"
	"fragility/internal/store"
)

// interruptedRunAge is how long a non-terminal run may go without updates
// before the registry treats its process as gone.
const interruptedRunAge = 6 * time.Hour

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	storeOnce sync.Once
	store     *store.Store
	storeErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			if _, err := logging.ParseLevel(*c.logLevelFlag); err != nil {
				c.configErr = err
				return
			}
			cfg.Logging.Level = strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureLogger builds the process logger on first use, writing console
// output to the command's stderr, and prunes expired log files.
func (c *commandContext) ensureLogger(cmd *cobra.Command) (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, err := logging.NewFromConfig(cfg, cmd.ErrOrStderr())
		if err != nil {
			c.loggerErr = fmt.Errorf("init logger: %w", err)
			return
		}
		logging.PruneLogs(cmd.Context(), logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
			Dir:     cfg.Paths.LogDir,
			Pattern: "*.log",
			Keep:    []string{filepath.Join(cfg.Paths.LogDir, logging.LogFileName)},
		})
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

// ensureStore opens the run registry once and fails runs left behind by
// processes that exited mid-run.
func (c *commandContext) ensureStore(ctx context.Context) (*store.Store, error) {
	c.storeOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.storeErr = err
			return
		}
		st, err := store.Open(cfg)
		if err != nil {
			c.storeErr = fmt.Errorf("open run registry: %w", err)
			return
		}
		if _, err := st.RecoverInterrupted(ctx, time.Now().Add(-interruptedRunAge)); err != nil {
			_ = st.Close()
			c.storeErr = fmt.Errorf("recover interrupted runs: %w", err)
			return
		}
		c.store = st
	})
	return c.store, c.storeErr
}

func (c *commandContext) close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

// runnerOverrides carries per-invocation execution flags.
type runnerOverrides struct {
	workers    int
	overwrite  bool
	skipFailed bool
}

// newRunner wires the file cache, run registry and metrics textfile into a
// pipeline.Runner.
func (c *commandContext) newRunner(cmd *cobra.Command, ov runnerOverrides) (*pipeline.Runner, *cache.FileCache, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := c.ensureLogger(cmd)
	if err != nil {
		return nil, nil, err
	}
	st, err := c.ensureStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	fc, err := cache.NewFileCache(cfg.Paths.CacheDir)
	if err != nil {
		return nil, nil, err
	}

	policy, err := pipeline.ParseFailurePolicy(cfg.Execution.FailurePolicy)
	if err != nil {
		return nil, nil, err
	}
	if ov.skipFailed {
		policy = pipeline.FailSkip
	}
	workers := cfg.Execution.Parallelism
	if ov.workers > 0 {
		workers = ov.workers
	}

	opts := pipeline.Options{
		Logger:        logger,
		Windows:       fc.Windows(),
		Artifacts:     fc.Artifacts(),
		Locker:        fc,
		Parallelism:   workers,
		Overwrite:     cfg.Execution.Overwrite || ov.overwrite,
		FailurePolicy: policy,
		Recorder:      st,
	}
	if path := strings.TrimSpace(cfg.Metrics.Textfile); path != "" {
		tf, err := metrics.NewTextfile(path, logger)
		if err != nil {
			return nil, nil, err
		}
		opts.Metrics = tf
	}
	runner, err := pipeline.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return runner, fc, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

var errPreflightFailed = errors.New("preflight checks failed")
