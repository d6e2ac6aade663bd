package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fragility/internal/artifact"
	"fragility/internal/logging"
	"fragility/internal/normalize"
	"fragility/internal/pipeline"
	"fragility/internal/publish"
	"fragility/internal/recording"
	"fragility/internal/textutil"
)

const summaryTopChannels = 5

type analysisRequest struct {
	path    string
	load    recording.LoadOptions
	params  pipeline.Params
	publish bool
}

type rankingView struct {
	Channel string   `json:"channel"`
	Mean    *float64 `json:"mean"`
	Max     *float64 `json:"max"`
	Windows int      `json:"windows"`
}

type runSummary struct {
	RunID           string        `json:"run_id"`
	Recording       string        `json:"recording"`
	RecordingID     string        `json:"recording_id"`
	ParamsHash      string        `json:"params_hash"`
	State           string        `json:"state"`
	CacheHit        bool          `json:"cache_hit"`
	Channels        int           `json:"channels"`
	Windows         int           `json:"windows"`
	WindowsComputed int           `json:"windows_computed"`
	WindowsCached   int           `json:"windows_cached"`
	WindowsFailed   int           `json:"windows_failed"`
	FailedWindows   []int         `json:"failed_windows,omitempty"`
	DurationMs      int64         `json:"duration_ms"`
	Bundle          string        `json:"bundle"`
	Sidecar         string        `json:"sidecar"`
	PublishedKey    string        `json:"published_key,omitempty"`
	TopChannels     []rankingView `json:"top_channels,omitempty"`
}

// analyze loads one recording, runs the pipeline, exports the artifact to
// paths.artifact_dir and optionally publishes it.
func (c *commandContext) analyze(cmd *cobra.Command, runner *pipeline.Runner, req analysisRequest) (runSummary, error) {
	ctx := cmd.Context()
	cfg, err := c.ensureConfig()
	if err != nil {
		return runSummary{}, err
	}
	logger, err := c.ensureLogger(cmd)
	if err != nil {
		return runSummary{}, err
	}
	st, err := c.ensureStore(ctx)
	if err != nil {
		return runSummary{}, err
	}
	if req.publish && !cfg.Publish.Enabled {
		return runSummary{}, errors.New("publishing requested but [publish] enabled = false in config")
	}

	rec, err := recording.Load(req.path, req.load)
	if err != nil {
		return runSummary{}, fmt.Errorf("load recording %s: %w", filepath.Base(req.path), err)
	}
	art, report, err := runner.Run(ctx, rec, req.params)
	summary := summarize(report)
	if err != nil {
		return summary, err
	}

	// A cached artifact may have been ranked with another scheme; the exported
	// sidecar names the one used here.
	art.Metadata.Normalization = string(req.params.Normalization)
	base := filepath.Join(cfg.Paths.ArtifactDir, textutil.ArtifactBaseName(rec.Name(), report.RecordingID, report.ParamsHash))
	paths, err := artifact.Save(art, base)
	if err != nil {
		return summary, fmt.Errorf("export artifact: %w", err)
	}
	summary.Bundle, summary.Sidecar = paths.Bundle, paths.Sidecar
	if err := st.SetArtifactPath(ctx, report.RunID, paths.Sidecar); err != nil {
		logger.WarnContext(ctx, "artifact path not recorded",
			logging.String(logging.FieldEventType, "registry_write_failed"),
			logging.Error(err),
		)
	}

	fragility, err := art.Fragility(req.params.Normalization, normalize.PropagateNaN)
	if err != nil {
		logger.WarnContext(ctx, "fragility ranking unavailable",
			logging.String(logging.FieldEventType, "ranking_failed"),
			logging.Error(err),
		)
	} else {
		ranks := normalize.Rank(fragility, art.Metadata.ChannelNames)
		summary.TopChannels = rankingViews(ranks, summaryTopChannels)
	}

	if req.publish {
		pub, err := publish.New(cfg.Publish, logger)
		if err != nil {
			return summary, err
		}
		res, err := pub.Publish(ctx, paths, art.Metadata)
		if err != nil {
			return summary, fmt.Errorf("publish artifact: %w", err)
		}
		summary.PublishedKey = res.Bucket + "/" + res.SidecarKey
	}
	return summary, nil
}

func summarize(report pipeline.Report) runSummary {
	return runSummary{
		RunID:           report.RunID,
		Recording:       report.RecordingName,
		RecordingID:     report.RecordingID,
		ParamsHash:      report.ParamsHash,
		State:           string(report.State),
		CacheHit:        report.CacheHit,
		Channels:        report.Channels,
		Windows:         report.Windows,
		WindowsComputed: report.WindowsComputed,
		WindowsCached:   report.WindowsCached,
		WindowsFailed:   report.WindowsFailed,
		FailedWindows:   report.FailedWindows,
		DurationMs:      report.Duration.Milliseconds(),
	}
}

// rankingViews converts rankings for display, dropping channels without a
// finite window. limit <= 0 keeps every channel.
func rankingViews(ranks []normalize.Ranking, limit int) []rankingView {
	out := make([]rankingView, 0, len(ranks))
	for _, r := range ranks {
		if r.Windows == 0 || math.IsNaN(r.Mean) {
			continue
		}
		mean, peak := r.Mean, r.Max
		out = append(out, rankingView{Channel: r.Channel, Mean: &mean, Max: &peak, Windows: r.Windows})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func printRunSummary(out io.Writer, s runSummary) {
	short := textutil.ShortID(s.RunID, 8)
	fmt.Fprintf(out, "Run %s %s in %s (cache hit: %s)\n", short, s.State,
		(time.Duration(s.DurationMs) * time.Millisecond).String(), yesNo(s.CacheHit))
	name := s.Recording
	if name == "" {
		name = textutil.ShortID(s.RecordingID, 12)
	}
	fmt.Fprintf(out, "Recording: %s (%d channels, %d windows: %d computed, %d cached, %d failed)\n",
		name, s.Channels, s.Windows, s.WindowsComputed, s.WindowsCached, s.WindowsFailed)
	if len(s.FailedWindows) > 0 {
		fmt.Fprintf(out, "Failed windows: %s\n", joinInts(s.FailedWindows))
	}
	if s.Sidecar != "" {
		fmt.Fprintf(out, "Artifact: %s\n", s.Sidecar)
	}
	if s.PublishedKey != "" {
		fmt.Fprintf(out, "Published: %s\n", s.PublishedKey)
	}
	if len(s.TopChannels) > 0 {
		parts := make([]string, len(s.TopChannels))
		for i, r := range s.TopChannels {
			parts[i] = fmt.Sprintf("%s (%.2f)", r.Channel, *r.Mean)
		}
		fmt.Fprintf(out, "Most fragile: %s\n", strings.Join(parts, ", "))
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
