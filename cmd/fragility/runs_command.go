package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"fragility/internal/runstate"
	"fragility/internal/store"
	"fragility/internal/textutil"
)

type runView struct {
	ID              string    `json:"id"`
	Recording       string    `json:"recording"`
	RecordingID     string    `json:"recording_id"`
	ParamsHash      string    `json:"params_hash"`
	State           string    `json:"state"`
	Mode            string    `json:"mode"`
	Radius          float64   `json:"radius"`
	Solver          string    `json:"solver"`
	Channels        int       `json:"channels"`
	Windows         int       `json:"windows"`
	WindowsComputed int       `json:"windows_computed"`
	WindowsCached   int       `json:"windows_cached"`
	WindowsFailed   int       `json:"windows_failed"`
	CacheHit        bool      `json:"cache_hit"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ArtifactPath    string    `json:"artifact_path,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
	DurationMs      int64     `json:"duration_ms"`
}

func toRunView(r *store.Run) runView {
	return runView{
		ID:              r.ID,
		Recording:       r.RecordingName,
		RecordingID:     r.RecordingID,
		ParamsHash:      r.ParamsHash,
		State:           string(r.State),
		Mode:            r.Mode,
		Radius:          r.Radius,
		Solver:          r.Solver,
		Channels:        r.Channels,
		Windows:         r.Windows,
		WindowsComputed: r.WindowsComputed,
		WindowsCached:   r.WindowsCached,
		WindowsFailed:   r.WindowsFailed,
		CacheHit:        r.CacheHit,
		ErrorKind:       r.ErrorKind,
		ErrorMessage:    r.ErrorMessage,
		ArtifactPath:    r.ArtifactPath,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		DurationMs:      r.Duration.Milliseconds(),
	}
}

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var recordingID string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List analysis runs from the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := store.ListOptions{RecordingID: strings.TrimSpace(recordingID), Limit: limit}
			for _, raw := range statuses {
				for _, part := range strings.Split(raw, ",") {
					part = strings.TrimSpace(part)
					if part == "" {
						continue
					}
					state, ok := runstate.ParseRunState(part)
					if !ok {
						return fmt.Errorf("unknown run status %q", part)
					}
					opts.States = append(opts.States, state)
				}
			}
			st, err := ctx.ensureStore(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := st.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if jsonOutput {
				views := make([]runView, len(runs))
				for i, r := range runs {
					views[i] = toRunView(r)
				}
				return writeJSON(cmd, views)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderRunTable(runs, shouldColorize(out)))
			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, formatStateCounts(stats))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by run state (repeatable or comma-separated)")
	cmd.Flags().StringVar(&recordingID, "recording", "", "Filter by recording identity")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print runs as JSON")

	cmd.AddCommand(newRunsShowCommand(ctx))
	cmd.AddCommand(newRunsPruneCommand(ctx))
	return cmd
}

func renderRunTable(runs []*store.Run, colorize bool) string {
	rows := make([][]string, len(runs))
	highlight := make(map[int]bool)
	for i, r := range runs {
		name := r.RecordingName
		if name == "" {
			name = textutil.ShortID(r.RecordingID, 12)
		}
		windows := strconv.Itoa(r.Windows)
		if r.WindowsFailed > 0 {
			windows = fmt.Sprintf("%d (%d failed)", r.Windows, r.WindowsFailed)
		}
		duration := "-"
		if r.Finished() {
			duration = r.Duration.Round(time.Millisecond).String()
		}
		rows[i] = []string{
			textutil.ShortID(r.ID, 8),
			name,
			string(r.State),
			windows,
			yesNo(r.CacheHit),
			duration,
			humanize.Time(r.StartedAt),
		}
		if r.State == runstate.RunFailed {
			highlight[i] = true
		}
	}
	spec := tableSpec{
		headers:   []string{"Run", "Recording", "State", "Windows", "Cached", "Duration", "Started"},
		rows:      rows,
		aligns:    []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
		highlight: highlight,
		colorize:  colorize,
	}
	return spec.render()
}

func formatStateCounts(stats map[runstate.RunState]int) string {
	states := make([]string, 0, len(stats))
	for state := range stats {
		states = append(states, string(state))
	}
	sort.Strings(states)
	parts := make([]string, len(states))
	total := 0
	for i, state := range states {
		n := stats[runstate.RunState(state)]
		total += n
		parts[i] = fmt.Sprintf("%s %d", state, n)
	}
	return fmt.Sprintf("Total %d runs: %s", total, strings.Join(parts, ", "))
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its failed windows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.ensureStore(cmd.Context())
			if err != nil {
				return err
			}
			run, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("%w: %s", store.ErrRunNotFound, args[0])
			}
			failures, err := st.WindowFailures(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, struct {
					runView
					WindowFailures []store.WindowFailure `json:"window_failures"`
				}{toRunView(run), failures})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:        %s\n", run.ID)
			fmt.Fprintf(out, "State:      %s\n", run.State)
			fmt.Fprintf(out, "Recording:  %s (%s)\n", run.RecordingName, run.RecordingID)
			fmt.Fprintf(out, "Parameters: %s mode, radius %s, %s solver (%s)\n",
				run.Mode, strconv.FormatFloat(run.Radius, 'g', -1, 64), run.Solver, run.ParamsHash)
			fmt.Fprintf(out, "Windows:    %d computed, %d cached, %d failed\n", run.WindowsComputed, run.WindowsCached, run.WindowsFailed)
			fmt.Fprintf(out, "Started:    %s\n", run.StartedAt.Local().Format(time.RFC3339))
			if run.Finished() {
				fmt.Fprintf(out, "Duration:   %s\n", run.Duration)
			}
			if run.ErrorKind != "" {
				fmt.Fprintf(out, "Error:      [%s] %s\n", run.ErrorKind, run.ErrorMessage)
			}
			if run.ArtifactPath != "" {
				fmt.Fprintf(out, "Artifact:   %s\n", run.ArtifactPath)
			}
			for _, f := range failures {
				fmt.Fprintf(out, "  window %d: [%s] %s\n", f.Window, f.Kind, f.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run as JSON")
	return cmd
}

func newRunsPruneCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than the given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("--older-than-days must be >= 0, got %d", days)
			}
			st, err := ctx.ensureStore(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := st.Prune(cmd.Context(), time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			if removed == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs pruned")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d runs\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "older-than-days", 30, "Minimum age in days of runs to delete")
	return cmd
}
