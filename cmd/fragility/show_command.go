package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fragility/internal/artifact"
	"fragility/internal/normalize"
	"fragility/internal/recording"
)

type showOutput struct {
	Recording     string        `json:"recording"`
	RecordingID   string        `json:"recording_id"`
	ParamsHash    string        `json:"params_hash"`
	Mode          string        `json:"perturbation_mode"`
	Radius        float64       `json:"stability_radius"`
	Solver        string        `json:"solver_method"`
	Normalization string        `json:"normalization"`
	Windows       int           `json:"windows"`
	FailedWindows []int         `json:"failed_windows"`
	Channels      []rankingView `json:"channels"`
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var scheme string
	var top int
	var channels string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:         "show <artifact>",
		Short:       "Rank channels of a saved artifact by fragility",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			art, err := artifact.Load(args[0])
			if err != nil {
				return fmt.Errorf("load artifact: %w", err)
			}
			selected := normalize.Scheme(art.Metadata.Normalization)
			if cmd.Flags().Changed("scheme") || selected == "" {
				selected, err = normalize.ParseScheme(scheme)
				if err != nil {
					return err
				}
			}
			fragility, err := art.Fragility(selected, normalize.PropagateNaN)
			if err != nil {
				return fmt.Errorf("normalize: %w", err)
			}
			views := filterChannels(rankingViews(normalize.Rank(fragility, art.Metadata.ChannelNames), 0), channels)
			if top > 0 && len(views) > top {
				views = views[:top]
			}

			out := showOutput{
				Recording:     art.Metadata.RecordingName,
				RecordingID:   art.Metadata.RecordingID,
				ParamsHash:    art.Metadata.ParamsHash,
				Mode:          art.Metadata.PerturbationMode,
				Radius:        art.Metadata.StabilityRadius,
				Solver:        art.Metadata.SolverMethod,
				Normalization: string(selected),
				Windows:       art.NumWindows(),
				FailedWindows: art.Metadata.FailedWindows,
				Channels:      views,
			}
			if jsonOutput {
				return writeJSON(cmd, out)
			}
			printShow(cmd, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", "", "Normalization scheme (default: the artifact's)")
	cmd.Flags().IntVarP(&top, "top", "n", 0, "Show only the N most fragile channels")
	cmd.Flags().StringVar(&channels, "channels", "", "Comma-separated channels to include")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the ranking as JSON")
	return cmd
}

// filterChannels keeps views whose channel appears in list, compared
// case-insensitively. An empty list keeps everything.
func filterChannels(views []rankingView, list string) []rankingView {
	wanted := recording.ParseChannelList(list)
	if len(wanted) == 0 {
		return views
	}
	upper := cases.Upper(language.Und)
	keep := make(map[string]bool, len(wanted))
	for _, name := range wanted {
		keep[name] = true
	}
	out := views[:0:0]
	for _, v := range views {
		if keep[upper.String(v.Channel)] {
			out = append(out, v)
		}
	}
	return out
}

func printShow(cmd *cobra.Command, out showOutput) {
	w := cmd.OutOrStdout()
	name := out.Recording
	if name == "" {
		name = out.RecordingID
	}
	fmt.Fprintf(w, "Recording: %s\n", name)
	fmt.Fprintf(w, "Parameters: %s mode, radius %s, %s solver, %s normalization\n",
		out.Mode, strconv.FormatFloat(out.Radius, 'g', -1, 64), out.Solver, out.Normalization)
	fmt.Fprintf(w, "Windows: %d (%d failed)\n", out.Windows, len(out.FailedWindows))
	if len(out.Channels) == 0 {
		fmt.Fprintln(w, "No channels with finite fragility")
		return
	}

	rows := make([][]string, len(out.Channels))
	highlight := make(map[int]bool)
	for i, v := range out.Channels {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			v.Channel,
			strconv.FormatFloat(*v.Mean, 'f', 3, 64),
			strconv.FormatFloat(*v.Max, 'f', 3, 64),
			strconv.Itoa(v.Windows),
		}
		if i < 3 {
			highlight[i] = true
		}
	}
	spec := tableSpec{
		headers:   []string{"#", "Channel", "Mean", "Max", "Windows"},
		rows:      rows,
		aligns:    []columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight},
		highlight: highlight,
		colorize:  shouldColorize(w),
	}
	fmt.Fprintln(w, spec.render())
	if len(out.FailedWindows) > 0 {
		fmt.Fprintf(w, "Failed windows excluded from means: %s\n", joinInts(out.FailedWindows))
	}
}
