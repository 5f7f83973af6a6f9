package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"neuron/internal/nn"
	"neuron/internal/storage"
	"neuron/internal/training"
	neuronapi "neuron/pkg/neuron"
)

func newEvaluateCmd(opts *globalOptions) *cobra.Command {
	var req neuronapi.EvaluateRequest
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Play greedy episodes with a checkpoint, builtin or fresh network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := opts.client(ctx)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			summary, err := client.Evaluate(ctx, req)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return opts.printJSON(summary.Report)
			}
			r := summary.Report
			opts.printf("scape=%s source=%s episodes=%d wins=%d truncated=%d win_rate=%.3f avg_reward=%.3f avg_steps=%.1f\n",
				r.Scape, r.Source, r.Episodes, r.Wins, r.Truncated, r.WinRate, r.AvgReward, r.AvgSteps)
			if summary.ReportPath != "" {
				opts.printf("report=%s\n", summary.ReportPath)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Scape, "scape", "pong", "scape: pong|target")
	f.StringVar(&req.Tier, "tier", "", "network tier (default light, or the checkpoint's tier)")
	f.StringVar(&req.Checkpoint, "checkpoint", "", "checkpoint slot to evaluate")
	f.StringVar(&req.Builtin, "builtin", "", "builtin checkpoint to evaluate")
	f.IntVar(&req.Episodes, "episodes", 20, "episodes to play")
	f.IntVar(&req.MaxSteps, "max-steps", 2000, "step limit per episode")
	f.Uint32Var(&req.Seed, "seed", 0, "scape seed")
	f.StringVar(&req.RunID, "run-id", "", "attach the report to this run's artifacts")
	return cmd
}

func newTiersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List network tiers",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			type tierItem struct {
				Index      int    `json:"index"`
				Name       string `json:"name"`
				Sizes      []int  `json:"sizes"`
				Parameters int    `json:"parameters"`
				Footprint  int    `json:"footprint_bytes"`
				Default    bool   `json:"default"`
			}
			items := make([]tierItem, 0, len(nn.Tiers()))
			for _, t := range nn.Tiers() {
				sizes, err := t.Sizes()
				if err != nil {
					return err
				}
				items = append(items, tierItem{
					Index:      int(t),
					Name:       t.String(),
					Sizes:      sizes,
					Parameters: t.ParameterCount(),
					Footprint:  nn.Footprint(sizes),
					Default:    t == nn.DefaultTier,
				})
			}
			if opts.jsonOut {
				return opts.printJSON(items)
			}
			for _, it := range items {
				marker := ""
				if it.Default {
					marker = " (default)"
				}
				opts.printf("%d %-10s sizes=%v params=%s memory=%s%s\n",
					it.Index, it.Name, it.Sizes, humanize.Comma(int64(it.Parameters)), humanize.IBytes(uint64(it.Footprint)), marker)
			}
			return nil
		},
	}
}

func newPresetsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List hyperparameter presets",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			type presetItem struct {
				Name            string                   `json:"name"`
				Hyperparameters training.Hyperparameters `json:"hyperparameters"`
			}
			items := make([]presetItem, 0, len(training.Presets()))
			for _, p := range training.Presets() {
				hp, err := p.Hyperparameters(nn.Adam)
				if err != nil {
					return err
				}
				items = append(items, presetItem{Name: string(p), Hyperparameters: hp})
			}
			if opts.jsonOut {
				return opts.printJSON(items)
			}
			for _, it := range items {
				hp := it.Hyperparameters
				opts.printf("%-8s lr=%g gamma=%g epsilon=%g->%g decay=%g batch=%d\n",
					it.Name, hp.LearningRate, hp.Gamma, hp.EpsilonStart, hp.EpsilonMin, hp.EpsilonDecay, hp.BatchSize)
			}
			return nil
		},
	}
}

func newCheckpointCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"checkpoints", "ckpt"},
		Short:   "Manage saved checkpoints",
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List checkpoint slots",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := opts.client(ctx)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			infos, err := client.Checkpoints(ctx)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return opts.printJSON(infos)
			}
			if len(infos) == 0 {
				opts.printf("no checkpoints found\n")
				return nil
			}
			for _, info := range infos {
				h := info.Header
				opts.printf("slot=%s tier=%s episodes=%d best_win_rate=%.3f size=%s saved=%s\n",
					info.Slot, nn.Tier(h.Tier), h.Episodes, h.BestWinRate,
					humanize.IBytes(uint64(info.Size)), humanize.Time(info.SavedAt))
			}
			return nil
		},
	}

	info := &cobra.Command{
		Use:   "info <slot>",
		Short: "Show a checkpoint header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := opts.client(ctx)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			info, err := client.CheckpointInfo(ctx, args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return opts.printJSON(info)
			}
			h := info.Header
			opts.printf("slot:          %s\n", info.Slot)
			opts.printf("tier:          %s\n", nn.Tier(h.Tier))
			opts.printf("episodes:      %s\n", humanize.Comma(int64(h.Episodes)))
			opts.printf("steps:         %s\n", humanize.Comma(int64(h.Steps)))
			opts.printf("training time: %s\n", storage.FormatTrainingTime(h.TrainingSeconds))
			opts.printf("best win rate: %.3f\n", h.BestWinRate)
			opts.printf("epsilon:       %.4f (min %.4f, decay %g)\n", h.Epsilon, h.EpsilonMin, h.EpsilonDecay)
			opts.printf("learning rate: %g\n", h.LearningRate)
			opts.printf("gamma:         %g\n", h.Gamma)
			opts.printf("batch size:    %d\n", h.BatchSize)
			opts.printf("checksum:      %08x\n", h.Checksum)
			opts.printf("size:          %s\n", humanize.IBytes(uint64(info.Size)))
			opts.printf("saved:         %s\n", info.SavedAt.Format(time.RFC3339))
			return nil
		},
	}

	del := &cobra.Command{
		Use:     "delete <slot>",
		Aliases: []string{"rm"},
		Short:   "Delete a checkpoint slot",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := opts.client(ctx)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			if err := client.DeleteCheckpoint(ctx, args[0]); err != nil {
				return err
			}
			opts.printf("deleted slot=%s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, info, del)
	return cmd
}

func newRunsCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			ctx := cmd.Context()
			client, err := opts.client(ctx)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			runs, err := client.Runs(ctx, neuronapi.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return opts.printJSON(runs)
			}
			if len(runs) == 0 {
				opts.printf("no runs found\n")
				return nil
			}
			for _, r := range runs {
				eval := "n/a"
				if r.EvalWinRate != nil {
					eval = fmt.Sprintf("%.3f", *r.EvalWinRate)
				}
				opts.printf("run_id=%s created_at=%s scape=%s tier=%s steps=%d episodes=%d win_rate=%.3f smoothed_loss=%.6f eval_win_rate=%s\n",
					r.RunID, r.CreatedAtUTC, r.Scape, r.Tier, r.Steps, r.Episodes, r.WinRate, r.SmoothedLoss, eval)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return cmd
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var req neuronapi.ExportRequest
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts to the exports directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := opts.client(ctx)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			summary, err := client.Export(ctx, req)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return opts.printJSON(summary)
			}
			opts.printf("exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.RunID, "run-id", "", "run id to export")
	f.BoolVar(&req.Latest, "latest", false, "export the most recent run")
	f.StringVar(&req.OutDir, "out", "", "destination directory (default --exports-dir)")
	return cmd
}
