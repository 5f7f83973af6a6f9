package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"neuron/internal/storage"
	neuronapi "neuron/pkg/neuron"
)

func newTrainCmd(opts *globalOptions) *cobra.Command {
	flags := &trainFlags{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a network and record the run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(cmd.Flags())
			if err != nil {
				return err
			}
			if flags.evaluate < 0 {
				return fmt.Errorf("evaluate must be >= 0")
			}

			ctx := cmd.Context()
			client, err := opts.client(ctx)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			summary, err := client.Train(ctx, req)
			if err != nil {
				return err
			}

			var eval *neuronapi.EvaluateSummary
			if flags.evaluate > 0 {
				evalReq := neuronapi.EvaluateRequest{
					Scape:    req.Scape,
					Tier:     summary.Tier,
					Episodes: flags.evaluate,
					RunID:    summary.RunID,
				}
				if req.SaveSlot != "" {
					evalReq.Checkpoint = req.SaveSlot
				}
				result, err := client.Evaluate(ctx, evalReq)
				if err != nil {
					return err
				}
				eval = &result
			}

			if opts.jsonOut {
				return opts.printJSON(map[string]any{"train": summary, "evaluation": eval})
			}
			opts.printf("run_id=%s tier=%s steps=%d episodes=%d win_rate=%.3f best_win_rate=%.3f epsilon=%.4f smoothed_loss=%.6f elapsed=%s\n",
				summary.RunID,
				summary.Tier,
				summary.Steps,
				summary.Episodes,
				summary.WinRate,
				summary.BestWinRate,
				summary.Epsilon,
				summary.SmoothedLoss,
				summary.Elapsed.Round(time.Millisecond),
			)
			opts.printf("loss: mean=%.6f min=%.6f max=%.6f slope=%.3g samples=%s\n",
				summary.Loss.Mean, summary.Loss.Min, summary.Loss.Max, summary.Loss.Slope, humanize.Comma(int64(summary.Loss.Count)))
			if summary.Checkpoint != nil {
				opts.printf("checkpoint=%s crc32=%08x training_time=%s\n",
					req.SaveSlot, summary.Checkpoint.Checksum, storage.FormatTrainingTime(summary.Checkpoint.TrainingSeconds))
			}
			if eval != nil {
				opts.printf("evaluation: episodes=%d wins=%d win_rate=%.3f avg_reward=%.3f\n",
					eval.Report.Episodes, eval.Report.Wins, eval.Report.WinRate, eval.Report.AvgReward)
			}
			opts.printf("artifacts=%s\n", summary.ArtifactsDir)
			return nil
		},
	}
	flags.register(cmd.Flags())
	return cmd
}
