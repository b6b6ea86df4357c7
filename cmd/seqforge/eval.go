package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seqforge/seqforge/internal/accuracy"
	"github.com/seqforge/seqforge/internal/checkpoint"
	"github.com/seqforge/seqforge/internal/config"
	"github.com/seqforge/seqforge/internal/dataset"
	"github.com/seqforge/seqforge/internal/model"
	"github.com/seqforge/seqforge/internal/trainer"
)

var (
	evalOverrides config.Overrides
	evalLog       bool
	evalPseudo    float64
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a checkpoint on every genome's eval data",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(evalOverrides, (*config.Config).ValidateEval)
		if err != nil {
			return err
		}
		if cfg.Restart == "" {
			return errors.New("eval requires --restart")
		}
		return evaluate(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

func init() {
	f := evalCmd.Flags()
	f.StringVar(&evalOverrides.EvalData, "eval-data", "", "Comma separated eval shard patterns, one per genome")
	f.StringVar(&evalOverrides.Restart, "restart", "", "Checkpoint to evaluate")
	f.IntVar(&evalOverrides.EvalEpochBatches, "eval-batches", 0, "Eval batches per genome (0 reads everything)")
	f.IntVar(&evalOverrides.NumWorkers, "num-workers", 0, "Shard decoding workers")
	f.BoolVar(&evalLog, "log", false, "Compare log2(x + pseudocount) values")
	f.Float64Var(&evalPseudo, "pseudocount", 1, "Pseudocount for --log")
}

func evaluate(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if err := logShards("eval", cfg.EvalData); err != nil {
		return err
	}
	opener := trainer.DatasetOpener(cfg.Job, cfg.NumWorkers)
	evalSets, err := trainer.OpenSplit(ctx, &cfg.Job, cfg.EvalData, dataset.ModeEval, opener)
	if err != nil {
		return err
	}
	arena, err := dataset.NewArena(evalSets, evalSets, cfg.Job.BatchSize, cfg.Seed)
	if err != nil {
		return err
	}

	mdl := model.NewPoolLinear(cfg.LearningRate)
	if err := mdl.Build(cfg.Job, model.ShapeOf(cfg.Job)); err != nil {
		return err
	}
	if err := checkpoint.NewSink("", mdl).Restore(cfg.Restart); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "genome\ttarget\tloss\tpearson\tspearman\tr2\t")
	for gi := 0; gi < arena.NumGenomes(); gi++ {
		sel := dataset.Selector{Split: dataset.Eval, Genome: gi}
		if err := arena.Reset(sel); err != nil {
			return err
		}
		rep, err := mdl.Evaluate(ctx, arena, sel, cfg.EvalEpochBatches)
		if err != nil {
			return err
		}
		if err := writeReport(tw, gi, rep); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func writeReport(w io.Writer, genome int, rep *accuracy.Report) error {
	pearson, err := rep.Pearson(evalLog, evalPseudo)
	if err != nil {
		return err
	}
	spearman, err := rep.Spearman()
	if err != nil {
		return err
	}
	r2, err := rep.R2(evalLog, evalPseudo)
	if err != nil {
		return err
	}
	for ti := 0; ti < rep.NumTargets; ti++ {
		loss := rep.Loss
		if ti < len(rep.TargetLosses) {
			loss = rep.TargetLosses[ti]
		}
		fmt.Fprintf(w, "%d\t%d\t%.5f\t%.5f\t%.5f\t%.5f\t\n", genome, ti, loss, pearson[ti], spearman[ti], r2[ti])
	}
	fmt.Fprintf(w, "%d\tmean\t%.5f\t%.5f\t%.5f\t%.5f\t\n", genome, rep.Loss,
		accuracy.NanMean(pearson), accuracy.NanMean(spearman), accuracy.NanMean(r2))
	return nil
}
