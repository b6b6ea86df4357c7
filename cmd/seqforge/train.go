package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/seqforge/seqforge/internal/checkpoint"
	"github.com/seqforge/seqforge/internal/config"
	"github.com/seqforge/seqforge/internal/dataset"
	"github.com/seqforge/seqforge/internal/model"
	"github.com/seqforge/seqforge/internal/summary"
	"github.com/seqforge/seqforge/internal/trainer"
)

var trainOverrides config.Overrides

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train across all genomes with early stopping",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(trainOverrides, (*config.Config).Validate)
		if err != nil {
			return err
		}
		return train(cmd.Context(), cfg)
	},
}

func init() {
	f := trainCmd.Flags()
	f.StringVar(&trainOverrides.TrainData, "train-data", "", "Comma separated train shard patterns, one per genome")
	f.StringVar(&trainOverrides.EvalData, "eval-data", "", "Comma separated eval shard patterns, one per genome")
	f.IntVar(&trainOverrides.TrainEpochs, "train-epochs", 0, "Maximum epochs (0 trains until early stopping)")
	f.IntVar(&trainOverrides.TrainEpochBatches, "train-epoch-batches", 0, "Train batches per genome per epoch")
	f.IntVar(&trainOverrides.EvalEpochBatches, "eval-epoch-batches", 0, "Eval batches per genome per epoch")
	f.IntVar(&trainOverrides.EarlyStop, "early-stop", 0, "Epochs without improvement before stopping")
	f.StringVar(&trainOverrides.Restart, "restart", "", "Checkpoint to resume from")
	f.StringVar(&trainOverrides.LogDir, "logdir", "", "Checkpoint and summary directory")
	f.Int64Var(&trainOverrides.Seed, "seed", 0, "PRNG seed")
	f.IntVar(&trainOverrides.NumWorkers, "num-workers", 0, "Shard decoding workers")
	f.Float64Var(&trainOverrides.LearningRate, "learning-rate", 0, "SGD learning rate")
}

func loadConfig(o config.Overrides, validate func(*config.Config) error) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyOverrides(o)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// logShards resolves every genome's pattern up front so a missing shard set
// fails before any decoding starts.
func logShards(split string, patterns []string) error {
	byGenome, err := dataset.DiscoverByGenome(patterns)
	if err != nil {
		return fmt.Errorf("discover %s shards: %w", split, err)
	}
	for gi, shards := range byGenome {
		log.Printf("genome=%d split=%s pattern=%s shards=%d", gi, split, patterns[gi], len(shards))
	}
	return nil
}

func train(ctx context.Context, cfg *config.Config) error {
	if err := logShards("train", cfg.TrainData); err != nil {
		return err
	}
	if err := logShards("eval", cfg.EvalData); err != nil {
		return err
	}
	opener := trainer.DatasetOpener(cfg.Job, cfg.NumWorkers)
	trainSets, evalSets, err := trainer.MakeDataOps(ctx, &cfg.Job, cfg.TrainData, cfg.EvalData, opener)
	if err != nil {
		return err
	}
	for gi := range trainSets {
		log.Printf("genome=%d train=%d eval=%d targets=%d", gi,
			len(trainSets[gi].Records), len(evalSets[gi].Records), trainSets[gi].NumTargetsNonzero)
	}

	arena, err := dataset.NewArena(trainSets, evalSets, cfg.Job.BatchSize, cfg.Seed)
	if err != nil {
		return err
	}
	mdl := model.NewPoolLinear(cfg.LearningRate)
	if err := mdl.Build(cfg.Job, model.ShapeOf(cfg.Job)); err != nil {
		return err
	}

	logDir := cfg.LogDir
	if logDir == "" {
		logDir = "."
	}
	sink := checkpoint.NewSink(logDir, mdl)

	var rec trainer.Recorder
	store, err := summary.Open(filepath.Join(logDir, summary.DefaultFile))
	if err != nil {
		log.Printf("summary disabled: %v", err)
	} else {
		defer store.Close()
		if _, err := store.StartRun(ctx, cfg); err != nil {
			log.Printf("summary disabled: %v", err)
		} else {
			rec = store
		}
	}

	runCfg := trainer.RunConfig{
		MaxEpochs:    cfg.TrainEpochs,
		Patience:     cfg.EarlyStop,
		TrainBatches: cfg.TrainEpochBatches,
		EvalBatches:  cfg.EvalEpochBatches,
		Restore:      cfg.Restart,
		Seed:         cfg.Seed,
	}
	state, err := trainer.Run(ctx, runCfg, mdl, arena, sink, rec)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	if state.HasBest {
		log.Printf("best valid loss %.5f at epoch %d, saved to %s", state.BestLoss, state.BestEpoch+1, sink.Path(trainer.BestTag))
	}

	if rec != nil {
		history, err := store.History(ctx, store.RunID())
		if err == nil && len(history) > 0 {
			err = summary.PlotCurves(filepath.Join(logDir, "curves.png"), history)
		}
		if err != nil {
			log.Printf("summary: %v", err)
		}
	}
	return nil
}
