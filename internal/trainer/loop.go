package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/seqforge/seqforge/internal/accuracy"
	"github.com/seqforge/seqforge/internal/dataset"
	"github.com/seqforge/seqforge/internal/metrics"
	"github.com/seqforge/seqforge/internal/model"
)

// BestTag names the checkpoint written on every validation improvement.
const BestTag = "best"

// Streams gives the loop restartable per-genome train and eval streams.
type Streams interface {
	model.BatchSource
	NumGenomes() int
	Reset(sel dataset.Selector) error
}

// Checkpointer persists and restores the model's parameters.
type Checkpointer interface {
	Save(tag string) (string, error)
	Restore(path string) error
}

// Recorder receives each finished epoch. Failures are logged and do not stop
// training.
type Recorder interface {
	RecordEpoch(ctx context.Context, ep metrics.Epoch) error
}

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	// MaxEpochs bounds the loop; 0 means until early stopping.
	MaxEpochs int
	// Patience is the number of epochs without improvement before stopping.
	Patience int
	// TrainBatches and EvalBatches cap batches per genome per epoch; 0 means
	// the whole stream.
	TrainBatches int
	EvalBatches  int
	// Restore is a checkpoint to resume from instead of initializing.
	Restore string
	Seed    int64
}

// Run trains mdl until MaxEpochs or early stopping and returns the final
// state. mdl must already be built for the streams' shapes.
func Run(ctx context.Context, cfg RunConfig, mdl model.Model, streams Streams, ckpt Checkpointer, rec Recorder) (State, error) {
	state := NewState()
	if cfg.Patience <= 0 {
		return state, errors.New("trainer: patience must be > 0")
	}
	if cfg.MaxEpochs < 0 {
		return state, errors.New("trainer: max epochs must be >= 0")
	}
	if streams.NumGenomes() == 0 {
		return state, errors.New("trainer: no genomes")
	}

	if cfg.Restore != "" {
		if err := ckpt.Restore(cfg.Restore); err != nil {
			return state, err
		}
		log.Printf("Restored model from %s", cfg.Restore)
	} else {
		t0 := time.Now()
		mdl.Initialize(cfg.Seed)
		log.Printf("Initialization time %fs", time.Since(t0).Seconds())
	}

	var window metrics.Window
	steps := 0
	for !state.Done(cfg.MaxEpochs, cfg.Patience) {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		t0 := time.Now()
		ep, trainTime, err := runEpoch(ctx, cfg, mdl, streams)
		if err != nil {
			return state, fmt.Errorf("epoch %d: %w", state.Epoch, err)
		}
		ep.Epoch = state.Epoch
		epochSteps := ep.Steps
		steps += epochSteps
		ep.Steps = steps

		ep.Best = state.Advance(ep.TrainLoss, ep.ValidLoss)
		if ep.Best {
			if _, err := ckpt.Save(BestTag); err != nil {
				return state, err
			}
		}
		ep.Elapsed = time.Since(t0)
		window.Record(epochSteps, trainTime, ep.Elapsed-trainTime, ep.TrainLoss)

		logEpoch(ep)
		if rec != nil {
			if err := rec.RecordEpoch(ctx, ep); err != nil {
				log.Printf("summary: %v", err)
			}
		}
	}

	snap := window.Snapshot()
	log.Printf("steps_per_sec=%.1f train_sec=%.2f eval_sec=%.2f epochs=%d best_epoch=%d",
		snap.StepsPerSec, snap.AvgTrainSec, snap.AvgEvalSec, state.Epoch, state.BestEpoch+1)
	return state, nil
}

// runEpoch trains every genome then evaluates every genome. The returned
// Steps counts this epoch only.
func runEpoch(ctx context.Context, cfg RunConfig, mdl model.Model, streams Streams) (metrics.Epoch, time.Duration, error) {
	n := streams.NumGenomes()
	ep := metrics.Epoch{Genomes: make([]metrics.GenomeEpoch, n)}

	t0 := time.Now()
	sels := make([]dataset.Selector, n)
	for gi := range sels {
		sels[gi] = dataset.Selector{Split: dataset.Train, Genome: gi}
		if err := streams.Reset(sels[gi]); err != nil {
			return ep, 0, err
		}
	}
	trainLosses, steps, err := mdl.TrainEpoch(ctx, streams, sels, cfg.TrainBatches)
	if err != nil {
		return ep, 0, err
	}
	if len(trainLosses) != n {
		return ep, 0, fmt.Errorf("trainer: model returned %d train losses for %d genomes", len(trainLosses), n)
	}
	trainTime := time.Since(t0)
	ep.Steps = steps

	validLosses := make([]float64, n)
	validR2 := make([]float64, n)
	for gi := 0; gi < n; gi++ {
		rep, err := evaluate(ctx, cfg, mdl, streams, gi)
		if err != nil {
			return ep, 0, err
		}
		r2, err := rep.MeanR2()
		if err != nil {
			return ep, 0, err
		}
		validLosses[gi], validR2[gi] = rep.Loss, r2
		ep.Genomes[gi] = metrics.GenomeEpoch{
			Genome:    gi,
			TrainLoss: trainLosses[gi],
			ValidLoss: rep.Loss,
			ValidR2:   r2,
		}
	}

	ep.TrainLoss = stat.Mean(trainLosses, nil)
	ep.ValidLoss = stat.Mean(validLosses, nil)
	ep.ValidR2 = stat.Mean(validR2, nil)
	return ep, trainTime, nil
}

func evaluate(ctx context.Context, cfg RunConfig, mdl model.Model, streams Streams, gi int) (*accuracy.Report, error) {
	sel := dataset.Selector{Split: dataset.Eval, Genome: gi}
	if err := streams.Reset(sel); err != nil {
		return nil, err
	}
	return mdl.Evaluate(ctx, streams, sel, cfg.EvalBatches)
}

func logEpoch(ep metrics.Epoch) {
	best := ""
	if ep.Best {
		best = ", best!"
	}
	log.Printf("Epoch: %3d,  Steps: %7d,  Train loss: %7.5f, Valid loss: %7.5f, Valid R2: %7.5f, Time: %s%s",
		ep.Epoch+1, ep.Steps, ep.TrainLoss, ep.ValidLoss, ep.ValidR2, metrics.FormatElapsed(ep.Elapsed), best)
	for _, g := range ep.Genomes {
		log.Printf(" Genome:%d,                    Train loss: %7.5f, Valid loss: %7.5f, Valid R2: %7.5f",
			g.Genome, g.TrainLoss, g.ValidLoss, g.ValidR2)
	}
}
