package trainer

import (
	"context"
	"errors"
	"fmt"

	"github.com/seqforge/seqforge/internal/config"
	"github.com/seqforge/seqforge/internal/dataset"
)

// ErrConfiguration marks a job that does not match its data. It is fatal and
// raised before any epoch runs.
var ErrConfiguration = errors.New("trainer: configuration mismatch")

// Opener is the per-genome data source factory.
type Opener func(ctx context.Context, pattern string, mode dataset.Mode) (*dataset.DataSeq, error)

// DatasetOpener opens shards with dataset.Open, checking record shapes
// against job.
func DatasetOpener(job config.Job, numWorkers int) Opener {
	opts := dataset.Options{
		SeqLength:    job.SeqLength,
		TargetLength: job.TargetLength,
		NumWorkers:   numWorkers,
	}
	return func(ctx context.Context, pattern string, mode dataset.Mode) (*dataset.DataSeq, error) {
		return dataset.Open(ctx, pattern, mode, opts)
	}
}

// MakeDataOps opens one train and one eval DataSeq per genome and checks each
// against job: target counts must match num_targets and every genome must
// share the input depth, which is inferred from the first genome when the
// job leaves seq_depth unset.
func MakeDataOps(ctx context.Context, job *config.Job, trainPatterns, evalPatterns []string, open Opener) ([]*dataset.DataSeq, []*dataset.DataSeq, error) {
	if len(trainPatterns) != job.NumGenomes || len(evalPatterns) != job.NumGenomes {
		return nil, nil, fmt.Errorf("%w: %d genomes but %d train and %d eval patterns",
			ErrConfiguration, job.NumGenomes, len(trainPatterns), len(evalPatterns))
	}
	if len(job.NumTargets) != job.NumGenomes {
		return nil, nil, fmt.Errorf("%w: %d genomes but %d target counts",
			ErrConfiguration, job.NumGenomes, len(job.NumTargets))
	}

	train, err := OpenSplit(ctx, job, trainPatterns, dataset.ModeTrain, open)
	if err != nil {
		return nil, nil, err
	}
	eval, err := OpenSplit(ctx, job, evalPatterns, dataset.ModeEval, open)
	if err != nil {
		return nil, nil, err
	}
	return train, eval, nil
}

// OpenSplit opens one DataSeq per genome in mode and checks each against job.
func OpenSplit(ctx context.Context, job *config.Job, patterns []string, mode dataset.Mode, open Opener) ([]*dataset.DataSeq, error) {
	if len(patterns) != job.NumGenomes || len(job.NumTargets) != job.NumGenomes {
		return nil, fmt.Errorf("%w: %d genomes but %d %s patterns and %d target counts",
			ErrConfiguration, job.NumGenomes, len(patterns), mode, len(job.NumTargets))
	}
	sets := make([]*dataset.DataSeq, job.NumGenomes)
	for gi, pattern := range patterns {
		ds, err := open(ctx, pattern, mode)
		if err != nil {
			return nil, fmt.Errorf("genome %d %s data: %w", gi, mode, err)
		}
		if err := checkGenome(job, gi, ds); err != nil {
			return nil, err
		}
		sets[gi] = ds
	}
	return sets, nil
}

func checkGenome(job *config.Job, gi int, ds *dataset.DataSeq) error {
	if ds.NumTargetsNonzero != job.NumTargets[gi] {
		return fmt.Errorf("%w: genome %d %s data has %d targets, job declares %d",
			ErrConfiguration, gi, ds.Mode, ds.NumTargetsNonzero, job.NumTargets[gi])
	}
	if err := job.ObserveSeqDepth(ds.SeqDepth); err != nil {
		return fmt.Errorf("%w: genome %d %s data: %v", ErrConfiguration, gi, ds.Mode, err)
	}
	return nil
}
