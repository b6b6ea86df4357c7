package dataset

import (
	"context"
	"errors"
	"fmt"
)

// Mode selects how a DataSeq is consumed.
type Mode int

const (
	// ModeTrain reshuffles examples on every reset.
	ModeTrain Mode = iota
	// ModeEval keeps shard order.
	ModeEval
)

func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeEval:
		return "eval"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Options carries the job shapes a DataSeq is checked against.
type Options struct {
	SeqLength    int
	TargetLength int
	NumWorkers   int
	PendingCap   int
}

// DataSeq is one genome's decoded examples for one mode.
type DataSeq struct {
	Pattern string
	Mode    Mode
	// NumTargetsNonzero is the number of target channels present in the data.
	NumTargetsNonzero int
	// SeqDepth is the per-position input width.
	SeqDepth int
	Records  []Record
}

// Open resolves pattern, decodes every shard and checks the records against
// opts and against each other.
func Open(ctx context.Context, pattern string, mode Mode, opts Options) (*DataSeq, error) {
	shards, err := DiscoverShards(pattern)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("dataset: no shards match %s", pattern)
	}
	samples, err := loadShards(ctx, shards, opts.NumWorkers, opts.PendingCap)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", pattern, err)
	}
	ds, err := fromSamples(samples, mode, opts)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", pattern, err)
	}
	ds.Pattern = pattern
	return ds, nil
}

func fromSamples(samples []Sample, mode Mode, opts Options) (*DataSeq, error) {
	if len(samples) == 0 {
		return nil, errors.New("no records")
	}
	ds := &DataSeq{Mode: mode, Records: make([]Record, 0, len(samples))}
	for _, s := range samples {
		rec, err := DecodeSample(s)
		if err != nil {
			return nil, err
		}
		if opts.SeqLength > 0 && len(rec.Seq) != opts.SeqLength {
			return nil, fmt.Errorf("%s: sequence length %d, want %d", rec.Key, len(rec.Seq), opts.SeqLength)
		}
		if opts.TargetLength > 0 && len(rec.Targets) != opts.TargetLength {
			return nil, fmt.Errorf("%s: target length %d, want %d", rec.Key, len(rec.Targets), opts.TargetLength)
		}
		depth, numTargets := len(rec.Seq[0]), len(rec.Targets[0])
		if len(ds.Records) == 0 {
			ds.SeqDepth, ds.NumTargetsNonzero = depth, numTargets
		} else if depth != ds.SeqDepth || numTargets != ds.NumTargetsNonzero {
			return nil, fmt.Errorf("%s: shape %dx%d differs from %dx%d",
				rec.Key, depth, numTargets, ds.SeqDepth, ds.NumTargetsNonzero)
		}
		ds.Records = append(ds.Records, rec)
	}
	return ds, nil
}
