package model

import (
	"context"
	"encoding"

	"github.com/seqforge/seqforge/internal/accuracy"
	"github.com/seqforge/seqforge/internal/config"
	"github.com/seqforge/seqforge/internal/dataset"
)

// BatchSource hands out batches of the selected stream. Next returns io.EOF
// once the stream is exhausted.
type BatchSource interface {
	Next(sel dataset.Selector) (dataset.Batch, error)
}

// DataShape describes the inputs a model is built for.
type DataShape struct {
	SeqLength    int
	SeqDepth     int
	TargetLength int
	// NumTargets holds one target count per genome.
	NumTargets []int
}

// ShapeOf derives the data shape from a validated job.
func ShapeOf(job config.Job) DataShape {
	return DataShape{
		SeqLength:    job.SeqLength,
		SeqDepth:     job.SeqDepth,
		TargetLength: job.TargetLength,
		NumTargets:   append([]int(nil), job.NumTargets...),
	}
}

// Model defines what the training loop needs from a network. Parameters are
// persisted through the binary marshaling methods.
type Model interface {
	Build(job config.Job, shape DataShape) error
	Initialize(seed int64)
	// TrainEpoch trains each selected genome in order until its stream is
	// exhausted or maxBatches (if > 0) is reached. It returns one mean loss
	// per selector and the total number of steps.
	TrainEpoch(ctx context.Context, src BatchSource, sels []dataset.Selector, maxBatches int) ([]float64, int, error)
	// Evaluate scores one genome's stream, bounded by maxBatches if > 0.
	Evaluate(ctx context.Context, src BatchSource, sel dataset.Selector, maxBatches int) (*accuracy.Report, error)

	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}
