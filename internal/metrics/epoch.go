package metrics

import "time"

// GenomeEpoch is one genome's share of an epoch.
type GenomeEpoch struct {
	Genome    int
	TrainLoss float64
	ValidLoss float64
	ValidR2   float64
}

// Epoch is the aggregate outcome of one training epoch.
type Epoch struct {
	// Epoch is zero-based.
	Epoch     int
	Steps     int
	TrainLoss float64
	ValidLoss float64
	ValidR2   float64
	Elapsed   time.Duration
	Best      bool
	Genomes   []GenomeEpoch
}
