package trainer

import "math"

// State is the early-stopping bookkeeping threaded through the epoch loop.
type State struct {
	// Epoch counts completed epochs.
	Epoch int
	// BestLoss is only meaningful when HasBest is set.
	BestLoss  float64
	HasBest   bool
	BestEpoch int
	// EarlyStop counts consecutive epochs without improvement.
	EarlyStop     int
	TrainLoss     float64
	PrevTrainLoss float64
}

// NewState returns the state at process start.
func NewState() State {
	return State{BestLoss: math.Inf(1), BestEpoch: -1, TrainLoss: math.NaN(), PrevTrainLoss: math.NaN()}
}

// Advance folds one finished epoch into the state and reports whether its
// validation loss is a new best. A NaN loss never improves.
func (s *State) Advance(trainLoss, validLoss float64) bool {
	s.PrevTrainLoss = s.TrainLoss
	s.TrainLoss = trainLoss

	improved := !math.IsNaN(validLoss) && (!s.HasBest || validLoss < s.BestLoss)
	if improved {
		s.BestLoss = validLoss
		s.HasBest = true
		s.BestEpoch = s.Epoch
		s.EarlyStop = 0
	} else {
		s.EarlyStop++
	}
	s.Epoch++
	return improved
}

// Done reports whether the loop should stop. maxEpochs <= 0 means unbounded.
func (s State) Done(maxEpochs, patience int) bool {
	if maxEpochs > 0 && s.Epoch >= maxEpochs {
		return true
	}
	return s.EarlyStop >= patience
}
