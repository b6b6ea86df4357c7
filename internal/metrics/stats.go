package metrics

import (
	"fmt"
	"time"
)

// Window accumulates timing stats across epochs.
type Window struct {
	steps    int
	train    time.Duration
	eval     time.Duration
	epochs   int
	lastLoss float64
}

// Record adds one epoch's training steps, phase durations and loss.
func (w *Window) Record(steps int, trainTime, evalTime time.Duration, loss float64) {
	w.steps += steps
	w.train += trainTime
	w.eval += evalTime
	w.epochs++
	w.lastLoss = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	if w.train > 0 {
		snap.StepsPerSec = float64(w.steps) / w.train.Seconds()
	}
	if w.epochs > 0 {
		snap.AvgTrainSec = w.train.Seconds() / float64(w.epochs)
		snap.AvgEvalSec = w.eval.Seconds() / float64(w.epochs)
	}
	snap.LastLoss = w.lastLoss

	w.steps = 0
	w.train = 0
	w.eval = 0
	w.epochs = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	StepsPerSec float64
	AvgTrainSec float64
	AvgEvalSec  float64
	LastLoss    float64
}

// FormatElapsed renders d as seconds under ten minutes, minutes under 100
// minutes and fractional hours beyond.
func FormatElapsed(d time.Duration) string {
	et := d.Seconds()
	switch {
	case et < 600:
		return fmt.Sprintf("%3ds", int(et))
	case et < 6000:
		return fmt.Sprintf("%3dm", int(et/60))
	default:
		return fmt.Sprintf("%3.1fh", et/3600)
	}
}
