// Package accuracy scores model predictions against held-out targets,
// one statistic per target column.
package accuracy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ShapeError reports targets, predictions or mask that do not line up.
type ShapeError struct {
	Op        string
	Want, Got [2]int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("accuracy: %s: shape mismatch: want %dx%d, got %dx%d",
		e.Op, e.Want[0], e.Want[1], e.Got[0], e.Got[1])
}

// Report binds targets and predictions of one evaluation. It is read-only
// after construction; every statistic is recomputed on each call.
type Report struct {
	targets mat.Matrix
	preds   mat.Matrix
	mask    []bool

	// Loss is the scalar evaluation loss, NaN when not supplied.
	Loss float64
	// TargetLosses holds the per-target loss, nil when not supplied.
	TargetLosses []float64
	// NumTargets is the column count of the target matrix.
	NumTargets int
}

// Option configures optional Report inputs.
type Option func(*Report)

// WithMask excludes every example i with mask[i] == true from all targets.
func WithMask(mask []bool) Option {
	return func(r *Report) { r.mask = mask }
}

// WithLoss attaches the scalar evaluation loss.
func WithLoss(loss float64) Option {
	return func(r *Report) { r.Loss = loss }
}

// WithTargetLosses attaches per-target losses.
func WithTargetLosses(losses []float64) Option {
	return func(r *Report) { r.TargetLosses = losses }
}

// New builds a Report. Shapes are not checked here; a mismatch surfaces as a
// *ShapeError from the first statistic that needs the data.
func New(targets, preds mat.Matrix, opts ...Option) *Report {
	r := &Report{targets: targets, preds: preds, Loss: math.NaN()}
	for _, opt := range opts {
		opt(r)
	}
	_, r.NumTargets = targets.Dims()
	return r
}

// Pearson returns the Pearson correlation of every target column, optionally
// after log2(x+pseudocount) on both targets and predictions.
func (r *Report) Pearson(log bool, pseudocount float64) ([]float64, error) {
	return r.perTarget("pearson", log, pseudocount, pearson)
}

// Spearman returns the Spearman rank correlation of every target column.
func (r *Report) Spearman() ([]float64, error) {
	return r.perTarget("spearman", false, 0, func(t, p []float64) float64 {
		return pearson(rank(t), rank(p))
	})
}

// R2 returns 1 - Var(target-pred)/Var(target-mean) for every target column,
// using population variances.
func (r *Report) R2(log bool, pseudocount float64) ([]float64, error) {
	return r.perTarget("r2", log, pseudocount, r2)
}

// MeanR2 averages R2(false, 1) over the targets that are not NaN. A constant
// target column has no defined R2 and is left out of the average.
func (r *Report) MeanR2() (float64, error) {
	vals, err := r.R2(false, 1)
	if err != nil {
		return math.NaN(), err
	}
	return NanMean(vals), nil
}

// NanMean is the arithmetic mean of the non-NaN entries of x, NaN if none.
func NanMean(x []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range x {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func (r *Report) perTarget(op string, log bool, pseudocount float64, fn func(t, p []float64) float64) ([]float64, error) {
	if err := r.checkShape(op); err != nil {
		return nil, err
	}
	out := make([]float64, r.NumTargets)
	for ti := 0; ti < r.NumTargets; ti++ {
		tcol := mat.Col(nil, ti, r.targets)
		pcol := mat.Col(nil, ti, r.preds)
		t, p := selectColumn(tcol, pcol, r.mask, log, pseudocount)
		if len(t) == 0 {
			out[ti] = math.NaN()
			continue
		}
		out[ti] = fn(t, p)
	}
	return out, nil
}

func (r *Report) checkShape(op string) error {
	tr, tc := r.targets.Dims()
	pr, pc := r.preds.Dims()
	if tr != pr || tc != pc {
		return &ShapeError{Op: op, Want: [2]int{tr, tc}, Got: [2]int{pr, pc}}
	}
	if r.mask != nil && len(r.mask) != tr {
		return &ShapeError{Op: op + " mask", Want: [2]int{tr, 1}, Got: [2]int{len(r.mask), 1}}
	}
	return nil
}

// selectColumn drops masked examples and optionally log-transforms. The
// returned slices never alias the inputs.
func selectColumn(targets, preds []float64, mask []bool, log bool, pseudocount float64) ([]float64, []float64) {
	t := make([]float64, 0, len(targets))
	p := make([]float64, 0, len(preds))
	for i := range targets {
		if mask != nil && mask[i] {
			continue
		}
		tv, pv := targets[i], preds[i]
		if log {
			tv = math.Log2(tv + pseudocount)
			pv = math.Log2(pv + pseudocount)
		}
		t = append(t, tv)
		p = append(p, pv)
	}
	return t, p
}

func pearson(t, p []float64) float64 {
	if constant(t) || constant(p) {
		return math.NaN()
	}
	return stat.Correlation(t, p, nil)
}

func r2(t, p []float64) float64 {
	if constant(t) {
		return math.NaN()
	}
	tmean := stat.Mean(t, nil)
	centered := make([]float64, len(t))
	copy(centered, t)
	floats.AddConst(-tmean, centered)
	resid := make([]float64, len(t))
	floats.SubTo(resid, t, p)

	_, tvar := stat.PopMeanVariance(centered, nil)
	_, pvar := stat.PopMeanVariance(resid, nil)
	if tvar == 0 {
		return math.NaN()
	}
	return 1 - pvar/tvar
}

// constant reports zero variance without trusting a computed variance to be
// exactly zero.
func constant(x []float64) bool {
	return floats.Max(x) == floats.Min(x)
}

// rank assigns 1-based ranks, giving tied values the mean of their ranks.
func rank(x []float64) []float64 {
	sorted := append([]float64(nil), x...)
	inds := make([]int, len(x))
	floats.Argsort(sorted, inds)

	ranks := make([]float64, len(x))
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[inds[k]] = avg
		}
		i = j
	}
	return ranks
}
