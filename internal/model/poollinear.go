package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/seqforge/seqforge/internal/accuracy"
	"github.com/seqforge/seqforge/internal/config"
	"github.com/seqforge/seqforge/internal/dataset"
)

const minRate = 1e-9

// PoolLinear averages the one-hot input over each target bin and predicts
// every target with a per-genome softplus linear head, trained with Poisson
// loss by minibatch SGD.
type PoolLinear struct {
	lr    float64
	shape DataShape
	pool  int
	// heads is [genome][target][seq_depth+1]; the last weight is the bias.
	heads [][][]float64
}

// NewPoolLinear returns an unbuilt model.
func NewPoolLinear(lr float64) *PoolLinear {
	if lr <= 0 {
		lr = 0.01
	}
	return &PoolLinear{lr: lr}
}

// Build sizes the heads for shape.
func (m *PoolLinear) Build(job config.Job, shape DataShape) error {
	if shape.SeqDepth <= 0 {
		return fmt.Errorf("model: seq depth must be > 0 (got %d)", shape.SeqDepth)
	}
	if shape.TargetLength <= 0 || shape.SeqLength%shape.TargetLength != 0 {
		return fmt.Errorf("model: seq length %d is not a multiple of target length %d",
			shape.SeqLength, shape.TargetLength)
	}
	if len(shape.NumTargets) != job.NumGenomes {
		return fmt.Errorf("model: %d target counts for %d genomes", len(shape.NumTargets), job.NumGenomes)
	}
	m.shape = shape
	m.pool = shape.SeqLength / shape.TargetLength
	m.heads = make([][][]float64, len(shape.NumTargets))
	for gi, nt := range shape.NumTargets {
		m.heads[gi] = make([][]float64, nt)
		for ti := range m.heads[gi] {
			m.heads[gi][ti] = make([]float64, shape.SeqDepth+1)
		}
	}
	return nil
}

// Initialize draws small random weights.
func (m *PoolLinear) Initialize(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, head := range m.heads {
		for _, w := range head {
			for j := range w {
				w[j] = (rng.Float64()*2 - 1) * 0.01
			}
		}
	}
}

// TrainEpoch runs one SGD pass per selected genome. A genome's loss is the
// mean over its usable rows; batches whose rows all miss a target take no
// step and do not count toward it.
func (m *PoolLinear) TrainEpoch(ctx context.Context, src BatchSource, sels []dataset.Selector, maxBatches int) ([]float64, int, error) {
	losses := make([]float64, len(sels))
	steps := 0
	for i, sel := range sels {
		if err := m.checkGenome(sel); err != nil {
			return nil, steps, err
		}
		sum, rows, batches := 0.0, 0, 0
		for ; maxBatches <= 0 || batches < maxBatches; batches++ {
			if err := ctx.Err(); err != nil {
				return nil, steps, err
			}
			batch, err := src.Next(sel)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, steps, fmt.Errorf("train %s: %w", sel, err)
			}
			loss, n, err := m.trainBatch(sel.Genome, batch)
			if err != nil {
				return nil, steps, fmt.Errorf("train %s: %w", sel, err)
			}
			if n == 0 {
				continue
			}
			sum += loss * float64(n)
			rows += n
			steps++
		}
		if rows == 0 {
			losses[i] = math.NaN()
			continue
		}
		losses[i] = sum / float64(rows)
	}
	return losses, steps, nil
}

// Evaluate predicts every (example, bin) row of the stream. Rows with any
// missing target are masked out of the statistics and the loss.
func (m *PoolLinear) Evaluate(ctx context.Context, src BatchSource, sel dataset.Selector, maxBatches int) (*accuracy.Report, error) {
	if err := m.checkGenome(sel); err != nil {
		return nil, err
	}
	head := m.heads[sel.Genome]
	nt := len(head)

	var targets, preds []float64
	var mask []bool
	lossSum := 0.0
	targetLoss := make([]float64, nt)
	kept := 0

	for batches := 0; maxBatches <= 0 || batches < maxBatches; batches++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := src.Next(sel)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", sel, err)
		}
		for ei, seq := range batch.Inputs {
			for bin, row := range batch.Targets[ei] {
				if len(row) != nt {
					return nil, fmt.Errorf("evaluate %s: %d targets, model has %d", sel, len(row), nt)
				}
				x := m.features(seq, bin)
				missing := hasNaN(row)
				mask = append(mask, missing)
				for ti, w := range head {
					pred, _ := predict(w, x)
					preds = append(preds, pred)
					if missing {
						targets = append(targets, 0)
						continue
					}
					targets = append(targets, row[ti])
					l := poisson(pred, row[ti])
					lossSum += l
					targetLoss[ti] += l
				}
				if !missing {
					kept++
				}
			}
		}
	}
	if len(mask) == 0 {
		return nil, fmt.Errorf("evaluate %s: no examples", sel)
	}

	loss := math.NaN()
	if kept > 0 {
		loss = lossSum / float64(kept*nt)
		floats.Scale(1/float64(kept), targetLoss)
	} else {
		for ti := range targetLoss {
			targetLoss[ti] = math.NaN()
		}
	}
	rows := len(mask)
	return accuracy.New(
		mat.NewDense(rows, nt, targets),
		mat.NewDense(rows, nt, preds),
		accuracy.WithMask(mask),
		accuracy.WithLoss(loss),
		accuracy.WithTargetLosses(targetLoss),
	), nil
}

// trainBatch applies one SGD step and returns the mean loss over the rows it
// used together with their count.
func (m *PoolLinear) trainBatch(genome int, batch dataset.Batch) (float64, int, error) {
	head := m.heads[genome]
	grads := make([][]float64, len(head))
	for ti := range grads {
		grads[ti] = make([]float64, m.shape.SeqDepth+1)
	}

	lossSum := 0.0
	count := 0
	for ei, seq := range batch.Inputs {
		for bin, row := range batch.Targets[ei] {
			if len(row) != len(head) {
				return 0, 0, fmt.Errorf("%d targets, model has %d", len(row), len(head))
			}
			if hasNaN(row) {
				continue
			}
			x := m.features(seq, bin)
			for ti, w := range head {
				pred, z := predict(w, x)
				lossSum += poisson(pred, row[ti])
				// d/dz [softplus(z) - y log softplus(z)]
				dz := (1 - row[ti]/pred) * sigmoid(z)
				floats.AddScaled(grads[ti], dz, x)
			}
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	for ti, w := range head {
		floats.AddScaled(w, -m.lr/float64(count), grads[ti])
	}
	return lossSum / float64(count*len(head)), count, nil
}

// features is the mean input over the bin's window plus a constant 1.
func (m *PoolLinear) features(seq [][]float64, bin int) []float64 {
	x := make([]float64, m.shape.SeqDepth+1)
	start := bin * m.pool
	for p := start; p < start+m.pool && p < len(seq); p++ {
		floats.Add(x[:m.shape.SeqDepth], seq[p])
	}
	floats.Scale(1/float64(m.pool), x[:m.shape.SeqDepth])
	x[m.shape.SeqDepth] = 1
	return x
}

func (m *PoolLinear) checkGenome(sel dataset.Selector) error {
	if m.heads == nil {
		return errors.New("model: not built")
	}
	if sel.Genome < 0 || sel.Genome >= len(m.heads) {
		return fmt.Errorf("model: no head for genome %d", sel.Genome)
	}
	return nil
}

type poolLinearState struct {
	Pool  int           `json:"pool"`
	Shape DataShape     `json:"shape"`
	Heads [][][]float64 `json:"heads"`
}

// MarshalBinary encodes the parameters as JSON.
func (m *PoolLinear) MarshalBinary() ([]byte, error) {
	if m.heads == nil {
		return nil, errors.New("model: not built")
	}
	return json.Marshal(poolLinearState{Pool: m.pool, Shape: m.shape, Heads: m.heads})
}

// UnmarshalBinary restores parameters into a built model of the same shape.
func (m *PoolLinear) UnmarshalBinary(data []byte) error {
	var st poolLinearState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("model: decode parameters: %w", err)
	}
	if m.heads != nil && !sameShape(m.shape, st.Shape) {
		return fmt.Errorf("model: checkpoint shape %+v does not match %+v", st.Shape, m.shape)
	}
	for gi, head := range st.Heads {
		if gi >= len(st.Shape.NumTargets) || len(head) != st.Shape.NumTargets[gi] {
			return fmt.Errorf("model: checkpoint head %d is malformed", gi)
		}
		for _, w := range head {
			if len(w) != st.Shape.SeqDepth+1 {
				return fmt.Errorf("model: checkpoint head %d is malformed", gi)
			}
		}
	}
	m.shape, m.pool, m.heads = st.Shape, st.Pool, st.Heads
	return nil
}

func sameShape(a, b DataShape) bool {
	if a.SeqLength != b.SeqLength || a.SeqDepth != b.SeqDepth || a.TargetLength != b.TargetLength {
		return false
	}
	if len(a.NumTargets) != len(b.NumTargets) {
		return false
	}
	for i := range a.NumTargets {
		if a.NumTargets[i] != b.NumTargets[i] {
			return false
		}
	}
	return true
}

func predict(w, x []float64) (pred, z float64) {
	z = floats.Dot(w, x)
	return math.Max(softplus(z), minRate), z
}

func softplus(z float64) float64 {
	if z > 30 {
		return z
	}
	return math.Log1p(math.Exp(z))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func poisson(pred, y float64) float64 {
	return pred - y*math.Log(pred)
}

func hasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
