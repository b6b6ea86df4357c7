package model

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/seqforge/seqforge/internal/config"
	"github.com/seqforge/seqforge/internal/dataset"
)

type sliceSource struct {
	batches map[dataset.Selector][]dataset.Batch
	pos     map[dataset.Selector]int
}

func newSliceSource() *sliceSource {
	return &sliceSource{
		batches: map[dataset.Selector][]dataset.Batch{},
		pos:     map[dataset.Selector]int{},
	}
}

func (s *sliceSource) Next(sel dataset.Selector) (dataset.Batch, error) {
	i := s.pos[sel]
	if i >= len(s.batches[sel]) {
		return dataset.Batch{}, io.EOF
	}
	s.pos[sel] = i + 1
	return s.batches[sel][i], nil
}

func (s *sliceSource) rewind() {
	s.pos = map[dataset.Selector]int{}
}

var testJob = config.Job{
	NumGenomes:   2,
	BatchSize:    2,
	SeqLength:    4,
	TargetLength: 2,
	NumTargets:   []int{2, 1},
	SeqDepth:     4,
}

func oneHot(s string) [][]float64 {
	out := make([][]float64, len(s))
	for i, c := range s {
		row := make([]float64, 4)
		switch c {
		case 'A':
			row[0] = 1
		case 'C':
			row[1] = 1
		case 'G':
			row[2] = 1
		case 'T':
			row[3] = 1
		}
		out[i] = row
	}
	return out
}

func builtModel(t *testing.T) *PoolLinear {
	t.Helper()
	m := NewPoolLinear(0.2)
	if err := m.Build(testJob, ShapeOf(testJob)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	m.Initialize(1)
	return m
}

func TestTrainEpochReducesLoss(t *testing.T) {
	m := builtModel(t)
	src := newSliceSource()
	train0 := dataset.Selector{Split: dataset.Train, Genome: 0}
	train1 := dataset.Selector{Split: dataset.Train, Genome: 1}
	src.batches[train0] = []dataset.Batch{{
		Inputs:  [][][]float64{oneHot("AAGG"), oneHot("CCTT")},
		Targets: [][][]float64{{{4, 0}, {0, 2}}, {{1, 1}, {0, 0}}},
	}}
	src.batches[train1] = []dataset.Batch{
		{Inputs: [][][]float64{oneHot("ACGT")}, Targets: [][][]float64{{{3}, {1}}}},
		{Inputs: [][][]float64{oneHot("TTTT")}, Targets: [][][]float64{{{0}, {0}}}},
	}

	sels := []dataset.Selector{train0, train1}
	first, steps, err := m.TrainEpoch(context.Background(), src, sels, 0)
	if err != nil {
		t.Fatalf("TrainEpoch: %v", err)
	}
	if steps != 3 {
		t.Fatalf("expected 3 steps, got %d", steps)
	}
	if len(first) != 2 {
		t.Fatalf("expected one loss per genome, got %v", first)
	}

	var last []float64
	for epoch := 0; epoch < 30; epoch++ {
		src.rewind()
		last, _, err = m.TrainEpoch(context.Background(), src, sels, 0)
		if err != nil {
			t.Fatalf("TrainEpoch: %v", err)
		}
	}
	for gi := range first {
		if last[gi] >= first[gi] {
			t.Fatalf("genome %d: expected loss to decrease; first=%f last=%f", gi, first[gi], last[gi])
		}
	}
}

func TestTrainEpochBatchCap(t *testing.T) {
	m := builtModel(t)
	src := newSliceSource()
	sel := dataset.Selector{Split: dataset.Train, Genome: 1}
	for i := 0; i < 5; i++ {
		src.batches[sel] = append(src.batches[sel], dataset.Batch{
			Inputs:  [][][]float64{oneHot("ACGT")},
			Targets: [][][]float64{{{1}, {2}}},
		})
	}
	_, steps, err := m.TrainEpoch(context.Background(), src, []dataset.Selector{sel}, 2)
	if err != nil {
		t.Fatalf("TrainEpoch: %v", err)
	}
	if steps != 2 {
		t.Fatalf("expected batch cap of 2 steps, got %d", steps)
	}
}

func TestEvaluateMasksMissingTargets(t *testing.T) {
	m := builtModel(t)
	src := newSliceSource()
	sel := dataset.Selector{Split: dataset.Eval, Genome: 0}
	src.batches[sel] = []dataset.Batch{{
		Inputs: [][][]float64{oneHot("AAGG"), oneHot("CCTT")},
		Targets: [][][]float64{
			{{4, 0}, {math.NaN(), 2}},
			{{1, 1}, {0, 3}},
		},
	}}

	rep, err := m.Evaluate(context.Background(), src, sel, 0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rep.NumTargets != 2 {
		t.Fatalf("expected 2 targets, got %d", rep.NumTargets)
	}
	if math.IsNaN(rep.Loss) || rep.Loss <= 0 {
		t.Fatalf("expected positive loss, got %f", rep.Loss)
	}
	if len(rep.TargetLosses) != 2 {
		t.Fatalf("expected per-target losses, got %v", rep.TargetLosses)
	}
	r2, err := rep.R2(false, 1)
	if err != nil {
		t.Fatalf("R2: %v", err)
	}
	for ti, v := range r2 {
		if math.IsNaN(v) {
			t.Fatalf("target %d: r2 should be defined, got NaN", ti)
		}
	}
}

func TestEvaluateEmptyStream(t *testing.T) {
	m := builtModel(t)
	sel := dataset.Selector{Split: dataset.Eval, Genome: 1}
	if _, err := m.Evaluate(context.Background(), newSliceSource(), sel, 0); err == nil {
		t.Fatalf("expected error for empty stream")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	m := builtModel(t)
	data, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	restored := NewPoolLinear(0.5)
	if err := restored.Build(testJob, ShapeOf(testJob)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	for gi := range m.heads {
		for ti := range m.heads[gi] {
			for j, w := range m.heads[gi][ti] {
				if restored.heads[gi][ti][j] != w {
					t.Fatalf("weight %d/%d/%d differs", gi, ti, j)
				}
			}
		}
	}

	other := testJob
	other.NumTargets = []int{3, 1}
	mismatched := NewPoolLinear(0.5)
	if err := mismatched.Build(other, ShapeOf(other)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := mismatched.UnmarshalBinary(data); err == nil {
		t.Fatalf("expected shape mismatch error")
	}
}

func TestBuildRejectsBadShapes(t *testing.T) {
	bad := testJob
	bad.SeqLength = 5
	if err := NewPoolLinear(0).Build(bad, ShapeOf(bad)); err == nil {
		t.Fatalf("expected error for indivisible seq length")
	}
	bad = testJob
	bad.SeqDepth = 0
	if err := NewPoolLinear(0).Build(bad, ShapeOf(bad)); err == nil {
		t.Fatalf("expected error for unknown seq depth")
	}
}

func TestTrainEpochSkipsBatchesWithoutTargets(t *testing.T) {
	good := dataset.Batch{
		Inputs:  [][][]float64{oneHot("AAGG"), oneHot("CCTT")},
		Targets: [][][]float64{{{4}, {0}}, {{1}, {2}}},
	}
	missing := dataset.Batch{
		Inputs:  [][][]float64{oneHot("ACGT")},
		Targets: [][][]float64{{{math.NaN()}, {math.NaN()}}},
	}
	sel := dataset.Selector{Split: dataset.Train, Genome: 1}

	run := func(batches ...dataset.Batch) ([]float64, int) {
		t.Helper()
		m := builtModel(t)
		src := newSliceSource()
		src.batches[sel] = batches
		losses, steps, err := m.TrainEpoch(context.Background(), src, []dataset.Selector{sel}, 0)
		if err != nil {
			t.Fatalf("TrainEpoch: %v", err)
		}
		return losses, steps
	}

	want, _ := run(good)
	got, steps := run(good, missing)
	if math.Abs(got[0]-want[0]) > 1e-12 {
		t.Fatalf("batch without targets changed the loss: got %f want %f", got[0], want[0])
	}
	if steps != 1 {
		t.Fatalf("expected 1 step, got %d", steps)
	}

	onlyMissing, steps := run(missing)
	if !math.IsNaN(onlyMissing[0]) || steps != 0 {
		t.Fatalf("expected NaN loss and no steps, got %f and %d", onlyMissing[0], steps)
	}
}

func TestTrainEpochRejectsTargetWidth(t *testing.T) {
	m := builtModel(t)
	src := newSliceSource()
	sel := dataset.Selector{Split: dataset.Train, Genome: 0}
	src.batches[sel] = []dataset.Batch{{
		Inputs:  [][][]float64{oneHot("ACGT")},
		Targets: [][][]float64{{{1}, {2}}},
	}}
	if _, _, err := m.TrainEpoch(context.Background(), src, []dataset.Selector{sel}, 0); err == nil {
		t.Fatalf("expected error for one target where the model has two")
	}
}
