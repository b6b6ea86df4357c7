package trainer

import (
	"context"
	"errors"
	"testing"

	"github.com/seqforge/seqforge/internal/config"
	"github.com/seqforge/seqforge/internal/dataset"
)

type shape struct{ targets, depth int }

// fakeOpener serves DataSeqs keyed by pattern and records open order.
type fakeOpener struct {
	shapes map[string]shape
	opened []string
}

func (f *fakeOpener) open(_ context.Context, pattern string, mode dataset.Mode) (*dataset.DataSeq, error) {
	f.opened = append(f.opened, pattern)
	sh, ok := f.shapes[pattern]
	if !ok {
		return nil, errors.New("no such pattern")
	}
	return &dataset.DataSeq{Pattern: pattern, Mode: mode, NumTargetsNonzero: sh.targets, SeqDepth: sh.depth}, nil
}

func twoGenomeOpener() *fakeOpener {
	return &fakeOpener{shapes: map[string]shape{
		"g0/train": {3, 4}, "g0/eval": {3, 4},
		"g1/train": {2, 4}, "g1/eval": {2, 4},
	}}
}

func TestMakeDataOps(t *testing.T) {
	job := &config.Job{NumGenomes: 2, NumTargets: []int{3, 2}}
	op := twoGenomeOpener()
	train, eval, err := MakeDataOps(context.Background(), job,
		[]string{"g0/train", "g1/train"}, []string{"g0/eval", "g1/eval"}, op.open)
	if err != nil {
		t.Fatalf("MakeDataOps: %v", err)
	}
	if len(train) != 2 || len(eval) != 2 {
		t.Fatalf("expected two genomes, got %d/%d", len(train), len(eval))
	}
	if train[1].Pattern != "g1/train" || train[1].Mode != dataset.ModeTrain || eval[0].Mode != dataset.ModeEval {
		t.Fatalf("streams out of genome order: %+v %+v", train[1], eval[0])
	}
	if job.SeqDepth != 4 {
		t.Fatalf("expected inferred seq depth 4, got %d", job.SeqDepth)
	}
}

func TestMakeDataOpsTargetMismatch(t *testing.T) {
	job := &config.Job{NumGenomes: 2, NumTargets: []int{3, 5}}
	op := twoGenomeOpener()
	_, _, err := MakeDataOps(context.Background(), job,
		[]string{"g0/train", "g1/train"}, []string{"g0/eval", "g1/eval"}, op.open)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestMakeDataOpsDepthMismatch(t *testing.T) {
	job := &config.Job{NumGenomes: 2, NumTargets: []int{3, 2}}
	op := twoGenomeOpener()
	op.shapes["g1/train"] = shape{2, 5}
	_, _, err := MakeDataOps(context.Background(), job,
		[]string{"g0/train", "g1/train"}, []string{"g0/eval", "g1/eval"}, op.open)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestMakeDataOpsPatternCount(t *testing.T) {
	job := &config.Job{NumGenomes: 2, NumTargets: []int{3, 2}}
	op := twoGenomeOpener()
	_, _, err := MakeDataOps(context.Background(), job, []string{"g0/train"}, []string{"g0/eval", "g1/eval"}, op.open)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if len(op.opened) != 0 {
		t.Fatalf("expected no data to be opened, got %v", op.opened)
	}
}

func TestMakeDataOpsOpenError(t *testing.T) {
	job := &config.Job{NumGenomes: 1, NumTargets: []int{3}}
	op := twoGenomeOpener()
	if _, _, err := MakeDataOps(context.Background(), job, []string{"missing"}, []string{"g0/eval"}, op.open); err == nil {
		t.Fatalf("expected open error")
	}
}
