package dataset

import (
	"math"
	"reflect"
	"testing"
)

func TestDecodeSampleOneHot(t *testing.T) {
	rec, err := DecodeSample(Sample{Key: "k", Seq: []byte("ACgTN\n"), Targets: []byte("1 2\nnan 4\n")})
	if err != nil {
		t.Fatalf("DecodeSample: %v", err)
	}
	want := [][]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
		{0, 0, 0, 0},
	}
	if !reflect.DeepEqual(rec.Seq, want) {
		t.Fatalf("unexpected one-hot %v", rec.Seq)
	}
	if len(rec.Targets) != 2 || len(rec.Targets[0]) != 2 {
		t.Fatalf("unexpected targets shape %v", rec.Targets)
	}
	if !math.IsNaN(rec.Targets[1][0]) || rec.Targets[1][1] != 4 {
		t.Fatalf("unexpected targets %v", rec.Targets)
	}
}

func TestDecodeSampleFloatRows(t *testing.T) {
	rec, err := DecodeSample(Sample{
		Key:     "k",
		Seq:     []byte("0.1 0.2 0.3 0.4 0.5\n1 0 0 0 0\n"),
		Targets: []byte("3\n"),
	})
	if err != nil {
		t.Fatalf("DecodeSample: %v", err)
	}
	if len(rec.Seq) != 2 || len(rec.Seq[0]) != 5 {
		t.Fatalf("expected 2x5 sequence, got %dx%d", len(rec.Seq), len(rec.Seq[0]))
	}
}

func TestDecodeSampleErrors(t *testing.T) {
	cases := map[string]Sample{
		"ragged":  {Key: "k", Seq: []byte("ACGT"), Targets: []byte("1 2\n3\n")},
		"garbage": {Key: "k", Seq: []byte("ACGT"), Targets: []byte("x y\n")},
		"empty":   {Key: "k", Seq: []byte(""), Targets: []byte("1\n")},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeSample(s); err == nil {
				t.Fatalf("expected decode error")
			}
		})
	}
}
