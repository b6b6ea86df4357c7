package dataset

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenInfersShapes(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, filepath.Join(dir, "train-0.tar"), []entry{
		{"a.seq", "ACGTACGT"}, {"a.tgt", "1 0 2\n0 3 1\n"},
		{"b.seq", "TTTTAAAA"}, {"b.tgt", "0 0 1\n1 1 1\n"},
	})
	writeShard(t, filepath.Join(dir, "train-1.tar"), []entry{
		{"c.seq", "GGGGCCCC"}, {"c.tgt", "2 2 2\nnan 1 0\n"},
	})

	ds, err := Open(context.Background(), filepath.Join(dir, "train-*.tar"), ModeTrain,
		Options{SeqLength: 8, TargetLength: 2, NumWorkers: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ds.SeqDepth != 4 || ds.NumTargetsNonzero != 3 {
		t.Fatalf("unexpected shapes depth=%d targets=%d", ds.SeqDepth, ds.NumTargetsNonzero)
	}
	if len(ds.Records) != 3 || ds.Records[2].Key != "c" {
		t.Fatalf("unexpected records %d", len(ds.Records))
	}
	if ds.Mode.String() != "train" {
		t.Fatalf("unexpected mode %s", ds.Mode)
	}
}

func TestOpenRejectsInconsistentData(t *testing.T) {
	cases := []struct {
		name    string
		entries []entry
		opts    Options
		want    string
	}{
		{
			name:    "seq length",
			entries: []entry{{"a.seq", "ACG"}, {"a.tgt", "1\n"}},
			opts:    Options{SeqLength: 4},
			want:    "sequence length",
		},
		{
			name:    "target length",
			entries: []entry{{"a.seq", "ACGT"}, {"a.tgt", "1\n2\n3\n"}},
			opts:    Options{SeqLength: 4, TargetLength: 2},
			want:    "target length",
		},
		{
			name: "target width",
			entries: []entry{
				{"a.seq", "ACGT"}, {"a.tgt", "1 2\n"},
				{"b.seq", "ACGT"}, {"b.tgt", "1\n"},
			},
			opts: Options{SeqLength: 4, TargetLength: 1},
			want: "differs",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "shard-000000.tar")
			writeShard(t, path, tc.entries)
			_, err := Open(context.Background(), path, ModeEval, tc.opts)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
