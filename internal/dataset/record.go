package dataset

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Record is one decoded training example.
type Record struct {
	Key string
	// Seq is [seq_length][seq_depth].
	Seq [][]float64
	// Targets is [target_length][num_targets]; NaN marks a missing value.
	Targets [][]float64
}

// dnaDepth is the one-hot width of an ACGT sequence.
const dnaDepth = 4

// DecodeSample parses a raw shard sample. A sequence payload made only of
// nucleotide letters is one-hot encoded (A, C, G, T; N is all zero); any other
// payload is read as whitespace separated rows of floats.
func DecodeSample(s Sample) (Record, error) {
	seq, err := decodeSeq(s.Seq)
	if err != nil {
		return Record{}, fmt.Errorf("%s.seq: %w", s.Key, err)
	}
	targets, err := decodeRows(s.Targets)
	if err != nil {
		return Record{}, fmt.Errorf("%s.tgt: %w", s.Key, err)
	}
	return Record{Key: s.Key, Seq: seq, Targets: targets}, nil
}

func decodeSeq(payload []byte) ([][]float64, error) {
	trimmed := bytes.TrimSpace(payload)
	if isNucleotides(trimmed) {
		return oneHot(trimmed), nil
	}
	return decodeRows(trimmed)
}

func isNucleotides(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		switch c {
		case 'A', 'C', 'G', 'T', 'N', 'a', 'c', 'g', 't', 'n':
		default:
			return false
		}
	}
	return true
}

func oneHot(b []byte) [][]float64 {
	out := make([][]float64, len(b))
	for i, c := range b {
		row := make([]float64, dnaDepth)
		switch c {
		case 'A', 'a':
			row[0] = 1
		case 'C', 'c':
			row[1] = 1
		case 'G', 'g':
			row[2] = 1
		case 'T', 't':
			row[3] = 1
		}
		out[i] = row
	}
	return out
}

func decodeRows(payload []byte) ([][]float64, error) {
	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	rows := make([][]float64, 0, len(lines))
	width := -1
	for li, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if width >= 0 && len(fields) != width {
			return nil, fmt.Errorf("row %d has %d columns, want %d", li, len(fields), width)
		}
		width = len(fields)
		row := make([]float64, width)
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", li, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	return rows, nil
}
