package dataset

import (
	"fmt"
	"io"
	"math/rand"
)

// Split names which of a genome's streams a Selector addresses.
type Split int

const (
	Train Split = iota
	Eval
)

func (s Split) String() string {
	if s == Train {
		return "train"
	}
	return "eval"
}

// Selector picks one genome's train or eval stream.
type Selector struct {
	Split  Split
	Genome int
}

func (s Selector) String() string {
	return fmt.Sprintf("%s/%d", s.Split, s.Genome)
}

// Batch is up to batch_size consecutive records of one stream.
type Batch struct {
	// Inputs is [example][seq_length][seq_depth].
	Inputs [][][]float64
	// Targets is [example][target_length][num_targets].
	Targets [][][]float64
}

// Len returns the number of examples in the batch.
func (b Batch) Len() int { return len(b.Inputs) }

// Stream is a restartable, finite walk over a DataSeq in batches.
type Stream struct {
	records   []Record
	order     []int
	pos       int
	batchSize int
	rng       *rand.Rand
}

func newStream(ds *DataSeq, batchSize int, rng *rand.Rand) *Stream {
	order := make([]int, len(ds.Records))
	for i := range order {
		order[i] = i
	}
	s := &Stream{records: ds.Records, order: order, batchSize: batchSize}
	if ds.Mode == ModeTrain {
		s.rng = rng
	}
	return s
}

// Reset rewinds the stream. Train streams draw a new example order.
func (s *Stream) Reset() {
	s.pos = 0
	if s.rng != nil {
		s.rng.Shuffle(len(s.order), func(i, j int) {
			s.order[i], s.order[j] = s.order[j], s.order[i]
		})
	}
}

// Next returns the next batch, or io.EOF once the stream is exhausted.
func (s *Stream) Next() (Batch, error) {
	if s.pos >= len(s.order) {
		return Batch{}, io.EOF
	}
	end := s.pos + s.batchSize
	if end > len(s.order) {
		end = len(s.order)
	}
	batch := Batch{
		Inputs:  make([][][]float64, 0, end-s.pos),
		Targets: make([][][]float64, 0, end-s.pos),
	}
	for _, idx := range s.order[s.pos:end] {
		batch.Inputs = append(batch.Inputs, s.records[idx].Seq)
		batch.Targets = append(batch.Targets, s.records[idx].Targets)
	}
	s.pos = end
	return batch, nil
}

// Arena holds every genome's train and eval streams, indexed by genome id.
type Arena struct {
	train []*Stream
	eval  []*Stream
}

// NewArena builds streams for parallel train and eval DataSeqs. One seeded
// RNG per genome drives train shuffling so runs are reproducible.
func NewArena(train, eval []*DataSeq, batchSize int, seed int64) (*Arena, error) {
	if len(train) != len(eval) {
		return nil, fmt.Errorf("arena: %d train sets but %d eval sets", len(train), len(eval))
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("arena: batch size must be > 0 (got %d)", batchSize)
	}
	a := &Arena{
		train: make([]*Stream, len(train)),
		eval:  make([]*Stream, len(eval)),
	}
	for gi := range train {
		rng := rand.New(rand.NewSource(seed + int64(gi)))
		a.train[gi] = newStream(train[gi], batchSize, rng)
		a.eval[gi] = newStream(eval[gi], batchSize, nil)
	}
	return a, nil
}

// NumGenomes returns the number of genomes in the arena.
func (a *Arena) NumGenomes() int { return len(a.train) }

// Reset rewinds the selected stream.
func (a *Arena) Reset(sel Selector) error {
	s, err := a.stream(sel)
	if err != nil {
		return err
	}
	s.Reset()
	return nil
}

// Next advances the selected stream by one batch.
func (a *Arena) Next(sel Selector) (Batch, error) {
	s, err := a.stream(sel)
	if err != nil {
		return Batch{}, err
	}
	return s.Next()
}

func (a *Arena) stream(sel Selector) (*Stream, error) {
	if sel.Genome < 0 || sel.Genome >= len(a.train) {
		return nil, fmt.Errorf("arena: no genome %d", sel.Genome)
	}
	switch sel.Split {
	case Train:
		return a.train[sel.Genome], nil
	case Eval:
		return a.eval[sel.Genome], nil
	default:
		return nil, fmt.Errorf("arena: unknown split %d", int(sel.Split))
	}
}
