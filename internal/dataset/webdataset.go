package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sample is a raw paired entry from a shard: the sequence payload and the
// target payload sharing one key.
type Sample struct {
	Key     string
	Seq     []byte
	Targets []byte
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

const (
	seqExt    = ".seq"
	targetExt = ".tgt"
)

// StreamShard streams paired samples from the shard at path. Entries with
// other extensions are skipped.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Sample, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("open shard: %w", err)
			return
		}
		defer f.Close()

		if err := pairEntries(ctx, tar.NewReader(bufio.NewReader(f)), pendingCap, out); err != nil {
			errCh <- fmt.Errorf("%s: %w", path, err)
		}
	}()

	return out, errCh
}

func pairEntries(ctx context.Context, tr *tar.Reader, pendingCap int, out chan<- Sample) error {
	p := pairer{pending: make(map[string]*Sample), capacity: pendingCap}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}

		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		if ext != seqExt && ext != targetExt {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		sample, ok, err := p.add(strings.TrimSuffix(name, filepath.Ext(name)), ext, data)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- sample:
		}
	}
	if n := len(p.pending); n > 0 {
		return fmt.Errorf("%d samples incomplete", n)
	}
	return nil
}

// pairer joins .seq and .tgt payloads by key.
type pairer struct {
	pending  map[string]*Sample
	capacity int
}

func (p *pairer) add(key, ext string, data []byte) (Sample, bool, error) {
	s := p.pending[key]
	if s == nil {
		if len(p.pending) >= p.capacity {
			return Sample{}, false, ErrPendingOverflow
		}
		s = &Sample{Key: key}
		p.pending[key] = s
	}
	if ext == seqExt {
		s.Seq = data
	} else {
		s.Targets = data
	}
	if s.Seq == nil || s.Targets == nil {
		return Sample{}, false, nil
	}
	delete(p.pending, key)
	return *s, true, nil
}
