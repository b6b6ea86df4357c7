// Package checkpoint persists model parameters to the run directory.
package checkpoint

import (
	"bytes"
	"compress/zlib"
	"encoding"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrPersistence wraps every save or restore failure.
var ErrPersistence = errors.New("checkpoint: persistence failed")

// Params is anything whose parameters can be checkpointed.
type Params interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Sink writes tagged checkpoints of one model into a directory.
type Sink struct {
	dir    string
	params Params
}

// NewSink returns a Sink writing params under dir.
func NewSink(dir string, params Params) *Sink {
	return &Sink{dir: dir, params: params}
}

// Path returns the file a tag is written to.
func (s *Sink) Path(tag string) string {
	return filepath.Join(s.dir, fmt.Sprintf("model_%s.ckpt", tag))
}

// Save writes the current parameters under tag, replacing any previous file
// atomically.
func (s *Sink) Save(tag string) (string, error) {
	payload, err := s.params.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return "", fmt.Errorf("%w: compress: %v", ErrPersistence, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("%w: compress: %v", ErrPersistence, err)
	}

	path := s.Path(tag)
	tmp, err := os.CreateTemp(s.dir, ".model_*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: write %s: %v", ErrPersistence, path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrPersistence, path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return path, nil
}

// Restore loads parameters from a checkpoint file.
func (s *Sink) Restore(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrPersistence, path, err)
	}
	defer zr.Close()
	payload, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrPersistence, path, err)
	}
	if err := s.params.UnmarshalBinary(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
