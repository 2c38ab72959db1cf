package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/Priya8975/federation-engine/internal/domain"
)

// DeadLetterSink stores items that exhausted their redelivery budget.
type DeadLetterSink interface {
	Write(ctx context.Context, dl *domain.DeadLetter) error
}

// DirSink writes each dead letter as a zstd-compressed file at
// dir/site/handler/message-id.zst.
type DirSink struct {
	dir string
}

// NewDirSink creates a sink rooted at dir.
func NewDirSink(dir string) *DirSink {
	return &DirSink{dir: dir}
}

// safeName keeps path components inside their directory.
func safeName(s string) string {
	if s == "" {
		return "_"
	}
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(s)
}

// Path is where dl is written.
func (s *DirSink) Path(dl *domain.DeadLetter) string {
	return filepath.Join(s.dir, safeName(dl.Site), safeName(dl.Handler), safeName(dl.MessageID)+".zst")
}

func (s *DirSink) Write(_ context.Context, dl *domain.DeadLetter) error {
	path := s.Path(dl)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating dead letter dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating dead letter file: %w", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := enc.Write(dl.Payload); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("writing dead letter: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("flushing dead letter: %w", err)
	}
	return f.Close()
}

// ReadDeadLetter decompresses a file written by DirSink.
func ReadDeadLetter(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("reading dead letter: %w", err)
	}
	return out, nil
}

// SinkFunc adapts a function to DeadLetterSink.
type SinkFunc func(ctx context.Context, dl *domain.DeadLetter) error

func (f SinkFunc) Write(ctx context.Context, dl *domain.DeadLetter) error {
	return f(ctx, dl)
}

// MultiSink writes to every sink and reports all failures.
type MultiSink []DeadLetterSink

func (m MultiSink) Write(ctx context.Context, dl *domain.DeadLetter) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, dl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
