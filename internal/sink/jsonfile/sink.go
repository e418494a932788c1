// Package jsonfile implements a sink that streams topic details into a single
// JSON array file.
package jsonfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/forum-crawler/internal/forum"
	"github.com/JakeFAU/forum-crawler/internal/metrics"
	"github.com/JakeFAU/forum-crawler/internal/storage"
)

// Name labels this sink in logs and metrics.
const Name = "json"

// ErrNotOpen is returned when Write or Close is called outside Open/Close.
var ErrNotOpen = errors.New("json sink is not open")

// Sink appends records to a JSON array. The file is only valid JSON after
// Close; an interrupted run leaves the array unterminated.
type Sink struct {
	path   string
	logger *zap.Logger

	archive       storage.Provider
	archiveObject string

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	written int
}

// Option customizes a Sink.
type Option func(*Sink)

// WithArchive uploads the finished file to provider under objectName on Close.
func WithArchive(provider storage.Provider, objectName string) Option {
	return func(s *Sink) {
		s.archive = provider
		s.archiveObject = objectName
	}
}

// New returns a sink writing to path. A nil logger disables logging.
func New(path string, logger *zap.Logger, opts ...Option) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{path: path, logger: logger.Named("jsonfile")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the output file location.
func (s *Sink) Path() string {
	return s.path
}

// Open creates the file and writes the array opening marker.
func (s *Sink) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create output dir for %s: %w", s.path, err)
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create output file %s: %w", s.path, err)
	}
	s.file = f
	s.w = bufio.NewWriter(f)
	s.written = 0
	if _, err := s.w.WriteString("[\n"); err != nil {
		return fmt.Errorf("write array start: %w", err)
	}
	s.logger.Info("writing topics", zap.String("path", s.path))
	return nil
}

// Write appends one record, preceded by a separator after the first.
func (s *Sink) Write(_ context.Context, detail forum.TopicDetail) error {
	payload, err := encode(detail)
	if err != nil {
		return fmt.Errorf("marshal topic %d: %w", detail.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return ErrNotOpen
	}
	if s.written > 0 {
		if _, err := s.w.WriteString(",\n"); err != nil {
			return fmt.Errorf("write separator: %w", err)
		}
	}
	if _, err := s.w.Write(payload); err != nil {
		return fmt.Errorf("write topic %d: %w", detail.ID, err)
	}
	s.written++
	metrics.AddRecordsWritten(Name, 1)
	return nil
}

// Close terminates the array, closes the file, and archives it when configured.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return ErrNotOpen
	}

	_, werr := s.w.WriteString("\n]\n")
	if werr == nil {
		werr = s.w.Flush()
	}
	cerr := s.file.Close()
	s.w, s.file = nil, nil
	if werr != nil {
		return fmt.Errorf("finish %s: %w", s.path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", s.path, cerr)
	}
	s.logger.Info("topics written", zap.String("path", s.path), zap.Int("records", s.written))

	if s.archive == nil {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read %s for archive: %w", s.path, err)
	}
	if err := s.archive.Save(ctx, s.archiveObject, data); err != nil {
		return fmt.Errorf("archive %s: %w", s.path, err)
	}
	s.logger.Info("topics archived", zap.String("object", s.archiveObject))
	return nil
}

// encode marshals without HTML escaping so raw post markup round-trips byte for byte.
func encode(detail forum.TopicDetail) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(detail); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
