package task

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// RetrySink is an append-only log of payloads that failed with a retryable
// error. The backing file is created on the first Append, in dir (or the OS
// temp directory when dir is empty), and is never created for a run without
// retryable failures.
type RetrySink struct {
	mu     sync.Mutex
	dir    string
	file   *os.File
	w      *bufio.Writer
	count  int
	closed bool
}

// NewRetrySink returns a sink that will create its file in dir.
func NewRetrySink(dir string) *RetrySink {
	return &RetrySink{dir: dir}
}

// Append writes payload as one line, creating the file if needed.
func (s *RetrySink) Append(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.file == nil {
		f, err := os.CreateTemp(s.dir, "retry-*.jsonl")
		if err != nil {
			return fmt.Errorf("create retry file: %w", err)
		}
		s.file = f
		s.w = bufio.NewWriter(f)
	}

	// one payload per line
	line := strings.ReplaceAll(payload, "\n", " ")
	if _, err := s.w.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write retry file %s: %w", s.file.Name(), err)
	}
	s.count++
	return nil
}

// Path returns the file path, or "" if nothing was appended.
func (s *RetrySink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}

// Count returns the number of appended payloads.
func (s *RetrySink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close flushes and closes the file. Only the first call has any effect.
func (s *RetrySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.file == nil {
		return nil
	}

	flushErr := s.w.Flush()
	closeErr := s.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flush retry file %s: %w", s.file.Name(), flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close retry file %s: %w", s.file.Name(), closeErr)
	}
	return nil
}
