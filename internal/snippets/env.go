package snippets

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/phrazzld/snippet-runner/internal/config"
	"github.com/phrazzld/snippet-runner/internal/engine"
	"github.com/phrazzld/snippet-runner/internal/task"
)

// Env is what a snippet runs against.
type Env struct {
	Engine   engine.Engine
	Pipeline *task.Pipeline
	Input    config.InputConfig
	Logger   *slog.Logger

	// Loop is the sequential sibling of Pipeline used by the "via loop"
	// snippets
	Loop *task.Pipeline

	mu  sync.Mutex
	out io.Writer
}

// NewEnv creates an Env printing reports and results to out.
func NewEnv(eng engine.Engine, pipeline *task.Pipeline, input config.InputConfig, logger *slog.Logger, out io.Writer) *Env {
	return &Env{
		Engine:   eng,
		Pipeline: pipeline,
		Loop:     pipeline.Sequential(),
		Input:    input,
		Logger:   logger,
		out:      out,
	}
}

// Printf writes to the snippet output. It is safe for concurrent use.
func (e *Env) Printf(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = fmt.Fprintf(e.out, format, args...)
}

// openInput opens a data file relative to the input directory.
func (e *Env) openInput(name string) (*os.File, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.Input.Dir, name)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	return f, nil
}

// openInputs opens every named data file and chains them into one reader.
// A newline separates consecutive files so the last line of one file never
// runs into the first line of the next.
func (e *Env) openInputs(names []string) (io.Reader, func(), error) {
	if len(names) == 0 {
		return nil, nil, errors.New("no input files configured")
	}

	files := make([]*os.File, 0, len(names))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	readers := make([]io.Reader, 0, 2*len(names))
	for _, name := range names {
		f, err := e.openInput(name)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, f)
		readers = append(readers, f, strings.NewReader("\n"))
	}
	return io.MultiReader(readers...), closeAll, nil
}

// PrintReport writes the summary of a finished snippet.
func (e *Env) PrintReport(r task.Report) {
	e.Printf("Successful:  %d\n", r.Counts.Success)
	e.Printf("Bad input:   %d\n", r.Counts.BadInput)
	e.Printf("Retryable:   %d\n", r.Counts.Retryable)
	e.Printf("Critical:    %d\n", r.Counts.Critical)
	if r.RetryFile != "" {
		e.Printf("Retry file:  %s (%d records)\n", r.RetryFile, r.RetryCount)
	}
	if r.Cancelled {
		e.Printf("Interrupted: yes\n")
	}
	e.Printf("Elapsed:     %s\n", r.Elapsed.Round(timeResolution))
}
