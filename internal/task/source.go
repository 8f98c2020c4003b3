package task

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const maxLineSize = 1 << 20

// LineSource reads one input per line. Lines are trimmed; blank lines and
// lines starting with '#' are skipped but still counted.
type LineSource struct {
	scanner *bufio.Scanner
	line    int
}

// NewLineSource creates a LineSource over r.
func NewLineSource(r io.Reader) *LineSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &LineSource{scanner: scanner}
}

// Next implements Source.
func (s *LineSource) Next(ctx context.Context) (Input, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Input{}, err
		}
		if !s.scanner.Scan() {
			break
		}
		s.line++
		text := strings.TrimSpace(s.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		return Input{Line: s.line, Payload: text}, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Input{}, fmt.Errorf("read line %d: %w", s.line+1, err)
	}
	return Input{}, io.EOF
}
