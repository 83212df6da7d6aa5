package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrInputCancelled is returned when input is canceled by context.
var ErrInputCancelled = errors.New("input canceled")

type readResult struct {
	err   error
	value string
}

// NonBlockingReader reads lines from a terminal while honoring context
// cancellation. A line that arrives after its read was canceled is handed to
// the next ReadLine instead of being lost.
type NonBlockingReader struct {
	reader  *bufio.Reader
	pending chan readResult
	mu      sync.Mutex
}

// NewNonBlockingReader creates a new non-blocking reader.
func NewNonBlockingReader(reader io.Reader) *NonBlockingReader {
	if reader == nil {
		panic("reader cannot be nil")
	}
	return &NonBlockingReader{reader: bufio.NewReader(reader)}
}

// ReadLine reads a trimmed line, respecting context cancellation.
func (r *NonBlockingReader) ReadLine(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ErrInputCancelled
	}

	r.mu.Lock()
	ch := r.pending
	if ch == nil {
		ch = make(chan readResult, 1)
		r.pending = ch
		go func() {
			value, err := r.reader.ReadString('\n')
			ch <- readResult{value: value, err: err}
		}()
	}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ErrInputCancelled
	case res := <-ch:
		r.mu.Lock()
		r.pending = nil
		r.mu.Unlock()
		if res.err != nil && !(errors.Is(res.err, io.EOF) && res.value != "") {
			return "", res.err
		}
		return strings.TrimSpace(res.value), nil
	}
}
