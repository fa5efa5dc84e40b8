// Package capture collects the text a command writes while it runs. Every
// invocation gets its own sink, so concurrent commands never share output.
package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
)

// Buffer is an io.Writer that records everything written to it.
type Buffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Lines returns the recorded output split into lines. A trailing partial
// line is included; a trailing newline does not produce an empty line.
func (b *Buffer) Lines() []string {
	return SplitLines(b.String())
}

// SplitLines splits s on "\n", tolerating "\r\n" line endings.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// Tail returns the last n lines.
func Tail(lines []string, n int) []string {
	if n <= 0 {
		return []string{}
	}
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// LineStream yields the lines a producer writes, as it writes them.
type LineStream struct {
	ctx context.Context
	fn  func(context.Context, io.Writer) error

	mu   sync.Mutex
	err  error
	used bool
}

// Stream prepares fn to run in its own goroutine with its output piped to
// the returned stream. fn starts when Lines is first iterated and its
// context is cancelled once the consumer stops reading.
func Stream(ctx context.Context, fn func(context.Context, io.Writer) error) *LineStream {
	return &LineStream{ctx: ctx, fn: fn}
}

// Lines yields each complete line written by the producer before the
// producer returns. The sequence can be consumed once; later iterations
// yield nothing. Breaking out of the loop or cancelling the context closes
// the pipe so the producer's next write fails and it can return.
func (s *LineStream) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		s.mu.Lock()
		if s.used {
			s.mu.Unlock()
			return
		}
		s.used = true
		s.mu.Unlock()

		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()

		pr, pw := io.Pipe()
		done := make(chan struct{})
		go func() {
			defer close(done)
			err := runProducer(ctx, s.fn, pw)
			s.setErr(err)
			_ = pw.Close()
		}()

		stop := context.AfterFunc(ctx, func() {
			_ = pr.CloseWithError(context.Cause(ctx))
		})
		defer stop()

		// Lines have no length limit, matching what Buffer keeps.
		br := bufio.NewReader(pr)
		var readErr error
		for {
			line, err := br.ReadString('\n')
			if len(line) > 0 {
				if ctx.Err() != nil {
					break
				}
				line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
				if !yield(line) {
					break
				}
			}
			if err != nil {
				if err != io.EOF {
					readErr = err
				}
				break
			}
		}
		interrupted := ctx.Err() != nil
		cancel()
		_ = pr.CloseWithError(io.ErrClosedPipe)
		<-done
		if readErr != nil && !interrupted {
			s.setErr(fmt.Errorf("read captured output: %w", readErr))
		}
	}
}

// Err reports the producer's error once the sequence has been drained.
func (s *LineStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *LineStream) setErr(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// PanicError carries a value recovered from a panicking producer.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func runProducer(ctx context.Context, fn func(context.Context, io.Writer) error, w io.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx, w)
}
