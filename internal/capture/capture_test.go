package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBufferLines(t *testing.T) {
	tests := []struct {
		name  string
		write string
		want  []string
	}{
		{name: "empty", write: "", want: nil},
		{name: "trailing newline", write: "a\nb\n", want: []string{"a", "b"}},
		{name: "partial last line", write: "a\nb", want: []string{"a", "b"}},
		{name: "crlf", write: "a\r\nb\r\n", want: []string{"a", "b"}},
		{name: "blank line kept", write: "a\n\nb\n", want: []string{"a", "", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Buffer
			fmt.Fprint(&b, tt.write)
			if got := b.Lines(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Lines() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBufferConcurrentWrites(t *testing.T) {
	var b Buffer
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Fprintln(&b, "line")
		}()
	}
	wg.Wait()
	if got := len(b.Lines()); got != 20 {
		t.Fatalf("expected 20 lines, got %d", got)
	}
}

func TestTail(t *testing.T) {
	lines := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}
	if got := Tail(lines, 10); len(got) != 10 || got[0] != "3" || got[9] != "12" {
		t.Fatalf("unexpected tail: %v", got)
	}
	if got := Tail(lines[:2], 10); len(got) != 2 {
		t.Fatalf("expected short input untouched, got %v", got)
	}
	if got := Tail(lines, 0); len(got) != 0 {
		t.Fatalf("expected empty tail, got %v", got)
	}
}

func TestStreamYieldsLinesBeforeProducerReturns(t *testing.T) {
	release := make(chan struct{})
	s := Stream(context.Background(), func(_ context.Context, w io.Writer) error {
		fmt.Fprintln(w, "first")
		<-release
		fmt.Fprintln(w, "second")
		return nil
	})

	var got []string
	for line := range s.Lines() {
		got = append(got, line)
		if line == "first" {
			close(release)
		}
	}
	if !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Fatalf("lines = %q", got)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStreamReportsProducerError(t *testing.T) {
	boom := errors.New("boom")
	s := Stream(context.Background(), func(_ context.Context, w io.Writer) error {
		fmt.Fprint(w, "line1\nline2")
		return boom
	})

	var got []string
	for line := range s.Lines() {
		got = append(got, line)
	}
	if !reflect.DeepEqual(got, []string{"line1", "line2"}) {
		t.Fatalf("lines = %q", got)
	}
	if !errors.Is(s.Err(), boom) {
		t.Fatalf("Err() = %v, want boom", s.Err())
	}
}

func TestStreamKeepsLongLines(t *testing.T) {
	long := strings.Repeat("x", 2<<20)
	s := Stream(context.Background(), func(_ context.Context, w io.Writer) error {
		fmt.Fprintln(w, "first")
		fmt.Fprintln(w, long)
		_, err := fmt.Fprint(w, "third\r\n")
		return err
	})

	var got []string
	for line := range s.Lines() {
		got = append(got, line)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(got))
	}
	if got[0] != "first" || got[1] != long || got[2] != "third" {
		t.Fatalf("unexpected lines: %q, len %d, %q", got[0], len(got[1]), got[2])
	}
	if s.Err() != nil {
		t.Fatalf("Err() = %v", s.Err())
	}
}

func TestStreamRecoversPanic(t *testing.T) {
	s := Stream(context.Background(), func(_ context.Context, w io.Writer) error {
		fmt.Fprintln(w, "before")
		panic("kaboom")
	})
	for range s.Lines() {
	}
	var perr *PanicError
	if !errors.As(s.Err(), &perr) || perr.Value != "kaboom" {
		t.Fatalf("expected PanicError, got %v", s.Err())
	}
}

func TestStreamIsSingleUse(t *testing.T) {
	s := Stream(context.Background(), func(_ context.Context, w io.Writer) error {
		fmt.Fprintln(w, "once")
		return nil
	})
	count := 0
	for range s.Lines() {
		count++
	}
	for range s.Lines() {
		count++
	}
	if count != 1 {
		t.Fatalf("expected a single line across both iterations, got %d", count)
	}
}

func TestStreamEarlyBreakCancelsProducer(t *testing.T) {
	stopped := make(chan struct{})
	s := Stream(context.Background(), func(ctx context.Context, w io.Writer) error {
		defer close(stopped)
		for i := 0; ; i++ {
			if _, err := fmt.Fprintf(w, "line %d\n", i); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	})

	for line := range s.Lines() {
		if line == "line 2" {
			break
		}
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after consumer broke out")
	}
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := Stream(ctx, func(ctx context.Context, w io.Writer) error {
		fmt.Fprintln(w, "started")
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan []string)
	go func() {
		var got []string
		for line := range s.Lines() {
			got = append(got, line)
			cancel()
		}
		done <- got
	}()

	select {
	case got := <-done:
		if len(got) != 1 || got[0] != "started" {
			t.Fatalf("unexpected lines: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
}
