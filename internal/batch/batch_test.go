package batch

import (
	"context"
	"testing"
	"time"
)

func collect[T any](ch <-chan []T) [][]T {
	var out [][]T
	for b := range ch {
		out = append(out, b)
	}
	return out
}

func TestEmitsOnMaxSize(t *testing.T) {
	ctx := context.Background()
	in := make(chan int)
	out := Run(ctx, in, Config{MaxSize: 3, MaxFillDuration: time.Hour})

	go func() {
		in <- 1
		in <- 2
		in <- 3
		close(in)
	}()

	batches := collect(out)
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("got %v, want one batch of 3", batches)
	}
}

func TestFlushesOnUpstreamEnd(t *testing.T) {
	ctx := context.Background()
	in := make(chan int)
	out := Run(ctx, in, Config{MaxSize: 10, MaxFillDuration: time.Hour})

	go func() {
		in <- 1
		in <- 2
		close(in)
	}()

	batches := collect(out)
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if len(batches[0]) != 2 {
		t.Fatalf("got batch of %d, want 2", len(batches[0]))
	}
}

func TestNeverEmitsEmptyBatch(t *testing.T) {
	ctx := context.Background()
	in := make(chan int)
	out := Run(ctx, in, Config{MaxSize: 10, MaxFillDuration: time.Millisecond})
	close(in)

	batches := collect(out)
	if len(batches) != 0 {
		t.Fatalf("expected no batches for empty upstream, got %v", batches)
	}
}

func TestEmitsOnDeadline(t *testing.T) {
	ctx := context.Background()
	in := make(chan int)
	out := Run(ctx, in, Config{MaxSize: 100, MaxFillDuration: 20 * time.Millisecond})

	go func() {
		in <- 1
		time.Sleep(200 * time.Millisecond)
		close(in)
	}()

	start := time.Now()
	first, ok := <-out
	elapsed := time.Since(start)
	batches := collect(out)
	if ok {
		batches = append([][]int{first}, batches...)
	}

	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("got %v, want one batch of 1", batches)
	}
	if elapsed > 190*time.Millisecond {
		t.Errorf("batch emitted too late: %v", elapsed)
	}
}

func TestPreservesOrderAndTotalCount(t *testing.T) {
	ctx := context.Background()
	in := make(chan int)
	out := Run(ctx, in, Config{MaxSize: 4, MaxFillDuration: 10 * time.Millisecond})

	go func() {
		for i := 0; i < 17; i++ {
			in <- i
		}
		close(in)
	}()

	batches := collect(out)
	var flat []int
	for _, b := range batches {
		flat = append(flat, b...)
		if len(b) == 0 {
			t.Error("emitted empty batch")
		}
	}
	if len(flat) != 17 {
		t.Fatalf("got %d items total, want 17", len(flat))
	}
	for i, v := range flat {
		if v != i {
			t.Fatalf("order broken at %d: got %d", i, v)
		}
	}
}

func TestScenario_SizeThenTimeout(t *testing.T) {
	ctx := context.Background()
	in := make(chan string)
	out := Run(ctx, in, Config{MaxSize: 3, MaxFillDuration: 100 * time.Millisecond})

	go func() {
		in <- "a"
		time.Sleep(10 * time.Millisecond)
		in <- "b"
		time.Sleep(10 * time.Millisecond)
		in <- "c"
		time.Sleep(480 * time.Millisecond)
		in <- "d"
		close(in)
	}()

	batches := collect(out)
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2: %v", len(batches), batches)
	}
	if len(batches[0]) != 3 || batches[0][0] != "a" || batches[0][2] != "c" {
		t.Errorf("first batch = %v, want [a b c]", batches[0])
	}
	if len(batches[1]) != 1 || batches[1][0] != "d" {
		t.Errorf("second batch = %v, want [d]", batches[1])
	}
}

func TestCancellationStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan int)
	out := Run(ctx, in, Config{MaxSize: 10, MaxFillDuration: time.Hour})

	in <- 1
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected channel to close without emitting on cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation to close output")
	}
}
