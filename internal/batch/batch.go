// Package batch implements the batching-with-timeout stream adapter:
// it turns a possibly bursty item channel into size- and age-bounded
// batches without ever emitting an empty one.
package batch

import (
	"context"
	"time"
)

// Config bounds a batch by item count and by how long the oldest item
// in an in-progress batch may wait before the batch is flushed.
type Config struct {
	MaxSize         int
	MaxFillDuration time.Duration
}

// Run reads items from in and writes batches to the returned channel,
// implementing the Idle/Filling state machine: a batch is emitted the
// moment max_size items accumulate, or once max_fill_duration has
// elapsed since the first item of the current batch arrived, or when
// upstream ends while a batch is non-empty. The output channel is
// closed once in is drained and any final partial batch is flushed.
//
// No timer runs while the batch is empty; once it holds at least one
// item, the adapter races the next upstream item against the fill
// deadline and acts on whichever occurs first.
func Run[T any](ctx context.Context, in <-chan T, cfg Config) <-chan []T {
	out := make(chan []T)

	go func() {
		defer close(out)

		var buf []T
		var deadline <-chan time.Time
		var timer *time.Timer

		stopTimer := func() {
			if timer != nil {
				timer.Stop()
				timer = nil
				deadline = nil
			}
		}
		flush := func() bool {
			if len(buf) == 0 {
				return true
			}
			batch := buf
			buf = nil
			stopTimer()
			select {
			case out <- batch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			if len(buf) == 0 {
				// Idle: only the upstream is awaited, no timer.
				select {
				case item, ok := <-in:
					if !ok {
						return
					}
					buf = append(buf, item)
					timer = time.NewTimer(cfg.MaxFillDuration)
					deadline = timer.C
				case <-ctx.Done():
					return
				}
				continue
			}

			// Filling: race the next item against the fill deadline.
			select {
			case item, ok := <-in:
				if !ok {
					flush()
					return
				}
				buf = append(buf, item)
				if len(buf) >= cfg.MaxSize {
					if !flush() {
						return
					}
				}
			case <-deadline:
				if !flush() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
