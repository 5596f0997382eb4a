package ai

import (
	"context"
	"time"
)

// StreamObserver receives per-stream telemetry. internal/metrics implements it.
type StreamObserver interface {
	ObserveChunk(provider, model string, c Chunk)
	ObserveRetry(provider, model string)
	ObserveStream(provider, model string, err error, elapsed time.Duration)
}

// observe tees a stream through obs without changing what the consumer sees.
func observe(ctx context.Context, obs StreamObserver, provider, model string, chunks <-chan Chunk, errs <-chan error) (<-chan Chunk, <-chan error) {
	if obs == nil {
		return chunks, errs
	}
	out := make(chan Chunk, 16)
	outErr := make(chan error, 1)
	start := time.Now()

	go func() {
		defer close(out)
		defer close(outErr)

		for c := range chunks {
			obs.ObserveChunk(provider, model, c)
			select {
			case out <- c:
			case <-ctx.Done():
				go drain(chunks, errs)
				obs.ObserveStream(provider, model, ctx.Err(), time.Since(start))
				outErr <- ctx.Err()
				return
			}
		}
		err := <-errs
		obs.ObserveStream(provider, model, err, time.Since(start))
		if err != nil {
			outErr <- err
		}
	}()
	return out, outErr
}
