// Package orchestrator fans a tile's 256 chunk fetches out across the
// network resource pool, retries transient failures with exponential
// backoff, and applies the partial-success policy: a tile succeeds once
// at least 80% of its chunks are in hand, with the remainder filled gray;
// below that threshold the whole download fails and the pipeline falls
// back to the magenta placeholder.
//
// The worker-pool shape here — a bounded set of goroutines draining a
// jobs channel and publishing to a results channel — mirrors
// cmd/build/main.go's httpWorker/processResults pattern, generalized from
// "download a slippy tile set to mbtiles" to "download one tile's 256
// chunks with retry and partial-success accounting".
package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/xearthlayer/xearthlayer/internal/coord"
	"github.com/xearthlayer/xearthlayer/internal/executor"
	"github.com/xearthlayer/xearthlayer/internal/provider"
)

// PartialSuccessThreshold is the minimum fraction of the 256 chunks that
// must succeed for the tile to be considered fetched (missing chunks are
// filled gray by the assembler).
const PartialSuccessThreshold = 0.8

// RetryPolicy configures per-chunk retry with exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy matches the spec's §4.3 defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 30 * time.Second}
}

// DefaultFanOut is the number of chunk fetches allowed in flight at once.
const DefaultFanOut = 32

// ErrShortfall is returned when fewer than PartialSuccessThreshold of a
// tile's chunks could be fetched.
var ErrShortfall = errors.New("orchestrator: chunk shortfall below partial-success threshold")

// ChunkOutcome pairs a fetched chunk's tile-local position with its raw
// bytes, or nil if it could not be fetched.
type ChunkOutcome struct {
	Row, Col int
	Data     []byte
}

// Orchestrator downloads all 256 chunks of a tile from a Provider.
type Orchestrator struct {
	exec   *executor.Executor
	retry  RetryPolicy
	fanOut int
}

// New constructs an Orchestrator bound to exec's network pool.
func New(exec *executor.Executor, retry RetryPolicy, fanOut int) *Orchestrator {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	return &Orchestrator{exec: exec, retry: retry, fanOut: fanOut}
}

// Fetch downloads every chunk of tile from p, fanning out at o.fanOut
// concurrency through the network pool, retrying transient failures, and
// returning ErrShortfall if fewer than PartialSuccessThreshold succeed.
// The returned slice is addressed by chunk index regardless of
// completion order. Cancellation via ctx aborts pending retries and
// in-flight fetches at their next suspension point.
func (o *Orchestrator) Fetch(ctx context.Context, tile coord.Tile, p provider.Provider, priority executor.Priority) ([]ChunkOutcome, error) {
	return o.FetchWithPriorityFunc(ctx, tile, p, func() executor.Priority { return priority })
}

// FetchWithPriorityFunc behaves like Fetch, but re-reads priorityFunc
// before every permit acquisition instead of fixing the priority for the
// whole job. This lets a caller coalesce a later on-demand request onto
// an already-running prefetch job and have not-yet-started chunk
// acquisitions immediately start competing at on-demand priority.
func (o *Orchestrator) FetchWithPriorityFunc(ctx context.Context, tile coord.Tile, p provider.Provider, priorityFunc func() executor.Priority) ([]ChunkOutcome, error) {
	chunks := tile.Chunks()
	outcomes := make([]ChunkOutcome, len(chunks))

	jobs := make(chan int, len(chunks))
	for i := range chunks {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < o.fanOut; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				chunk := chunks[idx]
				data := o.fetchChunkWithRetry(ctx, chunk, p, priorityFunc())
				outcomes[idx] = ChunkOutcome{Row: int(chunk.ChunkRow), Col: int(chunk.ChunkCol), Data: data}
			}
		}()
	}
	wg.Wait()

	have := 0
	for _, oc := range outcomes {
		if oc.Data != nil {
			have++
		}
	}

	if float64(have)/float64(len(chunks)) < PartialSuccessThreshold {
		return outcomes, ErrShortfall
	}

	return outcomes, nil
}

func (o *Orchestrator) fetchChunkWithRetry(ctx context.Context, chunk coord.Chunk, p provider.Provider, priority executor.Priority) []byte {
	permit, err := o.exec.Acquire(ctx, executor.ClassNetwork, priority)
	if err != nil {
		return nil
	}
	defer permit.Release()

	delay := o.retry.InitialDelay
	for attempt := 0; attempt < o.retry.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		url := p.URLFor(chunk.GlobalRow(), chunk.GlobalCol(), chunk.Zoom)
		data, err := p.FetchBytes(ctx, url)
		if err == nil {
			return data
		}

		var fe *provider.FetchError
		if errors.As(err, &fe) && fe.Kind == provider.KindPermanent {
			return nil
		}

		if attempt == o.retry.MaxAttempts-1 {
			return nil
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}

		delay *= 2
		if delay > o.retry.MaxDelay {
			delay = o.retry.MaxDelay
		}
		// Small jitter to avoid a thundering herd of synchronized
		// retries across many chunks.
		delay += time.Duration(rand.Intn(50)) * time.Millisecond
	}

	return nil
}
