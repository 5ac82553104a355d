// Package telemetry defines the flight-state contract the prefetch
// coordinator consumes: the decoded sample shape, the channel plumbing
// that delivers it at its native rate, a synthetic source for tests and
// offline replay, and (in udp.go) a minimal UDP source that decodes one
// comma-separated line per datagram. It does not decode any simulator's
// native UDP output format.
package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sample is one flight-state observation. Any UDP parser producing these
// fields at 1Hz or faster satisfies the prefetch coordinator's contract.
type Sample struct {
	Lat           float64
	Lon           float64
	TrackDeg      float64
	GroundSpeedKt float64
	AGLFt         float64
	Time          time.Time
}

// Source delivers Samples as they arrive. A concrete implementation reads
// and decodes UDP datagrams; Feed below is a test/replay implementation
// driven by a fixed slice and ticker instead.
type Source interface {
	// Samples returns a channel that is closed when the source's context
	// is done or the underlying feed is exhausted.
	Samples(ctx context.Context) <-chan Sample
}

// Feed replays a fixed sequence of samples at a configured interval, for
// tests and for driving the prefetch coordinator without a live UDP
// socket. It is not a network listener.
type Feed struct {
	samples  []Sample
	interval time.Duration
	log      zerolog.Logger
}

// NewFeed constructs a Feed that emits samples one at a time, interval
// apart, in the order given.
func NewFeed(samples []Sample, interval time.Duration, log zerolog.Logger) *Feed {
	return &Feed{samples: samples, interval: interval, log: log.With().Str("component", "telemetry.feed").Logger()}
}

// Samples implements Source.
func (f *Feed) Samples(ctx context.Context) <-chan Sample {
	out := make(chan Sample)
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for _, s := range f.samples {
			select {
			case <-ctx.Done():
				return
			case out <- s:
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		f.log.Debug().Int("count", len(f.samples)).Msg("feed exhausted")
	}()
	return out
}

// Latest is a concurrency-safe single-slot holder for the most recent
// Sample, used by components (like the VFS bridge's status surface) that
// only need "where is the aircraft right now" rather than every tick.
type Latest struct {
	ch chan Sample
}

// NewLatest constructs an empty Latest holder.
func NewLatest() *Latest {
	return &Latest{ch: make(chan Sample, 1)}
}

// Set records the most recent sample, overwriting any prior value.
func (l *Latest) Set(s Sample) {
	select {
	case <-l.ch:
	default:
	}
	l.ch <- s
}

// Get returns the most recently Set sample and whether one has ever been
// recorded.
func (l *Latest) Get() (Sample, bool) {
	select {
	case s := <-l.ch:
		l.ch <- s
		return s, true
	default:
		return Sample{}, false
	}
}

// Pump drains src and records every sample into dst, returning when ctx is
// done or src's channel closes. Intended to run in its own goroutine for
// the lifetime of the process.
func Pump(ctx context.Context, src Source, dst *Latest) {
	samples := src.Samples(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			dst.Set(s)
		}
	}
}
