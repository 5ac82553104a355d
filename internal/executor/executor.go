// Package executor provides bounded-concurrency resource pools for the
// tile pipeline: named semaphores per resource class (network, cpu,
// disk), a global in-flight cap, utilization sampling, and a circuit
// breaker that pauses prefetch submissions under load while leaving
// on-demand submissions unaffected.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xearthlayer/xearthlayer/internal/metrics"
)

// Priority distinguishes FUSE-originated (on-demand) jobs, which must
// never wait behind prefetch work, from prefetch jobs, which yield their
// next permit acquisition whenever an on-demand job is eligible to run.
type Priority int

const (
	// PriorityPrefetch is the low-priority class used by the prefetch
	// coordinator.
	PriorityPrefetch Priority = iota
	// PriorityOnDemand is the high-priority class used by FUSE reads.
	PriorityOnDemand
)

// Class names a resource pool.
type Class int

const (
	ClassNetwork Class = iota
	ClassCPU
	ClassDisk
	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassCPU:
		return "cpu"
	case ClassDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Config sizes the pools.
type Config struct {
	NetworkCapacity int64
	CPUCapacity     int64
	DiskCapacity    int64
	GlobalCapacity  int64
	// HighUtilization is the circuit-breaker trip threshold (default 0.9).
	HighUtilization float64
	// ResumeUtilization is the cooldown resume threshold (default 0.7).
	ResumeUtilization float64
	// CooldownInterval is how long utilization must stay below
	// ResumeUtilization before the breaker resumes.
	CooldownInterval time.Duration
	// QueueCapacityPerClass bounds, per resource class and per priority,
	// how many callers may be waiting for a pool slot at once. A waiter
	// beyond this bound is dropped immediately with ErrQueueOverflow
	// rather than joining an unbounded line behind it.
	QueueCapacityPerClass int
}

// DefaultConfig matches the pool sizing suggested in the design notes for
// an 8-core host.
func DefaultConfig() Config {
	return Config{
		NetworkCapacity:       64,
		CPUCapacity:           48,
		DiskCapacity:          48,
		GlobalCapacity:        48,
		HighUtilization:       0.9,
		ResumeUtilization:     0.7,
		CooldownInterval:      5 * time.Second,
		QueueCapacityPerClass: 256,
	}
}

type pool struct {
	name     Class
	sem      *semaphore.Weighted
	capacity int64
	inUse    int64
	queue    *Queue[struct{}]
}

func newPool(name Class, capacity int64, queueCapacityPerClass int) *pool {
	return &pool{
		name:     name,
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
		queue:    NewQueue[struct{}](queueCapacityPerClass),
	}
}

func (p *pool) utilization() float64 {
	if p.capacity == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&p.inUse)) / float64(p.capacity)
}

// Permit is a held resource-pool slot plus its global-cap slot. Release
// must be called exactly once, typically via defer immediately after a
// successful Acquire.
type Permit struct {
	pool   *pool
	global *semaphore.Weighted
}

// Release returns the permit's slot to its pool and to the global cap.
func (perm *Permit) Release() {
	atomic.AddInt64(&perm.pool.inUse, -1)
	perm.pool.sem.Release(1)
	perm.global.Release(1)
}

// Executor owns the named resource pools, the global concurrency cap, and
// the circuit breaker that governs prefetch admission.
type Executor struct {
	pools  [numClasses]*pool
	global *semaphore.Weighted

	cfg Config

	breakerMu     sync.Mutex
	breakerOpen   bool
	belowSince    time.Time
	onDemandSince atomic.Int64 // unix nano of most recent on-demand arrival
}

// New constructs an Executor from cfg.
func New(cfg Config) *Executor {
	queueCap := cfg.QueueCapacityPerClass
	if queueCap <= 0 {
		queueCap = DefaultConfig().QueueCapacityPerClass
	}
	e := &Executor{
		global: semaphore.NewWeighted(cfg.GlobalCapacity),
		cfg:    cfg,
	}
	e.pools[ClassNetwork] = newPool(ClassNetwork, cfg.NetworkCapacity, queueCap)
	e.pools[ClassCPU] = newPool(ClassCPU, cfg.CPUCapacity, queueCap)
	e.pools[ClassDisk] = newPool(ClassDisk, cfg.DiskCapacity, queueCap)
	return e
}

// MaxUtilization returns the highest utilization across all pools.
func (e *Executor) MaxUtilization() float64 {
	max := 0.0
	for _, p := range e.pools {
		if u := p.utilization(); u > max {
			max = u
		}
	}
	return max
}

// CircuitOpen reports whether the breaker currently blocks prefetch
// admission. On-demand acquisition is never affected by this.
func (e *Executor) CircuitOpen() bool {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()

	util := e.MaxUtilization()

	if !e.breakerOpen {
		if util >= e.cfg.HighUtilization {
			e.breakerOpen = true
			e.belowSince = time.Time{}
		}
		return e.breakerOpen
	}

	if util >= e.cfg.ResumeUtilization {
		e.belowSince = time.Time{}
		return true
	}

	if e.belowSince.IsZero() {
		e.belowSince = time.Now()
		return true
	}

	if time.Since(e.belowSince) >= e.cfg.CooldownInterval {
		e.breakerOpen = false
		return false
	}

	return true
}

// NotifyOnDemandArrival records that an on-demand job just arrived, so
// running prefetch jobs know to yield their next permit acquisition.
func (e *Executor) NotifyOnDemandArrival() {
	e.onDemandSince.Store(time.Now().UnixNano())
}

// Acquire blocks until a slot is available in class for the given
// priority, honoring ctx cancellation. On-demand acquisitions always
// proceed as soon as a slot is free; a prefetch acquisition that races
// with a very recent on-demand arrival pauses until that arrival's yield
// window has passed before waiting on the pool, preventing prefetch from
// monopolizing a pool the instant it frees up.
//
// Before waiting on the pool's semaphore, the caller first takes a slot
// in that pool's bounded per-priority queue. This caps how many callers
// may be queued behind a saturated pool at once; a caller arriving once
// its priority's segment is already full is rejected immediately with
// ErrQueueOverflow instead of piling up behind an unbounded backlog.
func (e *Executor) Acquire(ctx context.Context, class Class, priority Priority) (*Permit, error) {
	if priority == PriorityPrefetch && e.CircuitOpen() {
		return nil, ErrCircuitOpen
	}

	p := e.pools[class]

	if !p.queue.Submit(struct{}{}, priority) {
		return nil, ErrQueueOverflow
	}
	defer p.queue.Next()

	if err := e.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if priority == PriorityPrefetch {
		if err := e.yieldToOnDemand(ctx); err != nil {
			e.global.Release(1)
			return nil, err
		}
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		e.global.Release(1)
		return nil, err
	}

	atomic.AddInt64(&p.inUse, 1)

	return &Permit{pool: p, global: e.global}, nil
}

const onDemandYieldWindow = 50 * time.Millisecond

func (e *Executor) yieldToOnDemand(ctx context.Context) error {
	last := e.onDemandSince.Load()
	if last == 0 {
		return nil
	}
	elapsed := time.Since(time.Unix(0, last))
	if elapsed >= onDemandYieldWindow {
		return nil
	}
	select {
	case <-time.After(onDemandYieldWindow - elapsed):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrCircuitOpen is returned by Acquire for prefetch-priority callers
// while the breaker is open.
var ErrCircuitOpen = errCircuitOpen{}

type errCircuitOpen struct{}

func (errCircuitOpen) Error() string { return "executor: circuit breaker open, prefetch paused" }

// ErrQueueOverflow is returned by Acquire when the requested class's
// per-priority queue segment is already at QueueCapacityPerClass.
var ErrQueueOverflow = errQueueOverflow{}

type errQueueOverflow struct{}

func (errQueueOverflow) Error() string { return "executor: pool queue full, job dropped" }

// GlobalCapacity, per-class capacity, and the breaker thresholds are read
// back by the prefetch coordinator to halve its batch size under load —
// expose them read-only.
func (e *Executor) Config() Config { return e.cfg }

// ReportMetrics samples every pool's utilization and the breaker state
// into m once. Intended to be called on a ticker; a no-op if m is nil.
func (e *Executor) ReportMetrics(m *metrics.Metrics) {
	if m == nil {
		return
	}
	for _, p := range e.pools {
		m.PoolUtilization.WithLabelValues(p.name.String()).Set(p.utilization())
		m.QueueDropped.WithLabelValues(p.name.String()).Set(float64(p.queue.Dropped()))
	}
	if e.CircuitOpen() {
		m.CircuitBreakerOpen.Set(1)
	} else {
		m.CircuitBreakerOpen.Set(0)
	}
}

// RunMetricsReporter calls ReportMetrics(m) every interval until ctx is
// done. Intended to run in its own goroutine for the process lifetime.
func (e *Executor) RunMetricsReporter(ctx context.Context, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ReportMetrics(m)
		}
	}
}
