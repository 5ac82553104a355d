// Package pipeline wires the cache, executor, orchestrator, assembler,
// and encoder into the single end-to-end tile job: memory/disk lookup,
// coalesced synthesis on miss, and a deterministic magenta placeholder
// on failure or timeout. Stage transitions are expressed as straight-line
// async code within one goroutine per job, with context deadline and
// cancellation wrapping the whole thing uniformly rather than as a
// hand-coded state machine.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xearthlayer/xearthlayer/internal/assemble"
	"github.com/xearthlayer/xearthlayer/internal/cache"
	"github.com/xearthlayer/xearthlayer/internal/coord"
	"github.com/xearthlayer/xearthlayer/internal/dds"
	"github.com/xearthlayer/xearthlayer/internal/executor"
	"github.com/xearthlayer/xearthlayer/internal/metrics"
	"github.com/xearthlayer/xearthlayer/internal/orchestrator"
	"github.com/xearthlayer/xearthlayer/internal/provider"
)

// DefaultJobTimeout is the per-job wall-clock deadline applied unless the
// caller configures a different one.
const DefaultJobTimeout = 10 * time.Second

// Status is a job's lifecycle state, reported to callers via Result and
// intended for metrics/logging rather than control flow.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	default:
		return "failed"
	}
}

// Result is what a Synthesize call returns: the DDS bytes (real or
// placeholder), whether they came from the placeholder path, and the job
// identity for logging/metrics correlation.
type Result struct {
	JobID       string
	Bytes       []byte
	Placeholder bool
	Status      Status
}

// Pipeline owns the shared cache and executor and dispatches tile jobs
// against a set of registered providers, one per DDS maptype tag.
type Pipeline struct {
	cache      *cache.Cache
	exec       *executor.Executor
	providers  map[string]provider.Provider
	jobTimeout time.Duration
	retry      orchestrator.RetryPolicy
	fanOut     int
	format     dds.Format

	inFlightMu sync.Mutex
	inFlight   map[string]*jobPriority

	metrics *metrics.Metrics
}

// SetMetrics attaches m so subsequent Synthesize calls report job
// outcomes, durations, and placeholder fallbacks. A no-op if m is nil.
func (p *Pipeline) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

func priorityLabel(priority executor.Priority) string {
	if priority == executor.PriorityOnDemand {
		return "on_demand"
	}
	return "prefetch"
}

type jobPriority struct {
	priority priorityCell
}

// priorityCell is a mutex-guarded monotonically-increasing priority
// value: a running job's priority only ever moves up (prefetch ->
// on-demand), never back down, for the lifetime of one Synthesize call.
type priorityCell struct {
	mu    sync.Mutex
	value executor.Priority
}

func (c *priorityCell) load() executor.Priority {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *priorityCell) bump(p executor.Priority) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p > c.value {
		c.value = p
	}
}

// Config selects the tunables a Pipeline is constructed with.
type Config struct {
	JobTimeout time.Duration
	Retry      orchestrator.RetryPolicy
	FanOut     int
	Format     dds.Format
}

// DefaultConfig matches the defaults named in the design notes.
func DefaultConfig() Config {
	return Config{
		JobTimeout: DefaultJobTimeout,
		Retry:      orchestrator.DefaultRetryPolicy(),
		FanOut:     orchestrator.DefaultFanOut,
		Format:     dds.FormatBC1,
	}
}

// New constructs a Pipeline. providers maps a DDS maptype tag (e.g. "BI")
// to the Provider that serves it.
func New(c *cache.Cache, exec *executor.Executor, providers map[string]provider.Provider, cfg Config) *Pipeline {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = orchestrator.DefaultFanOut
	}
	return &Pipeline{
		cache:      c,
		exec:       exec,
		providers:  providers,
		jobTimeout: cfg.JobTimeout,
		retry:      cfg.Retry,
		fanOut:     cfg.FanOut,
		format:     cfg.Format,
		inFlight:   make(map[string]*jobPriority),
	}
}

// Synthesize returns the DDS bytes for key, building them on a cache
// miss. A second caller for the same key while a build is in flight
// coalesces onto it (per internal/cache's singleflight layer) and, if it
// asks at a higher priority than the one the build started at, bumps the
// running job's priority so not-yet-started chunk fetches immediately
// compete at the higher tier. Failure or deadline exceeded yields the
// magenta placeholder; the placeholder is never written to cache.
func (p *Pipeline) Synthesize(ctx context.Context, key cache.Key, priority executor.Priority) Result {
	jobID := uuid.NewString()
	started := time.Now()

	jp := p.attach(key, priority)
	defer p.detach(key)

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	format := formatFromTag(key.DDSFormat, p.format)

	data, err := p.cache.Get(jobCtx, key, func(buildCtx context.Context, k cache.Key) ([]byte, error) {
		return p.build(buildCtx, k, jp, format)
	})
	if err != nil {
		p.reportOutcome("failed", priority, time.Since(started))
		placeholder, phErr := dds.Placeholder(format)
		if phErr != nil {
			return Result{JobID: jobID, Status: StatusFailed}
		}
		return Result{JobID: jobID, Bytes: placeholder, Placeholder: true, Status: StatusFailed}
	}

	p.reportOutcome("done", priority, time.Since(started))
	return Result{JobID: jobID, Bytes: data, Status: StatusDone}
}

func (p *Pipeline) reportOutcome(outcome string, priority executor.Priority, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.PipelineJobsTotal.WithLabelValues(outcome).Inc()
	p.metrics.PipelineJobDuration.WithLabelValues(priorityLabel(priority)).Observe(elapsed.Seconds())
	if outcome == "failed" {
		p.metrics.PlaceholdersServed.Inc()
	}
}

func (p *Pipeline) attach(key cache.Key, priority executor.Priority) *jobPriority {
	if priority == executor.PriorityOnDemand {
		p.exec.NotifyOnDemandArrival()
	}

	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()

	jp, ok := p.inFlight[key.String()]
	if !ok {
		jp = &jobPriority{}
		jp.priority.bump(priority)
		p.inFlight[key.String()] = jp
		return jp
	}

	jp.priority.bump(priority)
	return jp
}

// InFlight reports whether key has a synthesis job currently running or
// coalescing — the second tier of the prefetch coordinator's
// availability filter.
func (p *Pipeline) InFlight(key cache.Key) bool {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	_, ok := p.inFlight[key.String()]
	return ok
}

func (p *Pipeline) detach(key cache.Key) {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	delete(p.inFlight, key.String())
}

func keyToTile(key cache.Key) coord.Tile {
	return coord.Tile{Row: key.TileRow, Col: key.TileCol, Zoom: key.TileZoom}
}

// formatFromTag maps a cache key's DDSFormat tag ("bc1"/"bc3", case
// insensitive) to the corresponding dds.Format, falling back to def for
// an empty or unrecognized tag.
func formatFromTag(tag string, def dds.Format) dds.Format {
	switch strings.ToLower(tag) {
	case "bc1":
		return dds.FormatBC1
	case "bc3":
		return dds.FormatBC3
	default:
		return def
	}
}

func (p *Pipeline) build(ctx context.Context, key cache.Key, jp *jobPriority, format dds.Format) ([]byte, error) {
	prov, ok := p.providers[key.ProviderTag]
	if !ok {
		return nil, fmt.Errorf("pipeline: no provider registered for tag %q", key.ProviderTag)
	}

	tile := keyToTile(key)
	orch := orchestrator.New(p.exec, p.retry, p.fanOut)

	outcomes, err := orch.FetchWithPriorityFunc(ctx, tile, prov, jp.priority.load)
	if err != nil {
		return nil, fmt.Errorf("pipeline: downloading tile chunks: %w", err)
	}

	results := make([]assemble.ChunkResult, len(outcomes))
	for i, o := range outcomes {
		results[i] = assemble.ChunkResult{Row: o.Row, Col: o.Col, Data: o.Data}
	}

	raster := assemble.Assemble(results)

	encoded, err := dds.Encode(raster, format)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encoding tile: %w", err)
	}

	return encoded, nil
}
