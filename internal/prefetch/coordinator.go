// Package prefetch drives speculative tile synthesis ahead of where the
// aircraft will actually need scenery: a ground/cruise phase detector and
// a turn detector decide which strategy applies and whether to run one
// at all this cycle, the chosen strategy proposes candidate tiles, a
// four-tier availability filter drops anything already resident or in
// flight, a DSF-boundary prioritizer orders what's left by how soon the
// aircraft will cross into that tile's degree cell, and a
// post-transition throttle holds volume down right after takeoff while
// the executor's pools are still busy finishing ground-phase work.
// Submissions run at executor.PriorityPrefetch, so an on-demand FUSE read
// always preempts them.
package prefetch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/xearthlayer/xearthlayer/internal/cache"
	"github.com/xearthlayer/xearthlayer/internal/executor"
	"github.com/xearthlayer/xearthlayer/internal/index"
	"github.com/xearthlayer/xearthlayer/internal/metrics"
	"github.com/xearthlayer/xearthlayer/internal/pipeline"
	"github.com/xearthlayer/xearthlayer/internal/telemetry"
)

// busyUtilizationThreshold is the resource-pool utilization above which
// a cycle halves its candidate batch before submitting, a softer and
// earlier response than the executor's own circuit breaker (which pauses
// prefetch outright at HighUtilization). There's no single named
// constant for this in the pool sizing notes; picking a point midway
// between the breaker's resume and trip thresholds gives prefetch volume
// room to taper before admission stops entirely.
const busyUtilizationThreshold = 0.8

// Config selects the tunables a Coordinator is constructed with. Callers
// translate config.PrefetchConfig into this shape, the same separation
// internal/pipeline and internal/executor use between their own Config
// types and the top-level settings object.
type Config struct {
	GroundRadiusTiles  int
	GroundZoom         uint8
	CruiseZooms        []uint8
	LeadDistanceDeg    float64
	BandWidthDeg       float64
	MaxCandidates      int
	GracePeriod        time.Duration
	RampUpPeriod       time.Duration
	PhaseHysteresis    time.Duration
	PhaseSpeedThreshKt float64
	TurnWindowSamples  int
	TurnVarianceThresh float64
}

// Coordinator ties the phase detector, turn detector, strategies, filter,
// prioritizer, and throttle into one per-telemetry-tick cycle.
type Coordinator struct {
	phase  *PhaseDetector
	turn   *TurnDetector
	ground GroundStrategy
	cruise CruiseStrategy
	filter *Filter
	thr    *Throttle

	pipeline     *pipeline.Pipeline
	exec         *executor.Executor
	providerTag  string
	ddsFormat    string
	maxCandidate int

	metrics *metrics.Metrics
	log     zerolog.Logger

	running atomic.Bool
}

// New constructs a Coordinator. providerTag and ddsFormat stamp every
// submitted job's cache key, matching whatever the VFS bridge's on-demand
// path uses so a prefetched tile and a later on-demand read for the same
// texture land on the same cache entry.
func New(c *cache.Cache, pipe *pipeline.Pipeline, exec *executor.Executor, idx *index.Index, cfg Config, providerTag, ddsFormat string, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		phase:        NewPhaseDetector(cfg.PhaseSpeedThreshKt, cfg.PhaseHysteresis),
		turn:         NewTurnDetector(cfg.TurnWindowSamples, cfg.TurnVarianceThresh),
		ground:       NewGroundStrategy(cfg.GroundRadiusTiles, cfg.GroundZoom),
		cruise:       NewCruiseStrategy(cfg.CruiseZooms, cfg.LeadDistanceDeg, cfg.BandWidthDeg, cfg.MaxCandidates),
		filter:       NewFilter(c, pipe, idx),
		thr:          NewThrottle(cfg.GracePeriod, cfg.RampUpPeriod),
		pipeline:     pipe,
		exec:         exec,
		providerTag:  providerTag,
		ddsFormat:    ddsFormat,
		maxCandidate: cfg.MaxCandidates,
		log:          log.With().Str("component", "prefetch").Logger(),
	}
}

// SetMetrics attaches m so subsequent cycles report submission and
// skip-reason counts. A no-op if m is nil.
func (co *Coordinator) SetMetrics(m *metrics.Metrics) {
	co.metrics = m
}

// Run drives one cycle per sample delivered by src, until ctx is done or
// src's stream closes. Intended to run in its own goroutine for the
// process lifetime, the same shape as telemetry.Pump.
func (co *Coordinator) Run(ctx context.Context, src telemetry.Source) {
	samples := src.Samples(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			co.Tick(ctx, s)
		}
	}
}

// Tick runs exactly one cycle for sample, unless a prior cycle is still
// in progress, in which case this one is dropped rather than queued —
// the next telemetry sample supersedes it anyway.
func (co *Coordinator) Tick(ctx context.Context, sample telemetry.Sample) {
	if !co.running.CompareAndSwap(false, true) {
		return
	}
	defer co.running.Store(false)

	co.runCycle(ctx, sample)
}

func (co *Coordinator) runCycle(ctx context.Context, sample telemetry.Sample) {
	before := co.phase.Current()
	phase, changed := co.phase.UpdateAt(sample.GroundSpeedKt, sample.Time)
	if changed {
		co.thr.OnPhaseChange(before, phase, sample.Time)
		co.log.Info().Str("from", before.String()).Str("to", phase.String()).Msg("phase transition")
	}

	if co.exec.CircuitOpen() {
		co.recordSkip("circuit_breaker")
		return
	}

	if phase == PhaseCruise && co.turn.Update(sample.TrackDeg) {
		co.recordSkip("turning")
		return
	}

	candidates, err := co.plan(phase, sample)
	if err != nil {
		co.log.Warn().Err(err).Msg("planning prefetch candidates")
		co.recordSkip("plan_error")
		return
	}
	if len(candidates) == 0 {
		co.recordSkip("no_candidates")
		return
	}

	candidates = co.filter.Remove(candidates, co.providerTag, co.ddsFormat)
	if len(candidates) == 0 {
		co.recordSkip("all_available")
		return
	}

	candidates = RankCandidates(candidates, sample.Lat, sample.Lon, sample.TrackDeg)
	if len(candidates) > co.maxCandidate {
		candidates = candidates[:co.maxCandidate]
	}

	if co.exec.MaxUtilization() >= busyUtilizationThreshold {
		candidates = candidates[:(len(candidates)+1)/2]
	}

	fraction := co.thr.FractionAt(sample.Time)
	n := int(float64(len(candidates)) * fraction)
	if n == 0 {
		co.recordSkip("throttled")
		return
	}
	candidates = candidates[:n]

	for _, c := range candidates {
		co.submit(ctx, c)
	}
}

func (co *Coordinator) plan(phase Phase, sample telemetry.Sample) ([]Candidate, error) {
	if phase == PhaseGround {
		return co.ground.Plan(sample.Lat, sample.Lon)
	}
	return co.cruise.Plan(sample.Lat, sample.Lon, sample.TrackDeg)
}

// submit dispatches one tile's synthesis asynchronously: a prefetch
// submission's result is the cache entry it leaves behind, not a value
// this cycle waits on, so the cycle returns as soon as every candidate
// has been handed off rather than blocking on however long the slowest
// tile takes to build.
func (co *Coordinator) submit(ctx context.Context, c Candidate) {
	key := cache.Key{
		ProviderTag: co.providerTag,
		TileRow:     c.Tile.Row,
		TileCol:     c.Tile.Col,
		TileZoom:    c.Tile.Zoom,
		DDSFormat:   co.ddsFormat,
	}
	co.recordSubmitted()
	go co.pipeline.Synthesize(ctx, key, executor.PriorityPrefetch)
}

func (co *Coordinator) recordSubmitted() {
	if co.metrics != nil {
		co.metrics.PrefetchSubmitted.Inc()
	}
}

func (co *Coordinator) recordSkip(reason string) {
	if co.metrics != nil {
		co.metrics.PrefetchSkipped.WithLabelValues(reason).Inc()
	}
}
