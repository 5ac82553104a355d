package prefetch

import "time"

// Phase is the aircraft's coarse flight regime, driving which prefetch
// strategy runs each cycle.
type Phase int

const (
	PhaseGround Phase = iota
	PhaseCruise
)

func (p Phase) String() string {
	if p == PhaseCruise {
		return "cruise"
	}
	return "ground"
}

// PhaseDetector debounces the ground/cruise transition against
// groundspeed so a momentary dip below the threshold during takeoff roll
// (or a gust above it while taxiing) doesn't flap the phase back and
// forth. A candidate phase must hold for the hysteresis window before it
// is confirmed.
type PhaseDetector struct {
	speedThreshKt float64
	hysteresis    time.Duration

	confirmed Phase
	candidate Phase
	since     time.Time
	hasSince  bool
}

// NewPhaseDetector constructs a PhaseDetector starting in PhaseGround.
func NewPhaseDetector(speedThreshKt float64, hysteresis time.Duration) *PhaseDetector {
	return &PhaseDetector{speedThreshKt: speedThreshKt, hysteresis: hysteresis, confirmed: PhaseGround}
}

// Current returns the last confirmed phase without observing a new
// sample.
func (d *PhaseDetector) Current() Phase {
	return d.confirmed
}

// UpdateAt folds in one groundspeed observation at the given time,
// returning the now-confirmed phase and whether it just changed. A
// reading that disagrees with the confirmed phase starts (or continues)
// a candidacy clock; it only flips the confirmed phase once that
// candidacy has held continuously for the hysteresis window.
func (d *PhaseDetector) UpdateAt(groundSpeedKt float64, at time.Time) (Phase, bool) {
	observed := PhaseGround
	if groundSpeedKt >= d.speedThreshKt {
		observed = PhaseCruise
	}

	if observed == d.confirmed {
		d.hasSince = false
		return d.confirmed, false
	}

	if !d.hasSince || observed != d.candidate {
		d.candidate = observed
		d.since = at
		d.hasSince = true
		return d.confirmed, false
	}

	if at.Sub(d.since) < d.hysteresis {
		return d.confirmed, false
	}

	d.confirmed = observed
	d.hasSince = false
	return d.confirmed, true
}
