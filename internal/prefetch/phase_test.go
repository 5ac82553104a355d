package prefetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaseDetectorStartsOnGround(t *testing.T) {
	d := NewPhaseDetector(40, 2*time.Second)
	assert.Equal(t, PhaseGround, d.Current())
}

func TestPhaseDetectorRequiresHysteresisToConfirmCruise(t *testing.T) {
	d := NewPhaseDetector(40, 2*time.Second)
	base := time.Now()

	phase, changed := d.UpdateAt(60, base)
	assert.False(t, changed)
	assert.Equal(t, PhaseGround, phase)

	phase, changed = d.UpdateAt(60, base.Add(time.Second))
	assert.False(t, changed)
	assert.Equal(t, PhaseGround, phase)

	phase, changed = d.UpdateAt(60, base.Add(2500*time.Millisecond))
	assert.True(t, changed)
	assert.Equal(t, PhaseCruise, phase)
}

func TestPhaseDetectorCandidacyResetsOnReversal(t *testing.T) {
	d := NewPhaseDetector(40, 2*time.Second)
	base := time.Now()

	d.UpdateAt(60, base)
	// A dip back below threshold before the hysteresis window elapses
	// should reset the candidacy clock rather than carry it forward.
	phase, changed := d.UpdateAt(10, base.Add(time.Second))
	assert.False(t, changed)
	assert.Equal(t, PhaseGround, phase)

	phase, changed = d.UpdateAt(60, base.Add(1100*time.Millisecond))
	assert.False(t, changed)
	assert.Equal(t, PhaseGround, phase)

	phase, changed = d.UpdateAt(60, base.Add(3500*time.Millisecond))
	assert.True(t, changed)
	assert.Equal(t, PhaseCruise, phase)
}

func TestPhaseDetectorDescendsBackToGround(t *testing.T) {
	d := NewPhaseDetector(40, 2*time.Second)
	base := time.Now()

	d.UpdateAt(60, base)
	d.UpdateAt(60, base.Add(3*time.Second))
	assert.Equal(t, PhaseCruise, d.Current())

	phase, changed := d.UpdateAt(5, base.Add(4*time.Second))
	assert.False(t, changed)
	assert.Equal(t, PhaseCruise, phase)

	phase, changed = d.UpdateAt(5, base.Add(6100*time.Millisecond))
	assert.True(t, changed)
	assert.Equal(t, PhaseGround, phase)
}
