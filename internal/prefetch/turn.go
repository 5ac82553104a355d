package prefetch

import "math"

// TurnDetector flags that the aircraft is turning too briskly for the
// cruise strategy's forward-band projection to mean anything: a track
// that has swung through 90 degrees in the last few samples makes
// "project ahead along the current heading" produce tiles the aircraft
// will never fly over. It keeps a rolling window of heading samples and
// reports the circular variance of that window, the standard measure of
// angular spread that doesn't break down at the 0/360 wraparound the way
// a naive numeric stddev of degrees would.
type TurnDetector struct {
	window    []float64
	size      int
	threshold float64
}

// NewTurnDetector constructs a TurnDetector averaging over windowSamples
// headings, flagging a turn whenever circular variance exceeds
// varianceThreshold (0 = no spread at all, 1 = headings uniformly
// scattered across the compass).
func NewTurnDetector(windowSamples int, varianceThreshold float64) *TurnDetector {
	if windowSamples < 1 {
		windowSamples = 1
	}
	return &TurnDetector{size: windowSamples, threshold: varianceThreshold}
}

// Update folds in one track-degree observation and reports whether the
// window (once full) is turning too sharply to project a cruise band
// from. Returns false until the window has accumulated its configured
// sample count.
func (d *TurnDetector) Update(trackDeg float64) (turning bool) {
	d.window = append(d.window, trackDeg)
	if len(d.window) > d.size {
		d.window = d.window[len(d.window)-d.size:]
	}
	if len(d.window) < d.size {
		return false
	}

	return d.variance() > d.threshold
}

// variance computes 1 - R, the circular variance of the current window,
// where R is the length of the mean resultant vector of the headings
// mapped onto the unit circle.
func (d *TurnDetector) variance() float64 {
	var sumCos, sumSin float64
	for _, deg := range d.window {
		rad := deg * math.Pi / 180.0
		sumCos += math.Cos(rad)
		sumSin += math.Sin(rad)
	}
	n := float64(len(d.window))
	meanCos := sumCos / n
	meanSin := sumSin / n
	r := math.Hypot(meanCos, meanSin)
	return 1 - r
}
