package bayes

import (
	"sync"
)

// calibrationPoint pairs a predicted confidence with the observed
// outcome of the execution it scored.
type calibrationPoint struct {
	predicted float64
	success   bool
}

// Curve is a decile histogram mapping predicted confidence to observed
// success rate, built from the most recent calibration points. It
// corrects systematic over- and under-confidence.
type Curve struct {
	mu sync.Mutex

	window  int // points retained
	rebuild int // buffered points that trigger a rebuild

	points  []calibrationPoint
	pending int

	buckets [10]bucket
}

type bucket struct {
	count     int
	successes int
}

// NewCurve creates a calibration curve over the last window points,
// rebuilding whenever rebuildThreshold points have been buffered.
func NewCurve(window, rebuildThreshold int) *Curve {
	if window <= 0 {
		window = 500
	}
	if rebuildThreshold <= 0 {
		rebuildThreshold = 10
	}
	return &Curve{window: window, rebuild: rebuildThreshold}
}

// Observe records one predicted-vs-actual outcome and rebuilds the
// histogram once enough points have accumulated.
func (c *Curve) Observe(predicted float64, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.points = append(c.points, calibrationPoint{predicted: clamp01(predicted), success: success})
	if len(c.points) > c.window {
		c.points = c.points[len(c.points)-c.window:]
	}
	c.pending++
	if c.pending >= c.rebuild {
		c.rebuildLocked()
		c.pending = 0
	}
}

// Rebuild forces a histogram rebuild from the current points. Rebuilding
// twice on unchanged history yields identical buckets.
func (c *Curve) Rebuild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuildLocked()
	c.pending = 0
}

func (c *Curve) rebuildLocked() {
	var fresh [10]bucket
	for _, p := range c.points {
		i := bucketIndex(p.predicted)
		fresh[i].count++
		if p.success {
			fresh[i].successes++
		}
	}
	c.buckets = fresh
}

// Calibrate maps a raw confidence through the histogram. Buckets without
// observations pass the raw value through unchanged.
func (c *Curve) Calibrate(raw float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.buckets[bucketIndex(clamp01(raw))]
	if b.count == 0 {
		return clamp01(raw)
	}
	observed := float64(b.successes) / float64(b.count)
	// Blend toward the observed rate; sparse buckets keep more of the
	// raw prediction.
	weight := float64(b.count) / float64(b.count+5)
	return clamp01(raw*(1-weight) + observed*weight)
}

// Quality returns a Brier-score-derived calibration quality in [0,1],
// where 1 means perfectly calibrated predictions. With no history the
// curve reports full quality rather than warning spuriously.
func (c *Curve) Quality() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.points) == 0 {
		return 1
	}
	var brier float64
	for _, p := range c.points {
		outcome := 0.0
		if p.success {
			outcome = 1.0
		}
		d := p.predicted - outcome
		brier += d * d
	}
	brier /= float64(len(c.points))
	// Brier 0 is perfect, 0.25 matches always-guessing-0.5.
	return clamp01(1 - 2*brier)
}

// Size returns how many calibration points are retained.
func (c *Curve) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}

// Buckets returns a copy of the decile histogram as (count, successes)
// pairs, for observability.
func (c *Curve) Buckets() [10][2]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [10][2]int
	for i, b := range c.buckets {
		out[i] = [2]int{b.count, b.successes}
	}
	return out
}

func bucketIndex(v float64) int {
	i := int(v * 10)
	if i > 9 {
		i = 9
	}
	if i < 0 {
		i = 0
	}
	return i
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
