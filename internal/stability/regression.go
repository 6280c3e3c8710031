package stability

import (
	"math"
	"time"

	"cryostat_controller/internal/window"
)

// fitResult holds the least-squares line fit of a sample run against
// elapsed seconds since its oldest sample.
type fitResult struct {
	Slope     float64 // kelvin per second
	Intercept float64
	RSquared  float64
}

// ssTotFloor is the total-sum-of-squares floor below which the signal is
// treated as constant and the fit as perfect (R² = 1). Without it a flat
// signal would divide by zero and never qualify as stable.
const ssTotFloor = 1e-18

// linearFit fits value = slope*elapsed + intercept by least squares over the
// given samples and reports the coefficient of determination. At least two
// samples with distinct timestamps are required.
func linearFit(samples []window.Sample) (fitResult, bool) {
	n := len(samples)
	if n < 2 {
		return fitResult{}, false
	}
	oldest := samples[0].At

	var sumX, sumY float64
	for _, s := range samples {
		if math.IsNaN(s.Value) {
			return fitResult{}, false
		}
		sumX += s.At.Sub(oldest).Seconds()
		sumY += s.Value
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var sxx, sxy float64
	for _, s := range samples {
		dx := s.At.Sub(oldest).Seconds() - meanX
		sxx += dx * dx
		sxy += dx * (s.Value - meanY)
	}
	if sxx == 0 {
		// All samples share one timestamp; no trend is computable.
		return fitResult{}, false
	}
	slope := sxy / sxx
	intercept := meanY - slope*meanX

	var ssRes, ssTot float64
	for _, s := range samples {
		x := s.At.Sub(oldest).Seconds()
		resid := s.Value - (slope*x + intercept)
		ssRes += resid * resid
		dy := s.Value - meanY
		ssTot += dy * dy
	}

	r2 := 1.0
	if ssTot > ssTotFloor {
		r2 = 1 - ssRes/ssTot
	}
	return fitResult{Slope: slope, Intercept: intercept, RSquared: r2}, true
}

// drift is the total predicted temperature change over the configured
// minimum window span.
func drift(slope float64, fullTime time.Duration) float64 {
	return math.Abs(slope) * fullTime.Seconds()
}
