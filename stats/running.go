// Package stats keeps running summaries of a stream of samples.
package stats

import "math"

// Running accumulates mean and variance in one pass (Welford's algorithm).
// The zero value is empty.
type Running struct {
	n    int
	last float64
	min  float64
	max  float64
	mean float64
	m2   float64
}

func (s *Running) Push(val float64) {
	s.n++
	s.last = val
	if s.n == 1 {
		s.mean, s.m2 = val, 0
		s.min, s.max = val, val
		return
	}
	s.min = math.Min(s.min, val)
	s.max = math.Max(s.max, val)
	delta := val - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (val - s.mean)
}

func (s *Running) Count() int     { return s.n }
func (s *Running) Mean() float64  { return s.mean }
func (s *Running) Stdev() float64 { return math.Sqrt(s.Variance()) }

// Variance is the sample variance.
func (s *Running) Variance() float64 {
	if s.n <= 1 {
		return 0
	}
	return s.m2 / float64(s.n-1)
}

// Summary is a snapshot suitable for logging.
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Stdev float64 `json:"stdev"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Last  float64 `json:"last"`
}

func (s *Running) Summary() Summary {
	return Summary{Count: s.n, Mean: s.mean, Stdev: s.Stdev(), Min: s.min, Max: s.max, Last: s.last}
}
