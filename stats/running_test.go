package stats

import (
	"math"
	"testing"

	"github.com/matryer/is"
)

func fuzzyEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestRunning(t *testing.T) {
	is := is.New(t)
	cases := []struct {
		samples  []float64
		mean     float64
		stdev    float64
		min, max float64
	}{
		{[]float64{10, 12, 23, 23, 16, 23, 21, 16}, 18, 5.2372293656638, 10, 23},
		{[]float64{14, 35, 71, 124, 10, 24, 55, 33, 87, 19}, 47.2, 36.937785531891, 10, 124},
		{[]float64{150.4}, 150.4, 0, 150.4, 150.4},
		{nil, 0, 0, 0, 0},
		{[]float64{1, 1}, 1, 0, 1, 1},
	}
	for _, c := range cases {
		var s Running
		for _, v := range c.samples {
			s.Push(v)
		}
		is.Equal(s.Count(), len(c.samples))
		is.True(fuzzyEqual(s.Mean(), c.mean))
		is.True(fuzzyEqual(s.Stdev(), c.stdev))
		sum := s.Summary()
		is.True(fuzzyEqual(sum.Min, c.min))
		is.True(fuzzyEqual(sum.Max, c.max))
	}
}

func TestSummaryTracksLast(t *testing.T) {
	is := is.New(t)
	var s Running
	s.Push(140)
	s.Push(160)
	sum := s.Summary()
	is.Equal(sum.Count, 2)
	is.Equal(sum.Last, 160.0)
	is.Equal(sum.Min, 140.0)
	is.Equal(sum.Max, 160.0)
	is.True(fuzzyEqual(sum.Mean, 150))
}
