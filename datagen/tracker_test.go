package datagen

import (
	"math/rand/v2"
	"testing"

	"github.com/matryer/is"
)

func TestTrackerDeltas(t *testing.T) {
	is := is.New(t)
	var tr Tracker

	p1, ok := ParseProgress("Positions: 1500, Time: 10s, PPS: 150.4, Games: 30")
	is.True(ok)
	p2, ok := ParseProgress("Positions: 3000, Time: 20s, PPS: 150.0, Games: 60")
	is.True(ok)

	is.Equal(tr.Observe(p1), Delta{Positions: 1500, Games: 30, PPS: 150})
	is.Equal(tr.Observe(p2), Delta{Positions: 1500, Games: 30, PPS: 150})
}

func TestTrackerTelescopes(t *testing.T) {
	is := is.New(t)
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 50; trial++ {
		var tr Tracker
		var pos, games, sumPos, sumGames int64
		n := rng.IntN(40)
		for i := 0; i < n; i++ {
			pos += rng.Int64N(5000)
			games += rng.Int64N(100)
			d := tr.Observe(Progress{Positions: pos, Games: games, PPS: rng.Float64() * 1000})
			is.True(d.Positions >= 0)
			is.True(d.Games >= 0)
			sumPos += d.Positions
			sumGames += d.Games
		}
		is.Equal(sumPos, pos)
		is.Equal(sumGames, games)
		tp, tg := tr.Totals()
		is.Equal(tp, pos)
		is.Equal(tg, games)
	}
}

func TestTrackerCounterReset(t *testing.T) {
	is := is.New(t)
	var tr Tracker
	tr.Observe(Progress{Positions: 1000, Games: 10})
	d := tr.Observe(Progress{Positions: 200, Games: 2, PPS: 19.5})
	is.Equal(d, Delta{Positions: 200, Games: 2, PPS: 20})
}
