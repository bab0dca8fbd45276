package datagen

import "math"

// Delta is the progress made between two readings.
type Delta struct {
	Positions int64
	Games     int64
	PPS       int64
}

// Tracker turns cumulative readings into deltas. The zero value starts from
// zero positions and games.
type Tracker struct {
	positions int64
	games     int64
}

// Observe returns the difference between p and the previous reading and
// remembers p. A counter that goes backwards means the generator restarted
// its count, so the new value is taken as the whole delta.
func (t *Tracker) Observe(p Progress) Delta {
	d := Delta{
		Positions: p.Positions - t.positions,
		Games:     p.Games - t.games,
		PPS:       int64(math.Round(p.PPS)),
	}
	if d.Positions < 0 {
		d.Positions = p.Positions
	}
	if d.Games < 0 {
		d.Games = p.Games
	}
	t.positions = p.Positions
	t.games = p.Games
	return d
}

// Totals returns the last cumulative reading.
func (t *Tracker) Totals() (positions, games int64) {
	return t.positions, t.games
}
