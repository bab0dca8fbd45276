package datagen

import (
	"regexp"
	"strconv"
)

var (
	progressRe = regexp.MustCompile(
		`Positions:\s*(?P<positions>\d+),\s*Time:\s*(?P<time>[^,]*),\s*PPS:\s*(?P<pps>[-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?),\s*Games:\s*(?P<games>\d+)`)
	bannerRe = regexp.MustCompile(`PZChessBot v(?P<version>\S+)`)

	positionsIdx = progressRe.SubexpIndex("positions")
	timeIdx      = progressRe.SubexpIndex("time")
	ppsIdx       = progressRe.SubexpIndex("pps")
	gamesIdx     = progressRe.SubexpIndex("games")
	versionIdx   = bannerRe.SubexpIndex("version")
)

// Progress is one cumulative reading printed by the generator.
type Progress struct {
	Positions int64
	Games     int64
	PPS       float64
	Elapsed   string
}

// ParseProgress extracts a reading from a line of generator output. Lines
// that are not progress lines return false.
func ParseProgress(line string) (Progress, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	positions, err := strconv.ParseInt(m[positionsIdx], 10, 64)
	if err != nil {
		return Progress{}, false
	}
	games, err := strconv.ParseInt(m[gamesIdx], 10, 64)
	if err != nil {
		return Progress{}, false
	}
	pps, err := strconv.ParseFloat(m[ppsIdx], 64)
	if err != nil {
		return Progress{}, false
	}
	return Progress{
		Positions: positions,
		Games:     games,
		PPS:       pps,
		Elapsed:   m[timeIdx],
	}, true
}

// ParseBanner returns the engine version from its startup banner.
func ParseBanner(line string) (string, bool) {
	m := bannerRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[versionIdx], true
}
