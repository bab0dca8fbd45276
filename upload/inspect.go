package upload

import (
	"errors"
	"io"
	"os"

	"github.com/notnil/chess"
)

// CountGames parses the PGN file at path and returns how many complete games
// it holds. On a parse error the games read so far are returned with the
// error.
func CountGames(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := chess.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	return n, nil
}
