package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestNetworkRecordSurvivesReopen(t *testing.T) {
	is := is.New(t)
	s, path := openTemp(t)

	_, found, err := s.Network()
	is.NoErr(err)
	is.True(!found)

	rec := NetworkRecord{Name: "net-42.bin", Fingerprint: 0xdeadbeef, Size: 1024,
		InstalledAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	is.NoErr(s.SetNetwork(rec))
	is.NoErr(s.Close())

	s2, err := Open(path)
	is.NoErr(err)
	defer s2.Close()
	got, found, err := s2.Network()
	is.NoErr(err)
	is.True(found)
	is.Equal(got, rec)
}

func TestSpool(t *testing.T) {
	is := is.New(t)
	s, _ := openTemp(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	is.NoErr(s.Spool(SpoolEntry{File: "b.zst", Attempts: 1, SpooledAt: base.Add(time.Minute)}))
	is.NoErr(s.Spool(SpoolEntry{File: "a.zst", Attempts: 1, SpooledAt: base}))

	entries, err := s.Spooled()
	is.NoErr(err)
	is.Equal(len(entries), 2)
	is.Equal(entries[0].File, "a.zst") // oldest first

	entries[0].Attempts++
	is.NoErr(s.Spool(entries[0]))
	is.NoErr(s.Unspool("b.zst"))

	entries, err = s.Spooled()
	is.NoErr(err)
	is.Equal(len(entries), 1)
	is.Equal(entries[0].Attempts, 2)
}

func TestClosedStore(t *testing.T) {
	is := is.New(t)
	s, _ := openTemp(t)
	is.NoErr(s.Close())
	_, _, err := s.Network()
	is.True(errors.Is(err, ErrClosed))
	is.True(errors.Is(s.Spool(SpoolEntry{File: "x"}), ErrClosed))
}
