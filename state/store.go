// Package state persists what the runner must remember across restarts: the
// network installed in the engine directory and compressed game files whose
// upload is pending.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	metaBucket  = "meta"
	spoolBucket = "spool"

	networkKey = "network"
)

var ErrClosed = errors.New("state store is closed")

// NetworkRecord identifies the installed weights file.
type NetworkRecord struct {
	Name        string    `json:"name"`
	Fingerprint uint64    `json:"fingerprint"`
	Size        int64     `json:"size"`
	InstalledAt time.Time `json:"installed_at"`
}

// SpoolEntry is a compressed game file waiting to be uploaded again.
type SpoolEntry struct {
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	Attempts   int       `json:"attempts"`
	FirstError string    `json:"first_error"`
	SpooledAt  time.Time `json:"spooled_at"`
}

// Store is a small bbolt database.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{metaBucket, spoolBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Network returns the last recorded installed network.
func (s *Store) Network() (NetworkRecord, bool, error) {
	var rec NetworkRecord
	found := false
	err := s.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(metaBucket)).Get([]byte(networkKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// SetNetwork records the installed network.
func (s *Store) SetNetwork(rec NetworkRecord) error {
	return s.put(metaBucket, networkKey, rec)
}

// Spool adds or replaces an entry, keyed by its file name.
func (s *Store) Spool(e SpoolEntry) error {
	return s.put(spoolBucket, e.File, e)
}

// Spooled lists pending entries, oldest first.
func (s *Store) Spooled() ([]SpoolEntry, error) {
	var entries []SpoolEntry
	err := s.view(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(spoolBucket)).ForEach(func(k, v []byte) error {
			var e SpoolEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt spool entry %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SpooledAt.Before(entries[j].SpooledAt)
	})
	return entries, err
}

// Unspool removes an entry.
func (s *Store) Unspool(file string) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(spoolBucket)).Delete([]byte(file))
	})
}

func (s *Store) put(bucket, key string, v any) error {
	if s.db == nil {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

func (s *Store) view(fn func(tx *bbolt.Tx) error) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.View(fn)
}
