// Package netfile keeps the engine's network weights file in sync with the
// network named by the coordination server.
//
// Downloaded networks are kept in a small cache directory so switching back
// to a recent network does not download it again. The weights file itself is
// only ever replaced by renaming a completely written file over it, so the
// engine never sees a partial network.
package netfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/pzchessbot/pzrunner/state"
)

// NoNetwork is the server's way of saying no network has been published.
const NoNetwork = "None"

const partialSuffix = ".partial"

var (
	ErrInvalidName  = errors.New("invalid network name")
	ErrEmptyNetwork = errors.New("network file is empty")
)

// Fetcher downloads a network by name.
type Fetcher interface {
	FetchNetwork(ctx context.Context, name string, w io.Writer) error
}

type Options struct {
	// WeightsPath is the file the engine loads.
	WeightsPath string
	// CacheDir holds downloaded networks, one file per name.
	CacheDir string
	// CacheSize is how many networks are kept in CacheDir.
	CacheSize int
	// Attempts is how many times a download is tried before giving up.
	Attempts uint
	// RetryDelay is the initial delay between download attempts.
	RetryDelay time.Duration
}

// Updater installs networks. It is not safe for concurrent use; the main loop
// is its only caller.
type Updater struct {
	opts    Options
	fetcher Fetcher
	store   *state.Store
	cache   *lru.Cache[string, string]
	current string
}

// New creates an Updater. store may be nil, in which case nothing survives a
// restart and the first network named by the server is always installed.
func New(opts Options, fetcher Fetcher, store *state.Store) (*Updater, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1
	}
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create network cache: %w", err)
	}
	cache, err := lru.NewWithEvict(opts.CacheSize, func(name, path string) {
		log.Debug().Str("net-file", name).Msg("evicting cached network")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to remove cached network")
		}
	})
	if err != nil {
		return nil, err
	}
	u := &Updater{
		opts:    opts,
		fetcher: fetcher,
		store:   store,
		cache:   cache,
		current: NoNetwork,
	}
	if err := u.loadCache(); err != nil {
		return nil, err
	}
	u.restore()
	return u, nil
}

// loadCache registers networks left in the cache directory by a previous run,
// least recently modified first, so the cache bound applies to them too.
func (u *Updater) loadCache() error {
	entries, err := os.ReadDir(u.opts.CacheDir)
	if err != nil {
		return err
	}
	type cached struct {
		name string
		mod  time.Time
	}
	var found []cached
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.Contains(e.Name(), partialSuffix) {
			os.Remove(filepath.Join(u.opts.CacheDir, e.Name()))
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, cached{e.Name(), info.ModTime()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod.Before(found[j].mod) })
	for _, c := range found {
		u.cache.Add(c.name, filepath.Join(u.opts.CacheDir, c.name))
	}
	return nil
}

// restore trusts the recorded network only if the weights file on disk still
// matches it.
func (u *Updater) restore() {
	if u.store == nil {
		return
	}
	rec, found, err := u.store.Network()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read installed network record")
		return
	}
	if !found {
		return
	}
	fp, _, err := Fingerprint(u.opts.WeightsPath)
	if err != nil || fp != rec.Fingerprint {
		log.Info().Str("net-file", rec.Name).Msg("weights file changed since last run; will reinstall")
		return
	}
	u.current = rec.Name
	log.Info().Str("net-file", rec.Name).Msg("restored installed network")
}

// Current is the name of the installed network, or NoNetwork.
func (u *Updater) Current() string {
	return u.current
}

// Apply makes name the installed network. The weights file and Current are
// left untouched if anything fails.
func (u *Updater) Apply(ctx context.Context, name string) error {
	if name == u.current {
		return nil
	}
	if name == NoNetwork || name == "" {
		log.Debug().Str("installed", u.current).Msg("server has no network; keeping installed weights")
		return nil
	}
	if err := validName(name); err != nil {
		return err
	}

	src, ok := u.cached(name)
	if !ok {
		var err error
		src, err = u.download(ctx, name)
		if err != nil {
			return err
		}
	} else {
		log.Info().Str("net-file", name).Msg("using cached network")
	}

	rec, err := u.install(src, name)
	if err != nil {
		return err
	}
	if u.store != nil {
		if err := u.store.SetNetwork(rec); err != nil {
			log.Warn().Err(err).Msg("failed to record installed network")
		}
	}
	u.current = name
	log.Info().Str("net-file", name).Int64("size", rec.Size).Msg("updated neural network file")
	return nil
}

func (u *Updater) cached(name string) (string, bool) {
	path, ok := u.cache.Get(name)
	if !ok {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		u.cache.Remove(name)
		return "", false
	}
	return path, true
}

func (u *Updater) download(ctx context.Context, name string) (string, error) {
	log.Info().Str("net-file", name).Msg("downloading network")
	tmp, err := os.CreateTemp(u.opts.CacheDir, name+partialSuffix+"-*")
	if err != nil {
		return "", err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	err = retry.Do(
		func() error {
			if _, err := tmp.Seek(0, io.SeekStart); err != nil {
				return retry.Unrecoverable(err)
			}
			if err := tmp.Truncate(0); err != nil {
				return retry.Unrecoverable(err)
			}
			return u.fetcher.FetchNetwork(ctx, name, tmp)
		},
		retry.Context(ctx),
		retry.Attempts(u.opts.Attempts),
		retry.Delay(u.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// 4xx is final.
			var se interface{ HTTPStatus() int }
			return !errors.As(err, &se) || se.HTTPStatus() >= 500
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Str("net-file", name).Msg("network download failed")
		}),
	)
	if err != nil {
		return "", err
	}
	info, err := tmp.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyNetwork, name)
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	dst := filepath.Join(u.opts.CacheDir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	u.cache.Add(name, dst)
	return dst, nil
}

// install copies src next to the weights file and renames it into place.
func (u *Updater) install(src, name string) (state.NetworkRecord, error) {
	rec := state.NetworkRecord{Name: name}
	in, err := os.Open(src)
	if err != nil {
		return rec, err
	}
	defer in.Close()

	dir := filepath.Dir(u.opts.WeightsPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(u.opts.WeightsPath)+partialSuffix+"-*")
	if err != nil {
		return rec, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	h := xxhash.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), in)
	if err != nil {
		return rec, fmt.Errorf("failed to copy network: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return rec, err
	}
	if err := tmp.Close(); err != nil {
		return rec, err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return rec, err
	}
	if err := os.Rename(tmp.Name(), u.opts.WeightsPath); err != nil {
		return rec, fmt.Errorf("failed to install network: %w", err)
	}
	rec.Fingerprint = h.Sum64()
	rec.Size = n
	rec.InstalledAt = time.Now().UTC()
	return rec, nil
}

// Fingerprint hashes the file at path.
func Fingerprint(path string) (uint64, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, err
	}
	return h.Sum64(), n, nil
}

func validName(name string) error {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.Contains(name, partialSuffix) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
