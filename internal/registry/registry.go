package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gurisko/demosite/internal/failure"
)

// DateLayout is the format of every "updated" stamp
const DateLayout = "2006-01-02"

// errStale marks a commit attempt that lost to a concurrent writer
var errStale = errors.New("registry changed since it was read")

// Options tunes a Store. Zero values fall back to DefaultOptions.
type Options struct {
	MaxAttempts int           // read-modify-write cycles before ErrRegistryConflict
	RetryBase   time.Duration // first backoff between cycles, doubled each time
	LockStale   time.Duration // age after which a leftover lock file is broken
	DefaultTag  string
	LogoBaseURL string
	Exclude     []string // extra top-level dir names Rebuild never treats as sites
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts: 5,
		RetryBase:   50 * time.Millisecond,
		LockStale:   30 * time.Second,
		DefaultTag:  "Demo",
		LogoBaseURL: "https://sfdcdemoimages.s3.eu-west-1.amazonaws.com",
	}
}

// Store owns read-modify-write access to sites.json.
//
// Writers in other processes are expected, so every mutation re-reads the file,
// applies itself, and only replaces the file if its content hash is still the
// one that was read. Losing that race retries the whole cycle.
type Store struct {
	filePath string
	opts     Options
	now      func() time.Time

	// beforeCommit runs after an attempt has read and mutated the registry
	// but before it commits (tests use it to inject concurrent writers)
	beforeCommit func()
}

// NewStore creates a Store for the registry file at filePath
func NewStore(filePath string, opts Options) *Store {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = def.RetryBase
	}
	if opts.LockStale <= 0 {
		opts.LockStale = def.LockStale
	}
	if opts.DefaultTag == "" {
		opts.DefaultTag = def.DefaultTag
	}
	if opts.LogoBaseURL == "" {
		opts.LogoBaseURL = def.LogoBaseURL
	}
	return &Store{
		filePath: filePath,
		opts:     opts,
		now:      time.Now,
	}
}

// Path returns the registry file location
func (s *Store) Path() string { return s.filePath }

// DefaultTag is the tag given to sites created without one
func (s *Store) DefaultTag() string { return s.opts.DefaultTag }

// LogoURL is the default logo location for id
func (s *Store) LogoURL(id string) string {
	return s.opts.LogoBaseURL + "/" + id + "/logo.png"
}

func (s *Store) today() string {
	return s.now().UTC().Format(DateLayout)
}

// Load reads the registry from disk. A missing file is an empty registry.
func (s *Store) Load() (*Registry, error) {
	data, _, err := s.readRaw()
	if err != nil {
		return nil, err
	}
	return s.decode(data)
}

// readRaw returns the file content and its hash ("" when the file is absent)
func (s *Store) readRaw() ([]byte, string, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to read registry: %w", err)
	}
	return data, hashBytes(data), nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *Store) decode(data []byte) (*Registry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Registry{Sites: []Site{}}, nil
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", failure.ErrCorruptRegistry, s.filePath, err)
	}
	if reg.Sites == nil {
		reg.Sites = []Site{}
	}

	seen := make(map[string]bool, len(reg.Sites))
	for i := range reg.Sites {
		site := &reg.Sites[i]
		if !ValidID(site.ID) {
			return nil, fmt.Errorf("%w: %s: entry %d has invalid id %q", failure.ErrCorruptRegistry, s.filePath, i, site.ID)
		}
		if seen[site.ID] {
			return nil, fmt.Errorf("%w: %s: id %q appears more than once", failure.ErrCorruptRegistry, s.filePath, site.ID)
		}
		seen[site.ID] = true

		// path is derived, never stored independently
		if want := CanonicalPath(site.ID); site.Path != want {
			if site.Path != "" {
				log.Printf("[WARN] registry: repairing path of %s (%q -> %q)", site.ID, site.Path, want)
			}
			site.Path = want
		}
		if site.Name == "" {
			site.Name = DisplayName(site.ID)
		}
	}
	return &reg, nil
}

func encode(reg *Registry) ([]byte, error) {
	if reg.Sites == nil {
		reg.Sites = []Site{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reg); err != nil {
		return nil, fmt.Errorf("failed to marshal registry: %w", err)
	}
	return buf.Bytes(), nil
}

// update runs one optimistic read-modify-write cycle per attempt. Errors
// returned by mutate are terminal; only lost races are retried.
func (s *Store) update(ctx context.Context, tolerateCorrupt bool, mutate func(*Registry) error) (*Registry, error) {
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, hash, err := s.readRaw()
		if err != nil {
			return nil, err
		}
		reg, err := s.decode(data)
		if err != nil {
			if !tolerateCorrupt || !errors.Is(err, failure.ErrCorruptRegistry) {
				return nil, err
			}
			log.Printf("[WARN] registry: ignoring unreadable registry: %v", err)
			reg = &Registry{Sites: []Site{}}
		}

		if err := mutate(reg); err != nil {
			return nil, err
		}
		reg.Updated = s.today()

		out, err := encode(reg)
		if err != nil {
			return nil, err
		}

		if s.beforeCommit != nil {
			s.beforeCommit()
		}

		err = s.commit(out, hash)
		if err == nil {
			return reg, nil
		}
		if !errors.Is(err, errStale) {
			return nil, fmt.Errorf("persist failed: %w", err)
		}

		log.Printf("[DEBUG] registry: attempt %d/%d lost a concurrent write: %v", attempt, s.opts.MaxAttempts, err)
		if attempt < s.opts.MaxAttempts {
			if err := sleep(ctx, s.backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %s kept changing underneath us after %d attempts", failure.ErrRegistryConflict, s.filePath, s.opts.MaxAttempts)
}

func (s *Store) backoff(attempt int) time.Duration {
	d := s.opts.RetryBase << (attempt - 1)
	return d + rand.N(s.opts.RetryBase)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// commit atomically replaces the registry file with data, provided its
// current content still hashes to expected
func (s *Store) commit(data []byte, expected string) error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temp file for atomic replacement
	f, err := os.CreateTemp(dir, ".sites-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	// Best-effort cleanup if we fail; a no-op after the rename
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to set registry permissions: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to fsync registry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close registry file: %w", err)
	}

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	_, current, err := s.readRaw()
	if err != nil {
		return err
	}
	if current != expected {
		return fmt.Errorf("%w: content hash changed", errStale)
	}

	// Atomic replace
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}

	// Ensure directory metadata is persisted
	if dirf, err := os.Open(dir); err == nil {
		_ = dirf.Sync()
		_ = dirf.Close()
	}
	return nil
}

// lock takes the short-lived commit lock guarding the hash check and rename
func (s *Store) lock() (func(), error) {
	lockPath := s.filePath + ".lock"

	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
		_ = f.Close()
		return func() { _ = os.Remove(lockPath) }, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	// A crashed writer leaves its lock behind; break it so the next attempt can proceed
	if fi, statErr := os.Stat(lockPath); statErr == nil && time.Since(fi.ModTime()) > s.opts.LockStale {
		if s.breakLock(lockPath) {
			log.Printf("[WARN] registry: broke stale lock %s (age %s)", lockPath, time.Since(fi.ModTime()).Round(time.Second))
		}
	}
	return nil, fmt.Errorf("%w: %s is held by another writer", errStale, lockPath)
}

// breakLock moves the lock file aside under a name no other writer uses and
// only deletes it if it is still stale. Another writer may have broken the
// same lock and taken a fresh one in between; that lock is put back.
func (s *Store) breakLock(lockPath string) bool {
	aside := fmt.Sprintf("%s.%s", lockPath, uuid.NewString())
	if err := os.Rename(lockPath, aside); err != nil {
		return false
	}
	fi, err := os.Stat(aside)
	if err == nil && time.Since(fi.ModTime()) <= s.opts.LockStale {
		// Link never replaces an existing file
		if linkErr := os.Link(aside, lockPath); linkErr != nil {
			log.Printf("[WARN] registry: could not restore live lock %s: %v", lockPath, linkErr)
		}
		_ = os.Remove(aside)
		return false
	}
	_ = os.Remove(aside)
	return err == nil
}

// Insert adds a new site. The id must not be registered yet.
func (s *Store) Insert(ctx context.Context, site Site) (*Site, error) {
	if !ValidID(site.ID) {
		return nil, fmt.Errorf("%w: invalid company id %q", failure.ErrMalformedRequest, site.ID)
	}
	if site.Name == "" {
		return nil, fmt.Errorf("%w: company name is required", failure.ErrMalformedRequest)
	}
	site.Path = CanonicalPath(site.ID)
	if site.Tag == "" {
		site.Tag = s.opts.DefaultTag
	}
	if site.LogoURL == "" {
		site.LogoURL = s.LogoURL(site.ID)
	}

	var out Site
	_, err := s.update(ctx, false, func(reg *Registry) error {
		if reg.Contains(site.ID) {
			return fmt.Errorf("%w: id %q is already registered", failure.ErrDuplicateCompany, site.ID)
		}
		out = site
		out.Updated = s.today()
		reg.Sites = append(reg.Sites, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetArchived flips the archived flag of an existing site in place
func (s *Store) SetArchived(ctx context.Context, id string, archived bool) (*Site, error) {
	var out Site
	_, err := s.update(ctx, false, func(reg *Registry) error {
		i := reg.Find(id)
		if i < 0 {
			return fmt.Errorf("%w: id %q not found in %s", failure.ErrUnknownCompany, id, filepath.Base(s.filePath))
		}
		reg.Sites[i].Archived = archived
		reg.Sites[i].Updated = s.today()
		out = reg.Sites[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Remove deletes the entry for id. The backing folder is left to the caller.
func (s *Store) Remove(ctx context.Context, id string) (*Site, error) {
	var out Site
	_, err := s.update(ctx, false, func(reg *Registry) error {
		i := reg.Find(id)
		if i < 0 {
			return fmt.Errorf("%w: id %q not found in %s", failure.ErrUnknownCompany, id, filepath.Base(s.filePath))
		}
		out = reg.Sites[i]
		reg.Sites = append(reg.Sites[:i], reg.Sites[i+1:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
