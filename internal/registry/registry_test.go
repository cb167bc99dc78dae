package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/gurisko/demosite/internal/failure"
)

func newTestStore(t interface{ Helper() }, dir string) *Store {
	t.Helper()
	s := NewStore(filepath.Join(dir, "assets", "sites.json"), Options{RetryBase: time.Millisecond})
	s.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	return s
}

func writeRegistry(t *testing.T, s *Store, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o644))
}

func makeSiteDir(t *testing.T, root, id string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, id), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, id, "index.html"), []byte("<html></html>"), 0o644))
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	reg, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, reg.Sites)
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{"sites": [`},
		{"sites not a list", `{"sites": {"id": "acme"}}`},
		{"empty id", `{"sites": [{"id": "", "name": "x"}]}`},
		{"duplicate id", `{"sites": [{"id": "acme", "name": "A"}, {"id": "acme", "name": "B"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, t.TempDir())
			writeRegistry(t, s, tt.content)

			_, err := s.Load()
			require.ErrorIs(t, err, failure.ErrCorruptRegistry)
		})
	}
}

func TestLoad_RepairsDerivedFields(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	writeRegistry(t, s, `{"updated": "2024-01-01", "sites": [{"id": "acme-co", "path": "/elsewhere/"}]}`)

	reg, err := s.Load()
	require.NoError(t, err)
	require.Len(t, reg.Sites, 1)
	assert.Equal(t, "/acme-co/", reg.Sites[0].Path)
	assert.Equal(t, "Acme Co", reg.Sites[0].Name)
}

func TestInsert_CreatesFileWithDefaults(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	site, err := s.Insert(context.Background(), Site{ID: "acme-co", Name: "Acme Co", Description: "Anvils."})
	require.NoError(t, err)
	assert.Equal(t, "/acme-co/", site.Path)
	assert.Equal(t, "Demo", site.Tag)
	assert.Equal(t, "https://sfdcdemoimages.s3.eu-west-1.amazonaws.com/acme-co/logo.png", site.LogoURL)
	assert.False(t, site.Archived)
	assert.Equal(t, "2025-03-14", site.Updated)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw), "registry must stay valid JSON")
	assert.Equal(t, "2025-03-14", raw["updated"])
	assert.Equal(t, byte('\n'), data[len(data)-1])

	_, err = os.Stat(s.Path() + ".lock")
	assert.True(t, os.IsNotExist(err), "commit lock must be released")
}

func TestInsert_Duplicate(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()

	_, err := s.Insert(ctx, Site{ID: "acme-co", Name: "Acme Co"})
	require.NoError(t, err)

	_, err = s.Insert(ctx, Site{ID: "acme-co", Name: "Acme Again"})
	require.ErrorIs(t, err, failure.ErrDuplicateCompany)

	reg, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, reg.Sites, 1)
}

func TestInsert_DoesNotEscapeHTML(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	_, err := s.Insert(context.Background(), Site{ID: "b-and-q", Name: "B&Q <Retail>"})
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "B&Q <Retail>"`)
}

func TestSetArchived_RoundTrip(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()

	orig, err := s.Insert(ctx, Site{ID: "acme-co", Name: "Acme Co", Description: "Anvils.", Tag: "Retail"})
	require.NoError(t, err)

	archived, err := s.SetArchived(ctx, "acme-co", true)
	require.NoError(t, err)
	assert.True(t, archived.Archived)

	restored, err := s.SetArchived(ctx, "acme-co", false)
	require.NoError(t, err)
	assert.Equal(t, *orig, *restored)
}

func TestSetArchived_UpdatesRegistryDate(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	writeRegistry(t, s, `{"updated": "2024-01-01", "sites": [{"id": "acme-co", "name": "Acme Co", "path": "/acme-co/"}]}`)

	_, err := s.SetArchived(context.Background(), "acme-co", true)
	require.NoError(t, err)

	reg, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14", reg.Updated)
	assert.True(t, reg.Sites[0].Archived)
}

func TestSetArchived_Unknown(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	writeRegistry(t, s, `{"updated": "2024-01-01", "sites": []}`)

	_, err := s.SetArchived(context.Background(), "acme-co", true)
	require.ErrorIs(t, err, failure.ErrUnknownCompany)
	assert.Contains(t, err.Error(), "acme-co")

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "2024-01-01", "failed mutation must not rewrite the file")
}

func TestRemove(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Insert(ctx, Site{ID: id, Name: id})
		require.NoError(t, err)
	}

	removed, err := s.Remove(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", removed.ID)

	reg, err := s.Load()
	require.NoError(t, err)
	require.Len(t, reg.Sites, 2)
	assert.Equal(t, "a", reg.Sites[0].ID)
	assert.Equal(t, "c", reg.Sites[1].ID)

	_, err = s.Remove(ctx, "b")
	require.ErrorIs(t, err, failure.ErrUnknownCompany)
}

func TestUpdate_RetriesAfterConcurrentWrite(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()
	_, err := s.Insert(ctx, Site{ID: "first", Name: "First"})
	require.NoError(t, err)

	other := newTestStore(t, filepath.Dir(filepath.Dir(s.Path())))
	calls := 0
	s.beforeCommit = func() {
		calls++
		if calls == 1 {
			// another process commits between our read and our write
			_, err := other.Insert(ctx, Site{ID: "second", Name: "Second"})
			require.NoError(t, err)
		}
	}

	_, err = s.Insert(ctx, Site{ID: "third", Name: "Third"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	reg, err := s.Load()
	require.NoError(t, err)
	var ids []string
	for _, site := range reg.Sites {
		ids = append(ids, site.ID)
	}
	assert.Equal(t, []string{"first", "second", "third"}, ids, "concurrent insert must not be lost")
}

func TestUpdate_ConflictAfterMaxAttempts(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()
	_, err := s.Insert(ctx, Site{ID: "first", Name: "First"})
	require.NoError(t, err)

	n := 0
	s.beforeCommit = func() {
		n++
		writeRegistry(t, s, fmt.Sprintf(`{"updated": "x%d", "sites": [{"id": "first", "name": "First"}]}`, n))
	}

	_, err = s.SetArchived(ctx, "first", true)
	require.ErrorIs(t, err, failure.ErrRegistryConflict)
	assert.Equal(t, DefaultOptions().MaxAttempts, n)
}

func TestUpdate_HeldLockIsRetried(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()
	_, err := s.Insert(ctx, Site{ID: "first", Name: "First"})
	require.NoError(t, err)

	lockPath := s.Path() + ".lock"
	require.NoError(t, os.WriteFile(lockPath, []byte("999"), 0o644))
	calls := 0
	s.beforeCommit = func() {
		calls++
		if calls == 2 {
			require.NoError(t, os.Remove(lockPath))
		}
	}

	_, err = s.SetArchived(ctx, "first", true)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestUpdate_BreaksStaleLock(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	s.opts.LockStale = time.Millisecond
	ctx := context.Background()

	lockPath := s.Path() + ".lock"
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	require.NoError(t, os.WriteFile(lockPath, []byte("999"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	_, err := s.Insert(ctx, Site{ID: "first", Name: "First"})
	require.NoError(t, err)
}

func TestBreakLock(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	s.opts.LockStale = time.Minute
	lockPath := filepath.Join(dir, "sites.json.lock")

	leftovers := func() []string {
		matches, err := filepath.Glob(lockPath + ".*")
		require.NoError(t, err)
		return matches
	}

	t.Run("stale lock is removed", func(t *testing.T) {
		require.NoError(t, os.WriteFile(lockPath, []byte("999"), 0o644))
		old := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(lockPath, old, old))

		assert.True(t, s.breakLock(lockPath))
		assert.NoFileExists(t, lockPath)
		assert.Empty(t, leftovers())
	})

	t.Run("lock retaken by another writer survives", func(t *testing.T) {
		// the caller saw a stale lock, but a fresh one replaced it before the break
		require.NoError(t, os.WriteFile(lockPath, []byte("1234"), 0o644))

		assert.False(t, s.breakLock(lockPath))
		got, err := os.ReadFile(lockPath)
		require.NoError(t, err)
		assert.Equal(t, "1234", string(got))
		assert.Empty(t, leftovers())
	})

	t.Run("missing lock", func(t *testing.T) {
		require.NoError(t, os.Remove(lockPath))
		assert.False(t, s.breakLock(lockPath))
	})
}

func TestRebuild_PreservesAndDrops(t *testing.T) {
	root := t.TempDir()
	s := newTestStore(t, root)
	writeRegistry(t, s, `{
  "updated": "2024-01-01",
  "sites": [
    {"id": "zeta", "name": "Zeta Corp", "description": "Keep me", "tag": "Retail", "logoUrl": "https://x/logo.png", "path": "/wrong/", "archived": true, "updated": "2024-01-01"},
    {"id": "gone", "name": "Gone", "path": "/gone/"}
  ]
}`)
	makeSiteDir(t, root, "zeta")
	makeSiteDir(t, root, "beta-labs")
	makeSiteDir(t, root, "alpha")
	makeSiteDir(t, root, "company-template")
	makeSiteDir(t, root, ".hidden")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no-index"), 0o755))

	reg, err := s.Rebuild(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, reg.Sites, 3)
	assert.Equal(t, Site{
		ID: "zeta", Name: "Zeta Corp", Description: "Keep me", Tag: "Retail",
		LogoURL: "https://x/logo.png", Path: "/zeta/", Archived: true, Updated: "2024-01-01",
	}, reg.Sites[0])
	assert.Equal(t, "alpha", reg.Sites[1].ID)
	assert.Equal(t, "beta-labs", reg.Sites[2].ID)
	assert.Equal(t, "Beta Labs", reg.Sites[2].Name)
	assert.Equal(t, PlaceholderDescription, reg.Sites[2].Description)
	assert.False(t, reg.Sites[2].Archived)
}

func TestExcluded(t *testing.T) {
	s := NewStore("sites.json", Options{Exclude: []string{"drafts"}})
	for _, name := range []string{"assets", "company-template", ".git", "_partials", "drafts"} {
		assert.True(t, s.Excluded(name), name)
	}
	assert.False(t, s.Excluded("acme-co"))
}

func TestRebuild_Idempotent(t *testing.T) {
	root := t.TempDir()
	s := newTestStore(t, root)
	for _, id := range []string{"acme-co", "globex", "initech"} {
		makeSiteDir(t, root, id)
	}
	ctx := context.Background()

	_, err := s.Rebuild(ctx, root)
	require.NoError(t, err)
	first, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	_, err = s.Rebuild(ctx, root)
	require.NoError(t, err)
	second, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestRebuild_ReplacesCorruptRegistry(t *testing.T) {
	root := t.TempDir()
	s := newTestStore(t, root)
	writeRegistry(t, s, `not json`)
	makeSiteDir(t, root, "acme-co")

	reg, err := s.Rebuild(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, reg.Sites, 1)
	assert.Equal(t, "acme-co", reg.Sites[0].ID)
}

func TestProperty_InsertKeepsIDsUnique(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir, err := os.MkdirTemp("", "registry-prop-")
		if err != nil {
			rt.Fatalf("tempdir: %v", err)
		}
		defer os.RemoveAll(dir)

		s := newTestStore(rt, dir)
		ids := rapid.SliceOf(rapid.SampledFrom([]string{"acme", "acme-co", "globex", "initech", "hooli"})).Draw(rt, "ids")
		for _, id := range ids {
			_, err := s.Insert(context.Background(), Site{ID: id, Name: id})
			if err != nil && !errors.Is(err, failure.ErrDuplicateCompany) {
				rt.Fatalf("insert %s: %v", id, err)
			}
		}

		reg, err := s.Load()
		if err != nil {
			rt.Fatalf("load: %v", err)
		}
		seen := make(map[string]bool)
		for _, site := range reg.Sites {
			if seen[site.ID] {
				rt.Fatalf("duplicate id %s", site.ID)
			}
			seen[site.ID] = true
			if site.Path != CanonicalPath(site.ID) {
				rt.Fatalf("path %s does not match id %s", site.Path, site.ID)
			}
		}
	})
}
