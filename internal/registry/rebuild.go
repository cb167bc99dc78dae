package registry

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PlaceholderDescription is given to sites discovered on disk without a registry entry
const PlaceholderDescription = "Demo environment for this company."

// entryPage marks a folder as a company site
const entryPage = "index.html"

// excludedDirs are top-level folders that are never company sites
var excludedDirs = map[string]bool{
	"assets":           true,
	"scripts":          true,
	"node_modules":     true,
	"company-template": true,
}

// Excluded reports whether a top-level folder name can never be a company site
func (s *Store) Excluded(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || excludedDirs[name] {
		return true
	}
	for _, ex := range s.opts.Exclude {
		if ex == name {
			return true
		}
	}
	return false
}

// ScanSiteDirs lists the immediate subfolders of root that contain an entry page, sorted by name
func (s *Store) ScanSiteDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read site root: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || s.Excluded(name) {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, name, entryPage)); err != nil {
			continue
		}
		if !ValidID(name) {
			log.Printf("[WARN] registry: skipping folder %q: not a valid company id", name)
			continue
		}
		ids = append(ids, name)
	}

	sort.Strings(ids)
	return ids, nil
}

// RebuildFrom regenerates the site list so it matches the folders in ids.
//
// Known sites keep their fields and their relative order; new folders are
// appended sorted by id; sites without a folder are dropped.
func (s *Store) RebuildFrom(ids []string, existing *Registry) []Site {
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}

	sites := make([]Site, 0, len(ids))
	known := make(map[string]bool)
	if existing != nil {
		for _, old := range existing.Sites {
			if !present[old.ID] {
				log.Printf("[INFO] registry: dropping %s (folder no longer exists)", old.ID)
				continue
			}
			old.Path = CanonicalPath(old.ID)
			if old.Tag == "" {
				old.Tag = s.opts.DefaultTag
			}
			if old.LogoURL == "" {
				old.LogoURL = s.LogoURL(old.ID)
			}
			sites = append(sites, old)
			known[old.ID] = true
		}
	}

	for _, id := range ids {
		if known[id] {
			continue
		}
		log.Printf("[INFO] registry: adding %s (found on disk)", id)
		sites = append(sites, Site{
			ID:          id,
			Name:        DisplayName(id),
			Description: PlaceholderDescription,
			Tag:         s.opts.DefaultTag,
			LogoURL:     s.LogoURL(id),
			Path:        CanonicalPath(id),
			Archived:    false,
			Updated:     s.today(),
		})
	}
	return sites
}

// Rebuild scans scanRoot and persists a registry that mirrors it, treating
// the filesystem as ground truth. An unreadable registry is replaced.
func (s *Store) Rebuild(ctx context.Context, scanRoot string) (*Registry, error) {
	return s.update(ctx, true, func(reg *Registry) error {
		ids, err := s.ScanSiteDirs(scanRoot)
		if err != nil {
			return err
		}
		reg.Sites = s.RebuildFrom(ids, reg)
		return nil
	})
}
