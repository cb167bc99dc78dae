package folder

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/gurisko/demosite/internal/registry"
)

// fallbackID is used when a name has no usable characters at all
const fallbackID = "company"

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name, spells out "&", collapses every run of other
// characters into one hyphen and trims hyphens from both ends
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "&", "and")
	s = nonAlnum.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return fallbackID
	}
	return s
}

// DeriveID slugifies name and appends -2, -3, ... until the id is not taken
func DeriveID(name string, taken map[string]bool) string {
	base := Slugify(name)
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		id := fmt.Sprintf("%s-%d", base, n)
		if !taken[id] {
			return id
		}
	}
}

// Taken returns every id in use: registered sites plus any folder under root,
// whether or not it is a site
func Taken(root string, reg *registry.Registry) (map[string]bool, error) {
	taken := make(map[string]bool)
	if reg != nil {
		for id := range reg.IDs() {
			taken[id] = true
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read site root: %w", err)
	}
	for _, e := range entries {
		taken[strings.ToLower(e.Name())] = true
	}
	return taken, nil
}
