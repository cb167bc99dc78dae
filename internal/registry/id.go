package registry

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidID reports whether id is a URL-safe slug usable as a folder name
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// CanonicalPath is the only path a site with the given id may have
func CanonicalPath(id string) string {
	return "/" + id + "/"
}

// DisplayName turns a slug back into a readable name ("acme-co" -> "Acme Co")
func DisplayName(id string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(id, "-", " "))
}
