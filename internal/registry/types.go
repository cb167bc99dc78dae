package registry

// Site is one entry of sites.json, backed by a folder of the same id
type Site struct {
	ID          string `json:"id" yaml:"id"`                               // URL-safe slug, immutable
	Name        string `json:"name" yaml:"name"`                           // Display name
	Description string `json:"description" yaml:"description"`             // Enrichment summary, may be empty
	Tag         string `json:"tag" yaml:"tag"`                             // Short category label
	LogoURL     string `json:"logoUrl" yaml:"logoUrl"`                     // Optional logo location
	Path        string `json:"path" yaml:"path"`                           // Always CanonicalPath(ID)
	Archived    bool   `json:"archived" yaml:"archived"`                   // Hidden from the landing page's default view
	Updated     string `json:"updated,omitempty" yaml:"updated,omitempty"` // Date of the last change to this entry
}

// Registry is the whole sites.json document
type Registry struct {
	Updated string `json:"updated" yaml:"updated"`
	Sites   []Site `json:"sites" yaml:"sites"`
}

// Find returns the index of the site with id, or -1
func (r *Registry) Find(id string) int {
	for i := range r.Sites {
		if r.Sites[i].ID == id {
			return i
		}
	}
	return -1
}

// Contains reports whether a site with id is registered
func (r *Registry) Contains(id string) bool {
	return r.Find(id) >= 0
}

// Get returns a copy of the site with id
func (r *Registry) Get(id string) (Site, bool) {
	if i := r.Find(id); i >= 0 {
		return r.Sites[i], true
	}
	return Site{}, false
}

// IDs returns the set of registered ids
func (r *Registry) IDs() map[string]bool {
	ids := make(map[string]bool, len(r.Sites))
	for _, s := range r.Sites {
		ids[s.ID] = true
	}
	return ids
}

// Lookup returns the display name registered for id
func (r *Registry) Lookup(id string) (string, bool) {
	if s, ok := r.Get(id); ok {
		return s.Name, true
	}
	return "", false
}
