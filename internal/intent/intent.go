// Package intent turns free-form issue text into one of four typed requests.
//
// Issue bodies are a sequence of "**Label:** value" lines. Only the labels
// listed below are looked at; everything else in the issue is ignored. A
// missing required label is a failure.MalformedRequest naming that label.
package intent

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gurisko/demosite/internal/failure"
	"github.com/gurisko/demosite/internal/registry"
)

// Recognized labels
const (
	LabelCompanyName = "Company name"
	LabelWebsite     = "Website"
	LabelTone        = "Tone"
	LabelCompanyID   = "Company id"
	LabelAction      = "Action"
)

// DefaultTone is used when the issue doesn't ask for one
const DefaultTone = "Professional"

// Action is the kind of change an issue requests
type Action string

const (
	ActionCreate  Action = "create"
	ActionArchive Action = "archive"
	ActionRestore Action = "restore"
	ActionDelete  Action = "delete"
)

// Intent is one of CreateCompany, ArchiveCompany, RestoreCompany or DeleteCompany
type Intent interface {
	Action() Action
	CompanyName() string
	isIntent()
}

// CreateCompany asks for a new demo site. URL is normalized and may be empty.
type CreateCompany struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
	Tone string `json:"tone" yaml:"tone"`
}

// ArchiveCompany hides an existing site
type ArchiveCompany struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// RestoreCompany un-hides an archived site
type RestoreCompany struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// DeleteCompany removes a site for good
type DeleteCompany struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

func (CreateCompany) Action() Action  { return ActionCreate }
func (ArchiveCompany) Action() Action { return ActionArchive }
func (RestoreCompany) Action() Action { return ActionRestore }
func (DeleteCompany) Action() Action  { return ActionDelete }

func (c CreateCompany) CompanyName() string  { return c.Name }
func (c ArchiveCompany) CompanyName() string { return c.Name }
func (c RestoreCompany) CompanyName() string { return c.Name }
func (c DeleteCompany) CompanyName() string  { return c.Name }

func (CreateCompany) isIntent()  {}
func (ArchiveCompany) isIntent() {}
func (RestoreCompany) isIntent() {}
func (DeleteCompany) isIntent()  {}

// Issue is the raw submission, however it arrived
type Issue struct {
	Number int    `json:"number,omitempty" yaml:"number,omitempty"`
	Title  string `json:"title" yaml:"title"`
	Body   string `json:"body" yaml:"body"`
}

// Directory answers whether a company id is registered, and under which name
type Directory interface {
	Lookup(id string) (name string, ok bool)
}

var labelLine = regexp.MustCompile(`(?m)^[ \t]*(?:[-*][ \t]+)?\*\*([^*\n]+?)(?::\*\*|\*\*:)[ \t]*(.*)$`)

// Placeholder values issue forms put in for skipped fields
var emptyValues = map[string]bool{
	"-":             true,
	"_no response_": true,
}

// Words that only mean "skipped" on fields that may be left out. A company
// can be called None.
var optionalEmptyValues = map[string]bool{
	"n/a":  true,
	"none": true,
}

// Fields extracts every "**Label:** value" line from body, keyed by lowercase
// label. The first occurrence of a label wins.
func Fields(body string) map[string]string {
	fields := make(map[string]string)
	for _, m := range labelLine.FindAllStringSubmatch(body, -1) {
		key := normalizeLabel(m[1])
		if _, dup := fields[key]; dup {
			continue
		}
		value := strings.TrimSpace(m[2])
		if emptyValues[strings.ToLower(value)] {
			value = ""
		}
		fields[key] = value
	}
	return fields
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

func field(fields map[string]string, label string) string {
	return fields[normalizeLabel(label)]
}

// optionalField is field for labels that may be left out
func optionalField(fields map[string]string, label string) string {
	value := field(fields, label)
	if optionalEmptyValues[strings.ToLower(value)] {
		return ""
	}
	return value
}

var titleActions = []struct {
	prefix string
	action Action
}{
	{"create company:", ActionCreate},
	{"new company:", ActionCreate},
	{"archive company:", ActionArchive},
	{"restore company:", ActionRestore},
	{"unarchive company:", ActionRestore},
	{"delete company:", ActionDelete},
	{"remove company:", ActionDelete},
}

var labelActions = map[string]Action{
	"create":    ActionCreate,
	"new":       ActionCreate,
	"archive":   ActionArchive,
	"restore":   ActionRestore,
	"unarchive": ActionRestore,
	"delete":    ActionDelete,
	"remove":    ActionDelete,
}

// resolveAction picks the action from the Action label, then the title
// prefix, then the shape of the body. It also returns the title's suffix.
func resolveAction(title string, fields map[string]string) (Action, string, error) {
	title = strings.TrimSpace(title)
	lower := strings.ToLower(title)

	var fromTitle Action
	var suffix string
	for _, ta := range titleActions {
		if strings.HasPrefix(lower, ta.prefix) {
			fromTitle = ta.action
			suffix = strings.TrimSpace(title[len(ta.prefix):])
			break
		}
	}

	if raw := field(fields, LabelAction); raw != "" {
		a, ok := labelActions[strings.ToLower(strings.TrimSpace(raw))]
		if !ok {
			return "", "", fmt.Errorf("%w: **%s:** must be one of create, archive, restore, delete (got %q)", failure.ErrMalformedRequest, LabelAction, raw)
		}
		return a, suffix, nil
	}
	if fromTitle != "" {
		return fromTitle, suffix, nil
	}
	if field(fields, LabelCompanyName) != "" && field(fields, LabelCompanyID) == "" {
		return ActionCreate, suffix, nil
	}
	return "", "", fmt.Errorf("%w: could not tell what to do; add **%s:** (create, archive, restore or delete)", failure.ErrMalformedRequest, LabelAction)
}

// Parse turns an issue into an intent. dir is consulted for archive,
// restore and delete requests, whose id must already be registered.
func Parse(issue Issue, dir Directory) (Intent, error) {
	fields := Fields(issue.Body)

	action, titleName, err := resolveAction(issue.Title, fields)
	if err != nil {
		return nil, err
	}

	name := field(fields, LabelCompanyName)

	if action == ActionCreate {
		if name == "" {
			name = titleName
		}
		if name == "" {
			return nil, missing(LabelCompanyName)
		}
		website, err := NormalizeURL(optionalField(fields, LabelWebsite))
		if err != nil {
			return nil, err
		}
		tone := optionalField(fields, LabelTone)
		if tone == "" {
			tone = DefaultTone
		}
		return CreateCompany{Name: name, URL: website, Tone: tone}, nil
	}

	id := strings.ToLower(field(fields, LabelCompanyID))
	if id == "" {
		return nil, missing(LabelCompanyID)
	}
	if !registry.ValidID(id) {
		return nil, fmt.Errorf("%w: **%s:** %q is not a valid company id (lowercase letters, digits and hyphens)", failure.ErrMalformedRequest, LabelCompanyID, id)
	}
	if dir == nil {
		return nil, fmt.Errorf("%w: id %q (no registry to check against)", failure.ErrUnknownCompany, id)
	}
	registered, ok := dir.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: no company with id %q", failure.ErrUnknownCompany, id)
	}

	if name == "" {
		name = titleName
	}
	if name == "" {
		name = registered
	}
	if name == "" {
		return nil, missing(LabelCompanyName)
	}

	switch action {
	case ActionArchive:
		return ArchiveCompany{ID: id, Name: name}, nil
	case ActionRestore:
		return RestoreCompany{ID: id, Name: name}, nil
	default:
		return DeleteCompany{ID: id, Name: name}, nil
	}
}

func missing(label string) error {
	return fmt.Errorf("%w: missing required field **%s:**", failure.ErrMalformedRequest, label)
}

var hasScheme = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// NormalizeURL defaults the scheme to https and accepts only http(s) URLs
// with a host. An empty input yields an empty URL.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	// markdown autolinks: <https://acme.com>
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "<"), ">")
	if raw == "" {
		return "", nil
	}
	if !hasScheme.MatchString(raw) {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: **%s:** %q: %v", failure.ErrInvalidURL, LabelWebsite, raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: **%s:** %q must use http or https", failure.ErrInvalidURL, LabelWebsite, raw)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: **%s:** %q must not carry credentials", failure.ErrInvalidURL, LabelWebsite, raw)
	}
	if u.Hostname() == "" || strings.ContainsAny(u.Hostname(), " \t") {
		return "", fmt.Errorf("%w: **%s:** %q has no host", failure.ErrInvalidURL, LabelWebsite, raw)
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}
