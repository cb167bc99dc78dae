package pipeline

import (
	"fmt"
	"strings"

	"github.com/gurisko/demosite/internal/enrich"
	"github.com/gurisko/demosite/internal/failure"
	"github.com/gurisko/demosite/internal/intent"
	"github.com/gurisko/demosite/internal/registry"
)

// Result is the outcome of one run, shaped for posting back on the issue
type Result struct {
	RunID      string         `json:"runId" yaml:"runId"`
	Issue      int            `json:"issue,omitempty" yaml:"issue,omitempty"`
	Action     intent.Action  `json:"action,omitempty" yaml:"action,omitempty"`
	OK         bool           `json:"ok" yaml:"ok"`
	Site       *registry.Site `json:"site,omitempty" yaml:"site,omitempty"`
	Enrichment *enrich.Result `json:"enrichment,omitempty" yaml:"enrichment,omitempty"`
	Kind       failure.Kind   `json:"error,omitempty" yaml:"error,omitempty"`
	Message    string         `json:"message,omitempty" yaml:"message,omitempty"`
	Warnings   []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	ExitCode   int            `json:"exitCode" yaml:"exitCode"`
	Close      bool           `json:"close" yaml:"close"` // whether the issue can be closed

	// Touched lists the files and folders the run changed, for committing
	Touched []string `json:"-" yaml:"-"`
	Err     error    `json:"-" yaml:"-"`
}

func (r *Result) fail(err error) *Result {
	r.OK = false
	r.Err = err
	r.Kind = failure.KindOf(err)
	r.Message = err.Error()
	r.ExitCode = failure.ExitCode(err)
	r.Close = false
	r.Touched = nil
	return r
}

func (r *Result) succeed() *Result {
	r.OK = true
	r.Close = true
	r.ExitCode = 0
	return r
}

func (r *Result) touch(path string) {
	for _, p := range r.Touched {
		if p == path {
			return
		}
	}
	r.Touched = append(r.Touched, path)
}

var pastTense = map[intent.Action]string{
	intent.ActionCreate:  "Created",
	intent.ActionArchive: "Archived",
	intent.ActionRestore: "Restored",
	intent.ActionDelete:  "Deleted",
}

// Comment renders the result as a markdown issue comment
func (r *Result) Comment() string {
	var b strings.Builder

	if !r.OK {
		what := "process this request"
		if r.Action != "" {
			what = string(r.Action) + " this company"
		}
		fmt.Fprintf(&b, "**Could not %s** (`%s`)\n\n", what, r.Kind)
		fmt.Fprintf(&b, "%s\n\n", r.Message)
		b.WriteString(hint(r.Kind))
		fmt.Fprintf(&b, "\n<sub>run %s</sub>\n", r.RunID)
		return b.String()
	}

	s := r.Site
	fmt.Fprintf(&b, "**%s %s** (`%s`)\n\n", pastTense[r.Action], s.Name, s.ID)
	fmt.Fprintf(&b, "- Path: `%s`\n", s.Path)
	if r.Action == intent.ActionCreate {
		fmt.Fprintf(&b, "- Tag: %s\n", s.Tag)
		if s.Description != "" {
			fmt.Fprintf(&b, "- Description: %s\n", s.Description)
		} else {
			b.WriteString("- Description: _none found, edit `sites.json` to add one_\n")
		}
		if r.Enrichment != nil && r.Enrichment.ScreenshotPath != "" {
			fmt.Fprintf(&b, "- Screenshot: `%s`\n", r.Enrichment.ScreenshotPath)
		} else {
			b.WriteString("- Screenshot: skipped\n")
		}
		fmt.Fprintf(&b, "- Logo: upload to `%s`\n", s.LogoURL)
	}
	if r.Action == intent.ActionArchive || r.Action == intent.ActionRestore {
		fmt.Fprintf(&b, "- Archived: %t\n", s.Archived)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "- Warning: %s\n", w)
	}
	fmt.Fprintf(&b, "\n<sub>run %s</sub>\n", r.RunID)
	return b.String()
}

func hint(k failure.Kind) string {
	switch k {
	case failure.KindMalformedRequest:
		return "Check that the issue uses the `**Label:** value` format with the required fields.\n"
	case failure.KindInvalidURL:
		return "The website must be an http or https address.\n"
	case failure.KindUnknownCompany:
		return "Use the company id exactly as it appears in `sites.json`.\n"
	case failure.KindDuplicateCompany:
		return "A company with this id already exists.\n"
	case failure.KindRegistryConflict:
		return "Other changes kept landing at the same time. Re-run the workflow to try again.\n"
	case failure.KindCorruptRegistry:
		return "`sites.json` needs fixing by hand, or a `rebuild`.\n"
	}
	return ""
}
