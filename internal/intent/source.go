package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/adrg/frontmatter"

	"github.com/gurisko/demosite/internal/limits"
)

// Environment variables set by the issue-triggered workflow
const (
	EnvIssueTitle  = "ISSUE_TITLE"
	EnvIssueBody   = "ISSUE_BODY"
	EnvIssueNumber = "ISSUE_NUMBER"
)

// FromEnv reads an issue from the workflow environment
func FromEnv(getenv func(string) string) Issue {
	n, _ := strconv.Atoi(strings.TrimSpace(getenv(EnvIssueNumber)))
	return Issue{
		Number: n,
		Title:  getenv(EnvIssueTitle),
		Body:   getenv(EnvIssueBody),
	}
}

// issueMatter is the front matter of an issue file
type issueMatter struct {
	Title  string `yaml:"title" toml:"title" json:"title"`
	Number int    `yaml:"number" toml:"number" json:"number"`
}

// ParseIssueFile reads a markdown issue whose front matter carries the title
// (and optionally the number) and whose content is the issue body.
// A file without front matter is all body.
func ParseIssueFile(r io.Reader) (Issue, error) {
	data, err := io.ReadAll(io.LimitReader(r, limits.JSON))
	if err != nil {
		return Issue{}, fmt.Errorf("failed to read issue file: %w", err)
	}

	var matter issueMatter
	rest, err := frontmatter.Parse(bytes.NewReader(data), &matter)
	if err != nil {
		return Issue{}, fmt.Errorf("failed to parse issue front matter: %w", err)
	}
	return Issue{
		Number: matter.Number,
		Title:  matter.Title,
		Body:   string(rest),
	}, nil
}

// ReadIssueFile opens path and parses it with ParseIssueFile
func ReadIssueFile(path string) (Issue, error) {
	f, err := os.Open(path)
	if err != nil {
		return Issue{}, fmt.Errorf("failed to open issue file: %w", err)
	}
	defer f.Close()
	return ParseIssueFile(f)
}

// githubEvent is the part of an "issues" webhook payload we use
type githubEvent struct {
	Issue *struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
}

// ParseEvent extracts the issue from a GitHub issues event payload
func ParseEvent(r io.Reader) (Issue, error) {
	var ev githubEvent
	if err := json.NewDecoder(io.LimitReader(r, limits.JSON)).Decode(&ev); err != nil {
		return Issue{}, fmt.Errorf("failed to decode event payload: %w", err)
	}
	if ev.Issue == nil {
		return Issue{}, errors.New("event payload has no issue")
	}
	return Issue{
		Number: ev.Issue.Number,
		Title:  ev.Issue.Title,
		Body:   ev.Issue.Body,
	}, nil
}

// ReadEvent opens path (usually $GITHUB_EVENT_PATH) and parses it with ParseEvent
func ReadEvent(path string) (Issue, error) {
	f, err := os.Open(path)
	if err != nil {
		return Issue{}, fmt.Errorf("failed to open event payload: %w", err)
	}
	defer f.Close()
	return ParseEvent(f)
}
