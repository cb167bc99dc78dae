package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gurisko/demosite/internal/pipeline"
	"github.com/gurisko/demosite/internal/repo"
)

// writeValue prints v in the --format encoding
func writeValue(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// finish prints res, optionally writes its comment and commits what it
// touched. A failed result becomes an exitError carrying its exit code.
func (a *app) finish(res *pipeline.Result, commentFile string) error {
	if err := writeValue(os.Stdout, outputFormat, res); err != nil {
		return err
	}
	if commentFile != "" {
		if err := os.WriteFile(commentFile, []byte(res.Comment()), 0o644); err != nil {
			return fmt.Errorf("failed to write comment: %w", err)
		}
	}
	if !res.OK {
		return &exitError{code: res.ExitCode, err: res.Err}
	}
	if commitFlag {
		return a.commit(commitMessage(res), res.Touched...)
	}
	return nil
}

func commitMessage(res *pipeline.Result) string {
	msg := fmt.Sprintf("demosite: %s", res.Action)
	if res.Site != nil {
		msg += " " + res.Site.ID
	}
	if res.Issue > 0 {
		msg += fmt.Sprintf("\n\nCloses #%d", res.Issue)
	}
	return msg
}

func (a *app) commit(message string, touched ...string) error {
	if len(touched) == 0 {
		return nil
	}
	r, err := repo.Open(a.layout.Root)
	if err != nil {
		return fmt.Errorf("--commit: %w", err)
	}
	hash, err := r.Commit(message, repo.Author{Name: a.cfg.Git.AuthorName, Email: a.cfg.Git.AuthorEmail}, touched...)
	if err != nil {
		return err
	}
	if hash == "" {
		log.Printf("[INFO] nothing to commit")
	}
	return nil
}
