// Package repo finds the git worktree the sites live in and commits the
// files a run touched.
package repo

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotGitRepo indicates the directory is not inside a git worktree.
var ErrNotGitRepo = errors.New("not a git repository")

// Author is the identity commits are made as
type Author struct {
	Name  string
	Email string
}

// Repo is an open worktree
type Repo struct {
	repo *git.Repository
	wt   *git.Worktree
	root string
}

// Open finds the worktree containing dir, walking up like git does
func Open(dir string) (*Repo, error) {
	r, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	return &Repo{repo: r, wt: wt, root: wt.Filesystem.Root()}, nil
}

// DetectRoot returns the top of the worktree containing dir
func DetectRoot(dir string) (string, error) {
	r, err := Open(dir)
	if err != nil {
		return "", err
	}
	return r.Root(), nil
}

// Root returns the worktree's top directory
func (r *Repo) Root() string { return r.root }

// rel converts path into the slash-separated form the index uses
func (r *Repo) rel(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the worktree %s", path, r.root)
	}
	return filepath.ToSlash(rel), nil
}

// Stage records the current state of each path in the index: existing files
// and folders are added, vanished ones are removed
func (r *Repo) Stage(paths ...string) error {
	for _, p := range paths {
		rel, err := r.rel(p)
		if err != nil {
			return err
		}
		abs := filepath.Join(r.root, filepath.FromSlash(rel))

		if _, err := os.Lstat(abs); err == nil {
			if _, err := r.wt.Add(rel); err != nil {
				return fmt.Errorf("failed to stage %s: %w", rel, err)
			}
			continue
		} else if !os.IsNotExist(err) {
			return err
		}

		if err := r.unstageGone(rel); err != nil {
			return err
		}
	}
	return nil
}

// unstageGone removes rel, or everything under it, from the index
func (r *Repo) unstageGone(rel string) error {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	prefix := rel + "/"
	var gone []string
	for _, e := range idx.Entries {
		if e.Name == rel || strings.HasPrefix(e.Name, prefix) {
			gone = append(gone, e.Name)
		}
	}
	for _, name := range gone {
		if _, err := r.wt.Remove(name); err != nil {
			return fmt.Errorf("failed to stage removal of %s: %w", name, err)
		}
	}
	return nil
}

// HasStagedChanges reports whether the index differs from HEAD
func (r *Repo) HasStagedChanges() (bool, error) {
	st, err := r.wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to read status: %w", err)
	}
	for _, fs := range st {
		if fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			return true, nil
		}
	}
	return false, nil
}

// Commit stages paths and commits them. Nothing to commit is not an error
// and returns an empty hash.
func (r *Repo) Commit(message string, author Author, paths ...string) (string, error) {
	if err := r.Stage(paths...); err != nil {
		return "", err
	}
	changed, err := r.HasStagedChanges()
	if err != nil {
		return "", err
	}
	if !changed {
		log.Printf("[DEBUG] repo: nothing to commit")
		return "", nil
	}

	hash, err := r.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author.Name,
			Email: author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	log.Printf("[INFO] repo: committed %s %q", hash.String()[:7], firstLine(message))
	return hash.String(), nil
}

// HeadMessage returns the message of the commit HEAD points at
func (r *Repo) HeadMessage() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", err
	}
	c, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return "", err
	}
	return c.Message, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
