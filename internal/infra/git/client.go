// Package git locates the repository an agent team works in.
package git

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/runoshun/crewteam/internal/domain"
)

// Client answers questions about the enclosing git repository.
type Client struct {
	repo     *git.Repository
	repoRoot string // Worktree root (parent of .git)
}

// NewClient opens the repository containing dir, searching parent directories.
// It returns domain.ErrNotGitRepository when dir is not inside a repository.
func NewClient(dir string) (*Client, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, domain.ErrNotGitRepository
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	return &Client{repo: repo, repoRoot: wt.Filesystem.Root()}, nil
}

// RepoRoot returns the repository root directory.
func (c *Client) RepoRoot() string {
	return c.repoRoot
}

// CurrentBranch returns the short name of the checked-out branch,
// or "" for a detached HEAD or an empty repository.
func (c *Client) CurrentBranch() (string, error) {
	head, err := c.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// DefaultCwd returns the repository root containing dir, or dir itself
// when it is not inside a repository.
func DefaultCwd(dir string) string {
	c, err := NewClient(dir)
	if err != nil {
		if abs, absErr := filepath.Abs(dir); absErr == nil {
			return abs
		}
		return dir
	}
	return c.RepoRoot()
}
