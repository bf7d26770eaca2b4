package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Checker answers questions about the Git repository containing a directory
type Checker struct{}

// NewChecker creates a new Git checker
func NewChecker() *Checker {
	return &Checker{}
}

func (c *Checker) run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepository reports whether dir is inside a Git working tree. A missing
// git binary is an error; anything else git rejects means "no".
func (c *Checker) IsRepository(dir string) (bool, error) {
	if _, err := c.run(dir, "rev-parse", "--git-dir"); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return false, fmt.Errorf("git not found in PATH: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// Root returns the absolute path of the working tree containing dir.
func (c *Checker) Root(dir string) (string, error) {
	root, err := c.run(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("failed to get Git root: %w", err)
	}
	return root, nil
}

// IsClean returns true if the working tree containing dir has no staged,
// unstaged or untracked changes.
func (c *Checker) IsClean(dir string) (bool, error) {
	out, err := c.run(dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check Git status: %w", err)
	}
	return out == "", nil
}

// RepoPath returns the working tree root for dir, or "" when dir is not in a
// repository or git is unavailable.
func (c *Checker) RepoPath(dir string) string {
	ok, err := c.IsRepository(dir)
	if err != nil || !ok {
		return ""
	}
	root, err := c.Root(dir)
	if err != nil {
		return ""
	}
	return root
}
