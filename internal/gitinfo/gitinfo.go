// Package gitinfo reads the source revision of the repository being released.
package gitinfo

import (
	"fmt"

	"github.com/go-git/go-git/v5"
)

// Revision identifies the checked-out commit.
type Revision struct {
	Commit string // full hash
	Branch string // short branch name; empty when HEAD is detached
}

// Short returns the abbreviated commit hash.
func (r Revision) Short() string {
	if len(r.Commit) > 12 {
		return r.Commit[:12]
	}
	return r.Commit
}

func open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", path, err)
	}
	return repo, nil
}

// Head resolves HEAD of the repository containing path. Only refs are read;
// the worktree is not scanned.
func Head(path string) (Revision, error) {
	repo, err := open(path)
	if err != nil {
		return Revision{}, err
	}
	ref, err := repo.Head()
	if err != nil {
		return Revision{}, fmt.Errorf("resolve HEAD: %w", err)
	}

	rev := Revision{Commit: ref.Hash().String()}
	if ref.Name().IsBranch() {
		rev.Branch = ref.Name().Short()
	}

	return rev, nil
}

// Dirty reports whether the worktree containing path has uncommitted
// changes. It walks the whole worktree, which is slow on large checkouts.
func Dirty(path string) (bool, error) {
	repo, err := open(path)
	if err != nil {
		return false, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("worktree status: %w", err)
	}
	return !status.IsClean(), nil
}
