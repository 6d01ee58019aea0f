// Package commitexec implements the single pluggable capability the
// protocol engine delegates git work to: applying one file write as a
// commit against a working tree the daemon already has write access to.
// It is grounded on the reference daemon's go-git/go-git/v5 commit
// wrapping (remote/repo/commit.go) rather than its shell-exec LiteGit
// path, favoring an in-process, library-level operation.
package commitexec

import (
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

// FailureKind classifies where in the commit pipeline an operation failed.
type FailureKind string

const (
	FailureRepoOpen         FailureKind = "RepoOpen"
	FailureWorkingCopyWrite FailureKind = "WorkingCopyWrite"
	FailureIndex            FailureKind = "Index"
	FailureHeadResolution   FailureKind = "HeadResolution"
	FailureCommitCreate     FailureKind = "CommitCreate"
)

// Error is a structured commit failure, carrying the stage at which the
// executor gave up alongside a human-readable cause.
type Error struct {
	Kind  FailureKind
	Cause error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

func fail(kind FailureKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// author is the fixed author/committer identity every emergency commit
// carries, per spec.
var author = object.Signature{
	Name:  "Emergency Committer",
	Email: "emergency@example.com",
}

// Executor performs single-file commits against local working trees.
type Executor struct{}

// New creates a CommitExecutor.
func New() *Executor {
	return &Executor{}
}

// PerformCommit opens the repository at repoPath, overwrites
// relativeFilePath with exactly newContent, stages it, and creates a new
// commit on top of HEAD with the fixed author identity. It returns the
// new commit's hash as lower-case hex.
func (e *Executor) PerformCommit(repoPath, relativeFilePath, newContent, message string) (string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", fail(FailureRepoOpen, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fail(FailureRepoOpen, err)
	}

	fullPath := filepath.Join(worktree.Filesystem.Root(), relativeFilePath)
	if err := ioutil.WriteFile(fullPath, []byte(newContent), 0644); err != nil {
		return "", fail(FailureWorkingCopyWrite, err)
	}

	if _, err := worktree.Add(relativeFilePath); err != nil {
		return "", fail(FailureIndex, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fail(FailureHeadResolution, errors.New("repository has no commits yet"))
	}

	now := time.Now()
	sig := author
	sig.When = now

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author:    &sig,
		Committer: &sig,
		Parents:   []plumbing.Hash{head.Hash()},
	})
	if err != nil {
		return "", fail(FailureCommitCreate, err)
	}

	return hash.String(), nil
}
