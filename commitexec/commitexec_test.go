package commitexec

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func newRepoWithOneCommit(t *testing.T) string {
	t.Helper()

	dir, err := ioutil.TempDir("", "commitexec-repo")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}

	if err := ioutil.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		t.Fatal(err)
	}

	sig := &object.Signature{Name: "seed", Email: "seed@example.com"}
	if _, err := worktree.Commit("seed commit", &git.CommitOptions{Author: sig, Committer: sig}); err != nil {
		t.Fatal(err)
	}

	return dir
}

func TestPerformCommit_Success(t *testing.T) {
	dir := newRepoWithOneCommit(t)

	hash, err := New().PerformCommit(dir, "README.md", "This commit came from the new MOBILE CORE library!", "refactor: update readme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash == "" {
		t.Fatal("expected a non-empty commit hash")
	}

	got, err := ioutil.ReadFile(filepath.Join(dir, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "This commit came from the new MOBILE CORE library!" {
		t.Fatalf("working copy content mismatch: %q", got)
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatal(err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head.Hash().String() != hash {
		t.Fatalf("HEAD %s does not match returned hash %s", head.Hash(), hash)
	}

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if commit.Author.Name != "Emergency Committer" || commit.Author.Email != "emergency@example.com" {
		t.Fatalf("unexpected author identity: %+v", commit.Author)
	}
	if commit.Message != "refactor: update readme" {
		t.Fatalf("unexpected message: %q", commit.Message)
	}
}

func TestPerformCommit_RepoOpenFailure(t *testing.T) {
	dir, err := ioutil.TempDir("", "commitexec-not-a-repo")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	_, err = New().PerformCommit(dir, "README.md", "x", "msg")
	if err == nil {
		t.Fatal("expected an error for a non-repository directory")
	}

	var execErr *Error
	if !asError(err, &execErr) {
		t.Fatalf("expected *commitexec.Error, got %T: %v", err, err)
	}
	if execErr.Kind != FailureRepoOpen {
		t.Fatalf("expected FailureRepoOpen, got %s", execErr.Kind)
	}
}

func TestPerformCommit_HeadResolutionFailure(t *testing.T) {
	dir, err := ioutil.TempDir("", "commitexec-empty-repo")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	if _, err := git.PlainInit(dir, false); err != nil {
		t.Fatal(err)
	}

	_, err = New().PerformCommit(dir, "README.md", "x", "msg")
	if err == nil {
		t.Fatal("expected an error for a repository with no commits")
	}

	var execErr *Error
	if !asError(err, &execErr) {
		t.Fatalf("expected *commitexec.Error, got %T: %v", err, err)
	}
	if execErr.Kind != FailureHeadResolution {
		t.Fatalf("expected FailureHeadResolution, got %s", execErr.Kind)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
