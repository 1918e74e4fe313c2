package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/crewteam/internal/domain"
)

// setupGitRepo creates a temporary repository with one commit.
func setupGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("Initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func TestNewClient_FromSubdirectory(t *testing.T) {
	dir := setupGitRepo(t)
	sub := filepath.Join(dir, "pkg", "deep")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	client, err := NewClient(sub)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(client.RepoRoot())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	branch, err := client.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "master", branch)
}

func TestNewClient_NotARepository(t *testing.T) {
	_, err := NewClient(t.TempDir())
	assert.ErrorIs(t, err, domain.ErrNotGitRepository)
}

func TestDefaultCwd(t *testing.T) {
	plain := t.TempDir()
	assert.Equal(t, plain, DefaultCwd(plain))

	repo := setupGitRepo(t)
	sub := filepath.Join(repo, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	assert.Equal(t, repo, DefaultCwd(sub))
}
