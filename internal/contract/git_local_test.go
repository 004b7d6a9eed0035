package contract

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfGitNotAvailable skips the test if git binary is not found in PATH
func skipIfGitNotAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git binary not found in PATH: %v", err)
	}
}

func logRecord(sha, author, date, subject string, numstat ...string) string {
	out := recordSep + sha + fieldSep + author + fieldSep + author + "@example.com" + fieldSep + date + fieldSep + subject
	for _, line := range numstat {
		out += "\n" + line
	}
	return out + "\n"
}

func TestParseCommitLog(t *testing.T) {
	out := logRecord("bbb", "Alice", "2025-03-02T10:00:00+02:00", "fix: handle nil",
		"3\t1\tsrc/api/handler.go",
		"-\t-\tassets/logo.png",
	) + logRecord("aaa", "Alice", "2025-03-01T09:00:00Z", "feat: add api",
		"10\t0\tsrc/api/{old.go => new.go}",
	)

	commits, err := ParseCommitLog(out, "repo-a", "alice")
	require.NoError(t, err)
	require.Len(t, commits, 2)

	// Oldest first
	assert.Equal(t, "aaa", commits[0].SHA)
	assert.Equal(t, "bbb", commits[1].SHA)

	assert.Equal(t, "alice", commits[0].AuthorLogin)
	assert.Equal(t, "repo-a", commits[0].Repo)
	assert.Equal(t, "feat: add api", commits[0].Message)
	require.Len(t, commits[0].Files, 1)
	assert.Equal(t, "src/api/new.go", commits[0].Files[0].Path)

	assert.Equal(t, time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC), commits[1].CommittedAt)
	assert.Equal(t, 3, commits[1].Additions)
	assert.Equal(t, 1, commits[1].Deletions)
	require.Len(t, commits[1].Files, 2)
	assert.Equal(t, 0, commits[1].Files[1].Lines())
}

func TestParseCommitLogKeepsAuthorName(t *testing.T) {
	out := logRecord("aaa", "Alice Smith", "2025-03-01T09:00:00Z", "docs")
	commits, err := ParseCommitLog(out, "repo", "")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "Alice Smith", commits[0].AuthorLogin)
	assert.Empty(t, commits[0].Files)
}

func TestParseCommitLogMalformed(t *testing.T) {
	_, err := ParseCommitLog(recordSep+"aaa"+fieldSep+"Alice", "repo", "")
	assert.Error(t, err)

	_, err = ParseCommitLog(logRecord("aaa", "Alice", "yesterday", "x"), "repo", "")
	assert.Error(t, err)

	commits, err := ParseCommitLog("", "repo", "")
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestParsePatch(t *testing.T) {
	out := `diff --git a/src/main.go b/src/main.go
index 123..456 100644
--- a/src/main.go
+++ b/src/main.go
@@ -1,3 +1,4 @@
 package main
-import "fmt"
+import (
+	"fmt"
+)
diff --git a/README.md b/docs/README.md
similarity index 90%
rename from README.md
rename to docs/README.md
--- a/README.md
+++ b/docs/README.md
@@ -1 +1 @@
-old
+new
`
	patches := ParsePatch(out)
	require.Len(t, patches, 2)

	assert.Equal(t, "src/main.go", patches[0].Path)
	assert.Equal(t, 3, patches[0].Additions)
	assert.Equal(t, 1, patches[0].Deletions)
	assert.Contains(t, patches[0].Patch, "@@ -1,3 +1,4 @@")
	assert.NotContains(t, patches[0].Patch, "README")

	assert.Equal(t, "docs/README.md", patches[1].Path)
	assert.Equal(t, 1, patches[1].Additions)
	assert.Equal(t, 1, patches[1].Deletions)

	assert.Empty(t, ParsePatch(""))
}

func TestParseRenamePath(t *testing.T) {
	tests := []struct {
		input   string
		oldPath string
		newPath string
	}{
		{"a.go => b.go", "a.go", "b.go"},
		{"src/{old => new}/file.go", "src/old/file.go", "src/new/file.go"},
		{"src/{ => sub}/file.go", "src/file.go", "src/sub/file.go"},
		{"src/{broken/file.go", "", ""},
		{"plain.go", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			oldPath, newPath := parseRenamePath(tt.input)
			assert.Equal(t, tt.oldPath, oldPath)
			assert.Equal(t, tt.newPath, newPath)
		})
	}
}

func TestLocalGitClientListRepos(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme", "repo-b", ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme", "repo-a", ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme", "not-a-repo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "acme", "notes.txt"), []byte("x"), 0o644))

	client := NewLocalGitClient(root)
	repos, err := client.ListRepos(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-a", "repo-b"}, repos)

	repos, err = client.ListRepos(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, repos)
}

func TestLocalGitClientEndToEnd(t *testing.T) {
	skipIfGitNotAvailable(t)

	root := t.TempDir()
	repoPath := filepath.Join(root, "acme", "svc")
	require.NoError(t, os.MkdirAll(repoPath, 0o755))

	git := func(env []string, args ...string) {
		cmd := exec.Command("git", append([]string{"-C", repoPath}, args...)...)
		cmd.Env = append(os.Environ(), env...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	git(nil, "init", "-q")
	git(nil, "config", "user.name", "alice")
	git(nil, "config", "user.email", "alice@example.com")
	require.NoError(t, os.MkdirAll(filepath.Join(repoPath, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, "pkg", "a.go"), []byte("package pkg\n"), 0o644))
	git(nil, "add", ".")
	date := "2025-05-01T10:00:00Z"
	git([]string{"GIT_AUTHOR_DATE=" + date, "GIT_COMMITTER_DATE=" + date}, "commit", "-q", "-m", "feat: add pkg")

	client := NewLocalGitClient(root)
	ctx := context.Background()
	since, until := YearWindow(2025)
	commits, err := client.ListCommits(ctx, CommitQuery{Org: "acme", Repo: "svc", Author: "alice", Since: since, Until: until})
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "feat: add pkg", commits[0].Message)
	assert.Equal(t, []string{"pkg/a.go"}, commits[0].Paths())

	patches, err := client.FetchDiff(ctx, "acme", "svc", commits[0].SHA)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, "pkg/a.go", patches[0].Path)
	assert.Equal(t, 1, patches[0].Additions)

	other, err := client.ListCommits(ctx, CommitQuery{Org: "acme", Repo: "svc", Author: "bob", Since: since, Until: until})
	require.NoError(t, err)
	assert.Empty(t, other)
}
