//go:build integration || database

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/huangsam/devyear/schema"
	"github.com/stretchr/testify/require"
)

var (
	// sharedDevyearPath holds the path to a shared devyear binary built once for all tests.
	sharedDevyearPath string

	// buildOnce ensures we only build the binary once.
	buildOnce sync.Once

	// buildMutex protects the shared binary path.
	buildMutex sync.Mutex

	// tempDir holds the temp directory for cleanup.
	tempDir string
)

// fixtureCommits is the number of commits alice makes in the fixture repo.
const fixtureCommits = 6

// TestMain handles setup and cleanup for all integration tests.
func TestMain(m *testing.M) {
	code := m.Run()

	// Cleanup the shared binary after all tests
	if tempDir != "" {
		_ = os.RemoveAll(tempDir)
	}

	os.Exit(code)
}

// getDevyearBinary returns the path to the devyear binary, building it once if needed.
func getDevyearBinary() string {
	buildMutex.Lock()
	defer buildMutex.Unlock()

	buildOnce.Do(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "devyear-integration-*")
		if err != nil {
			panic(fmt.Sprintf("failed to create temp dir: %v", err))
		}

		devyearPath := filepath.Join(tempDir, "devyear")
		buildCmd := exec.Command("go", "build", "-o", devyearPath, ".")
		buildCmd.Dir = ".." // Build from parent directory (project root)
		if err := buildCmd.Run(); err != nil {
			panic(fmt.Sprintf("failed to build devyear: %v", err))
		}

		sharedDevyearPath = devyearPath
	})

	return sharedDevyearPath
}

// newFixtureRoot creates <root>/acme/api with commits by alice in June 2024
// and one commit by bob, and returns root.
func newFixtureRoot(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	root := t.TempDir()
	repo := filepath.Join(root, "acme", "api")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "billing"), 0o755))
	gitIn(t, repo, nil, "init", "-q")

	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	file := filepath.Join(repo, "billing", "export.go")
	body := "package billing\n"
	for i := range fixtureCommits {
		body += fmt.Sprintf("func Step%d() {}\n", i)
		require.NoError(t, os.WriteFile(file, []byte(body), 0o644))
		commitAs(t, repo, "alice", start.Add(time.Duration(i)*30*time.Minute), fmt.Sprintf("feat: add billing export step %d", i))
	}

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("# api\n"), 0o644))
	commitAs(t, repo, "bob", start.Add(48*time.Hour), "docs: add readme")
	return root
}

func commitAs(t *testing.T, repo, author string, at time.Time, msg string) {
	t.Helper()
	stamp := at.Format(time.RFC3339)
	env := []string{
		"GIT_AUTHOR_NAME=" + author,
		"GIT_AUTHOR_EMAIL=" + author + "@example.com",
		"GIT_AUTHOR_DATE=" + stamp,
		"GIT_COMMITTER_NAME=" + author,
		"GIT_COMMITTER_EMAIL=" + author + "@example.com",
		"GIT_COMMITTER_DATE=" + stamp,
	}
	gitIn(t, repo, nil, "add", "-A")
	gitIn(t, repo, env, "-c", "commit.gpgsign=false", "commit", "-q", "-m", msg)
}

func gitIn(t *testing.T, dir string, env []string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// runDevyear runs the binary with extra environment and returns its stdout.
func runDevyear(t *testing.T, env []string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(getDevyearBinary(), args...)
	cmd.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Logf("Command failed: %s\nStdout: %s\nStderr: %s", cmd.String(), stdout.String(), stderr.String())
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// runPipeline creates and executes a run for alice against root and returns its final status.
func runPipeline(t *testing.T, env []string, root string) schema.RunStatusView {
	t.Helper()
	out, err := runDevyear(t, env, "run", "create", "acme", "alice", "2024", "--start", "--offline", "--repos-root", root, "--output", "json")
	require.NoError(t, err)

	var view schema.RunStatusView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	return view
}
