package contract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/huangsam/devyear/schema"
)

// Record and field separators for the git log format.
const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

// LocalGitClient reads synced repositories from disk by executing the
// local 'git' binary. Repositories live at <root>/<org>/<repo>.
type LocalGitClient struct {
	root string
}

var (
	_ CommitSource = &LocalGitClient{} // Compile-time check
	_ DiffSource   = &LocalGitClient{} // Compile-time check
)

// NewLocalGitClient creates a new instance of the local Git client.
func NewLocalGitClient(root string) *LocalGitClient {
	return &LocalGitClient{root: root}
}

// Run executes a git command and returns its stdout output.
func (c *LocalGitClient) Run(ctx context.Context, repoPath string, args ...string) ([]byte, error) {
	fullArgs := append([]string{"-C", repoPath}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	out, err := cmd.Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		stderr := strings.TrimSpace(string(exitErr.Stderr))
		return nil, fmt.Errorf("git command failed in %q: %s", repoPath, stderr)
	} else if err != nil {
		if ctx.Err() != nil {
			return nil, NewTransientError("git", ctx.Err())
		}
		return nil, fmt.Errorf("git command failed: %w. Ensure Git is installed and available on your PATH", err)
	}
	return out, nil
}

// ListRepos implements the CommitSource interface.
func (c *LocalGitClient) ListRepos(_ context.Context, org string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(c.root, org))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list repositories for %s: %w", org, err)
	}
	var repos []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(c.root, org, entry.Name(), ".git")); err == nil {
			repos = append(repos, entry.Name())
		}
	}
	slices.Sort(repos)
	return repos, nil
}

// ListCommits implements the CommitSource interface.
func (c *LocalGitClient) ListCommits(ctx context.Context, q CommitQuery) ([]schema.Commit, error) {
	args := []string{
		"log",
		"--numstat",
		"--no-merges",
		"--date=iso-strict",
		"--pretty=format:" + recordSep + "%H" + fieldSep + "%an" + fieldSep + "%ae" + fieldSep + "%aI" + fieldSep + "%s",
	}
	if !q.Since.IsZero() {
		args = append(args, "--since="+q.Since.Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		args = append(args, "--until="+q.Until.Format(time.RFC3339))
	}
	if q.Author != "" {
		args = append(args, "--author="+regexp.QuoteMeta(q.Author))
	}
	out, err := c.Run(ctx, filepath.Join(c.root, q.Org, q.Repo), args...)
	if err != nil {
		return nil, err
	}
	commits, err := ParseCommitLog(string(out), q.Repo, q.Author)
	if err != nil {
		return nil, err
	}
	// The log also filters by committer date; enforce the author window here.
	return slices.DeleteFunc(commits, func(cm schema.Commit) bool {
		if !q.Since.IsZero() && cm.CommittedAt.Before(q.Since) {
			return true
		}
		return !q.Until.IsZero() && !cm.CommittedAt.Before(q.Until)
	}), nil
}

// FetchDiff implements the DiffSource interface.
func (c *LocalGitClient) FetchDiff(ctx context.Context, org, repo, sha string) ([]schema.FilePatch, error) {
	out, err := c.Run(ctx, filepath.Join(c.root, org, repo), "show", "--format=", "--patch", "--no-color", sha)
	if err != nil {
		return nil, err
	}
	return ParsePatch(string(out)), nil
}

// ParseCommitLog parses the output of ListCommits' git log format.
// Commits are returned oldest first. A non-empty login overrides the
// author name so commits line up with the requested user.
func ParseCommitLog(out, repo, login string) ([]schema.Commit, error) {
	var commits []schema.Commit
	for record := range strings.SplitSeq(out, recordSep) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		lines := strings.Split(record, "\n")
		fields := strings.Split(lines[0], fieldSep)
		if len(fields) < 5 {
			return nil, fmt.Errorf("malformed commit header: %q", lines[0])
		}
		date, err := time.Parse(time.RFC3339, fields[3])
		if err != nil {
			return nil, fmt.Errorf("failed to parse commit date %q: %w", fields[3], err)
		}
		author := fields[1]
		if login != "" {
			author = login
		}
		commit := schema.Commit{
			SHA:         fields[0],
			AuthorLogin: author,
			CommittedAt: date.UTC(),
			Repo:        repo,
			Message:     fields[4],
		}
		for _, line := range lines[1:] {
			parts := strings.SplitN(strings.TrimSpace(line), "\t", 3)
			if len(parts) != 3 {
				continue
			}
			added, deleted := parseChurnValue(parts[0]), parseChurnValue(parts[1])
			path := parts[2]
			if strings.Contains(path, " => ") {
				if _, newPath := parseRenamePath(path); newPath != "" {
					path = newPath
				}
			}
			commit.Files = append(commit.Files, schema.FileChange{Path: path, Additions: added, Deletions: deleted})
			commit.Additions += added
			commit.Deletions += deleted
		}
		commits = append(commits, commit)
	}
	slices.SortStableFunc(commits, func(a, b schema.Commit) int {
		if c := a.CommittedAt.Compare(b.CommittedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SHA, b.SHA)
	})
	return commits, nil
}

// ParsePatch splits `git show --patch` output into per-file patches.
func ParsePatch(out string) []schema.FilePatch {
	var patches []schema.FilePatch
	var current *schema.FilePatch
	var body strings.Builder

	flush := func() {
		if current == nil {
			return
		}
		current.Patch = body.String()
		patches = append(patches, *current)
		body.Reset()
	}

	for line := range strings.SplitSeq(out, "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			current = &schema.FilePatch{Path: patchPath(line)}
		}
		if current == nil {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			current.Additions++
		case strings.HasPrefix(line, "-"):
			current.Deletions++
		}
	}
	flush()
	return patches
}

// patchPath extracts the post-image path from a "diff --git a/X b/Y" header.
func patchPath(header string) string {
	rest := strings.TrimPrefix(header, "diff --git ")
	if idx := strings.LastIndex(rest, " b/"); idx >= 0 {
		return rest[idx+3:]
	}
	return strings.TrimPrefix(rest, "a/")
}

// parseChurnValue converts a numstat value to int, handling "-" as 0.
func parseChurnValue(s string) int {
	if s == "-" {
		return 0
	}
	if val, err := strconv.Atoi(s); err == nil && val >= 0 {
		return val
	}
	return 0
}

// parseRenamePath extracts old and new paths from a rename string.
func parseRenamePath(path string) (string, string) {
	if !strings.Contains(path, "{") {
		// Simple format: "old => new"
		parts := strings.SplitN(path, " => ", 2)
		if len(parts) == 2 {
			return parts[0], parts[1]
		}
		return "", ""
	}

	// Braced format: prefix{old => new}suffix
	braceStart := strings.Index(path, "{")
	braceEnd := strings.Index(path, "}")
	if braceStart == -1 || braceEnd == -1 || braceStart >= braceEnd {
		return "", ""
	}

	prefix := path[:braceStart]
	renamePart := path[braceStart+1 : braceEnd]
	suffix := path[braceEnd+1:]

	renameParts := strings.SplitN(renamePart, " => ", 2)
	if len(renameParts) != 2 {
		return "", ""
	}
	oldPath := strings.ReplaceAll(prefix+renameParts[0]+suffix, "//", "/")
	newPath := strings.ReplaceAll(prefix+renameParts[1]+suffix, "//", "/")
	return oldPath, newPath
}
