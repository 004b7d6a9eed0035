package schema

import "time"

// FileChange is the per-file line count of a commit.
type FileChange struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Lines returns the number of changed lines in the file.
func (f FileChange) Lines() int {
	return f.Additions + f.Deletions
}

// Commit is one commit record delivered by the commit source.
type Commit struct {
	SHA         string       `json:"sha"`
	AuthorLogin string       `json:"authorLogin"`
	CommittedAt time.Time    `json:"committedAt"`
	Repo        string       `json:"repo"`
	Message     string       `json:"message"`
	Additions   int          `json:"additions"`
	Deletions   int          `json:"deletions"`
	Files       []FileChange `json:"files"`
}

// ChangedLines returns additions plus deletions.
func (c Commit) ChangedLines() int {
	return c.Additions + c.Deletions
}

// Paths returns the changed file paths in commit order.
func (c Commit) Paths() []string {
	paths := make([]string, 0, len(c.Files))
	for _, f := range c.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// FilePatch is the unified diff of one file in a commit.
type FilePatch struct {
	Path      string `json:"path"`
	Patch     string `json:"patch"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// CommitDiff is a cached diff. Partial is set when fetching gave up.
type CommitDiff struct {
	SHA       string      `json:"sha"`
	Repo      string      `json:"repo"`
	Files     []FilePatch `json:"files"`
	Partial   bool        `json:"partial"`
	Error     string      `json:"error,omitempty"`
	FetchedAt time.Time   `json:"fetchedAt"`
}
