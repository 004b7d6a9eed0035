package contract

import (
	"context"

	"github.com/huangsam/devyear/schema"
	"github.com/stretchr/testify/mock"
)

// --- MockCommitSource Implementation ---

// MockCommitSource is a mock type for the CommitSource and DiffSource types.
type MockCommitSource struct {
	mock.Mock
}

var (
	_ CommitSource = &MockCommitSource{} // Compile-time check
	_ DiffSource   = &MockCommitSource{} // Compile-time check
)

// ListRepos implements the CommitSource interface.
func (m *MockCommitSource) ListRepos(ctx context.Context, org string) ([]string, error) {
	ret := m.Called(ctx, org)
	repos, _ := ret.Get(0).([]string)
	return repos, ret.Error(1)
}

// ListCommits implements the CommitSource interface.
func (m *MockCommitSource) ListCommits(ctx context.Context, q CommitQuery) ([]schema.Commit, error) {
	ret := m.Called(ctx, q)
	commits, _ := ret.Get(0).([]schema.Commit)
	return commits, ret.Error(1)
}

// FetchDiff implements the DiffSource interface.
func (m *MockCommitSource) FetchDiff(ctx context.Context, org, repo, sha string) ([]schema.FilePatch, error) {
	ret := m.Called(ctx, org, repo, sha)
	patches, _ := ret.Get(0).([]schema.FilePatch)
	return patches, ret.Error(1)
}

// --- MockSettingsSource Implementation ---

// MockSettingsSource is a mock type for the SettingsSource type.
type MockSettingsSource struct {
	mock.Mock
}

var _ SettingsSource = &MockSettingsSource{} // Compile-time check

// OrgSettings implements the SettingsSource interface.
func (m *MockSettingsSource) OrgSettings(ctx context.Context, org string) (schema.OrgSettings, error) {
	ret := m.Called(ctx, org)
	settings, _ := ret.Get(0).(schema.OrgSettings)
	return settings, ret.Error(1)
}

// --- MockCompleter Implementation ---

// MockCompleter is a mock type for the Completer type.
type MockCompleter struct {
	mock.Mock
}

var _ Completer = &MockCompleter{} // Compile-time check

// Complete implements the Completer interface.
func (m *MockCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ret := m.Called(ctx, req)
	return ret.String(0), ret.Error(1)
}

// Name implements the Completer interface.
func (m *MockCompleter) Name() string {
	return "mock"
}
