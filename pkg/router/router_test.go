package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveExactMatch(t *testing.T) {
	r := New(map[string]string{"100": "octo/repo"}, []string{"octo/repo"}, "org/default")

	repo, ok := r.Resolve("100")
	assert.True(t, ok)
	assert.Equal(t, "octo/repo", repo)
}

func TestResolveDefaultFallback(t *testing.T) {
	r := New(map[string]string{"100": "octo/repo"}, []string{"octo/repo"}, "org/default")

	repo, ok := r.Resolve("999")
	assert.True(t, ok)
	assert.Equal(t, "org/default", repo)
}

func TestResolveNoDefault(t *testing.T) {
	r := New(map[string]string{"100": "octo/repo"}, []string{"octo/repo"}, "")

	_, ok := r.Resolve("999")
	assert.False(t, ok)
}

func TestConfiguredReposOrderAndDedup(t *testing.T) {
	groups := map[string]string{
		"1": "a/one",
		"2": "b/two",
		"3": "a/one", // duplicate mapping
	}
	r := New(groups, []string{"a/one", "b/two", "a/one"}, "b/two")

	// Default first, then config order with duplicates removed.
	assert.Equal(t, []string{"b/two", "a/one"}, r.ConfiguredRepos())
	assert.Equal(t, 3, r.GroupCount())
}

func TestConfiguredReposKeepsUnmappedEntries(t *testing.T) {
	// Repos in the order list stay configured even when no group maps to
	// them; syncs must still cover them.
	r := New(map[string]string{"1": "a/one"}, []string{"a/one", "c/extra"}, "")
	assert.Equal(t, []string{"a/one", "c/extra"}, r.ConfiguredRepos())
}

func TestEmptyEntriesIgnored(t *testing.T) {
	r := New(map[string]string{"": "x/y", "1": ""}, []string{""}, "")
	assert.Equal(t, 0, r.GroupCount())
	assert.Empty(t, r.ConfiguredRepos())
}
