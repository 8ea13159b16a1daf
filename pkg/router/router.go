// Package router resolves which GitHub repository governs a chat group.
package router

// Router maps group IDs to repositories. It is immutable after construction
// and safe for concurrent reads.
type Router struct {
	groups      map[string]string
	order       []string // repos in configuration order, deduplicated
	defaultRepo string
}

// New builds a Router from a group->repo map and an optional default repo.
// The order parameter preserves the configuration's repo ordering for
// deterministic status output; every non-empty entry is kept (deduplicated,
// default first), whether or not a group maps to it.
func New(groups map[string]string, order []string, defaultRepo string) *Router {
	m := make(map[string]string, len(groups))
	for gid, repo := range groups {
		if gid != "" && repo != "" {
			m[gid] = repo
		}
	}

	seen := make(map[string]bool)
	var repos []string
	if defaultRepo != "" {
		seen[defaultRepo] = true
		repos = append(repos, defaultRepo)
	}
	for _, repo := range order {
		if repo == "" || seen[repo] {
			continue
		}
		seen[repo] = true
		repos = append(repos, repo)
	}

	return &Router{groups: m, order: repos, defaultRepo: defaultRepo}
}

// Resolve returns the repository governing the group. Falls back to the
// default repository; ok is false when neither is configured.
func (r *Router) Resolve(groupID string) (repo string, ok bool) {
	if repo, ok := r.groups[groupID]; ok {
		return repo, true
	}
	if r.defaultRepo != "" {
		return r.defaultRepo, true
	}
	return "", false
}

// DefaultRepo returns the configured default repository, if any.
func (r *Router) DefaultRepo() string {
	return r.defaultRepo
}

// ConfiguredRepos returns every configured repository, default first, then
// group-mapped repos in configuration order, deduplicated.
func (r *Router) ConfiguredRepos() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// GroupCount reports how many explicit group mappings exist.
func (r *Router) GroupCount() int {
	return len(r.groups)
}
