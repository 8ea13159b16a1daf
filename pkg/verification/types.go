package verification

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/stargate/pkg/ledger"
)

// StarSource answers stargazer queries against the external GitHub API.
// Implementations never return transport errors; failures degrade to partial
// or negative results.
type StarSource interface {
	// FetchAllStargazers returns every known stargazer login of the repo,
	// possibly partial under rate limiting.
	FetchAllStargazers(ctx context.Context, repo string) []string
	// ProbeStargazer checks a single login directly, returning the star's
	// timestamp when found.
	ProbeStargazer(ctx context.Context, login, repo string) (bool, *time.Time)
}

// Ledger is the durable claim store the coordinator adjudicates against.
type Ledger interface {
	RecordStargazer(ctx context.Context, login, repo string) error
	SyncStargazers(ctx context.Context, logins []string, repo string) (int, error)
	IsStargazer(ctx context.Context, login, repo string) (bool, error)
	ClaimOwner(ctx context.Context, login, repo string) (string, bool, error)
	ClaimantOf(ctx context.Context, chatUserID, repo string) (string, bool, error)
	Bind(ctx context.Context, login, chatUserID, repo string) (bool, error)
	Unbind(ctx context.Context, chatUserID, repo string) (bool, error)
	StargazerCount(ctx context.Context, repo string) (int, error)
	BoundCount(ctx context.Context, repo string) (int, error)
	ClaimedRepos(ctx context.Context, chatUserID string) ([]ledger.Binding, error)
}

// Transport is the chat platform surface the coordinator acts through.
type Transport interface {
	SendGroupMessage(ctx context.Context, groupID, message string) error
	KickMember(ctx context.Context, groupID, userID string) error
	// MemberDisplayName resolves a user's display name in the group.
	MemberDisplayName(ctx context.Context, groupID, userID string) (string, error)
	// SelfIsAdmin reports whether the bot holds moderation privilege in the
	// group.
	SelfIsAdmin(ctx context.Context, groupID string) (bool, error)
	// Mention renders the platform's @-mention marker for a user.
	Mention(userID string) string
}

// StatusReport summarizes a repository's ledger state.
type StatusReport struct {
	Repo           string `json:"repo"`
	StargazerCount int    `json:"stargazer_count"`
	BoundCount     int    `json:"bound_count"`
	PendingCount   int    `json:"pending_count"`
}

// Errors returned by the administrative bind/unbind surface. These correspond
// to user-visible rejections, not system failures.
var (
	ErrInvalidHandle  = errors.New("invalid GitHub username")
	ErrNotStargazer   = errors.New("not a known stargazer of the repository")
	ErrAlreadyClaimed = errors.New("GitHub username already claimed by another user")
	ErrAlreadyBound   = errors.New("user already claims a different GitHub username in this repository")
	ErrNoBinding      = errors.New("no binding exists for this user and repository")
	ErrBindFailed     = errors.New("binding failed, try again later")
	ErrNoRepo         = errors.New("no repository configured for this group")
)
