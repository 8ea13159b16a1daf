package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Binding pairs a repository with the GitHub login a chat user has claimed
// there.
type Binding struct {
	Repo        string `json:"repo"`
	GithubLogin string `json:"github_login"`
}

// Store is the durable stargazer ledger. Rows are keyed by
// (github_login, repo); the chat_user_id column carries the claim and a
// partial unique index on (repo, chat_user_id) enforces one claim per chat
// user per repository at the database level.
type Store struct {
	db *sql.DB

	// repoOrder is the preferred repository ordering for ClaimedRepos:
	// configured default first, then routing-table order. Repos outside the
	// list sort lexicographically after it.
	repoOrder []string
}

// NewStore creates a ledger store. repoOrder may be nil.
func NewStore(db *sql.DB, repoOrder []string) *Store {
	return &Store{db: db, repoOrder: repoOrder}
}

// RecordStargazer upserts a stargazer row. On conflict only the refresh
// timestamp is touched; an existing claim is preserved.
func (s *Store) RecordStargazer(ctx context.Context, login, repo string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stargazers (github_login, repo, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (github_login, repo) DO UPDATE SET updated_at = $5
	`, login, repo, now, now, now)
	if err != nil {
		return fmt.Errorf("failed to record stargazer %s for %s: %w", login, repo, err)
	}
	return nil
}

// SyncStargazers inserts logins not yet known for the repository and returns
// how many were added. Rows are never deleted: dropping a login that unstarred
// could silently destroy an existing claim.
func (s *Store) SyncStargazers(ctx context.Context, logins []string, repo string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start sync transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT github_login FROM stargazers WHERE repo = $1", repo)
	if err != nil {
		return 0, fmt.Errorf("failed to query existing stargazers: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var login string
		if err := rows.Scan(&login); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan stargazer: %w", err)
		}
		existing[login] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("failed to read existing stargazers: %w", err)
	}
	rows.Close()

	now := time.Now().Unix()
	added := 0
	for _, login := range logins {
		if login == "" || existing[login] {
			continue
		}
		existing[login] = true
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stargazers (github_login, repo, created_at, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (github_login, repo) DO NOTHING
		`, login, repo, now, now); err != nil {
			return 0, fmt.Errorf("failed to insert stargazer %s: %w", login, err)
		}
		added++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sync: %w", err)
	}
	return added, nil
}

// IsStargazer reports whether the login is a known stargazer of the repo.
func (s *Store) IsStargazer(ctx context.Context, login, repo string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM stargazers WHERE github_login = $1 AND repo = $2",
		login, repo).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check stargazer %s: %w", login, err)
	}
	return true, nil
}

// ClaimOwner returns the chat user currently claiming the login, if any.
func (s *Store) ClaimOwner(ctx context.Context, login, repo string) (string, bool, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_user_id FROM stargazers
		WHERE github_login = $1 AND repo = $2 AND chat_user_id IS NOT NULL
	`, login, repo).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up claim owner of %s: %w", login, err)
	}
	return userID, true, nil
}

// ClaimantOf returns the login the chat user has claimed in the repo, if any.
func (s *Store) ClaimantOf(ctx context.Context, chatUserID, repo string) (string, bool, error) {
	var login string
	err := s.db.QueryRowContext(ctx,
		"SELECT github_login FROM stargazers WHERE chat_user_id = $1 AND repo = $2",
		chatUserID, repo).Scan(&login)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up claim of %s: %w", chatUserID, err)
	}
	return login, true, nil
}

// Bind claims the login for the chat user. Returns false without error when
// the bind loses to an existing claim on either side or the login is not a
// known stargazer. Re-binding an identical pair is idempotent and succeeds.
//
// The claim-side condition lives in the UPDATE itself and the user-side
// uniqueness is the partial index, so there is no check-then-write window.
func (s *Store) Bind(ctx context.Context, login, chatUserID, repo string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stargazers
		SET chat_user_id = $1, updated_at = $2
		WHERE github_login = $3 AND repo = $4
		  AND (chat_user_id IS NULL OR chat_user_id = $5)
	`, chatUserID, time.Now().Unix(), login, repo, chatUserID)
	if err != nil {
		if isUniqueViolation(err) {
			// The chat user already claims a different login in this repo.
			return false, nil
		}
		return false, fmt.Errorf("failed to bind %s to %s: %w", login, chatUserID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read bind result: %w", err)
	}
	return n > 0, nil
}

// Unbind clears the chat user's claim in the repo. Returns false when no
// bound row matched.
func (s *Store) Unbind(ctx context.Context, chatUserID, repo string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stargazers
		SET chat_user_id = NULL, updated_at = $1
		WHERE chat_user_id = $2 AND repo = $3
	`, time.Now().Unix(), chatUserID, repo)
	if err != nil {
		return false, fmt.Errorf("failed to unbind %s: %w", chatUserID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read unbind result: %w", err)
	}
	return n > 0, nil
}

// StargazerCount returns the number of known stargazers for the repo.
func (s *Store) StargazerCount(ctx context.Context, repo string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stargazers WHERE repo = $1", repo).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stargazers of %s: %w", repo, err)
	}
	return count, nil
}

// BoundCount returns the number of claimed stargazers for the repo.
func (s *Store) BoundCount(ctx context.Context, repo string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stargazers WHERE repo = $1 AND chat_user_id IS NOT NULL",
		repo).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bound stargazers of %s: %w", repo, err)
	}
	return count, nil
}

// ClaimedRepos lists every binding the chat user holds, ordered: the
// configured default repo first, then routing-table order, then any remaining
// repos lexicographically. The ordering only exists so status output is
// stable.
func (s *Store) ClaimedRepos(ctx context.Context, chatUserID string) ([]Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repo, github_login FROM stargazers
		WHERE chat_user_id = $1
	`, chatUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims of %s: %w", chatUserID, err)
	}
	defer rows.Close()

	byRepo := make(map[string]string)
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.Repo, &b.GithubLogin); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		byRepo[b.Repo] = b.GithubLogin
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}

	var out []Binding
	for _, repo := range s.repoOrder {
		if login, ok := byRepo[repo]; ok {
			out = append(out, Binding{Repo: repo, GithubLogin: login})
			delete(byRepo, repo)
		}
	}

	rest := make([]string, 0, len(byRepo))
	for repo := range byRepo {
		rest = append(rest, repo)
	}
	sort.Strings(rest)
	for _, repo := range rest {
		out = append(out, Binding{Repo: repo, GithubLogin: byRepo[repo]})
	}
	return out, nil
}

// isUniqueViolation matches unique-constraint errors from both lib/pq
// ("duplicate key value violates unique constraint") and go-sqlite3
// ("UNIQUE constraint failed") without importing either driver here.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
