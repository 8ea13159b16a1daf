// Package ledger persists the stargazer ledger: which GitHub logins are known
// stargazers of which repositories, and which chat user (if any) has claimed
// each login.
//
// # Data model
//
// One row per (github_login, repo). The chat_user_id column is NULL until a
// verification binds it. Two invariants hold:
//
//   - a (github_login, repo) pair has at most one claiming chat user
//     (the primary key plus the claim column itself)
//   - a (chat_user_id, repo) pair claims at most one login
//     (a partial unique index on (repo, chat_user_id))
//
// Rows are created by sync or probe write-back and are never deleted by
// normal operation; only the claim is cleared on unbind.
//
// # Drivers
//
// The SQL sticks to the dialect subset shared by mattn/go-sqlite3 and lib/pq:
// $N placeholders, ON CONFLICT upserts, partial indexes, unix-second
// timestamps written from Go.
package ledger
