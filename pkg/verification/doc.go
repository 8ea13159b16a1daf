// Package verification implements the membership gate's core state machine.
//
// When a member joins a governed group the coordinator issues a challenge and
// starts a per-member timeout task. The task sleeps through the verification
// window, posts a warning, sleeps through the grace period, and evicts the
// member if they are still unverified. An inbound confirmation message races
// the task: whichever side observes the pending entry first wins, and the
// loser stands down without acting.
//
// Confirmations are adjudicated ledger-first. A cache miss falls through to a
// single-user probe against the GitHub API, and a positive probe is written
// back so repeated checks stay cheap. Claims are exclusive per repository:
// one GitHub login binds to at most one chat user and vice versa.
//
// The coordinator also exposes the administrative surface the HTTP API is
// built on: manual bind/unbind, per-repository status, per-user claim
// listings, and full stargazer syncs.
package verification
