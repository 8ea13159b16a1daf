package verification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/stargate/pkg/github"
	"github.com/platinummonkey/stargate/pkg/ledger"
	"github.com/platinummonkey/stargate/pkg/router"
	"github.com/platinummonkey/stargate/pkg/templates"
)

// pendingEntry tracks one member mid-verification. Owned exclusively by the
// coordinator; the cancel func stops the entry's timeout task.
type pendingEntry struct {
	groupID     string
	repo        string
	displayName string
	cancel      context.CancelFunc
}

// Options configures a Coordinator.
type Options struct {
	Source    StarSource
	Ledger    Ledger
	Transport Transport
	Router    *router.Router
	Templates templates.Set

	// SelfID is the bot's own chat user ID, used to recognize @-mentions.
	SelfID string

	Window      time.Duration
	GracePeriod time.Duration

	// SyncConcurrency bounds SyncAll's parallel repository fetches.
	SyncConcurrency int

	Logger  *logrus.Logger
	Metrics *Metrics
}

// Coordinator owns the verification state machine: it tracks members that are
// mid-verification, races each one's timeout task against an inbound
// confirmation, and adjudicates confirmations against the ledger with a
// direct GitHub probe as the cache-miss fallback.
//
// Event handlers never return errors; every collaborator failure degrades to
// a logged no-op plus, where a user is waiting, a reply asking them to retry.
type Coordinator struct {
	source    StarSource
	ledger    Ledger
	transport Transport
	router    *router.Router
	tmpl      templates.Set
	selfID    string

	window  time.Duration
	grace   time.Duration
	syncPar int

	logger  *logrus.Logger
	metrics *Metrics

	mu      sync.Mutex
	pending map[string]*pendingEntry

	rootCtx    context.Context
	rootCancel context.CancelFunc
	tasks      sync.WaitGroup
}

// NewCoordinator creates a Coordinator. Metrics may be nil when the caller
// does not export them.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Window <= 0 {
		opts.Window = 5 * time.Minute
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = time.Minute
	}
	if opts.SyncConcurrency <= 0 {
		opts.SyncConcurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		source:     opts.Source,
		ledger:     opts.Ledger,
		transport:  opts.Transport,
		router:     opts.Router,
		tmpl:       opts.Templates,
		selfID:     opts.SelfID,
		window:     opts.Window,
		grace:      opts.GracePeriod,
		syncPar:    opts.SyncConcurrency,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		pending:    make(map[string]*pendingEntry),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Close cancels every outstanding timeout task and waits for them to finish.
func (c *Coordinator) Close() {
	c.rootCancel()
	c.tasks.Wait()
}

// PendingCount reports how many members are currently mid-verification.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// HandleJoin processes a member-joined notice. It issues a challenge and
// starts the timeout task unless the bot lacks moderation privilege, no
// repository governs the group, or the member already holds a bound claim.
func (c *Coordinator) HandleJoin(ctx context.Context, groupID, userID string) {
	isAdmin, err := c.transport.SelfIsAdmin(ctx, groupID)
	if err != nil {
		c.logger.Warnf("[verify] could not check privilege in group %s: %v, skipping verification", groupID, err)
		return
	}
	if !isAdmin {
		c.logger.Warnf("[verify] bot is not an admin in group %s, cannot run verification", groupID)
		return
	}

	repo, ok := c.router.Resolve(groupID)
	if !ok {
		c.logger.Warnf("[verify] group %s has no repository mapping, skipping verification", groupID)
		return
	}

	// A persistence failure here reads as "not bound"; the member just gets
	// a challenge they could have been spared.
	if login, bound, err := c.ledger.ClaimantOf(ctx, userID, repo); err != nil {
		c.logger.Errorf("[verify] claim lookup for %s failed: %v", userID, err)
	} else if bound {
		c.logger.Infof("[verify] user %s already bound to %s for %s, admitting silently", userID, login, repo)
		return
	}

	displayName := userID
	if name, err := c.transport.MemberDisplayName(ctx, groupID, userID); err == nil && name != "" {
		displayName = name
	}

	taskCtx, cancel := context.WithCancel(c.rootCtx)
	entry := &pendingEntry{groupID: groupID, repo: repo, displayName: displayName, cancel: cancel}

	c.mu.Lock()
	if old, exists := c.pending[userID]; exists {
		// Duplicate join notice; the stale challenge is replaced.
		old.cancel()
	}
	c.pending[userID] = entry
	c.mu.Unlock()

	c.logger.Infof("[verify] user %s joined group %s, verification against %s started", userID, groupID, repo)
	if c.metrics != nil {
		c.metrics.ChallengesIssued.Inc()
	}

	prompt := templates.Render(c.tmpl.JoinPrompt, templates.Values{
		MemberName:     c.transport.Mention(userID),
		AtMention:      c.transport.Mention(userID),
		Repo:           repo,
		TimeoutMinutes: int(c.window.Minutes()),
	})
	if err := c.transport.SendGroupMessage(ctx, groupID, prompt); err != nil {
		c.logger.Errorf("[verify] failed to send challenge to group %s: %v", groupID, err)
	}

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		c.timeoutTask(taskCtx, userID, entry)
	}()
}

// timeoutTask sleeps through the verification window, warns, sleeps through
// the grace period, then evicts if the member is still pending. Cleanup of
// the pending entry is deferred so it runs on completion and cancellation
// alike.
func (c *Coordinator) timeoutTask(ctx context.Context, userID string, entry *pendingEntry) {
	defer c.removeEntry(userID, entry)

	if !sleepCtx(ctx, c.window) {
		c.logger.Infof("[verify] timeout task for %s cancelled", userID)
		return
	}
	if !c.stillPending(userID, entry) {
		return
	}

	warn := templates.Render(c.tmpl.TimeoutWarn, templates.Values{
		AtMention:        c.transport.Mention(userID),
		Repo:             entry.repo,
		CountdownSeconds: int(c.grace.Seconds()),
	})
	if err := c.transport.SendGroupMessage(ctx, entry.groupID, warn); err != nil {
		c.logger.Errorf("[verify] failed to warn %s: %v", userID, err)
	}

	if !sleepCtx(ctx, c.grace) {
		c.logger.Infof("[verify] timeout task for %s cancelled during grace period", userID)
		return
	}
	// The race may have resolved while we slept.
	if !c.stillPending(userID, entry) {
		return
	}

	if err := c.transport.KickMember(ctx, entry.groupID, userID); err != nil {
		// Eviction is not retried; the member stays but is no longer tracked.
		c.logger.Errorf("[verify] failed to kick %s from group %s: %v", userID, entry.groupID, err)
		return
	}

	c.logger.Infof("[verify] user %s (%s) failed verification, removed from group %s", userID, entry.displayName, entry.groupID)
	if c.metrics != nil {
		c.metrics.Evicted.Inc()
	}

	notice := templates.Render(c.tmpl.KickNotice, templates.Values{
		MemberName: entry.displayName,
		Repo:       entry.repo,
	})
	if err := c.transport.SendGroupMessage(ctx, entry.groupID, notice); err != nil {
		c.logger.Errorf("[verify] failed to send kick notice for %s: %v", userID, err)
	}
}

// HandleMessage processes an inbound group message. Only messages that
// mention the bot and come from a pending member are considered; everything
// else is ignored without reply.
func (c *Coordinator) HandleMessage(ctx context.Context, groupID, senderID, text string, mentions []string) {
	c.mu.Lock()
	entry, ok := c.pending[senderID]
	c.mu.Unlock()
	if !ok {
		return
	}

	if !mentionsSelf(mentions, c.selfID) {
		return
	}

	repo := entry.repo
	at := c.transport.Mention(senderID)

	handle := strings.TrimSpace(text)
	if !github.ValidLogin(handle) {
		c.reject(ctx, groupID, "invalid_handle", templates.Render(c.tmpl.InvalidHandle, templates.Values{AtMention: at, Repo: repo}))
		return
	}

	// Cheap cache check first, expensive probe only on a miss, positive
	// probe written back so the next check is cheap.
	isStar, err := c.ledger.IsStargazer(ctx, handle, repo)
	if err != nil {
		c.logger.Errorf("[verify] stargazer lookup for %s failed: %v", handle, err)
		isStar = false
	}
	if !isStar {
		found, starredAt := c.source.ProbeStargazer(ctx, handle, repo)
		if found {
			isStar = true
			if starredAt != nil {
				c.logger.Infof("[verify] %s starred %s at %s", handle, repo, starredAt.Format(time.RFC3339))
			}
			if err := c.ledger.RecordStargazer(ctx, handle, repo); err != nil {
				c.logger.Errorf("[verify] failed to record probed stargazer %s: %v", handle, err)
			}
		}
	}
	if !isStar {
		c.reject(ctx, groupID, "not_stargazer", templates.Render(c.tmpl.NotStargazer, templates.Values{AtMention: at, Repo: repo}))
		return
	}

	if owner, claimed, err := c.ledger.ClaimOwner(ctx, handle, repo); err != nil {
		c.logger.Errorf("[verify] claim owner lookup for %s failed: %v", handle, err)
	} else if claimed && owner != senderID {
		c.reject(ctx, groupID, "already_claimed", templates.Render(c.tmpl.AlreadyBound, templates.Values{AtMention: at, Repo: repo}))
		return
	}

	bound, err := c.ledger.Bind(ctx, handle, senderID, repo)
	if err != nil {
		c.logger.Errorf("[verify] bind of %s to %s failed: %v", handle, senderID, err)
		bound = false
	}
	if !bound {
		c.reject(ctx, groupID, "bind_failed", templates.Render(c.tmpl.BindRetry, templates.Values{AtMention: at, Repo: repo}))
		return
	}

	// Only one outcome may win; deleting the entry under the lock makes the
	// timeout task observe its absence and stand down.
	c.mu.Lock()
	if c.pending[senderID] == entry {
		delete(c.pending, senderID)
	}
	c.mu.Unlock()
	entry.cancel()

	c.logger.Infof("[verify] user %s verified as %s for %s", senderID, handle, repo)
	if c.metrics != nil {
		c.metrics.Verified.Inc()
	}

	welcome := templates.Render(c.tmpl.Welcome, templates.Values{AtMention: at, Repo: repo})
	if err := c.transport.SendGroupMessage(ctx, groupID, welcome); err != nil {
		c.logger.Errorf("[verify] failed to send welcome to group %s: %v", groupID, err)
	}
}

// HandleDeparture processes a member-left notice. A pending member who leaves
// is abandoned: the timeout task is cancelled and no eviction is attempted.
func (c *Coordinator) HandleDeparture(ctx context.Context, userID string) {
	c.mu.Lock()
	entry, ok := c.pending[userID]
	if ok {
		delete(c.pending, userID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	entry.cancel()
	c.logger.Infof("[verify] pending user %s left group %s, verification abandoned", userID, entry.groupID)
	if c.metrics != nil {
		c.metrics.Abandoned.Inc()
	}
}

// SyncRepo refreshes the ledger from the repository's full stargazer listing.
// The listing may be partial under rate limiting; sync proceeds with whatever
// was fetched.
func (c *Coordinator) SyncRepo(ctx context.Context, repo string) error {
	logins := c.source.FetchAllStargazers(ctx, repo)
	added, err := c.ledger.SyncStargazers(ctx, logins, repo)
	if err != nil {
		c.logger.Errorf("[verify] sync of %s failed: %v", repo, err)
		return err
	}
	c.logger.Infof("[verify] synced %s: %d fetched, %d new", repo, len(logins), added)
	if c.metrics != nil {
		c.metrics.StargazersSynced.WithLabelValues(repo).Add(float64(added))
	}
	return nil
}

// SyncAll syncs every configured repository with bounded concurrency. A
// failure in one repository never aborts the others; the per-repo outcome map
// carries a nil for each success.
func (c *Coordinator) SyncAll(ctx context.Context) map[string]error {
	repos := c.router.ConfiguredRepos()
	results := make(map[string]error, len(repos))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.syncPar)

	for _, repo := range repos {
		repo := repo
		g.Go(func() error {
			err := c.SyncRepo(gctx, repo)
			mu.Lock()
			results[repo] = err
			mu.Unlock()
			return nil // failures are isolated per repository
		})
	}
	g.Wait()

	return results
}

// BindUser is the administrative bind operation. Unlike the verification
// flow it consults only the ledger, never the probe: the login must already
// be a known stargazer.
func (c *Coordinator) BindUser(ctx context.Context, userID, login, repo string) error {
	login = strings.TrimSpace(login)
	if !github.ValidLogin(login) {
		return ErrInvalidHandle
	}

	if existing, bound, err := c.ledger.ClaimantOf(ctx, userID, repo); err != nil {
		c.logger.Errorf("[verify] claim lookup for %s failed: %v", userID, err)
		return ErrBindFailed
	} else if bound && existing != login {
		return ErrAlreadyBound
	}

	isStar, err := c.ledger.IsStargazer(ctx, login, repo)
	if err != nil {
		c.logger.Errorf("[verify] stargazer lookup for %s failed: %v", login, err)
		return ErrBindFailed
	}
	if !isStar {
		return ErrNotStargazer
	}

	if owner, claimed, err := c.ledger.ClaimOwner(ctx, login, repo); err != nil {
		c.logger.Errorf("[verify] claim owner lookup for %s failed: %v", login, err)
		return ErrBindFailed
	} else if claimed && owner != userID {
		return ErrAlreadyClaimed
	}

	ok, err := c.ledger.Bind(ctx, login, userID, repo)
	if err != nil {
		c.logger.Errorf("[verify] bind of %s to %s failed: %v", login, userID, err)
		return ErrBindFailed
	}
	if !ok {
		return ErrBindFailed
	}
	c.logger.Infof("[verify] bound %s to %s for %s", login, userID, repo)
	return nil
}

// UnbindUser clears the user's claim in the repo and reports the login that
// was bound.
func (c *Coordinator) UnbindUser(ctx context.Context, userID, repo string) (string, error) {
	login, bound, err := c.ledger.ClaimantOf(ctx, userID, repo)
	if err != nil {
		c.logger.Errorf("[verify] claim lookup for %s failed: %v", userID, err)
		return "", ErrBindFailed
	}
	if !bound {
		return "", ErrNoBinding
	}

	ok, err := c.ledger.Unbind(ctx, userID, repo)
	if err != nil {
		c.logger.Errorf("[verify] unbind of %s failed: %v", userID, err)
		return "", ErrBindFailed
	}
	if !ok {
		return "", ErrNoBinding
	}
	c.logger.Infof("[verify] unbound %s from %s for %s", login, userID, repo)
	return login, nil
}

// Status reports ledger counts for the repo plus the coordinator's current
// pending total.
func (c *Coordinator) Status(ctx context.Context, repo string) (StatusReport, error) {
	stars, err := c.ledger.StargazerCount(ctx, repo)
	if err != nil {
		return StatusReport{}, err
	}
	bound, err := c.ledger.BoundCount(ctx, repo)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		Repo:           repo,
		StargazerCount: stars,
		BoundCount:     bound,
		PendingCount:   c.PendingCount(),
	}, nil
}

// ClaimsFor lists the user's bindings across repositories in stable order.
func (c *Coordinator) ClaimsFor(ctx context.Context, userID string) ([]ledger.Binding, error) {
	return c.ledger.ClaimedRepos(ctx, userID)
}

// ResolveRepo exposes the router lookup for callers that address operations
// by group.
func (c *Coordinator) ResolveRepo(groupID string) (string, bool) {
	return c.router.Resolve(groupID)
}

func (c *Coordinator) reject(ctx context.Context, groupID, reason, message string) {
	if c.metrics != nil {
		c.metrics.Rejections.WithLabelValues(reason).Inc()
	}
	if err := c.transport.SendGroupMessage(ctx, groupID, message); err != nil {
		c.logger.Errorf("[verify] failed to send rejection to group %s: %v", groupID, err)
	}
}

// removeEntry deletes the pending entry if it is still the one this task
// owns; a replacement entry from a duplicate join notice is left alone.
func (c *Coordinator) removeEntry(userID string, entry *pendingEntry) {
	c.mu.Lock()
	if c.pending[userID] == entry {
		delete(c.pending, userID)
	}
	c.mu.Unlock()
}

// stillPending reports whether this task's entry is still the live one.
func (c *Coordinator) stillPending(userID string, entry *pendingEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[userID] == entry
}

// sleepCtx waits for d; returns false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func mentionsSelf(mentions []string, selfID string) bool {
	for _, m := range mentions {
		if m == selfID {
			return true
		}
	}
	return false
}
