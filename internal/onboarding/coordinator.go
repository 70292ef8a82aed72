package onboarding

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/armiapp/armi/internal/metrics"
	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/storage"
)

type EntitlementResolver interface {
	Resolve(ctx context.Context, user *model.User) model.EntitlementStatus
}

const (
	// idleTimeout is how long a user's sequencer is kept without any event
	// or request before it is dropped.
	idleTimeout   = 24 * time.Hour
	sweepInterval = time.Hour
)

type trackedUser struct {
	seq  *Sequencer
	seen time.Time
}

// Coordinator drives one Sequencer per user from auth events and from
// explicit modal actions. Users are tracked while signed in and verified,
// until they sign out or go idle. An untracked user is evaluated again on
// the next request.
type Coordinator struct {
	resolver EntitlementResolver
	flags    storage.FlagStore
	metrics  *metrics.Collector
	now      func() time.Time

	mu         sync.Mutex
	sequencers map[string]*trackedUser
	inflight   sync.WaitGroup
}

func NewCoordinator(resolver EntitlementResolver, flags storage.FlagStore, m *metrics.Collector) *Coordinator {
	return &Coordinator{
		resolver:   resolver,
		flags:      flags,
		metrics:    m,
		now:        time.Now,
		sequencers: make(map[string]*trackedUser),
	}
}

// Run consumes auth events until the channel closes or ctx is done, then
// waits for pending entitlement lookups. Idle users are dropped hourly.
func (c *Coordinator) Run(ctx context.Context, events <-chan model.AuthEvent) {
	defer c.inflight.Wait()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	slog.Info("onboarding coordinator started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("onboarding coordinator stopped")
			return
		case <-ticker.C:
			evicted := c.evictIdle(idleTimeout)
			if evicted > 0 {
				slog.Debug("dropped idle onboarding users", "count", evicted)
			}
		case event, ok := <-events:
			if !ok {
				slog.Info("onboarding coordinator stopped, event stream closed")
				return
			}
			c.handle(ctx, event)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, event model.AuthEvent) {
	c.metrics.RecordAuthEvent(string(event.Kind))
	slog.Debug("auth event", "kind", event.Kind, "user_id", event.UserID)

	if event.Kind == model.AuthEventSignedOut || event.User == nil || !event.User.IsVerified() {
		c.forget(event.UserID)
		return
	}

	seq := c.sequencer(event.UserID)

	// Refreshes and profile edits only restart a user who was not eligible
	// before, such as one who just verified their email.
	restart := event.Kind == model.AuthEventSignedIn || event.Kind == model.AuthEventInitialSession
	if !restart && seq.State() != StateIneligible {
		return
	}

	generation := seq.Begin()
	user := event.User

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		status := c.resolver.Resolve(ctx, user)
		state, applied := seq.Apply(ctx, generation, status)
		if applied {
			slog.Info("onboarding evaluated", "user_id", user.ID, "state", state, "is_pro", status.IsPro)
		}
	}()
}

// State returns the user's onboarding state. Users not evaluated yet, for
// example after a restart, are evaluated synchronously.
func (c *Coordinator) State(ctx context.Context, user *model.User) (State, model.EntitlementStatus) {
	if user == nil || !user.IsVerified() {
		return StateIneligible, model.EntitlementStatus{}
	}

	seq := c.sequencer(user.ID)
	if seq.State() != StateIneligible {
		return seq.State(), c.resolver.Resolve(ctx, user)
	}
	return c.evaluate(ctx, seq, user)
}

// Refresh re-resolves entitlements and re-runs the transition rule, after a
// list type change or a purchase.
func (c *Coordinator) Refresh(ctx context.Context, user *model.User) (State, model.EntitlementStatus) {
	if user == nil || !user.IsVerified() {
		return StateIneligible, model.EntitlementStatus{}
	}
	return c.evaluate(ctx, c.sequencer(user.ID), user)
}

func (c *Coordinator) DismissListSelection(ctx context.Context, user *model.User) (State, error) {
	seq, err := c.eligible(ctx, user)
	if err != nil {
		return StateIneligible, err
	}
	return seq.DismissListSelection(ctx)
}

func (c *Coordinator) DismissDevNote(ctx context.Context, user *model.User, dontShowAgain bool) (State, error) {
	seq, err := c.eligible(ctx, user)
	if err != nil {
		return StateIneligible, err
	}
	return seq.DismissDevNote(ctx, dontShowAgain)
}

// Reset clears the user's flags and evaluates again.
func (c *Coordinator) Reset(ctx context.Context, user *model.User) (State, error) {
	err := Reset(ctx, c.flags, user.ID)
	if err != nil {
		return StateIneligible, err
	}
	state, _ := c.Refresh(ctx, user)
	return state, nil
}

func (c *Coordinator) eligible(ctx context.Context, user *model.User) (*Sequencer, error) {
	if user == nil || !user.IsVerified() {
		return nil, ErrNotEligible
	}

	seq := c.sequencer(user.ID)
	if seq.State() == StateIneligible {
		c.evaluate(ctx, seq, user)
	}
	return seq, nil
}

func (c *Coordinator) evaluate(ctx context.Context, seq *Sequencer, user *model.User) (State, model.EntitlementStatus) {
	generation := seq.Begin()
	status := c.resolver.Resolve(ctx, user)
	state, _ := seq.Apply(ctx, generation, status)
	return state, status
}

func (c *Coordinator) sequencer(userID string) *Sequencer {
	c.mu.Lock()
	defer c.mu.Unlock()

	tracked, ok := c.sequencers[userID]
	if !ok {
		tracked = &trackedUser{seq: NewSequencer(userID, c.flags, c.metrics)}
		c.sequencers[userID] = tracked
	}
	tracked.seen = c.now()
	return tracked.seq
}

// forget stops tracking the user. A lookup still in flight lands on the
// detached sequencer and is dropped.
func (c *Coordinator) forget(userID string) {
	c.mu.Lock()
	tracked, ok := c.sequencers[userID]
	delete(c.sequencers, userID)
	c.mu.Unlock()

	if ok {
		tracked.seq.MarkIneligible()
	}
}

// evictIdle forgets users not seen within idle and returns how many.
func (c *Coordinator) evictIdle(idle time.Duration) int {
	cutoff := c.now().Add(-idle)

	c.mu.Lock()
	var stale []*Sequencer
	for userID, tracked := range c.sequencers {
		if tracked.seen.Before(cutoff) {
			stale = append(stale, tracked.seq)
			delete(c.sequencers, userID)
		}
	}
	c.mu.Unlock()

	for _, seq := range stale {
		seq.MarkIneligible()
	}
	return len(stale)
}
