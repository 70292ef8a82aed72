package onboarding

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armiapp/armi/internal/model"
)

type stubResolver struct {
	status  atomic.Value
	calls   atomic.Int32
	entered chan struct{}
	gate    chan struct{}
}

func newStubResolver(status model.EntitlementStatus) *stubResolver {
	r := &stubResolver{}
	r.status.Store(status)
	return r
}

func (r *stubResolver) Resolve(context.Context, *model.User) model.EntitlementStatus {
	r.calls.Add(1)
	if r.gate != nil {
		r.entered <- struct{}{}
		<-r.gate
	}
	return r.status.Load().(model.EntitlementStatus)
}

func verifiedUser(id string) *model.User {
	now := time.Now()
	return &model.User{ID: id, Email: id + "@example.com", EmailVerifiedAt: &now}
}

func startCoordinator(t *testing.T, c *Coordinator) (chan<- model.AuthEvent, func()) {
	t.Helper()

	events := make(chan model.AuthEvent)
	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), events)
		close(done)
	}()

	stop := func() {
		close(events)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("coordinator did not stop")
		}
	}
	return events, stop
}

func stateOf(c *Coordinator, userID string) func() State {
	return func() State { return c.sequencer(userID).State() }
}

func TestCoordinator_SignInEvaluates(t *testing.T) {
	resolver := newStubResolver(freeStatus)
	c := NewCoordinator(resolver, newMemFlags(), nil)
	events, stop := startCoordinator(t, c)

	user := verifiedUser("u1")
	events <- model.AuthEvent{Kind: model.AuthEventSignedIn, UserID: user.ID, User: user}
	stop()

	assert.Equal(t, StateListSelection, stateOf(c, user.ID)())
	assert.EqualValues(t, 1, resolver.calls.Load())
}

func TestCoordinator_UnverifiedUserIsIneligible(t *testing.T) {
	resolver := newStubResolver(freeStatus)
	c := NewCoordinator(resolver, newMemFlags(), nil)
	events, stop := startCoordinator(t, c)

	user := &model.User{ID: "u2", Email: "u2@example.com"}
	events <- model.AuthEvent{Kind: model.AuthEventSignedIn, UserID: user.ID, User: user}

	// verifying the email starts onboarding
	verified := verifiedUser(user.ID)
	events <- model.AuthEvent{Kind: model.AuthEventUserUpdated, UserID: user.ID, User: verified}
	stop()

	assert.Equal(t, StateListSelection, stateOf(c, user.ID)())
	assert.EqualValues(t, 1, resolver.calls.Load())

	state, _ := c.State(context.Background(), user)
	assert.Equal(t, StateIneligible, state)
}

func TestCoordinator_TokenRefreshKeepsState(t *testing.T) {
	ctx := context.Background()
	resolver := newStubResolver(freeStatus)
	flags := newMemFlags()
	c := NewCoordinator(resolver, flags, nil)
	events, stop := startCoordinator(t, c)

	user := verifiedUser("u3")
	events <- model.AuthEvent{Kind: model.AuthEventSignedIn, UserID: user.ID, User: user}
	require.Eventually(t, func() bool { return stateOf(c, user.ID)() == StateListSelection }, time.Second, 5*time.Millisecond)

	state, err := c.DismissListSelection(ctx, user)
	require.NoError(t, err)
	require.Equal(t, StateDevNote, state)

	events <- model.AuthEvent{Kind: model.AuthEventTokenRefreshed, UserID: user.ID, User: user}
	stop()

	assert.Equal(t, StateDevNote, stateOf(c, user.ID)())
	assert.EqualValues(t, 1, resolver.calls.Load())
}

func TestCoordinator_LastIdentityWins(t *testing.T) {
	resolver := newStubResolver(freeStatus)
	resolver.entered = make(chan struct{}, 1)
	resolver.gate = make(chan struct{})
	c := NewCoordinator(resolver, newMemFlags(), nil)
	events, stop := startCoordinator(t, c)

	user := verifiedUser("u4")
	events <- model.AuthEvent{Kind: model.AuthEventSignedIn, UserID: user.ID, User: user}
	<-resolver.entered

	unverified := &model.User{ID: user.ID, Email: user.Email}
	events <- model.AuthEvent{Kind: model.AuthEventUserUpdated, UserID: user.ID, User: unverified}
	require.Eventually(t, func() bool { return stateOf(c, user.ID)() == StateIneligible }, time.Second, 5*time.Millisecond)

	close(resolver.gate)
	stop()

	assert.Equal(t, StateIneligible, stateOf(c, user.ID)())
}

func TestCoordinator_SignOutForgetsUser(t *testing.T) {
	resolver := newStubResolver(proForLifeStatus)
	c := NewCoordinator(resolver, newMemFlags(), nil)
	events, stop := startCoordinator(t, c)

	user := verifiedUser("u5")
	events <- model.AuthEvent{Kind: model.AuthEventSignedIn, UserID: user.ID, User: user}
	require.Eventually(t, func() bool { return stateOf(c, user.ID)() == StateDevNote }, time.Second, 5*time.Millisecond)

	events <- model.AuthEvent{Kind: model.AuthEventSignedOut, UserID: user.ID}
	stop()

	c.mu.Lock()
	_, tracked := c.sequencers[user.ID]
	c.mu.Unlock()
	assert.False(t, tracked)
}

func TestCoordinator_LazyStateAndRefresh(t *testing.T) {
	ctx := context.Background()
	resolver := newStubResolver(freeStatus)
	flags := newMemFlags()
	c := NewCoordinator(resolver, flags, nil)

	user := verifiedUser("u6")
	state, status := c.State(ctx, user)
	assert.Equal(t, StateListSelection, state)
	assert.False(t, status.IsPro)

	// a purchase lands while the list modal is open
	resolver.status.Store(model.NewEntitlementStatus(false, true, nil))
	state, status = c.Refresh(ctx, user)
	assert.Equal(t, StateDevNote, state)
	assert.True(t, status.IsPro)

	state, err := c.DismissDevNote(ctx, user, true)
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	state, err = c.Reset(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, StateDevNote, state)
}

func TestCoordinator_DismissRequiresVerifiedUser(t *testing.T) {
	c := NewCoordinator(newStubResolver(freeStatus), newMemFlags(), nil)

	_, err := c.DismissListSelection(context.Background(), &model.User{ID: "u7"})
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = c.DismissDevNote(context.Background(), nil, false)
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestCoordinator_UnverifiedEventDropsUser(t *testing.T) {
	c := NewCoordinator(newStubResolver(freeStatus), newMemFlags(), nil)
	events, stop := startCoordinator(t, c)

	user := verifiedUser("u8")
	events <- model.AuthEvent{Kind: model.AuthEventSignedIn, UserID: user.ID, User: user}
	events <- model.AuthEvent{Kind: model.AuthEventTokenRefreshed, UserID: user.ID}
	stop()

	c.mu.Lock()
	_, tracked := c.sequencers[user.ID]
	c.mu.Unlock()
	assert.False(t, tracked)
}

func TestCoordinator_EvictsIdleUsers(t *testing.T) {
	ctx := context.Background()
	resolver := newStubResolver(freeStatus)
	c := NewCoordinator(resolver, newMemFlags(), nil)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	idle, active := verifiedUser("u9"), verifiedUser("u10")
	state, _ := c.State(ctx, idle)
	require.Equal(t, StateListSelection, state)
	detached := c.sequencer(idle.ID)

	now = now.Add(idleTimeout - time.Minute)
	c.State(ctx, active)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.evictIdle(idleTimeout))
	assert.Equal(t, StateIneligible, detached.State())

	c.mu.Lock()
	_, idleTracked := c.sequencers[idle.ID]
	_, activeTracked := c.sequencers[active.ID]
	c.mu.Unlock()
	assert.False(t, idleTracked)
	assert.True(t, activeTracked)

	// the next request evaluates again from the stored flags
	state, _ = c.State(ctx, idle)
	assert.Equal(t, StateListSelection, state)
	assert.EqualValues(t, 3, resolver.calls.Load())
}
