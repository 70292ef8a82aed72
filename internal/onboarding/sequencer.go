package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/armiapp/armi/internal/metrics"
	"github.com/armiapp/armi/internal/model"
	"github.com/armiapp/armi/internal/service"
	"github.com/armiapp/armi/internal/storage"
)

type State string

const (
	// StateIneligible means the user is signed out or unverified. It is not
	// the same as StateDone: nothing has been evaluated yet.
	StateIneligible    State = "ineligible"
	StateLoading       State = "loading"
	StateListSelection State = "list_selection"
	StateDevNote       State = "dev_note"
	StateDone          State = "done"
)

var (
	ErrNotEligible   = errors.New("onboarding is not available for this user")
	ErrModalNotShown = errors.New("that onboarding step is not showing")
)

const flagTrue = "true"

func ListSelectionKey(userID string) string {
	return fmt.Sprintf("onboarding:%s:has_made_initial_list_selection", userID)
}

func DevNoteKey(userID string) string {
	return fmt.Sprintf("onboarding:%s:do_not_show_dev_note_again", userID)
}

// Reset clears both flags so the user sees onboarding again.
func Reset(ctx context.Context, flags storage.FlagStore, userID string) error {
	for _, key := range []string{ListSelectionKey(userID), DevNoteKey(userID)} {
		err := flags.Delete(ctx, key)
		if err != nil {
			return &service.FlagStoreError{Key: key, Err: err}
		}
	}
	return nil
}

// Sequencer decides which first-run modal one user sees. Calls are
// serialized; list selection always comes before the dev note.
type Sequencer struct {
	mu      sync.Mutex
	userID  string
	flags   storage.FlagStore
	metrics *metrics.Collector
	state   State
	// generation changes on every identity change; Apply drops results
	// resolved for an older one.
	generation uint64
	backoff    func() retry.Backoff
}

func NewSequencer(userID string, flags storage.FlagStore, m *metrics.Collector) *Sequencer {
	return &Sequencer{
		userID:  userID,
		flags:   flags,
		metrics: m,
		state:   StateIneligible,
		backoff: defaultBackoff,
	}
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
}

func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin starts a new evaluation for a signed in, verified user and returns
// the generation to pass to Apply.
func (s *Sequencer) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.transition(StateLoading)
	return s.generation
}

// MarkIneligible drops any modal in progress and any pending evaluation.
func (s *Sequencer) MarkIneligible() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.transition(StateIneligible)
}

// Apply evaluates status only if no identity change happened since the
// matching Begin. ok is false when the result was discarded.
func (s *Sequencer) Apply(ctx context.Context, generation uint64, status model.EntitlementStatus) (state State, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		slog.Debug("discarding stale onboarding evaluation", "user_id", s.userID, "generation", generation, "current", s.generation)
		return s.state, false
	}
	return s.evaluate(ctx, status), true
}

// Evaluate applies the transition rule to a resolved entitlement status.
// A flag store failure shows nothing.
func (s *Sequencer) Evaluate(ctx context.Context, status model.EntitlementStatus) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluate(ctx, status)
}

func (s *Sequencer) evaluate(ctx context.Context, status model.EntitlementStatus) State {
	if !status.IsPro && status.SelectedListType == nil {
		madeSelection, err := s.readFlag(ctx, ListSelectionKey(s.userID))
		if err != nil {
			s.transition(StateDone)
			return s.state
		}
		if !madeSelection {
			s.transition(StateListSelection)
			return s.state
		}
	}

	s.evaluateDevNote(ctx)
	return s.state
}

// DismissListSelection persists the selection flag and then moves on to the
// dev note branch only. The flag write must land before the dev note flag is
// read; if it cannot, the error is returned and the state is unchanged.
// Repeating it after the list step has passed only rewrites the flag.
func (s *Sequencer) DismissListSelection(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIneligible:
		return s.state, ErrNotEligible
	case StateLoading:
		return s.state, ErrModalNotShown
	}

	err := s.writeFlag(ctx, ListSelectionKey(s.userID))
	if err != nil {
		return s.state, err
	}

	if s.state == StateListSelection {
		s.evaluateDevNote(ctx)
	}
	return s.state, nil
}

// DismissDevNote ends onboarding from the dev note. The flag is only written
// when the user asked not to see the note again; a failed write is logged.
// Dismissing again once done is a no-op.
func (s *Sequencer) DismissDevNote(ctx context.Context, dontShowAgain bool) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIneligible:
		return s.state, ErrNotEligible
	case StateDone:
		return s.state, nil
	case StateDevNote:
	default:
		return s.state, ErrModalNotShown
	}

	if dontShowAgain {
		err := s.writeFlag(ctx, DevNoteKey(s.userID))
		if err != nil {
			slog.Error("failed to persist dev note dismissal", "error", err, "user_id", s.userID)
			s.metrics.RecordRecoveredError("flag_store")
		}
	}

	s.transition(StateDone)
	return s.state, nil
}

func (s *Sequencer) evaluateDevNote(ctx context.Context) {
	hidden, err := s.readFlag(ctx, DevNoteKey(s.userID))
	if err != nil || hidden {
		s.transition(StateDone)
		return
	}
	s.transition(StateDevNote)
}

// readFlag treats absent and non "true" values as false.
func (s *Sequencer) readFlag(ctx context.Context, key string) (bool, error) {
	value, ok, err := s.flags.Get(ctx, key)
	if err != nil {
		flagErr := &service.FlagStoreError{Key: key, Err: err}
		slog.Error("flag read failed, showing nothing", "error", flagErr, "user_id", s.userID)
		s.metrics.RecordRecoveredError("flag_store")
		return false, flagErr
	}
	return ok && value == flagTrue, nil
}

func (s *Sequencer) writeFlag(ctx context.Context, key string) error {
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		err := s.flags.Set(ctx, key, flagTrue)
		if err != nil {
			slog.Warn("flag write failed, retrying", "error", err, "key", key)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return &service.FlagStoreError{Key: key, Err: err}
	}
	return nil
}

func (s *Sequencer) transition(next State) {
	if s.state == next {
		return
	}
	slog.Debug("onboarding transition", "user_id", s.userID, "from", s.state, "to", next)
	s.state = next
	s.metrics.RecordOnboardingTransition(string(next))
}
