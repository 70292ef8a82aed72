package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armiapp/armi/internal/model"
)

func TestAuthEvents_DeliversInOrderWithoutLoss(t *testing.T) {
	bus := NewAuthEvents()
	defer bus.Close()

	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	const n = authEventBuffer * 4
	go func() {
		for i := range n {
			bus.Publish(model.AuthEvent{Kind: model.AuthEventUserUpdated, UserID: fmt.Sprint(i)})
		}
	}()

	for i := range n {
		event := nextEvent(t, events)
		assert.Equal(t, fmt.Sprint(i), event.UserID)
	}
}

func TestAuthEvents_FanOut(t *testing.T) {
	bus := NewAuthEvents()
	defer bus.Close()

	first, unsubscribeFirst := bus.Subscribe()
	defer unsubscribeFirst()
	second, unsubscribeSecond := bus.Subscribe()
	defer unsubscribeSecond()

	bus.Publish(model.AuthEvent{Kind: model.AuthEventSignedIn, UserID: "u1"})

	assert.Equal(t, "u1", nextEvent(t, first).UserID)
	assert.Equal(t, "u1", nextEvent(t, second).UserID)
}

func TestAuthEvents_Unsubscribe(t *testing.T) {
	bus := NewAuthEvents()
	defer bus.Close()

	events, unsubscribe := bus.Subscribe()
	unsubscribe()
	unsubscribe()

	for range events {
	}

	// must not block with nobody listening
	bus.Publish(model.AuthEvent{Kind: model.AuthEventSignedOut, UserID: "u1"})
}

func TestAuthEvents_Close(t *testing.T) {
	bus := NewAuthEvents()
	events, _ := bus.Subscribe()

	bus.Close()
	bus.Close()

	for range events {
	}

	late, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	_, open := <-late
	require.False(t, open)

	bus.Publish(model.AuthEvent{Kind: model.AuthEventSignedIn, UserID: "u1"})
}
