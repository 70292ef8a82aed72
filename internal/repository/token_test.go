package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armiapp/armi/internal/model"
)

func TestTokenRepository_ConsumeForUserOnlyOnce(t *testing.T) {
	database := newTestDB(t)
	users := NewUserRepository(database)
	tokens := NewTokenRepository(database)

	user := createTestUser(t, users, "code@example.com")
	require.NoError(t, tokens.Create(&model.Token{
		UserID:    user.ID,
		Type:      model.TokenTypeEmailVerify,
		Token:     "123456",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	_, err := tokens.ConsumeForUser(user.ID, model.TokenTypePasswordReset, "123456")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	tok, err := tokens.ConsumeForUser(user.ID, model.TokenTypeEmailVerify, "123456")
	require.NoError(t, err)
	assert.Equal(t, user.ID, tok.UserID)
	assert.NotNil(t, tok.UsedAt)

	_, err = tokens.ConsumeForUser(user.ID, model.TokenTypeEmailVerify, "123456")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenRepository_ExpiredTokenIsNotConsumed(t *testing.T) {
	database := newTestDB(t)
	users := NewUserRepository(database)
	tokens := NewTokenRepository(database)

	user := createTestUser(t, users, "expired@example.com")
	require.NoError(t, tokens.Create(&model.Token{
		UserID:    user.ID,
		Type:      model.TokenTypePasswordReset,
		Token:     "reset-token",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	_, err := tokens.Consume(model.TokenTypePasswordReset, "reset-token")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenRepository_SessionRevoke(t *testing.T) {
	database := newTestDB(t)
	users := NewUserRepository(database)
	tokens := NewTokenRepository(database)

	user := createTestUser(t, users, "session@example.com")
	require.NoError(t, tokens.Create(&model.Token{
		UserID:    user.ID,
		Type:      model.TokenTypeSession,
		Token:     "sid-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	_, err := tokens.Active(model.TokenTypeSession, "sid-1")
	require.NoError(t, err)

	require.NoError(t, tokens.Revoke(model.TokenTypeSession, "sid-1"))

	_, err = tokens.Active(model.TokenTypeSession, "sid-1")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	assert.ErrorIs(t, tokens.Revoke(model.TokenTypeSession, "sid-1"), ErrTokenNotFound)
}
