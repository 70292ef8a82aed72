package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/armiapp/armi/internal/model"
)

type TokenRepository interface {
	Create(token *model.Token) error
	Consume(tokenType, token string) (*model.Token, error)
	ConsumeForUser(userID, tokenType, token string) (*model.Token, error)
	Active(tokenType, token string) (*model.Token, error)
	Revoke(tokenType, token string) error
	DeleteByUserAndType(userID, tokenType string) error
	CleanupExpired(olderThan time.Duration) (int64, error)
}

type tokenRepository struct {
	db *sqlx.DB
}

func NewTokenRepository(db *sqlx.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) Create(token *model.Token) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO tokens (id, user_id, type, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(query,
		token.ID,
		token.UserID,
		token.Type,
		token.Token,
		token.ExpiresAt,
		token.CreatedAt,
	)
	return err
}

// Consume atomically marks an unused, unexpired token as used and returns it.
// Of two concurrent requests only the first succeeds; the second gets ErrTokenNotFound.
func (r *tokenRepository) Consume(tokenType, token string) (*model.Token, error) {
	now := time.Now()
	return r.getToken(`
		UPDATE tokens
		SET used_at = $1
		WHERE type = $2
		AND token = $3
		AND used_at IS NULL
		AND expires_at > $4
		RETURNING *
	`, now, tokenType, token, now)
}

// ConsumeForUser scopes the lookup to one user. Short verification codes are
// only unique per user.
func (r *tokenRepository) ConsumeForUser(userID, tokenType, token string) (*model.Token, error) {
	now := time.Now()
	return r.getToken(`
		UPDATE tokens
		SET used_at = $1
		WHERE user_id = $2
		AND type = $3
		AND token = $4
		AND used_at IS NULL
		AND expires_at > $5
		RETURNING *
	`, now, userID, tokenType, token, now)
}

func (r *tokenRepository) Active(tokenType, token string) (*model.Token, error) {
	return r.getToken(`
		SELECT * FROM tokens
		WHERE type = $1
		AND token = $2
		AND used_at IS NULL
		AND expires_at > $3
	`, tokenType, token, time.Now())
}

func (r *tokenRepository) Revoke(tokenType, token string) error {
	result, err := r.db.Exec(`
		UPDATE tokens SET used_at = $1
		WHERE type = $2 AND token = $3 AND used_at IS NULL
	`, time.Now(), tokenType, token)
	if err != nil {
		return err
	}
	return expectRows(result, ErrTokenNotFound)
}

func (r *tokenRepository) getToken(query string, args ...any) (*model.Token, error) {
	var t model.Token
	err := r.db.Get(&t, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tokenRepository) DeleteByUserAndType(userID, tokenType string) error {
	query := `DELETE FROM tokens WHERE user_id = $1 AND type = $2 AND used_at IS NULL`
	_, err := r.db.Exec(query, userID, tokenType)
	return err
}

// CleanupExpired removes used and expired tokens older than the given duration.
// Tokens are otherwise kept as an audit trail; `do cleanup-tokens` calls this.
func (r *tokenRepository) CleanupExpired(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := r.db.Exec(`
		DELETE FROM tokens
		WHERE (used_at IS NOT NULL AND used_at < $1)
		   OR (expires_at < $1)
	`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
