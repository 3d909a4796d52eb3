package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

// UserRepository resolves bearer tokens and per-user provider keys.
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewUserRepository(postgres *PostgresService, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     postgres.GetDB(),
		logger: logger,
	}
}

// HashToken is the stored form of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// Authenticate returns the user owning token.
func (r *UserRepository) Authenticate(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.NewAuthError("missing bearer token")
	}

	query := `
		SELECT user_id
		FROM user_tokens
		WHERE token_hash = $1 AND NOT revoked
		LIMIT 1
	`

	var userID string
	err := r.db.QueryRowContext(ctx, query, HashToken(token)).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", errors.NewAuthError("invalid or revoked token")
	}
	if err != nil {
		return "", fmt.Errorf("failed to query token: %w", err)
	}
	return userID, nil
}

// GetAPIKeys returns the user's stored keys. A user without keys gets empty ones.
func (r *UserRepository) GetAPIKeys(ctx context.Context, userID string) (domain.APIKeys, error) {
	query := `
		SELECT search_key, llm_key
		FROM user_api_keys
		WHERE user_id = $1
	`

	var keys domain.APIKeys
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&keys.SearchKey, &keys.LLMKey)
	if err == sql.ErrNoRows {
		return domain.APIKeys{}, nil
	}
	if err != nil {
		return domain.APIKeys{}, fmt.Errorf("failed to query api keys: %w", err)
	}

	r.logger.Debug("Loaded user API keys",
		zap.String("user_id", userID),
		zap.Bool("has_search_key", keys.SearchKey != ""),
		zap.Bool("has_llm_key", keys.LLMKey != ""),
	)
	return keys, nil
}
