// Package credentials resolves provider secrets for session creation.
package credentials

import (
	"context"
	"os"

	"github.com/agentbridge/core/errors"
	"github.com/agentbridge/core/pkg/models"
)

// EnvAnthropicAPIKey is the environment variable the env-backed store reads.
const EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"

// Store is a pull-based source of credentials.
type Store interface {
	Get(ctx context.Context) (*models.Credentials, error)
}

// EnvStore reads credentials from the process environment.
type EnvStore struct{}

// NewEnvStore creates an environment-backed credential store.
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

// Get returns the Anthropic API key from the environment, or a
// CREDENTIALS_MISSING error when it is unset.
func (s *EnvStore) Get(ctx context.Context) (*models.Credentials, error) {
	key := os.Getenv(EnvAnthropicAPIKey)
	if key == "" {
		return nil, errors.CredentialsMissing("anthropic")
	}
	return &models.Credentials{AnthropicAPIKey: key}, nil
}

// StaticStore returns fixed credentials. Used by tests and by callers that
// resolve secrets elsewhere.
type StaticStore struct {
	Credentials models.Credentials
}

// Get returns the configured credentials.
func (s *StaticStore) Get(ctx context.Context) (*models.Credentials, error) {
	return &s.Credentials, nil
}
