// Package cmd contains the agentbridge CLI subcommands.
package cmd

import (
	"github.com/agentbridge/core/config"
	"github.com/agentbridge/core/pkg/credentials"
	"github.com/agentbridge/core/pkg/transport"
)

// loadConfig loads the merged configuration, overriding the backend URL and
// profile with flag values when set.
func loadConfig(serverFlag, profileFlag string) (*config.Config, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	if serverFlag != "" {
		cfg.Backend.BaseURL = serverFlag
	}
	if profileFlag != "" {
		cfg.Backend.Profile = profileFlag
	}
	return cfg, nil
}

// newTransport builds the HTTP transport for the configured backend.
func newTransport(cfg *config.Config) *transport.HTTPTransport {
	return transport.NewHTTPTransport(cfg.Backend.BaseURL, cfg.RequestTimeout())
}

// newCredentialStore returns the environment-backed credential store.
func newCredentialStore() credentials.Store {
	return credentials.NewEnvStore()
}
