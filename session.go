package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/graphdrive/graphdrive/internal/config"
	"github.com/graphdrive/graphdrive/internal/graph"
)

// session bundles a connected client with what is needed to persist the
// rotated refresh token when the command finishes.
type session struct {
	client *graph.Client
	tokens *graph.TokenManager
	logger *slog.Logger

	configPath string
	configKey  string
	creds      *config.Credentials
}

func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}

	return config.DefaultPath()
}

// connect loads the saved credentials and establishes an authenticated
// client. When no refresh token is saved yet, the interactive
// authorization flow runs on the terminal.
func connect(ctx context.Context) (*session, error) {
	path := configPath()

	creds, err := config.Load(path, flagConfigKey)
	if err != nil {
		return nil, fmt.Errorf("loading credentials (run 'graphdrive configure' first): %w", err)
	}

	logger := buildLogger()

	cred := graph.Credential{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecretValue,
		Tenant:       creds.TenantID,
		RedirectURL:  creds.RedirectURL,
	}

	prompt := graph.ConsolePrompter{In: os.Stdin, Out: os.Stderr}

	client, tokens, err := graph.Connect(ctx, cred, creds.RefreshToken, prompt, logger)
	if err != nil {
		return nil, err
	}

	return &session{
		client:     client,
		tokens:     tokens,
		logger:     logger,
		configPath: path,
		configKey:  flagConfigKey,
		creds:      creds,
	}, nil
}

// save persists the current refresh token so the next run does not need
// interactive authorization. Refresh tokens rotate on every exchange, so
// this runs after every command that connected.
func (s *session) save() {
	current := s.tokens.RefreshToken()
	if current == "" || current == s.creds.RefreshToken {
		return
	}

	s.creds.RefreshToken = current

	if err := config.Save(s.configPath, s.configKey, s.creds); err != nil {
		s.logger.Warn("could not save rotated refresh token", slog.String("error", err.Error()))
	}
}
