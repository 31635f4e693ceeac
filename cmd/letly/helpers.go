package main

import (
	"fmt"
	"os"

	letly "github.com/letly-app/letly-go"
)

// resolveToken returns the bearer token, preferring the LETLY_TOKEN
// environment variable over the stored config.
func resolveToken(cfg *Config) string {
	if v := os.Getenv("LETLY_TOKEN"); v != "" {
		return v
	}
	return cfg.Auth.Token
}

// resolveBaseURL returns the API base URL, preferring LETLY_BASE_URL.
func resolveBaseURL(cfg *Config) string {
	if v := os.Getenv("LETLY_BASE_URL"); v != "" {
		return v
	}
	return cfg.Default.BaseURL
}

// getClient creates a Letly client authenticated with the stored token.
func getClient() (*letly.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	token := resolveToken(cfg)
	if token == "" {
		return nil, fmt.Errorf("no token configured; run 'letly init <token>' or set LETLY_TOKEN")
	}

	var opts []letly.ClientOption
	if base := resolveBaseURL(cfg); base != "" {
		opts = append(opts, letly.WithBaseURL(base))
	}
	return letly.NewClient(token, opts...), nil
}

// getAnonClient creates an unauthenticated client (health checks only).
func getAnonClient() (*letly.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	var opts []letly.ClientOption
	if base := resolveBaseURL(cfg); base != "" {
		opts = append(opts, letly.WithBaseURL(base))
	}
	return letly.NewClient("", opts...), nil
}
