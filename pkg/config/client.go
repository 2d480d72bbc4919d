package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/mahaj/venue-support/pkg/session"
)

const ClientFileName = ".supportchat.yaml"

// Client is the command line client's config file. It also carries the
// signed-in session so the user stays signed in between runs.
type Client struct {
	APIURL         string          `yaml:"api_url"`
	GatewayURL     string          `yaml:"gateway_url"`
	HistoryLimit   int             `yaml:"history_limit,omitempty"`
	RequestTimeout time.Duration   `yaml:"request_timeout,omitempty"`
	DedupWindow    time.Duration   `yaml:"dedup_window,omitempty"`
	Session        session.Session `yaml:"session,omitempty"`
}

func DefaultClient() Client {
	return Client{
		APIURL:     "http://localhost:8081",
		GatewayURL: "http://localhost:8080",
	}
}

// DefaultClientPath is $HOME/.supportchat.yaml.
func DefaultClientPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ClientFileName), nil
}

// LoadClient reads path, falling back to defaults when it doesn't exist, and
// applies SUPPORTCHAT_API and SUPPORTCHAT_GATEWAY overrides.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("SUPPORTCHAT_API")); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SUPPORTCHAT_GATEWAY")); v != "" {
		cfg.GatewayURL = v
	}
	return cfg, nil
}

// SaveClient writes cfg to path readable only by the owner, since it holds
// a bearer token.
func SaveClient(cfg Client, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
