package client

import (
	"fmt"
	"os"
	"strings"
)

// Config locates the branch API. It is read once at startup.
type Config struct {
	BaseURL string
	APIKey  string
}

// ConfigFromEnv reads BRANCH_API_URL and BRANCH_API_KEY.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("BRANCH_API_URL")), "/"),
		APIKey:  strings.TrimSpace(os.Getenv("BRANCH_API_KEY")),
	}
	if cfg.BaseURL == "" {
		return cfg, fmt.Errorf("BRANCH_API_URL is not set")
	}
	return cfg, nil
}
