// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	APIURL           string
	UserAgent        string
	Token            string
	WatchPages       []string
	PollInterval     time.Duration
	ListenAddr       string
	DBPath           string
	SiteSettingsPath string
}

// HasCredentials returns true when a bearer token is configured. Without one
// the daemon still watches pages; the write endpoints (reply, edit, delete,
// thanks) will fail at the wiki.
func (c *Config) HasCredentials() bool {
	return c.Token != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. TALKWATCH_API_URL (the wiki's api.php endpoint) is required;
// TALKWATCH_TOKEN is optional. Optional variables with defaults:
// TALKWATCH_POLL_INTERVAL (5m), TALKWATCH_LISTEN_ADDR (127.0.0.1:8080),
// TALKWATCH_DB_PATH (talkwatch.db), TALKWATCH_USER_AGENT.
// TALKWATCH_WATCH_PAGES seeds the watch list with a comma-separated set of
// titles; TALKWATCH_SITE_SETTINGS points at a YAML/JSON site settings file.
func Load() (*Config, error) {
	apiURL := os.Getenv("TALKWATCH_API_URL")
	if apiURL == "" {
		return nil, fmt.Errorf("TALKWATCH_API_URL is required (e.g. https://en.wikipedia.org/w/api.php)")
	}

	token := os.Getenv("TALKWATCH_TOKEN")

	userAgent := "talkwatch/1.0"
	if v, ok := os.LookupEnv("TALKWATCH_USER_AGENT"); ok && v != "" {
		userAgent = v
	}

	pollInterval := 5 * time.Minute
	if v, ok := os.LookupEnv("TALKWATCH_POLL_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("TALKWATCH_POLL_INTERVAL has invalid duration %q: %w", v, err)
		}
		pollInterval = parsed
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("TALKWATCH_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "talkwatch.db"
	if v, ok := os.LookupEnv("TALKWATCH_DB_PATH"); ok {
		dbPath = v
	}

	watchPages := []string{}
	if v, ok := os.LookupEnv("TALKWATCH_WATCH_PAGES"); ok && v != "" {
		for _, title := range strings.Split(v, ",") {
			title = strings.TrimSpace(title)
			if title != "" {
				watchPages = append(watchPages, title)
			}
		}
	}

	return &Config{
		APIURL:           apiURL,
		UserAgent:        userAgent,
		Token:            token,
		WatchPages:       watchPages,
		PollInterval:     pollInterval,
		ListenAddr:       listenAddr,
		DBPath:           dbPath,
		SiteSettingsPath: os.Getenv("TALKWATCH_SITE_SETTINGS"),
	}, nil
}
