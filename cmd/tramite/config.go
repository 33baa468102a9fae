package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all tramite server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`
	MCP        bool   `json:"mcp"`

	ParserBaseURL string `json:"parser_base_url"`
	ParserAPIKey  string `json:"parser_api_key"`
	DocgenBaseURL string `json:"docgen_base_url"`
	DocgenAPIKey  string `json:"docgen_api_key"`
	MailerBaseURL string `json:"mailer_base_url"`
	MailerAPIKey  string `json:"mailer_api_key"`
	MailerFrom    string `json:"mailer_from"`

	GoogleClientID     string `json:"google_client_id"`
	GoogleClientSecret string `json:"google_client_secret"`
	GoogleAccessToken  string `json:"google_access_token"`
	GoogleRefreshToken string `json:"google_refresh_token"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		DBPath:     filepath.Join(tramiteDir(), "tramite.db"),
		LogLevel:   "info",
	}
}

func tramiteDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tramite"
	}
	return filepath.Join(home, ".tramite")
}

func settingsPath() string {
	return filepath.Join(tramiteDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	envOverride(&cfg.ListenAddr, "TRAMITE_LISTEN_ADDR")
	envOverride(&cfg.DBPath, "TRAMITE_DB_PATH")
	envOverride(&cfg.LogLevel, "TRAMITE_LOG_LEVEL")
	if v := os.Getenv("TRAMITE_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}
	envOverride(&cfg.ParserBaseURL, "TRAMITE_PARSER_BASE_URL")
	envOverride(&cfg.ParserAPIKey, "TRAMITE_PARSER_API_KEY")
	envOverride(&cfg.DocgenBaseURL, "TRAMITE_DOCGEN_BASE_URL")
	envOverride(&cfg.DocgenAPIKey, "TRAMITE_DOCGEN_API_KEY")
	envOverride(&cfg.MailerBaseURL, "TRAMITE_MAILER_BASE_URL")
	envOverride(&cfg.MailerAPIKey, "TRAMITE_MAILER_API_KEY")
	envOverride(&cfg.MailerFrom, "TRAMITE_MAILER_FROM")
	envOverride(&cfg.GoogleClientID, "GOOGLE_CLIENT_ID")
	envOverride(&cfg.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	envOverride(&cfg.GoogleAccessToken, "GOOGLE_ACCESS_TOKEN")
	envOverride(&cfg.GoogleRefreshToken, "GOOGLE_REFRESH_TOKEN")

	return cfg
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// integrationTokens assembles the per-organization credential map handed to
// executors.
func (c Config) integrationTokens() map[string]string {
	tokens := make(map[string]string)
	if c.GoogleAccessToken != "" {
		tokens["google_access_token"] = c.GoogleAccessToken
	}
	if c.GoogleRefreshToken != "" {
		tokens["google_refresh_token"] = c.GoogleRefreshToken
	}
	return tokens
}
