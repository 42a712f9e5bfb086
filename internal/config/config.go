// Package config loads carbot configuration from a JSON file or from
// CARBOT_-prefixed environment variables. A .env file next to the
// binary is loaded first so either path can draw from it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the top-level carbot configuration.
type Config struct {
	DataDir    string          `json:"data_dir"`
	Assistant  AssistantConfig `json:"assistant"`
	Connectors ConnectorConfig `json:"connectors"`
	Sheets     SheetsConfig    `json:"sheets"`
	SMTP       SMTPConfig      `json:"smtp"`
	API        APIConfig       `json:"api"`
}

// AssistantConfig holds the conversational-assistant service settings.
type AssistantConfig struct {
	APIKey      string `json:"api_key"`
	AssistantID string `json:"assistant_id"`
	BaseURL     string `json:"base_url,omitempty"`
}

// ConnectorConfig holds settings for external platform connectors.
type ConnectorConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Slack    *SlackConfig    `json:"slack,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string  `json:"token"`
	AllowFrom []int64 `json:"allow_from,omitempty"`
}

// SlackConfig holds Slack Socket Mode settings.
type SlackConfig struct {
	BotToken string   `json:"bot_token"`
	AppToken string   `json:"app_token"`
	Channels []string `json:"channels,omitempty"`
}

// SheetsConfig holds the spreadsheet mirror settings. An empty
// SpreadsheetID disables the mirror.
type SheetsConfig struct {
	SpreadsheetID   string `json:"spreadsheet_id"`
	AccessToken     string `json:"access_token"`
	DirectoryRange  string `json:"directory_range,omitempty"`  // e.g. "Departamentos!A:B"
	RefreshSchedule string `json:"refresh_schedule,omitempty"` // cron expression or @every form
}

// SMTPConfig holds the notification mailer settings. An empty Host
// disables mail.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

// APIConfig holds admin API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds the config from CARBOT_-prefixed environment
// variables, loading a .env file first when present.
func LoadFromEnv() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		DataDir: getenv("CARBOT_DATA_DIR", "/data"),
		Assistant: AssistantConfig{
			APIKey:      os.Getenv("CARBOT_OPENAI_API_KEY"),
			AssistantID: os.Getenv("CARBOT_ASSISTANT_ID"),
			BaseURL:     os.Getenv("CARBOT_OPENAI_BASE_URL"),
		},
		Sheets: SheetsConfig{
			SpreadsheetID:   os.Getenv("CARBOT_SPREADSHEET_ID"),
			AccessToken:     os.Getenv("CARBOT_SHEETS_TOKEN"),
			DirectoryRange:  os.Getenv("CARBOT_DIRECTORY_RANGE"),
			RefreshSchedule: getenv("CARBOT_DIRECTORY_REFRESH", "@every 1h"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("CARBOT_SMTP_HOST"),
			Port:     getenvInt("CARBOT_SMTP_PORT", 587),
			Username: os.Getenv("CARBOT_SMTP_USER"),
			Password: os.Getenv("CARBOT_SMTP_PASSWORD"),
			From:     os.Getenv("CARBOT_SMTP_FROM"),
		},
		API: APIConfig{
			Host: getenv("CARBOT_API_HOST", "0.0.0.0"),
			Port: getenvInt("CARBOT_API_PORT", 8080),
			Key:  os.Getenv("CARBOT_API_KEY"),
		},
	}

	if token := os.Getenv("CARBOT_TELEGRAM_TOKEN"); token != "" {
		cfg.Connectors.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("CARBOT_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: CARBOT_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Connectors.Telegram.AllowFrom = parsed
		}
	}

	if botToken := os.Getenv("CARBOT_SLACK_BOT_TOKEN"); botToken != "" {
		cfg.Connectors.Slack = &SlackConfig{
			BotToken: botToken,
			AppToken: os.Getenv("CARBOT_SLACK_APP_TOKEN"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}
	if c.Assistant.APIKey == "" {
		errs = append(errs, "assistant.api_key is required")
	}
	if c.Assistant.AssistantID == "" {
		errs = append(errs, "assistant.assistant_id is required")
	}

	if c.Connectors.Telegram == nil && c.Connectors.Slack == nil {
		errs = append(errs, "at least one connector is required")
	}
	if c.Connectors.Telegram != nil && c.Connectors.Telegram.Token == "" {
		errs = append(errs, "connectors.telegram.token is required")
	}
	if c.Connectors.Slack != nil {
		if c.Connectors.Slack.BotToken == "" {
			errs = append(errs, "connectors.slack.bot_token is required")
		}
		if c.Connectors.Slack.AppToken == "" {
			errs = append(errs, "connectors.slack.app_token is required")
		}
	}

	if c.Sheets.SpreadsheetID != "" && c.Sheets.AccessToken == "" {
		errs = append(errs, "sheets.access_token is required when sheets.spreadsheet_id is set")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, "smtp.from is required when smtp.host is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
