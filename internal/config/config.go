package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	ListenAddr    string `json:"listen_addr"`
	MaxConcurrent int64  `json:"max_concurrent"`
	OperatorToken string `json:"operator_token"`
	Workspace     string `json:"workspace"`
	OpenAI        struct {
		BaseURL     string  `json:"base_url"`
		APIKey      string  `json:"api_key"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float32 `json:"temperature"`
	} `json:"openai"`
	Anthropic struct {
		BaseURL   string `json:"base_url"`
		APIKey    string `json:"api_key"`
		MaxTokens int    `json:"max_tokens"`
	} `json:"anthropic"`
	Context struct {
		MaxTokens     int `json:"max_tokens"`
		OutputReserve int `json:"output_reserve"`
	} `json:"context"`
	Terminal struct {
		DeniedPatterns []string `json:"denied_patterns"`
	} `json:"terminal"`
	VPS struct {
		Addr    string `json:"addr"`
		User    string `json:"user"`
		KeyFile string `json:"key_file"`
	} `json:"vps"`
	Watchdog struct {
		Schedule        string `json:"schedule"`
		StallDeadlineMs int64  `json:"stall_deadline_ms"`
	} `json:"watchdog"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".warroom"),
		LogLevel:      "info",
		ListenAddr:    ":8090",
		MaxConcurrent: 2,
	}
	cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	cfg.OpenAI.MaxTokens = 2000
	cfg.OpenAI.Temperature = 0.7
	cfg.Anthropic.BaseURL = "https://api.anthropic.com"
	cfg.Anthropic.MaxTokens = 2000
	cfg.Context.MaxTokens = 128000
	cfg.Context.OutputReserve = 4096
	cfg.Watchdog.Schedule = "* * * * *"
	cfg.Watchdog.StallDeadlineMs = 5 * 60 * 1000

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.OpenAI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.OpenAI.BaseURL = baseURL
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Anthropic.APIKey = apiKey
	}
	if token := os.Getenv("WARROOM_OPERATOR_TOKEN"); token != "" {
		cfg.OperatorToken = token
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}

	if cfg.Workspace == "" {
		cfg.Workspace, _ = os.Getwd()
	}
	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
