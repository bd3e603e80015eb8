package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slavaboiko/smsgate/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// TokenEnvVar names the environment variable holding bcrypt token hashes
// (whitespace-separated) that override the config file lists. Clear-text
// tokens are never embedded in configuration or source.
const TokenEnvVar = "SMSGATE_API_TOKEN_HASHES"

// Config holds all configuration settings.
type Config struct {
	Server struct {
		Port        int    `json:"port"`
		Host        string `json:"host"`
		Certificate string `json:"certificate"`
		Key         string `json:"key"`
	} `json:"server"`
	Database struct {
		DSN string `json:"dsn"`
	} `json:"database"`
	API struct {
		EnableSendSMS  bool `json:"enable_send_sms"`
		EnableSendUSSD bool `json:"enable_send_ussd"`
		// bcrypt hashes of accepted API tokens, per method group.
		TokensSendSMS        []string `json:"tokens_send_sms"`
		TokensSendUSSD       []string `json:"tokens_send_ussd"`
		TokensGetSMS         []string `json:"tokens_get_sms"`
		TokensGetStats       []string `json:"tokens_get_stats"`
		TokensGetHealthState []string `json:"tokens_get_health_state"`
		TokensGetStoredSMS   []string `json:"tokens_get_stored_sms"`
	} `json:"api"`
	Logging struct {
		Level string `json:"level"`
		Path  string `json:"path"`
	} `json:"logging"`
}

// LoadConfig loads configuration from a JSON file. A .env file next to
// the process, if present, is loaded first so token hashes can be
// supplied via the environment.
func LoadConfig(path string) (*Config, error) {
	// A missing .env is fine; the environment may be set by the init
	// system instead.
	_ = godotenv.Load()

	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("config path must be absolute")
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("config file error: %w", err)
	}
	if !fileInfo.Mode().IsRegular() {
		return nil, fmt.Errorf("config path is not a regular file")
	}

	file, err := os.Open(cleanPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Warn("Failed to close config file", zap.Error(closeErr))
		}
	}()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}

	config.applyEnvironment()
	return &config, nil
}

// applyEnvironment overrides token hash lists from the environment.
func (c *Config) applyEnvironment() {
	if hashes := os.Getenv(TokenEnvVar); hashes != "" {
		list := strings.Fields(hashes)
		c.API.TokensSendSMS = list
		c.API.TokensSendUSSD = list
		c.API.TokensGetSMS = list
		c.API.TokensGetStats = list
		c.API.TokensGetHealthState = list
		c.API.TokensGetStoredSMS = list
	}
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	config := &Config{}
	config.Server.Port = 7000
	config.Server.Host = "localhost"
	config.Database.DSN = "file:smsgate.db?cache=shared&mode=rwc"
	config.API.EnableSendSMS = false
	config.API.EnableSendUSSD = false
	config.Logging.Level = "info"
	config.Logging.Path = "smsgate.log"
	config.applyEnvironment()
	return config
}
