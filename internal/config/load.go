package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load builds the runtime configuration: defaults, merged with the file at
// path (if any), then secrets from the environment. A .env file in the
// working directory is read first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Config | Ignoring unreadable .env file: %v", err)
	}

	cfg := Default()
	if path != "" {
		fileCfg, err := ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = Merge(cfg, fileCfg)
	}
	cfg = Merge(cfg, FromEnv())

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ReadFile decodes a config file without applying defaults. The format is
// chosen by extension: .yaml/.yml, .toml or .json.
func ReadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv returns a partial config holding only the secrets and connection
// strings found in the environment.
func FromEnv() Config {
	var cfg Config
	cfg.Broker.APIKey = os.Getenv("WALLEX_API_KEY")
	cfg.Notify.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.Notify.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	cfg.Storage.DSN = os.Getenv("DB_CONN_STR")
	return cfg
}

// SaveToFile writes the config in the format implied by the extension.
func (c Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".toml":
		data, err = toml.Marshal(c)
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := Merge(c, Config{})
	if out.Broker.APIKey != "" {
		out.Broker.APIKey = "***"
	}
	if out.Notify.TelegramToken != "" {
		out.Notify.TelegramToken = "***"
	}
	if out.Storage.DSN != "" && out.Storage.Driver == "postgres" {
		out.Storage.DSN = "***"
	}
	return out
}
