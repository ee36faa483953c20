// Package config provides configuration loading for ragd.
//
// Configuration is loaded from an optional YAML file, overridden by
// environment variables, with hardcoded defaults for anything unset.
package config

import (
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/logging"
)

// Config holds the complete ragd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     logging.Config    `koanf:"logging"`
	Embedding   EmbeddingConfig   `koanf:"embedding"`
	OpenAI      OpenAIConfig      `koanf:"openai"`
	HuggingFace HuggingFaceConfig `koanf:"huggingface"`
	ChromaDB    ChromaDBConfig    `koanf:"chromadb"`
	Database    DatabaseConfig    `koanf:"database"`
	Encryption  EncryptionConfig  `koanf:"encryption"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// EmbeddingConfig selects the process-wide default embedding provider.
type EmbeddingConfig struct {
	// Provider is the default provider: "huggingface" or "openai".
	Provider string `koanf:"provider"`

	// Model is the default model name. Empty means the provider default.
	Model string `koanf:"model"`
}

// OpenAIConfig holds OpenAI credentials.
type OpenAIConfig struct {
	APIKey string `koanf:"api_key"`
}

// HuggingFaceConfig holds HuggingFace Inference API settings.
type HuggingFaceConfig struct {
	// APIToken is optional; public models work unauthenticated.
	APIToken string `koanf:"api_token"`
}

// ChromaDBConfig holds the embedded vector index settings.
type ChromaDBConfig struct {
	// PersistPath is the directory for the on-disk index. Created if absent.
	PersistPath string `koanf:"persist_path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`
}

// DatabaseConfig holds the relational store settings.
type DatabaseConfig struct {
	// Path is the SQLite database file.
	Path string `koanf:"path"`
}

// EncryptionConfig holds the credential encryption key.
type EncryptionConfig struct {
	// Key is a base64-encoded 32-byte fernet key. Empty disables
	// credential encryption rather than failing startup.
	Key string `koanf:"key"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "huggingface"
	}
	if cfg.ChromaDB.PersistPath == "" {
		cfg.ChromaDB.PersistPath = "db/chroma"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "db/ragd.db"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
