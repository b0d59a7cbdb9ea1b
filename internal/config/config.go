// Package config loads hybridrec settings from defaults, a JSON file and
// HYBRIDREC_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Mongo     MongoConfig
	Neo4j     Neo4jConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Vector    VectorConfig
	Embedding EmbeddingConfig
	Retrieval RetrievalConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	MaxConns int
	Token    string
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	DataDir string
}

type MongoConfig struct {
	URI      string
	Database string
}

type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

type RedisConfig struct {
	URL string
}

type CacheConfig struct {
	Backend    string
	TTLSeconds int
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

type VectorConfig struct {
	Backend string
}

type EmbeddingConfig struct {
	Backend string
	BaseURL string
	Model   string
	APIKey  string
	Dim     int
}

type RetrievalConfig struct {
	Neighbors     int
	CampaignLimit int
	ExcludeSelf   bool
}

// Backend names accepted by the *.backend keys.
const (
	CacheRedis      = "redis"
	CacheMemory     = "memory"
	VectorSQLite    = "sqlite"
	VectorBadger    = "badger"
	EmbeddingOllama = "ollama"
	EmbeddingOpenAI = "openai"
)

func defaults() Config {
	return Config{
		Server:  ServerConfig{Host: "127.0.0.1", Port: 8000, MaxConns: 256},
		Log:     LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "personalization",
		},
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			User:     "neo4j",
			Database: "neo4j",
		},
		Redis:  RedisConfig{URL: "redis://localhost:6379/0"},
		Cache:  CacheConfig{Backend: CacheRedis, TTLSeconds: 3600},
		Vector: VectorConfig{Backend: VectorSQLite},
		Embedding: EmbeddingConfig{
			Backend: EmbeddingOllama,
			BaseURL: "http://localhost:11434",
			Model:   "mxbai-embed-large",
			Dim:     1024,
		},
		Retrieval: RetrievalConfig{Neighbors: 5, CampaignLimit: 20},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/hybridrec/config.json, then applies HYBRIDREC_*
// environment overrides. Secrets (server token, Neo4j password, embedding
// API key) are read from the environment only.
func Load() (Config, error) {
	return loadFromPath(configFilePath())
}

func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and non-positive sizes.
func (c Config) Validate() error {
	if err := oneOf("cache.backend", c.Cache.Backend, CacheRedis, CacheMemory); err != nil {
		return err
	}
	if err := oneOf("vector.backend", c.Vector.Backend, VectorSQLite, VectorBadger); err != nil {
		return err
	}
	if err := oneOf("embedding.backend", c.Embedding.Backend, EmbeddingOllama, EmbeddingOpenAI); err != nil {
		return err
	}
	if err := oneOf("log.format", c.Log.Format, "text", "json"); err != nil {
		return err
	}
	for key, v := range map[string]int{
		"server.port":              c.Server.Port,
		"embedding.dim":            c.Embedding.Dim,
		"retrieval.neighbors":      c.Retrieval.Neighbors,
		"retrieval.campaign_limit": c.Retrieval.CampaignLimit,
		"cache.ttl_seconds":        c.Cache.TTLSeconds,
	} {
		if v <= 0 {
			return fmt.Errorf("invalid config: %s must be positive, got %d", key, v)
		}
	}
	return nil
}

func oneOf(key, val string, allowed ...string) error {
	for _, a := range allowed {
		if val == a {
			return nil
		}
	}
	return fmt.Errorf("invalid config: %s = %q, want one of %v", key, val, allowed)
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "hybridrec-data"
		}
	}
	return filepath.Join(dir, "hybridrec")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "hybridrec", "config.json")
}
