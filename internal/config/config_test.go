package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv blanks every HYBRIDREC_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when no config file exists.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadFromPath(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.MaxConns != 256 {
		t.Errorf("Server.MaxConns = %d, want 256", cfg.Server.MaxConns)
	}
	if cfg.Mongo.URI != "mongodb://localhost:27017" || cfg.Mongo.Database != "personalization" {
		t.Errorf("Mongo = %+v", cfg.Mongo)
	}
	if cfg.Neo4j.URI != "bolt://localhost:7687" {
		t.Errorf("Neo4j.URI = %q", cfg.Neo4j.URI)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if cfg.Cache.Backend != CacheRedis || cfg.Cache.TTL() != time.Hour {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Vector.Backend != VectorSQLite {
		t.Errorf("Vector.Backend = %q", cfg.Vector.Backend)
	}
	if cfg.Embedding.Backend != EmbeddingOllama || cfg.Embedding.Dim != 1024 {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Retrieval.Neighbors != 5 || cfg.Retrieval.CampaignLimit != 20 || cfg.Retrieval.ExcludeSelf {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
}

// TestFileParsing verifies that fields are read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{
  "server.port": 9000,
  "storage.data_dir": "/tmp/hybridrec-test",
  "mongo.database": "campaigns",
  "cache.backend": "memory",
  "cache.ttl_seconds": "120",
  "vector.backend": "badger",
  "embedding.backend": "openai",
  "embedding.model": "text-embedding-3-small",
  "embedding.dim": 1536,
  "retrieval.exclude_self": true
}`)

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/hybridrec-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Mongo.Database != "campaigns" {
		t.Errorf("Mongo.Database = %q", cfg.Mongo.Database)
	}
	if cfg.Cache.Backend != CacheMemory || cfg.Cache.TTLSeconds != 120 {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Vector.Backend != VectorBadger {
		t.Errorf("Vector.Backend = %q", cfg.Vector.Backend)
	}
	if cfg.Embedding.Backend != EmbeddingOpenAI || cfg.Embedding.Model != "text-embedding-3-small" || cfg.Embedding.Dim != 1536 {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if !cfg.Retrieval.ExcludeSelf {
		t.Error("Retrieval.ExcludeSelf = false, want true")
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": 9000, "retrieval.neighbors": 3}`)

	t.Setenv("HYBRIDREC_SERVER_PORT", "9100")
	t.Setenv("HYBRIDREC_RETRIEVAL_EXCLUDE_SELF", "true")
	t.Setenv("HYBRIDREC_RETRIEVAL_NEIGHBORS", "not-a-number")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if !cfg.Retrieval.ExcludeSelf {
		t.Error("Retrieval.ExcludeSelf = false, want true")
	}
	if cfg.Retrieval.Neighbors != 3 {
		t.Errorf("Retrieval.Neighbors = %d, want file value 3 after bad env", cfg.Retrieval.Neighbors)
	}
}

// TestSecretsFromEnvOnly verifies secrets in the file are ignored.
func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.token": "file-token", "neo4j.password": "file-pw"}`)
	t.Setenv("HYBRIDREC_NEO4J_PASSWORD", "env-pw")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Token != "" {
		t.Errorf("Server.Token = %q, want empty", cfg.Server.Token)
	}
	if cfg.Neo4j.Password != "env-pw" {
		t.Errorf("Neo4j.Password = %q, want env-pw", cfg.Neo4j.Password)
	}
	for _, k := range ShowAll(cfg) {
		if k.Value == "env-pw" {
			t.Errorf("ShowAll exposes secret under %s", k.Key)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		file string
		want string
	}{
		{"cache backend", `{"cache.backend": "memcached"}`, "cache.backend"},
		{"vector backend", `{"vector.backend": "faiss"}`, "vector.backend"},
		{"embedding backend", `{"embedding.backend": "cohere"}`, "embedding.backend"},
		{"zero dim", `{"embedding.dim": 0}`, "embedding.dim"},
		{"bad int type", `{"server.port": 1.5}`, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := loadFromPath(writeTempConfig(t, tt.file))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	b := newFileBackend(path)

	if err := setKey(b, "server.port", "8100"); err != nil {
		t.Fatalf("setKey int: %v", err)
	}
	if err := setKey(b, "retrieval.exclude_self", "1"); err != nil {
		t.Fatalf("setKey bool: %v", err)
	}
	if err := setKey(b, "cache.backend", "memory"); err != nil {
		t.Fatalf("setKey string: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("parsing written config: %v", err)
	}
	if got["server.port"] != float64(8100) || got["retrieval.exclude_self"] != "true" || got["cache.backend"] != "memory" {
		t.Errorf("written config = %v", got)
	}

	clearEnv(t)
	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Server.Port != 8100 || !cfg.Retrieval.ExcludeSelf || cfg.Cache.Backend != CacheMemory {
		t.Errorf("reloaded = %+v", cfg)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.json"))

	for _, tc := range []struct{ key, value string }{
		{"server.token", "x"},
		{"no.such.key", "x"},
		{"server.port", "eighty"},
		{"retrieval.exclude_self", "maybe"},
		{"vector.backend", "faiss"},
	} {
		if err := setKey(b, tc.key, tc.value); err == nil {
			t.Errorf("setKey(%q, %q) succeeded, want error", tc.key, tc.value)
		}
	}
}

func TestValidKeys_ExcludeSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "server.token" || k == "neo4j.password" || k == "embedding.api_key" {
			t.Errorf("ValidKeys includes secret %q", k)
		}
	}
}
