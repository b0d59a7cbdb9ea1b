package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// specs lists every setting. Secrets are never read from or written to the
// config file.
var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "HYBRIDREC_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "HYBRIDREC_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "HYBRIDREC_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.token", typ: kString, env: "HYBRIDREC_SERVER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "HYBRIDREC_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "HYBRIDREC_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "storage.data_dir", typ: kString, env: "HYBRIDREC_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "mongo.uri", typ: kString, env: "HYBRIDREC_MONGO_URI",
		apply:   func(cfg *Config, v any) { cfg.Mongo.URI = v.(string) },
		extract: func(cfg Config) any { return cfg.Mongo.URI },
	},
	{
		key: "mongo.database", typ: kString, env: "HYBRIDREC_MONGO_DATABASE",
		apply:   func(cfg *Config, v any) { cfg.Mongo.Database = v.(string) },
		extract: func(cfg Config) any { return cfg.Mongo.Database },
	},
	{
		key: "neo4j.uri", typ: kString, env: "HYBRIDREC_NEO4J_URI",
		apply:   func(cfg *Config, v any) { cfg.Neo4j.URI = v.(string) },
		extract: func(cfg Config) any { return cfg.Neo4j.URI },
	},
	{
		key: "neo4j.user", typ: kString, env: "HYBRIDREC_NEO4J_USER",
		apply:   func(cfg *Config, v any) { cfg.Neo4j.User = v.(string) },
		extract: func(cfg Config) any { return cfg.Neo4j.User },
	},
	{
		key: "neo4j.password", typ: kString, env: "HYBRIDREC_NEO4J_PASSWORD",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Neo4j.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.Neo4j.Password },
	},
	{
		key: "neo4j.database", typ: kString, env: "HYBRIDREC_NEO4J_DATABASE",
		apply:   func(cfg *Config, v any) { cfg.Neo4j.Database = v.(string) },
		extract: func(cfg Config) any { return cfg.Neo4j.Database },
	},
	{
		key: "redis.url", typ: kString, env: "HYBRIDREC_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Redis.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.URL },
	},
	{
		key: "cache.backend", typ: kString, env: "HYBRIDREC_CACHE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Cache.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.Backend },
	},
	{
		key: "cache.ttl_seconds", typ: kInt, env: "HYBRIDREC_CACHE_TTL_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTLSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.TTLSeconds },
	},
	{
		key: "vector.backend", typ: kString, env: "HYBRIDREC_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Vector.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Backend },
	},
	{
		key: "embedding.backend", typ: kString, env: "HYBRIDREC_EMBEDDING_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Backend },
	},
	{
		key: "embedding.base_url", typ: kString, env: "HYBRIDREC_EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.model", typ: kString, env: "HYBRIDREC_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.api_key", typ: kString, env: "HYBRIDREC_EMBEDDING_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.APIKey },
	},
	{
		key: "embedding.dim", typ: kInt, env: "HYBRIDREC_EMBEDDING_DIM",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dim = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dim },
	},
	{
		key: "retrieval.neighbors", typ: kInt, env: "HYBRIDREC_RETRIEVAL_NEIGHBORS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Neighbors = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.Neighbors },
	},
	{
		key: "retrieval.campaign_limit", typ: kInt, env: "HYBRIDREC_RETRIEVAL_CAMPAIGN_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.CampaignLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.CampaignLimit },
	},
	{
		key: "retrieval.exclude_self", typ: kBool, env: "HYBRIDREC_RETRIEVAL_EXCLUDE_SELF",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ExcludeSelf = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.ExcludeSelf },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
