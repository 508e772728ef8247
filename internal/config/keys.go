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
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MANDI_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "MANDI_API_TOKEN", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "ollama.base_url", typ: kString, env: "MANDI_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "MANDI_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.dimensions", typ: kInt, env: "MANDI_OLLAMA_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.Dimensions },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MANDI_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "index.chunk_size", typ: kInt, env: "MANDI_INDEX_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Index.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.ChunkSize },
	},
	{
		key: "index.chunk_overlap", typ: kInt, env: "MANDI_INDEX_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Index.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.ChunkOverlap },
	},
	{
		key: "index.workers", typ: kInt, env: "MANDI_INDEX_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Index.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Index.Workers },
	},
	{
		key: "search.debounce_ms", typ: kInt, env: "MANDI_SEARCH_DEBOUNCE_MS",
		apply:   func(cfg *Config, v any) { cfg.Search.DebounceMS = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.DebounceMS },
	},
	{
		key: "search.overfetch", typ: kInt, env: "MANDI_SEARCH_OVERFETCH",
		apply:   func(cfg *Config, v any) { cfg.Search.Overfetch = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.Overfetch },
	},
}

func applyEnvOverrides(cfg *Config) error {
	for _, s := range specs {
		raw, ok := os.LookupEnv(s.env)
		if !ok || raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("invalid integer in %s: %w", s.env, err)
			}
			s.apply(cfg, n)
		}
	}
	return nil
}
