package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Ollama  OllamaConfig  `yaml:"ollama"`
	Storage StorageConfig `yaml:"storage"`
	Index   IndexConfig   `yaml:"index"`
	Search  SearchConfig  `yaml:"search"`
}

type ServerConfig struct {
	Port  int    `yaml:"port"`
	Token string `yaml:"-"`
}

type OllamaConfig struct {
	BaseURL    string `yaml:"base_url"`
	EmbedModel string `yaml:"embed_model"`
	Dimensions int    `yaml:"dimensions"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type IndexConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	Workers      int `yaml:"workers"`
}

type SearchConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
	Overfetch  int `yaml:"overfetch"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			Dimensions: 768,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Index: IndexConfig{
			ChunkSize:    400,
			ChunkOverlap: 80,
			Workers:      1,
		},
		Search: SearchConfig{
			DebounceMS: 300,
			Overfetch:  4,
		},
	}
}

// Load reads configuration from the YAML file at the default path, then
// applies MANDI_* environment overrides. A missing file is not an error;
// defaults apply.
func Load() (Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom is Load with an explicit file path.
func LoadFrom(path string) (Config, error) {
	cfg := defaults()

	if err := applyFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultPath is $XDG_CONFIG_HOME/mandi/config.yaml, falling back to
// ~/.config/mandi/config.yaml.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "mandi", "config.yaml")
}

func defaultDataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "mandi")
}
