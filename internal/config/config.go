package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all pmm configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type EmbeddingConfig struct {
	Dims int `yaml:"dims"`
}

type RetrievalConfig struct {
	BudgetBase    int      `yaml:"budget_base"`
	GrowthFactor  float64  `yaml:"growth_factor"`
	BudgetCeiling int      `yaml:"budget_ceiling"`
	ConceptCap    int      `yaml:"concept_cap"`
	ForcedCap     int      `yaml:"forced_cap"`
	VectorTopN    int      `yaml:"vector_top_n"`
	SummaryTopN   int      `yaml:"summary_top_n"`
	PinCount      int      `yaml:"pin_count"`
	AlwaysInclude []string `yaml:"always_include"`
}

type LLMConfig struct {
	Provider     string `yaml:"provider"` // "ollama", "anthropic", "mock"
	Model        string `yaml:"model"`
	OllamaURL    string `yaml:"ollama_url"`
	AnthropicKey string `yaml:"anthropic_key"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38300,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via ledger.DefaultDBPath()
		},
		Embedding: EmbeddingConfig{
			Dims: 64,
		},
		Retrieval: RetrievalConfig{
			BudgetBase:    16,
			GrowthFactor:  0.25,
			BudgetCeiling: 96,
			ConceptCap:    24,
			ForcedCap:     8,
			VectorTopN:    8,
			SummaryTopN:   4,
			PinCount:      3,
		},
		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.2",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; the defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
