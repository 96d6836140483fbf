// Package config loads course-rag settings: built-in defaults, then an
// optional YAML file, then RAG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	TranscriptDir string `yaml:"transcript_dir"`
	MergedDir     string `yaml:"merged_dir"`
	TablePath     string `yaml:"table_path"`
	PromptPath    string `yaml:"prompt_path"`
	ResponsePath  string `yaml:"response_path"`

	GroupSize int    `yaml:"group_size"`
	TopK      int    `yaml:"top_k"`
	Workers   int    `yaml:"workers"`
	Course    string `yaml:"course"`

	Provider ProviderConfig `yaml:"provider"`

	Addr    string `yaml:"addr"`
	LogMode string `yaml:"log_mode"`
}

// ProviderConfig points at an OpenAI-compatible inference endpoint.
type ProviderConfig struct {
	// Kind is "openai" for a real endpoint or "simple" for the offline
	// rune-count embedder (no generation).
	Kind       string        `yaml:"kind"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	EmbedModel string        `yaml:"embed_model"`
	ChatModel  string        `yaml:"chat_model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries uint64        `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

func Default() Config {
	return Config{
		TranscriptDir: "new_jsons",
		MergedDir:     "final_jsons",
		TablePath:     "final_embeddings.json",
		PromptPath:    "prompt.txt",
		ResponsePath:  "response.txt",
		GroupSize:     5,
		TopK:          3,
		Workers:       1,
		Course:        "web development course",
		Provider: ProviderConfig{
			Kind:       "openai",
			BaseURL:    "http://localhost:11434/v1/",
			APIKey:     "ollama",
			EmbedModel: "bge-m3",
			ChatModel:  "llama3.2",
			Timeout:    300 * time.Second,
			MaxRetries: 0,
			RetryDelay: time.Second,
		},
		Addr:    ":8080",
		LogMode: "dev",
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	str("RAG_TRANSCRIPT_DIR", &c.TranscriptDir)
	str("RAG_MERGED_DIR", &c.MergedDir)
	str("RAG_TABLE_PATH", &c.TablePath)
	str("RAG_PROMPT_PATH", &c.PromptPath)
	str("RAG_RESPONSE_PATH", &c.ResponsePath)
	str("RAG_COURSE", &c.Course)
	str("RAG_ADDR", &c.Addr)
	str("RAG_LOG_MODE", &c.LogMode)
	str("RAG_PROVIDER_KIND", &c.Provider.Kind)
	str("RAG_PROVIDER_BASE_URL", &c.Provider.BaseURL)
	str("RAG_PROVIDER_API_KEY", &c.Provider.APIKey)
	str("RAG_EMBED_MODEL", &c.Provider.EmbedModel)
	str("RAG_CHAT_MODEL", &c.Provider.ChatModel)

	var errs []error
	num := func(name string, dst *int) {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			return
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = i
	}
	num("RAG_GROUP_SIZE", &c.GroupSize)
	num("RAG_TOP_K", &c.TopK)
	num("RAG_WORKERS", &c.Workers)

	if v := strings.TrimSpace(os.Getenv("RAG_PROVIDER_MAX_RETRIES")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RAG_PROVIDER_MAX_RETRIES: %w", err))
		} else {
			c.Provider.MaxRetries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RAG_PROVIDER_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RAG_PROVIDER_TIMEOUT: %w", err))
		} else {
			c.Provider.Timeout = d
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	if c.GroupSize <= 0 {
		errs = append(errs, fmt.Errorf("group_size must be positive, got %d", c.GroupSize))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top_k must be positive, got %d", c.TopK))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.TablePath == "" {
		errs = append(errs, errors.New("table_path is required"))
	}
	switch c.Provider.Kind {
	case "openai":
		if c.Provider.BaseURL == "" || c.Provider.EmbedModel == "" || c.Provider.ChatModel == "" {
			errs = append(errs, errors.New("provider needs base_url, embed_model and chat_model"))
		}
	case "simple":
	default:
		errs = append(errs, fmt.Errorf("unknown provider kind %q", c.Provider.Kind))
	}
	return errors.Join(errs...)
}
