package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "RECOMMEND_"

// Load reads the optional .env file, the YAML file at path (may be empty) on
// top of Default(), then applies RECOMMEND_* environment overrides.
// The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)

	cfg.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}

	cfg.VectorDB.Host = getEnv("VECTORDB_HOST", cfg.VectorDB.Host)
	cfg.VectorDB.Password = getEnv("VECTORDB_PASSWORD", cfg.VectorDB.Password)

	cfg.Session.Store = getEnv("SESSION_STORE", cfg.Session.Store)
	cfg.Session.Redis.Address = getEnv("REDIS_ADDRESS", cfg.Session.Redis.Address)
	cfg.Session.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Session.Redis.Password)
	cfg.Session.Redis.DB = getEnvInt("REDIS_DB", cfg.Session.Redis.DB)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Server.Transport = getEnv("TRANSPORT", cfg.Server.Transport)
	cfg.Server.Addr = getEnv("ADDR", cfg.Server.Addr)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
