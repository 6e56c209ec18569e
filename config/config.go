package config

import "fmt"

// Config represents the main configuration structure for the recommendation MCP server
type Config struct {
	Agent     AgentConfig      `json:"agent" yaml:"agent"`
	LLM       LLMConfig        `json:"llm" yaml:"llm"`
	Embedding EmbeddingConfig  `json:"embedding" yaml:"embedding"`
	VectorDB  VectorDBConfig   `json:"vectordb" yaml:"vectordb"`
	Catalog   CatalogConfig    `json:"catalog" yaml:"catalog"`
	Session   SessionConfig    `json:"session" yaml:"session"`
	HTTP      HTTPClientConfig `json:"http" yaml:"http"`
	// Cache controls L1 caching of retrieval results.
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	Lexicon LexiconConfig `json:"lexicon" yaml:"lexicon"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Server  ServerConfig  `json:"server" yaml:"server"`
}

// AgentConfig contains the per-turn pipeline settings
type AgentConfig struct {
	MaxHistory         int `json:"max_history,omitempty" yaml:"max_history,omitempty"`
	TopK               int `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	MaxRetries         int `json:"max_retries" yaml:"max_retries"`
	MaxRecommendations int `json:"max_recommendations,omitempty" yaml:"max_recommendations,omitempty"`
	// PromptDir overrides the embedded prompt templates when set.
	PromptDir string `json:"prompt_dir,omitempty" yaml:"prompt_dir,omitempty"`
	// TokenBudget caps the candidate catalog section of the prompt; 0 disables trimming.
	TokenBudget int `json:"token_budget,omitempty" yaml:"token_budget,omitempty"`
	// Router: "llm", "rule", "hybrid" (default)
	Router string `json:"router,omitempty" yaml:"router,omitempty"`
	// Extractor: "llm", "rule", "hybrid" (default)
	Extractor string `json:"extractor,omitempty" yaml:"extractor,omitempty"`
}

// LLMConfig defines configuration for Large Language Models
type LLMConfig struct {
	Provider       string  `json:"provider" yaml:"provider"` // Available options: openai, or empty for rule-only mode
	APIKey         string  `json:"api_key,omitempty" yaml:"api_key"`
	BaseURL        string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model          string  `json:"model" yaml:"model"`
	Temperature    float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// EmbeddingConfig defines configuration for embedding models
type EmbeddingConfig struct {
	Provider   string `json:"provider" yaml:"provider"` // Available options: openai
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty" yaml:"dimension,omitempty"`
}

// VectorDBConfig defines configuration for the product vector store
type VectorDBConfig struct {
	Provider   string        `json:"provider" yaml:"provider"` // Available options: milvus
	Host       string        `json:"host,omitempty" yaml:"host,omitempty"`
	Port       int           `json:"port,omitempty" yaml:"port,omitempty"`
	Database   string        `json:"database,omitempty" yaml:"database,omitempty"`
	Collection string        `json:"collection,omitempty" yaml:"collection,omitempty"`
	Username   string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string        `json:"password,omitempty" yaml:"password,omitempty"`
	Mapping    MappingConfig `json:"mapping,omitempty" yaml:"mapping,omitempty"`
}

// MappingConfig defines field mapping configuration for vector databases
type MappingConfig struct {
	Fields []FieldMapping `json:"fields,omitempty" yaml:"fields,omitempty"`
	Index  IndexConfig    `json:"index,omitempty" yaml:"index,omitempty"`
	Search SearchConfig   `json:"search,omitempty" yaml:"search,omitempty"`
}

// FieldMapping maps a product attribute (id, name, brand, category, price,
// rating, features, description, vector) to a collection field.
type FieldMapping struct {
	StandardName string                 `json:"standard_name" yaml:"standard_name"`
	RawName      string                 `json:"raw_name" yaml:"raw_name"`
	Properties   map[string]interface{} `json:"properties,omitempty" yaml:"properties,omitempty"`
}

func (f FieldMapping) IsPrimaryKey() bool {
	return f.StandardName == "id"
}

func (f FieldMapping) IsVectorField() bool {
	return f.StandardName == "vector"
}

func (f FieldMapping) MaxLength() int {
	if f.Properties == nil {
		return 256
	}
	maxLength, ok := f.Properties["max_length"].(int)
	if !ok {
		return 256
	}
	return maxLength
}

// RawFields returns standard name -> collection field name. Fields without an
// explicit mapping use their standard name.
func (m MappingConfig) RawFields() map[string]string {
	out := map[string]string{
		"id": "id", "name": "name", "brand": "brand", "category": "category",
		"price": "price", "rating": "rating", "features": "features",
		"description": "description", "vector": "vector",
	}
	for _, f := range m.Fields {
		if f.StandardName != "" && f.RawName != "" {
			out[f.StandardName] = f.RawName
		}
	}
	return out
}

// IndexConfig defines configuration for index parameters
type IndexConfig struct {
	// Index type, e.g., HNSW, IVF_FLAT
	IndexType string `json:"index_type" yaml:"index_type"`
	// Index parameter configuration
	Params map[string]interface{} `json:"params" yaml:"params"`
}

func (i IndexConfig) ParamsInt64(key string) (int64, error) {
	if mVal, ok := i.Params[key].(int64); ok {
		return mVal, nil
	}
	if mVal, ok := i.Params[key].(int); ok {
		return int64(mVal), nil
	}
	return 0, fmt.Errorf("params %s not found", key)
}

// SearchConfig defines configuration for search parameters
type SearchConfig struct {
	// Metric type, e.g., L2, IP, COSINE
	MetricType string `json:"metric_type,omitempty" yaml:"metric_type,omitempty"`
	// Search parameter configuration
	Params map[string]interface{} `json:"params" yaml:"params"`
}

func (i SearchConfig) ParamsInt64(key string) (int64, error) {
	if mVal, ok := i.Params[key].(int64); ok {
		return mVal, nil
	}
	if mVal, ok := i.Params[key].(int); ok {
		return int64(mVal), nil
	}
	return 0, fmt.Errorf("params %s not found", key)
}

// CatalogConfig lists the retrieval backends. Several backends are fused with RRF.
type CatalogConfig struct {
	Retrievers []RetrieverConfig `json:"retrievers,omitempty" yaml:"retrievers,omitempty"`
	// RRFK is the reciprocal rank fusion constant (default 60).
	RRFK int `json:"rrf_k,omitempty" yaml:"rrf_k,omitempty"`
	// RelaxOnEmpty retries a filtered search without filters when it returns nothing.
	RelaxOnEmpty bool `json:"relax_on_empty,omitempty" yaml:"relax_on_empty,omitempty"`
}

// RetrieverConfig describes one backend.
// Type: "milvus", "catalog" (DummyJSON-compatible HTTP API), "file"
type RetrieverConfig struct {
	Type       string   `json:"type" yaml:"type"`
	Endpoint   string   `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Path       string   `json:"path,omitempty" yaml:"path,omitempty"`
	// FallbackPath names a product file used when this backend fails.
	FallbackPath string `json:"fallback_path,omitempty" yaml:"fallback_path,omitempty"`
}

// SessionConfig controls session persistence.
// Store: "inmemory" (default) or "redis".
type SessionConfig struct {
	Store       string      `json:"store,omitempty" yaml:"store,omitempty"`
	TTLSeconds  int         `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
	MaxSessions int         `json:"max_sessions,omitempty" yaml:"max_sessions,omitempty"`
	Redis       RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Address   string `json:"address,omitempty" yaml:"address,omitempty"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db,omitempty" yaml:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

// HTTPClientConfig defines common options for outbound HTTP calls.
type HTTPClientConfig struct {
	TimeoutMs              int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retry                  int      `json:"retry,omitempty" yaml:"retry,omitempty"`
	BackoffMinMs           int      `json:"backoff_min_ms,omitempty" yaml:"backoff_min_ms,omitempty"`
	BackoffMaxMs           int      `json:"backoff_max_ms,omitempty" yaml:"backoff_max_ms,omitempty"`
	HostAllowlist          []string `json:"host_allowlist,omitempty" yaml:"host_allowlist,omitempty"`
	MaxConsecutiveFailures int      `json:"max_consecutive_failures,omitempty" yaml:"max_consecutive_failures,omitempty"`
	CircuitOpenSeconds     int      `json:"circuit_open_seconds,omitempty" yaml:"circuit_open_seconds,omitempty"`
}

type CacheConfig struct {
	L1 *CacheLayerConfig `json:"l1,omitempty" yaml:"l1,omitempty"`
}

type CacheLayerConfig struct {
	Enable     bool `json:"enable,omitempty" yaml:"enable,omitempty"`
	MaxEntries int  `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
	TTLSeconds int  `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// LexiconConfig maps vague terms ("cheap") to partial filters ({price_max: 50}).
// Terms given inline replace the defaults entry by entry; File is merged after them.
type LexiconConfig struct {
	File  string                            `json:"file,omitempty" yaml:"file,omitempty"`
	Terms map[string]map[string]interface{} `json:"terms,omitempty" yaml:"terms,omitempty"`
}

type LogConfig struct {
	Level      string `json:"level,omitempty" yaml:"level,omitempty"`
	Format     string `json:"format,omitempty" yaml:"format,omitempty"` // console or json
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
}

// ServerConfig selects the MCP transport.
// Transport: "stdio" (default) or "http" (streamable HTTP).
type ServerConfig struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Transport   string `json:"transport,omitempty" yaml:"transport,omitempty"`
	Addr        string `json:"addr,omitempty" yaml:"addr,omitempty"`
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
}

// Default returns a configuration that runs without any external service:
// rule-based routing and extraction over the bundled product file.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxHistory:         10,
			TopK:               10,
			MaxRetries:         2,
			MaxRecommendations: 5,
			Router:             "hybrid",
			Extractor:          "hybrid",
		},
		LLM: LLMConfig{
			Model:          "gpt-4o-mini",
			Temperature:    0.3,
			MaxTokens:      2048,
			TimeoutSeconds: 30,
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		VectorDB: VectorDBConfig{
			Port:       19530,
			Collection: "products",
		},
		Catalog: CatalogConfig{
			Retrievers: []RetrieverConfig{{Type: "file", Path: "data/mock_products.json"}},
			RRFK:       60,
		},
		Session: SessionConfig{
			Store:       "inmemory",
			TTLSeconds:  3600,
			MaxSessions: 1000,
			Redis:       RedisConfig{KeyPrefix: "recommend:"},
		},
		HTTP: HTTPClientConfig{
			TimeoutMs:              5000,
			Retry:                  1,
			BackoffMinMs:           100,
			BackoffMaxMs:           800,
			MaxConsecutiveFailures: 5,
			CircuitOpenSeconds:     5,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Server: ServerConfig{
			Name:      "recommend-mcp-server",
			Version:   "1.0.0",
			Transport: "stdio",
			Addr:      ":8080",
		},
	}
}
