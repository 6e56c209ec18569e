package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("found %d configuration error(s):\n", len(errs)))
	for i, err := range errs {
		b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Message))
	}
	return b.String()
}

// Fields lists the offending field paths, in order.
func (errs ValidationErrors) Fields() []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

// Validate validates the complete configuration
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateLLM()...)
	errs = append(errs, c.validateCatalog()...)
	errs = append(errs, c.validateSession()...)
	errs = append(errs, c.validateLog()...)
	errs = append(errs, c.validateServer()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateAgent() ValidationErrors {
	var errs ValidationErrors

	if c.Agent.MaxHistory <= 0 {
		errs = append(errs, ValidationError{
			Field:   "agent.max_history",
			Message: fmt.Sprintf("agent.max_history must be positive, got %d", c.Agent.MaxHistory),
		})
	}
	if c.Agent.TopK <= 0 || c.Agent.TopK > 100 {
		errs = append(errs, ValidationError{
			Field:   "agent.top_k",
			Message: fmt.Sprintf("agent.top_k must be in [1, 100], got %d", c.Agent.TopK),
		})
	}
	if c.Agent.MaxRetries < 0 || c.Agent.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "agent.max_retries",
			Message: fmt.Sprintf("agent.max_retries must be in [0, 10], got %d", c.Agent.MaxRetries),
		})
	}
	if c.Agent.MaxRecommendations <= 0 || c.Agent.MaxRecommendations > 5 {
		errs = append(errs, ValidationError{
			Field:   "agent.max_recommendations",
			Message: fmt.Sprintf("agent.max_recommendations must be in [1, 5], got %d", c.Agent.MaxRecommendations),
		})
	}
	if c.Agent.TokenBudget < 0 {
		errs = append(errs, ValidationError{
			Field:   "agent.token_budget",
			Message: "agent.token_budget cannot be negative",
		})
	}
	for _, m := range []struct{ field, value string }{
		{"agent.router", c.Agent.Router},
		{"agent.extractor", c.Agent.Extractor},
	} {
		switch strings.ToLower(m.value) {
		case "", "llm", "rule", "hybrid":
		default:
			errs = append(errs, ValidationError{
				Field:   m.field,
				Message: fmt.Sprintf("%s must be one of llm, rule, hybrid, got %q", m.field, m.value),
			})
		}
	}
	if c.LLM.Provider == "" && strings.EqualFold(c.Agent.Router, "llm") {
		errs = append(errs, ValidationError{
			Field:   "agent.router",
			Message: "agent.router=llm requires llm.provider",
		})
	}
	return errs
}

func (c *Config) validateLLM() ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(c.LLM.Provider) {
	case "":
		return nil
	case "openai":
	default:
		errs = append(errs, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unsupported llm provider %q", c.LLM.Provider),
		})
	}
	if c.LLM.Model == "" {
		errs = append(errs, ValidationError{
			Field:   "llm.model",
			Message: "llm model is required",
		})
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "llm.temperature",
			Message: fmt.Sprintf("llm temperature %.2f is outside [0, 2]", c.LLM.Temperature),
		})
	}
	return errs
}

func (c *Config) validateCatalog() ValidationErrors {
	var errs ValidationErrors

	if len(c.Catalog.Retrievers) == 0 {
		errs = append(errs, ValidationError{
			Field:   "catalog.retrievers",
			Message: "at least one retriever is required",
		})
	}
	for i, r := range c.Catalog.Retrievers {
		field := fmt.Sprintf("catalog.retrievers[%d]", i)
		switch strings.ToLower(r.Type) {
		case "milvus":
			errs = append(errs, c.validateMilvus(field)...)
		case "catalog":
			if r.Endpoint == "" {
				errs = append(errs, ValidationError{
					Field:   field + ".endpoint",
					Message: "catalog retriever requires an endpoint",
				})
			}
			if len(r.Categories) == 0 {
				errs = append(errs, ValidationError{
					Field:   field + ".categories",
					Message: "catalog retriever requires at least one category",
				})
			}
		case "file":
			if r.Path == "" {
				errs = append(errs, ValidationError{
					Field:   field + ".path",
					Message: "file retriever requires a path",
				})
			}
		default:
			errs = append(errs, ValidationError{
				Field:   field + ".type",
				Message: fmt.Sprintf("unknown retriever type %q", r.Type),
			})
		}
	}
	if c.Cache.L1 != nil && c.Cache.L1.Enable && c.Cache.L1.MaxEntries < 0 {
		errs = append(errs, ValidationError{
			Field:   "cache.l1.max_entries",
			Message: "cache.l1.max_entries cannot be negative",
		})
	}
	return errs
}

func (c *Config) validateMilvus(field string) ValidationErrors {
	var errs ValidationErrors

	if c.VectorDB.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "vectordb.host",
			Message: fmt.Sprintf("vectordb host is required for %s", field),
		})
	}
	if c.VectorDB.Collection == "" {
		errs = append(errs, ValidationError{
			Field:   "vectordb.collection",
			Message: "collection name is required for milvus provider",
		})
	}
	if c.Embedding.Model == "" {
		errs = append(errs, ValidationError{
			Field:   "embedding.model",
			Message: "embedding model is required for milvus retrieval",
		})
	}
	// typical range: 128-4096
	if c.Embedding.Dimensions < 128 || c.Embedding.Dimensions > 4096 {
		errs = append(errs, ValidationError{
			Field:   "embedding.dimensions",
			Message: fmt.Sprintf("embedding dimensions %d is outside typical range [128, 4096]", c.Embedding.Dimensions),
		})
	}
	return errs
}

func (c *Config) validateSession() ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(c.Session.Store) {
	case "", "inmemory", "memory":
	case "redis":
		if c.Session.Redis.Address == "" {
			errs = append(errs, ValidationError{
				Field:   "session.redis.address",
				Message: "redis address is required for redis session store",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "session.store",
			Message: fmt.Sprintf("unknown session store %q", c.Session.Store),
		})
	}
	if c.Session.TTLSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "session.ttl_seconds",
			Message: "session.ttl_seconds cannot be negative",
		})
	}
	return errs
}

func (c *Config) validateLog() ValidationErrors {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return ValidationErrors{{
		Field:   "log.level",
		Message: fmt.Sprintf("unknown log level %q", c.Log.Level),
	}}
}

func (c *Config) validateServer() ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(c.Server.Transport) {
	case "", "stdio":
	case "http":
		if c.Server.Addr == "" {
			errs = append(errs, ValidationError{
				Field:   "server.addr",
				Message: "server.addr is required for http transport",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "server.transport",
			Message: fmt.Sprintf("unknown transport %q", c.Server.Transport),
		})
	}
	return errs
}
