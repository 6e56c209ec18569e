package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
)

const (
	PROVIDER_TYPE_OPENAI = "openai"
)

var ErrEmptyCompletion = errors.New("llm returned no choices")

// Provider is the model-generation collaborator.
type Provider interface {
	// GenerateCompletion returns the model's reply to prompt.
	GenerateCompletion(ctx context.Context, prompt string) (string, error)
	// GenerateJSON requests structured output conforming to a JSON schema
	// and returns the raw JSON text.
	GenerateJSON(ctx context.Context, prompt string, name string, schema map[string]any) (string, error)
	GetProviderType() string
}

// NewLLMProvider builds the provider named by cfg.Provider. hc may be nil.
func NewLLMProvider(cfg config.LLMConfig, hc *http.Client) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case PROVIDER_TYPE_OPENAI:
		return NewOpenAIProvider(cfg, hc)
	case "":
		return nil, errors.New("llm provider is not configured")
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

func NewOpenAIProvider(cfg config.LLMConfig, hc *http.Client) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if hc != nil {
		opts = append(opts, option.WithHTTPClient(hc))
	}
	// retries are owned by the validator loop
	opts = append(opts, option.WithMaxRetries(0))

	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &OpenAIProvider{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
	}, nil
}

func (o *OpenAIProvider) params(prompt string) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       o.model,
		Temperature: openai.Float(o.temperature),
	}
	if o.maxTokens > 0 {
		p.MaxTokens = openai.Int(int64(o.maxTokens))
	}
	return p
}

func (o *OpenAIProvider) GenerateCompletion(ctx context.Context, prompt string) (string, error) {
	return o.complete(ctx, o.params(prompt))
}

func (o *OpenAIProvider) GenerateJSON(ctx context.Context, prompt string, name string, schema map[string]any) (string, error) {
	p := o.params(prompt)
	p.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   name,
				Schema: schema,
				Strict: openai.Bool(true),
			},
		},
	}
	return o.complete(ctx, p)
}

func (o *OpenAIProvider) complete(ctx context.Context, p openai.ChatCompletionNewParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Chat.Completions.New(ctx, p)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIProvider) GetProviderType() string {
	return PROVIDER_TYPE_OPENAI
}
