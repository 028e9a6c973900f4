package reasoner

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// LLMClient defines the interface for chat completions.
type LLMClient interface {
	// Complete sends messages and returns the assistant reply. When tools
	// are given the reply may carry tool calls instead of content. jsonMode
	// asks the endpoint to constrain the reply to a JSON object.
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, jsonMode bool) (openai.ChatCompletionMessage, error)
}

// OpenAIConfig holds configuration for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty for api.openai.com; e.g. http://localhost:11434/v1 for Ollama
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// OpenAIClient implements LLMClient using the OpenAI API or any
// compatible server.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIClient creates a new OpenAI LLM client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Complete sends messages to the model and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, jsonMode bool) (openai.ChatCompletionMessage, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: c.temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, fmt.Errorf("no response from openai")
	}
	return resp.Choices[0].Message, nil
}

// Model returns the model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

var _ LLMClient = (*OpenAIClient)(nil)
