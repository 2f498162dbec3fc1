package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LLMProvider represents the type of LLM provider
type LLMProvider string

const (
	// OpenAI and any OpenAI compatible chat completion endpoint
	OpenAI LLMProvider = "openai"
	// Anthropic messages API
	Anthropic LLMProvider = "anthropic"
)

// LLMClient sends chat completions to a hosted model
type LLMClient struct {
	httpClient *HTTPClient
	provider   LLMProvider
	apiKey     string
	baseURL    string
	model      string
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMRequest represents a request to an LLM
type LLMRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// LLMResponse is the provider independent completion result
type LLMResponse struct {
	Model        string `json:"model,omitempty"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	TotalTokens  int    `json:"total_tokens,omitempty"`
}

// LLMClientConfig configures NewLLMClient
type LLMClientConfig struct {
	Provider LLMProvider
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// NewLLMClient creates a new LLM client
func NewLLMClient(cfg LLMClientConfig) (*LLMClient, error) {
	client := &LLMClient{
		httpClient: NewHTTPClient(),
		provider:   cfg.Provider,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
	}
	if cfg.Timeout > 0 {
		client.httpClient.client.Timeout = cfg.Timeout
	}

	switch cfg.Provider {
	case OpenAI:
		if client.baseURL == "" {
			client.baseURL = "https://api.openai.com/v1"
		}
	case Anthropic:
		if client.baseURL == "" {
			client.baseURL = "https://api.anthropic.com/v1"
		}
	default:
		return nil, fmt.Errorf("unsupported provider: %q", cfg.Provider)
	}
	return client, nil
}

// Complete sends a completion request. Cancelling ctx aborts the call.
func (c *LLMClient) Complete(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	if request.Model == "" {
		request.Model = c.model
	}
	switch c.provider {
	case Anthropic:
		return c.completeAnthropic(ctx, request)
	default:
		return c.completeOpenAI(ctx, request)
	}
}

func (c *LLMClient) completeOpenAI(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	resp, err := c.httpClient.Do(ctx, &HTTPRequest{
		URL:    c.baseURL + "/chat/completions",
		Method: "POST",
		Body:   request,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.apiKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("OpenAI API error (status %d): %s", resp.StatusCode, string(resp.RawBody))
	}

	var body struct {
		Model   string `json:"model"`
		Choices []struct {
			Message      Message `json:"message"`
			FinishReason string  `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(resp.RawBody, &body); err != nil {
		return nil, fmt.Errorf("failed to parse OpenAI response: %w", err)
	}
	if len(body.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI response has no choices")
	}

	return &LLMResponse{
		Model:        body.Model,
		Content:      body.Choices[0].Message.Content,
		FinishReason: body.Choices[0].FinishReason,
		TotalTokens:  body.Usage.TotalTokens,
	}, nil
}

func (c *LLMClient) completeAnthropic(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	var system string
	messages := make([]Message, 0, len(request.Messages))
	for _, msg := range request.Messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		messages = append(messages, msg)
	}

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	payload := map[string]any{
		"model":      request.Model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	if system != "" {
		payload["system"] = system
	}
	if request.Temperature > 0 {
		payload["temperature"] = request.Temperature
	}

	resp, err := c.httpClient.Do(ctx, &HTTPRequest{
		URL:    c.baseURL + "/messages",
		Method: "POST",
		Body:   payload,
		Headers: map[string]string{
			"x-api-key":         c.apiKey,
			"anthropic-version": "2023-06-01",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Anthropic API request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("Anthropic API error (status %d): %s", resp.StatusCode, string(resp.RawBody))
	}

	var body struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(resp.RawBody, &body); err != nil {
		return nil, fmt.Errorf("failed to parse Anthropic response: %w", err)
	}

	out := &LLMResponse{
		Model:        body.Model,
		FinishReason: body.StopReason,
		TotalTokens:  body.Usage.InputTokens + body.Usage.OutputTokens,
	}
	for _, block := range body.Content {
		if block.Type == "text" {
			out.Content = block.Text
			break
		}
	}
	return out, nil
}
