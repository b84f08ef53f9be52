package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lunar-bazi/backend/internal/bazi"
)

// Client implements the Converter interface against an OpenAI-compatible API.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = 0.2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	client := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: temp,
		maxTokens:   cfg.MaxTokens,
	}
	return client, nil
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	if c != nil && httpClient != nil {
		c.httpClient = httpClient
	}
	return c
}

// Enabled reports whether the client can make outbound calls.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Name identifies the provider and model.
func (c *Client) Name() string {
	if c == nil {
		return "openai"
	}
	return "openai:" + c.model
}

// Convert requests a structured conversion for the supplied moment.
func (c *Client) Convert(ctx context.Context, input bazi.DateTimeInput) (bazi.Result, error) {
	if c == nil || !c.Enabled() {
		return bazi.Result{}, ErrDisabled
	}

	body, err := json.Marshal(c.buildPayload(input))
	if err != nil {
		return bazi.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return bazi.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return bazi.Result{}, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return bazi.Result{}, &StatusError{Provider: "openai", Status: resp.StatusCode, Message: fmt.Sprint(apiErr)}
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return bazi.Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return bazi.Result{}, errors.New("openai empty response")
	}

	content := normalizeJSONBlock(decoded.Choices[0].Message.Content)
	if content == "" {
		return bazi.Result{}, errors.New("openai empty content")
	}

	var result bazi.Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return bazi.Result{}, fmt.Errorf("parse ai response: %w", err)
	}
	if err := bazi.Sanitize(&result); err != nil {
		return bazi.Result{}, err
	}
	return result, nil
}

func (c *Client) buildPayload(input bazi.DateTimeInput) map[string]any {
	messages := []map[string]string{
		{"role": "system", "content": systemInstruction()},
		{"role": "user", "content": BuildPrompt(input)},
	}
	payload := map[string]any{
		"model":           c.model,
		"messages":        messages,
		"temperature":     c.temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	if c.maxTokens > 0 {
		payload["max_tokens"] = c.maxTokens
	}
	return payload
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
