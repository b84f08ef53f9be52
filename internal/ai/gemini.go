package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"lunar-bazi/backend/internal/bazi"
)

const defaultGeminiModel = "gemini-3-flash-preview"

// GeminiClient converts dates through the Gemini API using a response schema.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float64
}

// NewGeminiClient constructs a GeminiClient if an API key is configured.
func NewGeminiClient(ctx context.Context, cfg Config, httpClient *http.Client) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrDisabled
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model, temperature: cfg.Temperature}, nil
}

// Enabled reports whether the client can make outbound calls.
func (g *GeminiClient) Enabled() bool {
	return g != nil && g.client != nil
}

// Name identifies the provider and model.
func (g *GeminiClient) Name() string {
	if g == nil {
		return "gemini"
	}
	return "gemini:" + g.model
}

// Convert requests a structured conversion for the supplied moment.
func (g *GeminiClient) Convert(ctx context.Context, input bazi.DateTimeInput) (bazi.Result, error) {
	if !g.Enabled() {
		return bazi.Result{}, ErrDisabled
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   ResponseSchema(),
	}
	if g.temperature > 0 {
		config.Temperature = genai.Ptr(float32(g.temperature))
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(BuildPrompt(input)), config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return bazi.Result{}, &StatusError{Provider: "gemini", Status: apiErr.Code, Message: apiErr.Message}
		}
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
			return bazi.Result{}, &StatusError{Provider: "gemini", Status: apiErrPtr.Code, Message: apiErrPtr.Message}
		}
		return bazi.Result{}, fmt.Errorf("gemini request: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return bazi.Result{}, errors.New("gemini empty response")
	}

	var result bazi.Result
	if err := json.Unmarshal([]byte(normalizeJSONBlock(text)), &result); err != nil {
		return bazi.Result{}, fmt.Errorf("parse gemini response: %w", err)
	}
	if err := bazi.Sanitize(&result); err != nil {
		return bazi.Result{}, err
	}
	return result, nil
}

// ResponseSchema describes the object the model must return.
func ResponseSchema() *genai.Schema {
	pillar := func(desc string) *genai.Schema {
		return &genai.Schema{
			Type:        genai.TypeObject,
			Description: desc,
			Properties: map[string]*genai.Schema{
				"stem":   {Type: genai.TypeString},
				"branch": {Type: genai.TypeString},
			},
			Required: []string{"stem", "branch"},
		}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"yearPillar":     pillar("年柱"),
			"monthPillar":    pillar("月柱"),
			"dayPillar":      pillar("日柱"),
			"hourPillar":     pillar("時柱"),
			"lunarDate":      {Type: genai.TypeString},
			"zodiac":         {Type: genai.TypeString},
			"solarTerm":      {Type: genai.TypeString},
			"fiveElements":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"interpretation": {Type: genai.TypeString},
		},
		Required:         append([]string(nil), requiredFields...),
		PropertyOrdering: append([]string(nil), requiredFields...),
	}
}
