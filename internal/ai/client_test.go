package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunar-bazi/backend/internal/bazi"
)

const sampleJSON = `{
  "yearPillar": {"stem": "甲", "branch": "辰"},
  "monthPillar": {"stem": "丙", "branch": "寅"},
  "dayPillar": {"stem": "甲", "branch": "子"},
  "hourPillar": {"stem": "戊", "branch": "辰"},
  "lunarDate": "二零二四年正月初一",
  "zodiac": "龍",
  "solarTerm": "立春",
  "fiveElements": ["木", "火", "木"],
  "interpretation": "木火通明，性情開朗。"
}`

func sampleInput() bazi.DateTimeInput {
	return bazi.DateTimeInput{Year: 2024, Month: 2, Day: 10, Hour: 8, Minute: 30, YearBoundary: bazi.BoundarySolar}
}

func chatServer(t *testing.T, status int, content string, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if gotBody != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, gotBody)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		})
	}))
}

func TestClientConvert(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, http.StatusOK, "```json\n"+sampleJSON+"\n```", &body)
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/", Model: "test-model"})
	require.NoError(t, err)
	client.WithHTTPClient(srv.Client())

	result, err := client.Convert(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "甲辰", result.YearPillar.String())
	assert.Equal(t, []string{"木", "火"}, result.FiveElements)
	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, "openai:test-model", client.Name())

	messages, _ := body["messages"].([]any)
	require.Len(t, messages, 2)
	user, _ := messages[1].(map[string]any)
	assert.Contains(t, user["content"], "2024年2月10日 8時30分")
}

func TestClientConvertUpstreamStatus(t *testing.T) {
	srv := chatServer(t, http.StatusServiceUnavailable, "", nil)
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	client.WithHTTPClient(srv.Client())

	_, err = client.Convert(context.Background(), sampleInput())
	require.Error(t, err)
	assert.True(t, Retryable(err))

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
}

func TestClientConvertIncomplete(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"zodiac":"龍"}`, nil)
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	client.WithHTTPClient(srv.Client())

	_, err = client.Convert(context.Background(), sampleInput())
	assert.ErrorIs(t, err, bazi.ErrIncompleteResult)
	assert.False(t, Retryable(err))
}

func TestNewClientWithoutKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewGeminiClient(context.Background(), Config{APIKey: "  "}, nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestGeminiConvert(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": sampleJSON}},
				},
			}},
		})
	}))
	defer srv.Close()

	client, err := NewGeminiClient(context.Background(), Config{APIKey: "test-key", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	assert.Equal(t, "gemini:"+defaultGeminiModel, client.Name())

	result, err := client.Convert(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "龍", result.Zodiac)
	assert.Equal(t, "戊辰", result.HourPillar.String())
	assert.True(t, strings.HasSuffix(gotPath, defaultGeminiModel+":generateContent"), gotPath)

	genCfg, _ := gotBody["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", genCfg["responseMimeType"])
}
