package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunar-bazi/backend/internal/bazi"
)

type stubConverter struct {
	name    string
	enabled bool
	result  bazi.Result
	err     error
	calls   int
}

func (s *stubConverter) Enabled() bool { return s.enabled }
func (s *stubConverter) Name() string  { return s.name }
func (s *stubConverter) Convert(context.Context, bazi.DateTimeInput) (bazi.Result, error) {
	s.calls++
	return s.result, s.err
}

func TestWithFallback(t *testing.T) {
	primary := &stubConverter{name: "p", enabled: true, err: errors.New("down")}
	fallback := &stubConverter{name: "f", enabled: true, result: bazi.Result{Zodiac: "龍"}}

	chain := WithFallback(primary, fallback)
	assert.Equal(t, "p+f", chain.Name())
	require.True(t, chain.Enabled())

	result, err := chain.Convert(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "龍", result.Zodiac)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestConvertWithProviderNamesWinner(t *testing.T) {
	primary := &stubConverter{name: "gemini:m", enabled: true, err: errors.New("down")}
	fallback := &stubConverter{name: "openai:m", enabled: true, result: bazi.Result{Zodiac: "龍"}}
	chain := WithFallback(primary, fallback)

	_, provider, err := ConvertWithProvider(context.Background(), chain, sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "openai:m", provider)

	primary.err = nil
	_, provider, err = ConvertWithProvider(context.Background(), chain, sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "gemini:m", provider)

	_, provider, err = ConvertWithProvider(context.Background(), fallback, sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "openai:m", provider)
}

func TestWithFallbackPrimaryWins(t *testing.T) {
	primary := &stubConverter{name: "p", enabled: true, result: bazi.Result{Zodiac: "虎"}}
	fallback := &stubConverter{name: "f", enabled: true}

	result, err := WithFallback(primary, fallback).Convert(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "虎", result.Zodiac)
	assert.Zero(t, fallback.calls)
}

func TestWithFallbackDisabled(t *testing.T) {
	primary := &stubConverter{name: "p", enabled: false}
	fallback := &stubConverter{name: "f", enabled: false}
	chain := WithFallback(primary, fallback)

	assert.False(t, chain.Enabled())
	_, err := chain.Convert(context.Background(), sampleInput())
	assert.ErrorIs(t, err, ErrDisabled)

	assert.Same(t, primary, WithFallback(primary, nil))
	assert.Same(t, fallback, WithFallback(nil, fallback))
}

func TestBuildPrompt(t *testing.T) {
	in := sampleInput()
	prompt := BuildPrompt(in)
	assert.Contains(t, prompt, "公曆時間：2024年2月10日 8時30分。")
	assert.Contains(t, prompt, "以立春")
	for _, field := range requiredFields {
		assert.Contains(t, prompt, "- "+field)
	}

	in.YearBoundary = bazi.BoundaryLunar
	prompt = BuildPrompt(in)
	assert.Contains(t, prompt, "以農曆正月初一")
	assert.False(t, strings.Contains(prompt, "以立春"))
}

func TestResponseSchemaRequiresAllFields(t *testing.T) {
	schema := ResponseSchema()
	assert.ElementsMatch(t, requiredFields, schema.Required)
	for _, name := range []string{"yearPillar", "monthPillar", "dayPillar", "hourPillar"} {
		require.Contains(t, schema.Properties, name)
		assert.ElementsMatch(t, []string{"stem", "branch"}, schema.Properties[name].Required)
	}
}

func TestNormalizeJSONBlock(t *testing.T) {
	assert.Equal(t, `{"a":1}`, normalizeJSONBlock("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, normalizeJSONBlock("Here you go: {\"a\":1} enjoy"))
	assert.Equal(t, "", normalizeJSONBlock("   "))
}
