package ai

import (
	"context"
	"errors"
	"fmt"

	"lunar-bazi/backend/internal/bazi"
)

// Converter turns a Gregorian moment into a lunar calendar / BaZi reading.
type Converter interface {
	Enabled() bool
	Name() string
	Convert(ctx context.Context, input bazi.DateTimeInput) (bazi.Result, error)
}

// Config holds provider configuration parameters.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

var ErrDisabled = errors.New("ai converter disabled")

// StatusError carries the HTTP status of a failed upstream call.
type StatusError struct {
	Provider string
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Status, e.Message)
}

// Retryable reports whether the upstream failure is worth retrying.
func Retryable(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.Status {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
