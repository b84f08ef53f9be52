package ai

import (
	"context"

	"github.com/sirupsen/logrus"

	"lunar-bazi/backend/internal/bazi"
)

type converterChain struct {
	primary  Converter
	fallback Converter
}

// WithFallback returns a converter that first tries the primary implementation and
// falls back to the provided converter when the primary is unavailable or fails.
func WithFallback(primary, fallback Converter) Converter {
	if primary == nil {
		return fallback
	}
	if fallback == nil {
		return primary
	}
	return &converterChain{primary: primary, fallback: fallback}
}

func (c *converterChain) Enabled() bool {
	if c == nil {
		return false
	}
	if c.primary != nil && c.primary.Enabled() {
		return true
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return true
	}
	return false
}

func (c *converterChain) Name() string {
	return c.primary.Name() + "+" + c.fallback.Name()
}

func (c *converterChain) Convert(ctx context.Context, input bazi.DateTimeInput) (bazi.Result, error) {
	result, _, err := c.ConvertAttributed(ctx, input)
	return result, err
}

// ConvertAttributed behaves like Convert and also names the converter that answered.
func (c *converterChain) ConvertAttributed(ctx context.Context, input bazi.DateTimeInput) (bazi.Result, string, error) {
	if c == nil {
		return bazi.Result{}, "", ErrDisabled
	}
	var primaryErr error
	if c.primary != nil && c.primary.Enabled() {
		result, provider, err := ConvertWithProvider(ctx, c.primary, input)
		if err == nil {
			return result, provider, nil
		}
		if ctx.Err() != nil {
			return bazi.Result{}, "", ctx.Err()
		}
		primaryErr = err
		logrus.WithError(err).WithField("provider", c.primary.Name()).Warn("primary converter failed, using fallback")
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return ConvertWithProvider(ctx, c.fallback, input)
	}
	if primaryErr != nil {
		return bazi.Result{}, "", primaryErr
	}
	return bazi.Result{}, "", ErrDisabled
}

// Attributed is implemented by converters that delegate to other converters.
type Attributed interface {
	ConvertAttributed(ctx context.Context, input bazi.DateTimeInput) (bazi.Result, string, error)
}

// ConvertWithProvider runs the converter and returns the name of the provider
// that produced the result.
func ConvertWithProvider(ctx context.Context, c Converter, input bazi.DateTimeInput) (bazi.Result, string, error) {
	if a, ok := c.(Attributed); ok {
		return a.ConvertAttributed(ctx, input)
	}
	result, err := c.Convert(ctx, input)
	if err != nil {
		return bazi.Result{}, "", err
	}
	return result, c.Name(), nil
}
