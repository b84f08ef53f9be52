package cache

import (
	"context"

	"lunar-bazi/backend/internal/bazi"
)

// Cache stores conversion results keyed by the canonical input key.
type Cache interface {
	Get(ctx context.Context, key string) (bazi.Result, bool, error)
	Set(ctx context.Context, key string, result bazi.Result) error
	Kind() string
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (bazi.Result, bool, error) { return bazi.Result{}, false, nil }
func (Nop) Set(context.Context, string, bazi.Result) error          { return nil }
func (Nop) Kind() string                                             { return "none" }
