package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lunar-bazi/backend/internal/bazi"
)

// Conversion is one completed date conversion kept for the history view.
type Conversion struct {
	ID           uint   `gorm:"primaryKey"`
	InputKey     string `gorm:"size:64;index"`
	Year         int
	Month        int
	Day          int
	Hour         int
	Minute       int
	YearBoundary string `gorm:"size:16"`
	Provider     string `gorm:"size:128"`
	ResultJSON   string `gorm:"type:text"`
	Zodiac       string `gorm:"size:32;index"`
	LatencyMs    int64
	Cached       bool
	RequestID    string `gorm:"size:64"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// NewConversion builds a row from an input and its result.
func NewConversion(input bazi.DateTimeInput, result bazi.Result) (*Conversion, error) {
	c := &Conversion{
		InputKey:     input.Key(),
		Year:         input.Year,
		Month:        input.Month,
		Day:          input.Day,
		Hour:         input.Hour,
		Minute:       input.Minute,
		YearBoundary: string(input.YearBoundary),
		Zodiac:       result.Zodiac,
	}
	if err := c.SetResult(result); err != nil {
		return nil, err
	}
	return c, nil
}

// Input reconstructs the submitted moment.
func (c *Conversion) Input() bazi.DateTimeInput {
	return bazi.DateTimeInput{
		Year:         c.Year,
		Month:        c.Month,
		Day:          c.Day,
		Hour:         c.Hour,
		Minute:       c.Minute,
		YearBoundary: bazi.YearBoundary(c.YearBoundary),
	}
}

// SetResult persists the result as JSON.
func (c *Conversion) SetResult(result bazi.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	c.ResultJSON = string(payload)
	return nil
}

// Result returns the unmarshalled conversion result.
func (c *Conversion) Result() (bazi.Result, error) {
	var out bazi.Result
	if strings.TrimSpace(c.ResultJSON) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(c.ResultJSON), &out); err != nil {
		return bazi.Result{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return out, nil
}
