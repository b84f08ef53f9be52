package bazi

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// YearBoundary selects which event starts a new year pillar.
type YearBoundary string

const (
	// BoundarySolar switches the year pillar at 立春 (Start of Spring).
	BoundarySolar YearBoundary = "solar"
	// BoundaryLunar switches the year pillar at 正月初一 (Lunar New Year).
	BoundaryLunar YearBoundary = "lunar"
)

var (
	ErrInvalidInput     = errors.New("invalid date/time input")
	ErrIncompleteResult = errors.New("conversion result incomplete")
)

// Pillar is one stem/branch pair.
type Pillar struct {
	Stem   string `json:"stem"`
	Branch string `json:"branch"`
}

// String renders the pillar as the two characters joined, e.g. 甲子.
func (p Pillar) String() string {
	return p.Stem + p.Branch
}

// Result is the structured conversion returned by the model. Every field is
// opaque text; nothing is derived locally.
type Result struct {
	YearPillar     Pillar   `json:"yearPillar"`
	MonthPillar    Pillar   `json:"monthPillar"`
	DayPillar      Pillar   `json:"dayPillar"`
	HourPillar     Pillar   `json:"hourPillar"`
	LunarDate      string   `json:"lunarDate"`
	Zodiac         string   `json:"zodiac"`
	SolarTerm      string   `json:"solarTerm"`
	FiveElements   []string `json:"fiveElements"`
	Interpretation string   `json:"interpretation"`
}

// Pillars returns the four pillars in year, month, day, hour order.
func (r Result) Pillars() []Pillar {
	return []Pillar{r.YearPillar, r.MonthPillar, r.DayPillar, r.HourPillar}
}

// DateTimeInput is the Gregorian moment submitted by the user.
type DateTimeInput struct {
	Year         int          `json:"year" validate:"min=1,max=9999"`
	Month        int          `json:"month" validate:"min=1,max=12"`
	Day          int          `json:"day" validate:"min=1,max=31"`
	Hour         int          `json:"hour" validate:"min=0,max=23"`
	Minute       int          `json:"minute" validate:"min=0,max=59"`
	YearBoundary YearBoundary `json:"yearBoundary" validate:"oneof=solar lunar"`
}

// DefaultInput pre-fills the form with the supplied moment and the solar boundary.
func DefaultInput(now time.Time) DateTimeInput {
	return DateTimeInput{
		Year:         now.Year(),
		Month:        int(now.Month()),
		Day:          now.Day(),
		Hour:         now.Hour(),
		Minute:       now.Minute(),
		YearBoundary: BoundarySolar,
	}
}

// ParseYearBoundary accepts "solar" or "lunar"; empty input means solar.
func ParseYearBoundary(raw string) (YearBoundary, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(BoundarySolar):
		return BoundarySolar, nil
	case string(BoundaryLunar):
		return BoundaryLunar, nil
	default:
		return "", fmt.Errorf("%w: yearBoundary must be solar or lunar, got %q", ErrInvalidInput, raw)
	}
}

// Key is the canonical cache key for the input.
func (in DateTimeInput) Key() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d/%s", in.Year, in.Month, in.Day, in.Hour, in.Minute, in.YearBoundary)
}
