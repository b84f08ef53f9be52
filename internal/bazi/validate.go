package bazi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func inputValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field ranges and that the day exists in the given month.
func (in DateTimeInput) Validate() error {
	if in.YearBoundary == "" {
		in.YearBoundary = BoundarySolar
	}
	if err := inputValidator().Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidInput, describeFieldError(fieldErrs[0]))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if days := DaysIn(in.Year, in.Month); in.Day > days {
		return fmt.Errorf("%w: day %d out of range for %04d-%02d (max %d)", ErrInvalidInput, in.Day, in.Year, in.Month, days)
	}
	return nil
}

// DaysIn returns the number of days in the Gregorian month.
func DaysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// Sanitize trims every field, removes blank or repeated element labels and
// rejects results that leave a required field empty.
func Sanitize(r *Result) error {
	if r == nil {
		return ErrIncompleteResult
	}
	for _, p := range []*Pillar{&r.YearPillar, &r.MonthPillar, &r.DayPillar, &r.HourPillar} {
		p.Stem = strings.TrimSpace(p.Stem)
		p.Branch = strings.TrimSpace(p.Branch)
	}
	r.LunarDate = strings.TrimSpace(r.LunarDate)
	r.Zodiac = strings.TrimSpace(r.Zodiac)
	r.SolarTerm = strings.TrimSpace(r.SolarTerm)
	r.Interpretation = strings.TrimSpace(r.Interpretation)

	elements := make([]string, 0, len(r.FiveElements))
	seen := make(map[string]struct{}, len(r.FiveElements))
	for _, e := range r.FiveElements {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		elements = append(elements, e)
	}
	r.FiveElements = elements

	var missing []string
	names := []string{"yearPillar", "monthPillar", "dayPillar", "hourPillar"}
	for i, p := range r.Pillars() {
		if p.Stem == "" || p.Branch == "" {
			missing = append(missing, names[i])
		}
	}
	if r.LunarDate == "" {
		missing = append(missing, "lunarDate")
	}
	if r.Zodiac == "" {
		missing = append(missing, "zodiac")
	}
	if r.SolarTerm == "" {
		missing = append(missing, "solarTerm")
	}
	if len(r.FiveElements) == 0 {
		missing = append(missing, "fiveElements")
	}
	if r.Interpretation == "" {
		missing = append(missing, "interpretation")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteResult, strings.Join(missing, ", "))
	}
	return nil
}
