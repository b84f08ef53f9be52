package api

import (
	"time"

	"lunar-bazi/backend/internal/bazi"
	"lunar-bazi/backend/internal/convert"
	"lunar-bazi/backend/internal/store"
)

// ConvertRequest is the JSON body of POST /api/convert. Pointers let the
// handler tell a missing field from a zero value.
type ConvertRequest struct {
	Year         *int   `json:"year" binding:"required"`
	Month        *int   `json:"month" binding:"required"`
	Day          *int   `json:"day" binding:"required"`
	Hour         *int   `json:"hour" binding:"required"`
	Minute       *int   `json:"minute" binding:"required"`
	YearBoundary string `json:"yearBoundary"`
}

// Input converts the request into the domain input.
func (r ConvertRequest) Input() (bazi.DateTimeInput, error) {
	boundary, err := bazi.ParseYearBoundary(r.YearBoundary)
	if err != nil {
		return bazi.DateTimeInput{}, err
	}
	return bazi.DateTimeInput{
		Year:         *r.Year,
		Month:        *r.Month,
		Day:          *r.Day,
		Hour:         *r.Hour,
		Minute:       *r.Minute,
		YearBoundary: boundary,
	}, nil
}

// ConvertResponse wraps a conversion result with request metadata.
type ConvertResponse struct {
	ID        uint               `json:"id,omitempty"`
	Input     bazi.DateTimeInput `json:"input"`
	Result    bazi.Result        `json:"result"`
	Provider  string             `json:"provider"`
	Cached    bool               `json:"cached"`
	LatencyMS int64              `json:"latency_ms"`
	RequestID string             `json:"request_id"`
}

// ConversionDTO is the API representation for a stored conversion.
type ConversionDTO struct {
	ID        uint               `json:"id"`
	Input     bazi.DateTimeInput `json:"input"`
	Result    bazi.Result        `json:"result"`
	Provider  string             `json:"provider"`
	Cached    bool               `json:"cached"`
	LatencyMS int64              `json:"latency_ms"`
	CreatedAt time.Time          `json:"created_at"`
}

// HistoryResponse is the paginated response for past conversions.
type HistoryResponse struct {
	Items []ConversionDTO `json:"items"`
	Total int64           `json:"total"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func newConvertResponse(input bazi.DateTimeInput, out convert.Outcome, requestID string) ConvertResponse {
	return ConvertResponse{
		ID:        out.ID,
		Input:     input,
		Result:    out.Result,
		Provider:  out.Provider,
		Cached:    out.Cached,
		LatencyMS: out.LatencyMS,
		RequestID: requestID,
	}
}

// FromModel converts a store.Conversion into the DTO representation.
func FromModel(c store.Conversion) (ConversionDTO, error) {
	result, err := c.Result()
	if err != nil {
		return ConversionDTO{}, err
	}
	return ConversionDTO{
		ID:        c.ID,
		Input:     c.Input(),
		Result:    result,
		Provider:  c.Provider,
		Cached:    c.Cached,
		LatencyMS: c.LatencyMs,
		CreatedAt: c.CreatedAt,
	}, nil
}
