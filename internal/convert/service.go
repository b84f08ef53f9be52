package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"lunar-bazi/backend/internal/ai"
	"lunar-bazi/backend/internal/bazi"
	"lunar-bazi/backend/internal/cache"
	"lunar-bazi/backend/internal/store"
	"lunar-bazi/backend/internal/util"
)

// FailureMessage is the only text shown to users when a conversion fails upstream.
const FailureMessage = "計算失敗，請稍後再試。可能是輸入日期超出範圍或服務暫時不可用。"

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 4 * time.Second
)

// ProviderCache names the provider of answers served from the result cache.
const ProviderCache = "cache"

// ErrConversionFailed wraps every upstream or parsing failure.
var ErrConversionFailed = errors.New("conversion failed")

// History persists completed conversions and looks up earlier answers.
type History interface {
	SaveConversion(c *store.Conversion) error
	LatestByInputKey(key string) (*store.Conversion, error)
}

// Publisher receives conversion lifecycle events.
type Publisher interface {
	Publish(event Event)
}

// Event describes one step of a conversion for stream watchers.
type Event struct {
	Type      string             `json:"type"`
	RequestID string             `json:"request_id,omitempty"`
	Input     bazi.DateTimeInput `json:"input"`
	Result    *bazi.Result       `json:"result,omitempty"`
	Provider  string             `json:"provider,omitempty"`
	Cached    bool               `json:"cached,omitempty"`
	Message   string             `json:"message,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Outcome is what a successful conversion returns to callers.
type Outcome struct {
	ID        uint
	Result    bazi.Result
	Provider  string
	Cached    bool
	LatencyMS int64
}

// Options tune the retry loop. HistoryMaxAge > 0 lets a cache miss reuse a
// stored answer younger than that age.
type Options struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HistoryMaxAge  time.Duration
}

// Service validates input, consults the cache and calls the converter.
type Service struct {
	converter ai.Converter
	cache     cache.Cache
	history   History
	publisher Publisher
	metrics   *Metrics
	opts      Options
}

// NewService wires the conversion pipeline. cache, history, publisher and
// metrics may be nil.
func NewService(converter ai.Converter, c cache.Cache, history History, publisher Publisher, metrics *Metrics, opts Options) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	return &Service{
		converter: converter,
		cache:     c,
		history:   history,
		publisher: publisher,
		metrics:   metrics,
		opts:      opts,
	}
}

// ProviderName reports the configured converter.
func (s *Service) ProviderName() string {
	if s.converter == nil {
		return ""
	}
	return s.converter.Name()
}

// CacheKind reports the configured cache backend.
func (s *Service) CacheKind() string {
	return s.cache.Kind()
}

// Convert runs one conversion for the supplied input.
func (s *Service) Convert(ctx context.Context, input bazi.DateTimeInput, requestID string) (Outcome, error) {
	if input.YearBoundary == "" {
		input.YearBoundary = bazi.BoundarySolar
	}
	if err := input.Validate(); err != nil {
		s.metrics.observe("invalid", 0)
		return Outcome{}, err
	}

	timer := util.StartTimer()
	log := logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"input":      input.Key(),
	})
	key := input.Key()

	if result, ok, err := s.cache.Get(ctx, key); err != nil {
		log.WithError(err).Warn("read conversion cache")
	} else if ok {
		outcome := Outcome{Result: result, Provider: ProviderCache, Cached: true, LatencyMS: timer.ElapsedMs()}
		outcome.ID = s.record(log, input, outcome, requestID)
		s.metrics.observe("cached", timer.Elapsed())
		s.publish(Event{Type: "completed", RequestID: requestID, Input: input, Result: &result, Provider: outcome.Provider, Cached: true})
		return outcome, nil
	}

	if result, provider, ok := s.fromHistory(log, key); ok {
		if err := s.cache.Set(ctx, key, result); err != nil {
			log.WithError(err).Warn("write conversion cache")
		}
		outcome := Outcome{Result: result, Provider: provider, Cached: true, LatencyMS: timer.ElapsedMs()}
		outcome.ID = s.record(log, input, outcome, requestID)
		s.metrics.observe("history", timer.Elapsed())
		s.publish(Event{Type: "completed", RequestID: requestID, Input: input, Result: &result, Provider: provider, Cached: true})
		return outcome, nil
	}

	s.publish(Event{Type: "started", RequestID: requestID, Input: input})

	result, provider, err := s.callWithRetry(ctx, input)
	if err != nil {
		log.WithError(err).Error("conversion failed")
		s.metrics.observe("failed", timer.Elapsed())
		s.publish(Event{Type: "failed", RequestID: requestID, Input: input, Message: FailureMessage})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, fmt.Errorf("%w: %w", ErrConversionFailed, ctxErr)
		}
		return Outcome{}, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	outcome := Outcome{Result: result, Provider: provider, LatencyMS: timer.ElapsedMs()}
	if err := s.cache.Set(ctx, key, result); err != nil {
		log.WithError(err).Warn("write conversion cache")
	}
	outcome.ID = s.record(log, input, outcome, requestID)
	s.metrics.observe("converted", timer.Elapsed())
	s.publish(Event{Type: "completed", RequestID: requestID, Input: input, Result: &result, Provider: outcome.Provider})

	log.WithFields(logrus.Fields{
		"provider":   outcome.Provider,
		"latency_ms": outcome.LatencyMS,
	}).Info("conversion completed")
	return outcome, nil
}

func (s *Service) callWithRetry(ctx context.Context, input bazi.DateTimeInput) (bazi.Result, string, error) {
	if s.converter == nil || !s.converter.Enabled() {
		return bazi.Result{}, "", ai.ErrDisabled
	}

	delay := s.opts.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		result, provider, err := ai.ConvertWithProvider(ctx, s.converter, input)
		if err == nil {
			return result, provider, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return bazi.Result{}, "", ctx.Err()
		}
		if !ai.Retryable(err) || attempt == s.opts.MaxRetries-1 {
			break
		}
		s.metrics.retry()

		select {
		case <-ctx.Done():
			return bazi.Result{}, "", ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.opts.MaxBackoff {
			delay = s.opts.MaxBackoff
		}
	}

	return bazi.Result{}, "", lastErr
}

// fromHistory returns a stored answer for key when one is young enough.
func (s *Service) fromHistory(log *logrus.Entry, key string) (bazi.Result, string, bool) {
	if s.history == nil || s.opts.HistoryMaxAge <= 0 {
		return bazi.Result{}, "", false
	}
	row, err := s.history.LatestByInputKey(key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).Warn("look up conversion history")
		}
		return bazi.Result{}, "", false
	}
	if time.Since(row.CreatedAt) >= s.opts.HistoryMaxAge {
		return bazi.Result{}, "", false
	}
	result, err := row.Result()
	if err != nil {
		log.WithError(err).Warn("decode stored conversion")
		return bazi.Result{}, "", false
	}
	if err := bazi.Sanitize(&result); err != nil {
		return bazi.Result{}, "", false
	}
	return result, row.Provider, true
}

func (s *Service) record(log *logrus.Entry, input bazi.DateTimeInput, outcome Outcome, requestID string) uint {
	if s.history == nil {
		return 0
	}
	row, err := store.NewConversion(input, outcome.Result)
	if err != nil {
		log.WithError(err).Warn("build history row")
		return 0
	}
	row.Provider = outcome.Provider
	row.LatencyMs = outcome.LatencyMS
	row.Cached = outcome.Cached
	row.RequestID = requestID
	if err := s.history.SaveConversion(row); err != nil {
		log.WithError(err).Warn("save conversion history")
		return 0
	}
	return row.ID
}

func (s *Service) publish(event Event) {
	if s.publisher == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	s.publisher.Publish(event)
}
