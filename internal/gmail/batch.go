package gmail

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"mailmint/internal/logger"
	"mailmint/internal/model"
)

const (
	DefaultBatchSize    = 80
	DefaultMaxRetries   = 5
	DefaultInitialDelay = time.Second
)

// Outcome is the per-message result of one batch call. Exactly one of
// Message and Err is set.
type Outcome struct {
	ID      string
	Message *model.RawMessage
	Err     error
}

// BatchGetter fetches many messages in one round trip. A returned error means
// the combined call itself failed and no per-message outcomes are available.
type BatchGetter interface {
	BatchGet(ctx context.Context, ids []string) ([]Outcome, error)
}

// FetchStats summarizes one Fetch call.
type FetchStats struct {
	Requested   int
	Fetched     int
	Failed      int // dropped for reasons other than rate limiting
	RateLimited int // dropped after exhausting retries
	Attempts    int // batch passes, including the first
}

// Fetcher pulls message bodies in batches and retries only the rate-limited
// subset with exponential backoff. Per-message failures are dropped, never
// returned.
type Fetcher struct {
	Getter       BatchGetter
	BatchSize    int
	MaxRetries   int
	InitialDelay time.Duration

	// Sleep and Jitter are replaceable for tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() time.Duration
}

// NewFetcher returns a Fetcher with default batching and retry settings.
func NewFetcher(g BatchGetter) *Fetcher {
	return &Fetcher{
		Getter:       g,
		BatchSize:    DefaultBatchSize,
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
	}
}

// Fetch returns the successfully fetched messages in the order of ids.
func (f *Fetcher) Fetch(ctx context.Context, ids []string) ([]model.RawMessage, FetchStats) {
	log := logger.FromContext(ctx)
	stats := FetchStats{Requested: len(ids)}
	got := make(map[string]model.RawMessage, len(ids))

	pending := ids
	for attempt := 0; len(pending) > 0; attempt++ {
		stats.Attempts++
		var limited []string
		for start := 0; start < len(pending); start += f.batchSize() {
			end := min(start+f.batchSize(), len(pending))
			limited = append(limited, f.fetchGroup(ctx, pending[start:end], got, &stats)...)
		}
		if len(limited) == 0 {
			break
		}
		if attempt >= f.MaxRetries {
			log.Error().Int("count", len(limited)).Int("attempts", attempt+1).
				Strs("ids", limited).Msg("giving up on rate-limited messages")
			stats.RateLimited += len(limited)
			break
		}
		delay := f.backoff(attempt)
		log.Warn().Int("count", len(limited)).Int("attempt", attempt+1).
			Dur("delay", delay).Msg("rate limited; backing off")
		if err := f.sleep(ctx, delay); err != nil {
			log.Error().Err(err).Int("count", len(limited)).Msg("backoff interrupted; dropping rate-limited messages")
			stats.RateLimited += len(limited)
			break
		}
		pending = limited
	}

	out := make([]model.RawMessage, 0, len(got))
	for _, id := range ids {
		if m, ok := got[id]; ok {
			out = append(out, m)
			delete(got, id)
		}
	}
	stats.Fetched = len(out)
	return out, stats
}

// fetchGroup runs one batch call, stores successes in got and returns the IDs
// that were rate limited. A rate-limited batch call limits the whole group.
func (f *Fetcher) fetchGroup(ctx context.Context, group []string, got map[string]model.RawMessage, stats *FetchStats) []string {
	log := logger.FromContext(ctx)
	outcomes, err := f.Getter.BatchGet(ctx, group)
	if IsRateLimited(err) {
		return group
	}
	if err != nil {
		log.Warn().Err(err).Int("count", len(group)).Msg("batch request failed; dropping group")
		stats.Failed += len(group)
		return nil
	}
	var limited []string
	for _, o := range outcomes {
		switch {
		case o.Err == nil && o.Message != nil:
			got[o.ID] = *o.Message
		case IsRateLimited(o.Err):
			limited = append(limited, o.ID)
		default:
			log.Warn().Err(o.Err).Str("id", o.ID).Msg("dropping message")
			stats.Failed++
		}
	}
	return limited
}

// backoff returns InitialDelay * 2^attempt plus up to one second of jitter.
func (f *Fetcher) backoff(attempt int) time.Duration {
	d := f.InitialDelay << attempt
	if f.Jitter != nil {
		return d + f.Jitter()
	}
	return d + rand.N(time.Second)
}

func (f *Fetcher) batchSize() int {
	if f.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return f.BatchSize
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if f.Sleep != nil {
		return f.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// IsRateLimited reports whether err is a quota-class API error (403 or 429)
// whose payload names a rate-limit condition.
func IsRateLimited(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code != http.StatusTooManyRequests && gerr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range gerr.Errors {
		if rateLimitReasons[item.Reason] {
			return true
		}
	}
	return strings.Contains(strings.ToLower(gerr.Message), "rate limit")
}
