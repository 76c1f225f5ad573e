// Package amfi provides client functionality for fetching published NAV data
// from the external fund-price source.
//
// Every fetch operation returns a FetchResult and never lets an error escape
// to an unexpected caller frame: callers check Success and inspect the typed
// Failure. Outbound calls are globally rate limited, retried with exponential
// backoff, and deduplicated by request key so concurrent identical requests
// share a single network call.
package amfi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/navhub/internal/clientdata"
	"github.com/aristath/navhub/internal/domain"
)

// Config holds fetcher settings.
type Config struct {
	DailyURL       string
	HistoricalURL  string
	RequestTimeout time.Duration // per-attempt timeout, a distinct failure kind on expiry
	MaxAttempts    int
	RetryBaseDelay time.Duration // attempt N waits RetryBaseDelay * 2^(N-1)
	MinCallGap     time.Duration // global minimum spacing between outbound calls
}

// Client fetches and parses NAV data from the external source.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *clientdata.Repository // optional persistent cache, nil disables
	log        zerolog.Logger

	group singleflight.Group

	// Completed results, briefly cached by request key.
	resultsMu sync.Mutex
	results   map[string]cachedResult

	// Global outbound rate gate.
	gateMu   sync.Mutex
	lastCall time.Time

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

type cachedResult struct {
	result    *FetchResult
	expiresAt time.Time
}

// NewClient creates a new NAV source client.
// cache is optional - if nil, persistent caching is disabled.
func NewClient(cfg Config, cache *clientdata.Repository, log zerolog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.MinCallGap <= 0 {
		cfg.MinCallGap = time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		cache:      cache,
		log:        log.With().Str("client", "amfi").Logger(),
		results:    make(map[string]cachedResult),
		sleep:      time.Sleep,
	}
}

// FetchDaily fetches the full daily NAV snapshot.
func (c *Client) FetchDaily(ctx context.Context, opts Options) *FetchResult {
	key := opts.RequestKey
	if key == "" {
		key = "daily"
	}
	return c.fetchShared(ctx, key, opts.BypassCache, dailyResultTTL, func() *FetchResult {
		return c.fetchDailyOnce(ctx, key, opts.BypassCache)
	})
}

// FetchHistorical fetches the historical report for a date window.
// The window must not exceed MaxSpanDays, must not be inverted, and must not
// end in the future; violations fail fast without network I/O.
func (c *Client) FetchHistorical(ctx context.Context, start, end time.Time, opts Options) *FetchResult {
	if failure := validateSpan(start, end); failure != nil {
		return &FetchResult{
			Source:    "historical",
			RequestID: uuid.NewString(),
			Failure:   failure,
		}
	}

	key := opts.RequestKey
	if key == "" {
		key = fmt.Sprintf("historical:%s:%s:%s",
			opts.FundGroupID, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return c.fetchShared(ctx, key, opts.BypassCache, historicalResultTTL, func() *FetchResult {
		return c.fetchHistoricalOnce(ctx, key, start, end, opts)
	})
}

// FetchForScheme fetches the daily snapshot and narrows it to one scheme.
// It shares the daily snapshot's request key, so it never triggers an extra
// outbound call while a daily fetch is in flight or cached.
func (c *Client) FetchForScheme(ctx context.Context, schemeCode string, opts Options) *FetchResult {
	res := c.FetchDaily(ctx, opts)
	if !res.Success {
		return res
	}

	filtered := make([]domain.NAVRecord, 0, 1)
	for _, r := range res.Records {
		if r.SchemeCode == schemeCode {
			filtered = append(filtered, r)
		}
	}

	return &FetchResult{
		Success:   true,
		Source:    res.Source,
		RequestID: res.RequestID,
		Elapsed:   res.Elapsed,
		Records:   filtered,
	}
}

// fetchShared deduplicates concurrent identical requests and serves briefly
// cached completed results.
func (c *Client) fetchShared(ctx context.Context, key string, bypass bool, ttl time.Duration, fetch func() *FetchResult) *FetchResult {
	if !bypass {
		if res, ok := c.cachedFor(key); ok {
			c.log.Debug().Str("request_key", key).Msg("Serving cached fetch result")
			return res
		}
	}

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		res := fetch()
		if res.Success {
			c.storeCached(key, res, ttl)
		}
		return res, nil
	})
	return v.(*FetchResult)
}

func (c *Client) cachedFor(key string) (*FetchResult, bool) {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()

	entry, ok := c.results[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.results, key)
		return nil, false
	}
	return entry.result, true
}

func (c *Client) storeCached(key string, res *FetchResult, ttl time.Duration) {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()

	now := time.Now()
	// Evict anything already expired while we hold the lock
	for k, entry := range c.results {
		if now.After(entry.expiresAt) {
			delete(c.results, k)
		}
	}
	c.results[key] = cachedResult{result: res, expiresAt: now.Add(ttl)}
}

func (c *Client) fetchDailyOnce(ctx context.Context, key string, bypass bool) *FetchResult {
	start := time.Now()
	requestID := uuid.NewString()

	// Persistent cache survives process restarts
	if c.cache != nil && !bypass {
		var records []domain.NAVRecord
		if ok, err := c.cache.GetIfFresh(clientdata.TableDailyNAV, key, &records); err == nil && ok {
			c.log.Debug().Str("request_id", requestID).Int("records", len(records)).Msg("Daily snapshot served from persistent cache")
			return &FetchResult{
				Success:   true,
				Source:    "daily",
				RequestID: requestID,
				Elapsed:   time.Since(start),
				Records:   records,
			}
		}
	}

	body, failure := c.doRequest(ctx, c.cfg.DailyURL)
	if failure != nil {
		c.log.Warn().
			Str("request_id", requestID).
			Str("kind", string(failure.Kind)).
			Str("message", failure.Message).
			Msg("Daily NAV fetch failed")
		return &FetchResult{
			Source:    "daily",
			RequestID: requestID,
			Elapsed:   time.Since(start),
			Failure:   failure,
		}
	}

	records, stats := parseDaily(body)
	if stats.exceedsInvalidThreshold() {
		return &FetchResult{
			Source:    "daily",
			RequestID: requestID,
			Elapsed:   time.Since(start),
			Failure: &Failure{
				Kind:    FailureDataQuality,
				Message: fmt.Sprintf("%d of %d rows missing required fields", stats.Invalid, stats.Total),
			},
		}
	}
	if len(records) == 0 {
		return &FetchResult{
			Source:    "daily",
			RequestID: requestID,
			Elapsed:   time.Since(start),
			Failure:   &Failure{Kind: FailureParse, Message: "no parseable rows in daily payload"},
		}
	}

	if c.cache != nil {
		if err := c.cache.Store(clientdata.TableDailyNAV, key, records, clientdata.TTLDailyNAV); err != nil {
			c.log.Warn().Err(err).Msg("Failed to persist daily snapshot to cache")
		}
	}

	c.log.Info().
		Str("request_id", requestID).
		Int("records", len(records)).
		Int("invalid_rows", stats.Invalid).
		Dur("elapsed", time.Since(start)).
		Msg("Fetched daily NAV snapshot")

	return &FetchResult{
		Success:   true,
		Source:    "daily",
		RequestID: requestID,
		Elapsed:   time.Since(start),
		Records:   records,
	}
}

func (c *Client) fetchHistoricalOnce(ctx context.Context, key string, start, end time.Time, opts Options) *FetchResult {
	began := time.Now()
	requestID := uuid.NewString()

	if c.cache != nil && !opts.BypassCache {
		var records []domain.NAVRecord
		if ok, err := c.cache.GetIfFresh(clientdata.TableHistoricalNAV, key, &records); err == nil && ok {
			return &FetchResult{
				Success:   true,
				Source:    "historical",
				RequestID: requestID,
				Elapsed:   time.Since(began),
				Records:   records,
			}
		}
	}

	url := fmt.Sprintf("%s?mf=%s&tp=1&frmdt=%s&todt=%s",
		c.cfg.HistoricalURL,
		opts.FundGroupID,
		start.Format(navDateLayout),
		end.Format(navDateLayout),
	)

	body, failure := c.doRequest(ctx, url)
	if failure != nil {
		c.log.Warn().
			Str("request_id", requestID).
			Str("kind", string(failure.Kind)).
			Str("message", failure.Message).
			Msg("Historical NAV fetch failed")
		return &FetchResult{
			Source:    "historical",
			RequestID: requestID,
			Elapsed:   time.Since(began),
			Failure:   failure,
		}
	}

	records, stats := parseHistorical(body)
	if stats.exceedsInvalidThreshold() {
		return &FetchResult{
			Source:    "historical",
			RequestID: requestID,
			Elapsed:   time.Since(began),
			Failure: &Failure{
				Kind:    FailureDataQuality,
				Message: fmt.Sprintf("%d of %d rows missing required fields", stats.Invalid, stats.Total),
			},
		}
	}

	if c.cache != nil {
		if err := c.cache.Store(clientdata.TableHistoricalNAV, key, records, clientdata.TTLHistoricalNAV); err != nil {
			c.log.Warn().Err(err).Msg("Failed to persist historical window to cache")
		}
	}

	c.log.Info().
		Str("request_id", requestID).
		Int("records", len(records)).
		Str("from", start.Format("2006-01-02")).
		Str("to", end.Format("2006-01-02")).
		Dur("elapsed", time.Since(began)).
		Msg("Fetched historical NAV window")

	return &FetchResult{
		Success:   true,
		Source:    "historical",
		RequestID: requestID,
		Elapsed:   time.Since(began),
		Records:   records,
	}
}

// doRequest performs the outbound HTTP call with rate limiting, retries and
// exponential backoff. Each attempt is bounded by the configured request
// timeout; expiry is classified as FailureTimeout, distinct from other
// network failures.
func (c *Client) doRequest(ctx context.Context, url string) ([]byte, *Failure) {
	var lastFailure *Failure

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, classifyError(err)
		}

		c.waitForRateGate()

		body, failure := c.attemptRequest(ctx, url)
		if failure == nil {
			return body, nil
		}
		lastFailure = failure

		if attempt < c.cfg.MaxAttempts {
			delay := c.cfg.RetryBaseDelay << (attempt - 1)
			c.log.Debug().
				Int("attempt", attempt).
				Dur("backoff", delay).
				Str("kind", string(failure.Kind)).
				Msg("Retrying NAV fetch")
			c.sleep(delay)
		}
	}

	return nil, lastFailure
}

// waitForRateGate enforces the global minimum inter-call spacing.
func (c *Client) waitForRateGate() {
	c.gateMu.Lock()
	wait := c.cfg.MinCallGap - time.Since(c.lastCall)
	if wait > 0 {
		c.sleep(wait)
	}
	c.lastCall = time.Now()
	c.gateMu.Unlock()
}

func (c *Client) attemptRequest(ctx context.Context, url string) ([]byte, *Failure) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Failure{Kind: FailureNetwork, Message: err.Error()}
	}

	// Browser-like headers; the source rejects bare programmatic clients
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
	req.Header.Set("Accept", "text/plain,text/html,*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Failure{
			Kind:       FailureHTTPStatus,
			Message:    fmt.Sprintf("source returned status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(body) == 0 {
		return nil, &Failure{Kind: FailureEmptyBody, Message: "source returned empty body"}
	}

	return body, nil
}

// classifyError maps transport errors to failure kinds, distinguishing
// deadline expiry from other network failures.
func classifyError(err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailureTimeout, Message: "request timed out"}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Failure{Kind: FailureTimeout, Message: err.Error()}
	}
	return &Failure{Kind: FailureNetwork, Message: err.Error()}
}

// validateSpan applies the external source's hard window limits.
func validateSpan(start, end time.Time) *Failure {
	if start.After(end) {
		return &Failure{Kind: FailureValidation, Message: "start date is after end date"}
	}
	if spanDays(start, end) > MaxSpanDays {
		return &Failure{
			Kind:    FailureValidation,
			Message: fmt.Sprintf("date range exceeds %d days", MaxSpanDays),
		}
	}
	if end.After(endOfToday()) {
		return &Failure{Kind: FailureValidation, Message: "end date is in the future"}
	}
	return nil
}

// spanDays counts the days covered by an inclusive date range.
func spanDays(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}

func endOfToday() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
}
