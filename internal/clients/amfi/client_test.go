package amfi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/navhub/pkg/logger"
)

const testDailyPayload = dailyHeader + "\n" +
	"100001;INF123A01010;-;Acme Growth Fund;45.6789;28-Aug-2026\n" +
	"100002;INF456B01012;-;Beta Liquid Fund;1032.5510;28-Aug-2026\n"

func newTestClient(t *testing.T, dailyURL, historicalURL string) *Client {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	c := NewClient(Config{
		DailyURL:       dailyURL,
		HistoricalURL:  historicalURL,
		RequestTimeout: 2 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: 10 * time.Millisecond,
		MinCallGap:     time.Nanosecond,
	}, nil, log)
	c.sleep = func(time.Duration) {}
	return c
}

func TestFetchDaily(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(testDailyPayload))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, "")
		res := c.FetchDaily(context.Background(), Options{})

		require.True(t, res.Success)
		assert.Len(t, res.Records, 2)
		assert.NotEmpty(t, res.RequestID)
		assert.NoError(t, res.Err())
	})

	t.Run("http error surfaces as typed failure, never panics", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, "")
		res := c.FetchDaily(context.Background(), Options{})

		require.False(t, res.Success)
		require.NotNil(t, res.Failure)
		assert.Equal(t, FailureHTTPStatus, res.Failure.Kind)
		assert.Equal(t, http.StatusServiceUnavailable, res.Failure.StatusCode)
		assert.Error(t, res.Err())
	})

	t.Run("empty body is a distinct failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 200 with nothing in it
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, "")
		res := c.FetchDaily(context.Background(), Options{})

		require.False(t, res.Success)
		assert.Equal(t, FailureEmptyBody, res.Failure.Kind)
	})

	t.Run("over ten percent invalid rows rejects the batch", func(t *testing.T) {
		payload := dailyHeader + "\n" +
			"100001;INF123A01010;-;Acme Growth Fund;N.A.;28-Aug-2026\n" +
			"100002;INF456B01012;-;Beta Liquid Fund;10.5;28-Aug-2026\n"
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(payload))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, "")
		res := c.FetchDaily(context.Background(), Options{})

		require.False(t, res.Success)
		assert.Equal(t, FailureDataQuality, res.Failure.Kind)
	})
}

func TestRetryBackoff(t *testing.T) {
	t.Run("three attempts with doubling delays on persistent failure", func(t *testing.T) {
		var attempts int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, "")

		var delays []time.Duration
		c.sleep = func(d time.Duration) { delays = append(delays, d) }

		res := c.FetchDaily(context.Background(), Options{})

		require.False(t, res.Success)
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

		// The rate gate never sleeps with a nanosecond gap, so the recorded
		// sleeps are the backoff delays: base then double
		require.Len(t, delays, 2)
		assert.Equal(t, 10*time.Millisecond, delays[0])
		assert.Equal(t, 20*time.Millisecond, delays[1])
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var attempts int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(testDailyPayload))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, "")
		res := c.FetchDaily(context.Background(), Options{})

		require.True(t, res.Success)
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	})
}

func TestIdempotentFetch(t *testing.T) {
	t.Run("concurrent identical requests share one outbound call", func(t *testing.T) {
		var calls int32
		gate := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			<-gate
			w.Write([]byte(testDailyPayload))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, "")

		var wg sync.WaitGroup
		results := make([]*FetchResult, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = c.FetchDaily(context.Background(), Options{RequestKey: "shared"})
			}(i)
		}

		// Let both goroutines join the in-flight call before releasing it
		time.Sleep(50 * time.Millisecond)
		close(gate)
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		require.True(t, results[0].Success)
		require.True(t, results[1].Success)
		assert.Equal(t, results[0].RequestID, results[1].RequestID)
	})

	t.Run("second call within result TTL reuses the cached result", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Write([]byte(testDailyPayload))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, "")

		first := c.FetchDaily(context.Background(), Options{RequestKey: "shared"})
		second := c.FetchDaily(context.Background(), Options{RequestKey: "shared"})

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.Equal(t, first.RequestID, second.RequestID)
	})

	t.Run("bypass forces a fresh outbound call", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Write([]byte(testDailyPayload))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, "")

		c.FetchDaily(context.Background(), Options{RequestKey: "shared"})
		c.FetchDaily(context.Background(), Options{RequestKey: "shared", BypassCache: true})

		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})
}

func TestFetchHistoricalValidation(t *testing.T) {
	c := newTestClient(t, "", "http://unreachable.invalid")

	t.Run("inverted range fails fast", func(t *testing.T) {
		end := time.Now().AddDate(0, 0, -10)
		start := time.Now().AddDate(0, 0, -1)
		res := c.FetchHistorical(context.Background(), start, end, Options{})

		require.False(t, res.Success)
		assert.Equal(t, FailureValidation, res.Failure.Kind)
	})

	t.Run("span over ninety days fails fast", func(t *testing.T) {
		end := time.Now().AddDate(0, 0, -1)
		start := end.AddDate(0, 0, -120)
		res := c.FetchHistorical(context.Background(), start, end, Options{})

		require.False(t, res.Success)
		assert.Equal(t, FailureValidation, res.Failure.Kind)
		assert.Contains(t, res.Failure.Message, "90")
	})

	t.Run("future end date fails fast", func(t *testing.T) {
		start := time.Now()
		end := time.Now().AddDate(0, 0, 5)
		res := c.FetchHistorical(context.Background(), start, end, Options{})

		require.False(t, res.Success)
		assert.Equal(t, FailureValidation, res.Failure.Kind)
	})

	t.Run("exactly ninety days is allowed", func(t *testing.T) {
		start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
		assert.Nil(t, validateSpan(start, end))
		assert.Equal(t, 90, spanDays(start, end))
	})
}

func TestFetchHistorical(t *testing.T) {
	header := "Scheme Code;Scheme Name;ISIN Div Payout/ISIN Growth;ISIN Div Reinvestment;Net Asset Value;Repurchase Price;Sale Price;Date"

	t.Run("fetches and parses a window", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, r.URL.Query().Get("frmdt"))
			assert.NotEmpty(t, r.URL.Query().Get("todt"))
			w.Write([]byte(header + "\n" +
				"100001;Acme Growth Fund;INF123A01010;-;45.67;45.50;45.80;15-Jan-2026\n"))
		}))
		defer srv.Close()

		c := newTestClient(t, "", srv.URL)
		end := time.Now().AddDate(0, 0, -1)
		start := end.AddDate(0, 0, -30)

		res := c.FetchHistorical(context.Background(), start, end, Options{FundGroupID: "27"})
		require.True(t, res.Success)
		assert.Len(t, res.Records, 1)
	})
}

func TestFetchForScheme(t *testing.T) {
	t.Run("narrows the daily snapshot without an extra call", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Write([]byte(testDailyPayload))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, "")

		full := c.FetchDaily(context.Background(), Options{})
		require.True(t, full.Success)

		single := c.FetchForScheme(context.Background(), "100002", Options{})
		require.True(t, single.Success)
		require.Len(t, single.Records, 1)
		assert.Equal(t, "100002", single.Records[0].SchemeCode)

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}
