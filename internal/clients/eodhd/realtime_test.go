package eodhd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRealTimeQuote_ParsesResponse(t *testing.T) {
	ts := int64(1711670340)
	var capturedPath, capturedToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedToken = r.URL.Query().Get("api_token")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":      "AAPL.US",
			"timestamp": ts,
			"open":      170.10,
			"high":      172.50,
			"low":       169.80,
			"close":     171.25,
			"volume":    float64(5000000),
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	quote, err := client.GetRealTimeQuote(context.Background(), "AAPL.US")
	require.NoError(t, err)

	assert.Equal(t, "/real-time/AAPL.US", capturedPath)
	assert.Equal(t, "test-key", capturedToken)
	assert.Equal(t, "AAPL.US", quote.Code)
	assert.Equal(t, 171.25, quote.Close)
	assert.Equal(t, int64(5000000), quote.Volume)
	assert.True(t, quote.Timestamp.Equal(time.Unix(ts, 0)))
}

func TestGetRealTimeQuote_StringFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":      "MSFT.US",
			"timestamp": "1711670340",
			"close":     "43.25",
			"volume":    "NA",
		})
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	quote, err := client.GetRealTimeQuote(context.Background(), "MSFT.US")
	require.NoError(t, err)
	assert.Equal(t, 43.25, quote.Close)
	assert.Equal(t, int64(0), quote.Volume)
}

func TestGetRealTimeQuote_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal server error"))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.GetRealTimeQuote(context.Background(), "AAPL.US")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestGetRealTimeQuote_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithTimeout(20*time.Millisecond))
	_, err := client.GetRealTimeQuote(context.Background(), "AAPL.US")
	assert.Error(t, err)
}

func TestFlexValues_UnmarshalJSON(t *testing.T) {
	ints := map[string]int64{
		"1711670340":   1711670340,
		`"1711670340"`: 1711670340,
		`""`:           0,
		`"NA"`:         0,
		"-100":         -100,
		"12.0":         12,
	}
	for in, want := range ints {
		var f flexInt64
		require.NoError(t, json.Unmarshal([]byte(in), &f), in)
		assert.Equal(t, want, int64(f), in)
	}

	floats := map[string]float64{
		"1.5":    1.5,
		`"2.25"`: 2.25,
		`"NA"`:   0,
		`"N/A"`:  0,
	}
	for in, want := range floats {
		var f flexFloat64
		require.NoError(t, json.Unmarshal([]byte(in), &f), in)
		assert.Equal(t, want, float64(f), in)
	}
}

// quoteServer serves /real-time and /search with canned payloads.
func quoteServer(t *testing.T, realtime map[string]interface{}, search []SearchResult, searchCalls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/real-time/"):
			if realtime == nil {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte("Ticker Not Found."))
				return
			}
			json.NewEncoder(w).Encode(realtime)
		case strings.HasPrefix(r.URL.Path, "/search/"):
			if searchCalls != nil {
				atomic.AddInt32(searchCalls, 1)
			}
			json.NewEncoder(w).Encode(search)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestGetQuote_QualifiesSymbolAndResolvesName(t *testing.T) {
	var searchCalls int32
	srv := quoteServer(t,
		map[string]interface{}{"code": "AAPL.US", "timestamp": int64(1711670340), "close": 171.25},
		[]SearchResult{{Code: "AAPL", Exchange: "US", Name: "Apple Inc"}},
		&searchCalls,
	)
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	q, err := client.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "Apple Inc", q.Name)
	assert.Equal(t, 171.25, q.Price)
	assert.Equal(t, "eodhd", q.Source)

	// Name is memoised
	_, err = client.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&searchCalls))
}

func TestGetQuote_NotFound(t *testing.T) {
	srv := quoteServer(t, nil, nil, nil)
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.GetQuote(context.Background(), "ZZZZ")
	assert.True(t, errors.Is(err, interfaces.ErrQuoteNotFound), "got %v", err)
}

func TestGetQuote_NAPriceIsNotFound(t *testing.T) {
	srv := quoteServer(t,
		map[string]interface{}{"code": "ZZZZ.US", "timestamp": "NA", "close": "NA", "previousClose": "NA"},
		nil, nil,
	)
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.GetQuote(context.Background(), "ZZZZ")
	assert.True(t, errors.Is(err, interfaces.ErrQuoteNotFound), "got %v", err)
}

func TestGetQuote_FallsBackToPreviousClose(t *testing.T) {
	srv := quoteServer(t,
		map[string]interface{}{"code": "BHP.AU", "timestamp": int64(1711670340), "close": 0, "previousClose": 42.5},
		[]SearchResult{},
		nil,
	)
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithExchange("au"))
	q, err := client.GetQuote(context.Background(), "BHP.AU")
	require.NoError(t, err)
	assert.Equal(t, 42.5, q.Price)
	assert.Equal(t, "BHP.AU", q.Name, "name falls back to symbol when search has no match")
}

func TestGetQuote_UpstreamErrorIsNotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.GetQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.False(t, errors.Is(err, interfaces.ErrQuoteNotFound))
}
