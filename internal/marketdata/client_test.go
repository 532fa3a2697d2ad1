package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/symbol"
)

func newUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetQuote(t *testing.T) {
	var mu sync.Mutex
	var tokens []string

	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "AAPL" {
			t.Errorf("symbol = %q, want AAPL", got)
		}
		mu.Lock()
		tokens = append(tokens, r.URL.Query().Get("token"))
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]float64{"c": 189.5, "h": 190, "l": 187, "o": 188, "pc": 188.2})
	})

	c := NewClient(Options{BaseURL: srv.URL, APIKeys: []string{"k1", "k2"}})

	q, err := c.GetQuote(context.Background(), "aapl")
	if err != nil {
		t.Fatal(err)
	}
	if q.Symbol != "AAPL" {
		t.Errorf("symbol = %q", q.Symbol)
	}
	if !q.Current.Equal(decimal.NewFromFloat(189.5)) {
		t.Errorf("current = %s, want 189.5", q.Current)
	}

	// Keys rotate across calls.
	if _, err := c.GetQuote(context.Background(), "AAPL"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(tokens) != 2 || tokens[0] == tokens[1] {
		t.Errorf("tokens = %v, want two distinct keys", tokens)
	}
}

func TestGetQuote_InvalidSymbol(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://unused.invalid"})

	_, err := c.GetQuote(context.Background(), "not a ticker")
	if !errors.Is(err, symbol.ErrInvalidSymbol) {
		t.Errorf("err = %v, want ErrInvalidSymbol", err)
	}
}

func TestGetQuote_UpstreamError(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	c := NewClient(Options{BaseURL: srv.URL})

	_, err := c.GetQuote(context.Background(), "AAPL")
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		http.Error(w, "down", http.StatusInternalServerError)
	})
	c := NewClient(Options{BaseURL: srv.URL, RPS: 1000, Burst: 1000})

	for i := 0; i < 10; i++ {
		c.GetQuote(context.Background(), "AAPL")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls >= 10 {
		t.Errorf("upstream saw %d calls, breaker never opened", calls)
	}
}

func TestSearch(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "apple" {
			t.Errorf("q = %q", got)
		}
		json.NewEncoder(w).Encode(searchResponse{
			Count: 1,
			Result: []SearchResult{
				{Symbol: "AAPL", Description: "APPLE INC", Type: "Common Stock"},
			},
		})
	})
	c := NewClient(Options{BaseURL: srv.URL})

	results, err := c.Search(context.Background(), "apple")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Symbol != "AAPL" {
		t.Errorf("results = %+v", results)
	}
}

func TestHandleQuote(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"c": 42})
	})
	c := NewClient(Options{BaseURL: srv.URL})

	rec := httptest.NewRecorder()
	c.HandleQuote(rec, httptest.NewRequest("GET", "/stocks/quote?symbol=AAPL", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var q Quote
	if err := json.NewDecoder(rec.Body).Decode(&q); err != nil {
		t.Fatal(err)
	}
	if !q.Current.Equal(decimal.NewFromInt(42)) {
		t.Errorf("current = %s", q.Current)
	}

	rec = httptest.NewRecorder()
	c.HandleQuote(rec, httptest.NewRequest("GET", "/stocks/quote?symbol=bad%20sym", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid symbol: status = %d, want 400", rec.Code)
	}
}

func TestHandleSearch_RequiresQuery(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://unused.invalid"})

	rec := httptest.NewRecorder()
	c.HandleSearch(rec, httptest.NewRequest("GET", "/stocks/search", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
