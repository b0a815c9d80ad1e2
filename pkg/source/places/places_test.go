package places

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/source"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) source.DirectorySource {
	t.Helper()
	return newTestSourceWithWait(t, 0, handler)
}

func newTestSourceWithWait(t *testing.T, maxWait time.Duration, handler http.HandlerFunc) source.DirectorySource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := New(source.Config{APIKey: "key", BaseURL: srv.URL, RetryDelay: time.Millisecond, MaxWait: maxWait})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	return s
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(source.Config{}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestSearch_LimitZeroMakesNoRequest(t *testing.T) {
	var calls int32
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	got, err := s.Search(context.Background(), "Acme Labs", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 || atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no results and no calls, got %d results, %d calls", len(got), calls)
	}
}

func TestSearch_NormalizesAndFilters(t *testing.T) {
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/places:searchText" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Goog-Api-Key") != "key" || r.Header.Get("X-Goog-FieldMask") == "" {
			t.Errorf("missing api headers")
		}
		var body searchRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.TextQuery != "Acme Labs" || body.PageSize != 5 {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"places":[
			{"id":"X","displayName":{"text":"Acme Labs"},"websiteUri":"https://www.Acme.Example/about","primaryType":"software_company","rating":4.5},
			{"id":"Y","displayName":{"text":"No Site"}}
		]}`))
	})

	got, err := s.Search(context.Background(), "Acme Labs", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 company, got %d", len(got))
	}
	c := got[0]
	if c.ID != "places:X" || c.Domain != "acme.example" || c.Name != "Acme Labs" {
		t.Fatalf("unexpected company %+v", c)
	}
	if c.Industry != "software_company" || c.Rating == nil || *c.Rating != 4.5 {
		t.Fatalf("unexpected attributes %+v", c)
	}
}

func TestSearch_Paginates(t *testing.T) {
	var calls int32
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var body searchRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch n {
		case 1:
			if body.PageToken != "" {
				t.Errorf("first page should have no token")
			}
			_, _ = w.Write([]byte(`{"places":[{"id":"A","displayName":{"text":"A"},"websiteUri":"a.example"}],"nextPageToken":"p2"}`))
		default:
			if body.PageToken != "p2" {
				t.Errorf("expected page token p2, got %q", body.PageToken)
			}
			_, _ = w.Write([]byte(`{"places":[{"id":"B","displayName":{"text":"B"},"websiteUri":"b.example"}]}`))
		}
	})

	got, err := s.Search(context.Background(), "q", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Domain != "a.example" || got[1].Domain != "b.example" {
		t.Fatalf("unexpected companies %+v", got)
	}
}

func TestSearch_RetriesOnceOn5xx(t *testing.T) {
	var calls int32
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"places":[{"id":"A","displayName":{"text":"A"},"websiteUri":"a.example"}]}`))
	})
	got, err := s.Search(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(got) != 1 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 1 result after 2 calls, got %d results, %d calls", len(got), calls)
	}
}

func TestSearch_SurfacesPersistent5xx(t *testing.T) {
	var calls int32
	s := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := s.Search(context.Background(), "q", 1)
	if !errors.Is(err, common.ErrProviderTransient) {
		t.Fatalf("expected ErrProviderTransient, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls)
	}
}

func TestSearch_RateLimitedBeyondMaxWait(t *testing.T) {
	var calls int32
	s := newTestSourceWithWait(t, 50*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := s.Search(context.Background(), "q", 1)
	var rl *common.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.RetryAfter != 7*time.Second || rl.Provider != "places" {
		t.Fatalf("unexpected rate limit error %+v", rl)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected no retry past the ceiling, got %d calls", calls)
	}
}

func TestSearch_WaitsOutRateLimitWithinMaxWait(t *testing.T) {
	var calls int32
	s := newTestSourceWithWait(t, 2*time.Second, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"places":[{"id":"A","displayName":{"text":"Acme"},"websiteUri":"acme.example"}]}`))
	})
	start := time.Now()
	got, err := s.Search(context.Background(), "Acme", 1)
	if err != nil {
		t.Fatalf("expected the 429 to be waited out, got %v", err)
	}
	if len(got) != 1 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 1 result after 2 calls, got %d results, %d calls", len(got), calls)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("expected to honour Retry-After, returned after %v", elapsed)
	}
}

func TestSearch_RateLimitWithoutRetryAfterBacksOff(t *testing.T) {
	var calls int32
	s := newTestSourceWithWait(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"places":[{"id":"A","displayName":{"text":"Acme"},"websiteUri":"acme.example"}]}`))
	})
	got, err := s.Search(context.Background(), "Acme", 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected success after backing off, got %v %v", got, err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}
