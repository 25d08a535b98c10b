package tracker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCelestrak(t *testing.T, handler http.HandlerFunc, opts ...CelestrakOption) *CelestrakClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]CelestrakOption{WithBaseURL(server.URL), WithRateLimit(0)}, opts...)
	return NewCelestrakClient(opts...)
}

// TestCelestrakClient_FetchByNoradID загрузка записи по NORAD ID
func TestCelestrakClient_FetchByNoradID(t *testing.T) {
	client := newTestCelestrak(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("CATNR") != "25544" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("FORMAT") != "tle" {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		if !strings.HasPrefix(r.UserAgent(), "starpass/") {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		_, _ = w.Write([]byte(issTLE))
	})

	rec, err := client.FetchByNoradID(context.Background(), 25544)
	if err != nil {
		t.Fatalf("FetchByNoradID() error = %v", err)
	}

	if rec.NoradID() != 25544 {
		t.Errorf("NoradID() = %d, want 25544", rec.NoradID())
	}
	if rec.Name != "ISS (ZARYA)" {
		t.Errorf("Name = %q, want %q", rec.Name, "ISS (ZARYA)")
	}
	if rec.Line2 != issLine2 {
		t.Errorf("Line2 = %q, want %q", rec.Line2, issLine2)
	}
}

// TestCelestrakClient_NotFound оба варианта «нет данных» дают ErrCelestrakNotFound без повторов
func TestCelestrakClient_NotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "no GP data body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("No GP data found\n"))
			},
		},
		{
			name:    "404",
			handler: http.NotFound,
		},
		{
			name: "body without records",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("garbage\n"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestCelestrak(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}, WithMaxRetries(3))

			_, err := client.FetchByNoradID(context.Background(), 99999)
			if !errors.Is(err, ErrCelestrakNotFound) {
				t.Errorf("FetchByNoradID() error = %v, want ErrCelestrakNotFound", err)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want 1", calls.Load())
			}
		})
	}
}

// TestCelestrakClient_FetchGroup загрузка группы
func TestCelestrakClient_FetchGroup(t *testing.T) {
	client := newTestCelestrak(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("GROUP") != "stations" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(issTLE + "\r\n" + meteorTLE + "\r\n" + hstTLE + "\r\n"))
	})

	records, err := client.FetchGroup(context.Background(), GroupStations)
	if err != nil {
		t.Fatalf("FetchGroup() error = %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("FetchGroup() returned %d records, want 3", len(records))
	}
	if records[0].Name != "ISS (ZARYA)" || records[1].Name != "METEOR-M2" {
		t.Errorf("names = %q, %q", records[0].Name, records[1].Name)
	}
}

func TestCelestrakClient_FetchGroupText(t *testing.T) {
	client := newTestCelestrak(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(issTLE))
	})

	text, err := client.FetchGroupText(context.Background(), GroupStations)
	if err != nil {
		t.Fatalf("FetchGroupText() error = %v", err)
	}
	if text != issTLE {
		t.Errorf("FetchGroupText() = %q, want %q", text, issTLE)
	}
}

// TestCelestrakClient_RateLimit соблюдение интервала между запросами
func TestCelestrakClient_RateLimit(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(issTLE))
	}))
	defer server.Close()

	rateLimit := 100 * time.Millisecond
	client := NewCelestrakClient(
		WithBaseURL(server.URL),
		WithRateLimit(rateLimit),
	)

	ctx := context.Background()
	start := time.Now()

	for range 3 {
		_, _ = client.FetchByNoradID(ctx, 25544)
	}

	// Между 3 запросами 2 паузы.
	if elapsed := time.Since(start); elapsed < 2*rateLimit {
		t.Errorf("Rate limit not respected: elapsed %v, expected at least %v", elapsed, 2*rateLimit)
	}
	if requests.Load() != 3 {
		t.Errorf("Request count = %d, want 3", requests.Load())
	}
}

// TestCelestrakClient_Retry повторы при ошибках сервера
func TestCelestrakClient_Retry(t *testing.T) {
	var attempts atomic.Int32
	client := newTestCelestrak(t, func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(issTLE))
	}, WithMaxRetries(3))

	rec, err := client.FetchByNoradID(context.Background(), 25544)
	if err != nil {
		t.Fatalf("FetchByNoradID() error = %v", err)
	}

	if rec.NoradID() != 25544 {
		t.Errorf("NoradID() = %d, want 25544", rec.NoradID())
	}
	if attempts.Load() != 3 {
		t.Errorf("Attempt count = %d, want 3", attempts.Load())
	}
}

func TestCelestrakClient_RetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	client := newTestCelestrak(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, WithMaxRetries(1))

	_, err := client.FetchGroup(context.Background(), GroupStarlink)
	if !errors.Is(err, ErrCelestrakServerError) {
		t.Errorf("FetchGroup() error = %v, want ErrCelestrakServerError", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("Attempt count = %d, want 2", attempts.Load())
	}
}

// TestCelestrakClient_TooManyRequests 429 повторяется
func TestCelestrakClient_TooManyRequests(t *testing.T) {
	var attempts atomic.Int32
	client := newTestCelestrak(t, func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(issTLE))
	}, WithMaxRetries(2))

	rec, err := client.FetchByNoradID(context.Background(), 25544)
	if err != nil {
		t.Fatalf("FetchByNoradID() error = %v", err)
	}
	if rec.NoradID() != 25544 {
		t.Errorf("NoradID() = %d, want 25544", rec.NoradID())
	}
}

// TestCelestrakClient_ContextCancellation отмена контекста прерывает запрос
func TestCelestrakClient_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	client := newTestCelestrak(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.FetchByNoradID(ctx, 25544)
	if err == nil {
		t.Error("FetchByNoradID() expected error for context cancellation, got nil")
	}
}

func TestCelestrakClient_GroupURL(t *testing.T) {
	url := NewCelestrakClient().GroupURL(GroupStations)
	expected := "https://celestrak.org/NORAD/elements/gp.php?GROUP=stations&FORMAT=tle"
	if url != expected {
		t.Errorf("GroupURL() = %q, want %q", url, expected)
	}
}

// TestAvailableGroups проверяет список доступных групп
func TestAvailableGroups(t *testing.T) {
	groups := AvailableGroups()
	if len(groups) != len(AvailableGroupNames()) {
		t.Errorf("AvailableGroupNames() size differs from AvailableGroups()")
	}

	groupSet := make(map[SatelliteGroup]bool)
	for _, g := range groups {
		groupSet[g] = true
	}

	for _, g := range []SatelliteGroup{GroupStations, GroupAmateur, GroupCubesat, GroupStarlink} {
		if !groupSet[g] {
			t.Errorf("AvailableGroups() missing required group %q", g)
		}
	}
}

func TestIsValidGroup(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"starlink", true},
		{"Starlink", true},
		{"iridium-next", true},
		{"geo", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidGroup(tt.name); got != tt.want {
			t.Errorf("IsValidGroup(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
