package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSearchBaseStaticValue(t *testing.T) {
	sb := NewSearchBase("https://listing.example", time.Minute, nil)

	for i := 0; i < 3; i++ {
		if got := sb.Get(context.Background()); got != "https://listing.example" {
			t.Fatalf("Get %d returned %q", i, got)
		}
	}
}

func TestSearchBaseRefreshesAfterTTL(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "https://listing-v2.example", nil
	}

	sb := NewSearchBase("", 10*time.Millisecond, fetch)

	// empty seed forces an immediate fetch
	if got := sb.Get(context.Background()); got != "https://listing-v2.example" {
		t.Fatalf("Got %q after initial fetch", got)
	}
	if calls != 1 {
		t.Fatalf("Expected 1 fetch, got %d", calls)
	}

	// fresh value is served without refetching
	sb.Get(context.Background())
	if calls != 1 {
		t.Errorf("Fetched again inside TTL, calls=%d", calls)
	}

	time.Sleep(20 * time.Millisecond)
	sb.Get(context.Background())
	if calls != 2 {
		t.Errorf("Expected refresh after TTL, calls=%d", calls)
	}
}

func TestSearchBaseKeepsValueOnFetchError(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "https://listing.example", nil
		}
		return "", errors.New("listing site down")
	}

	sb := NewSearchBase("", 5*time.Millisecond, fetch)

	first := sb.Get(context.Background())
	time.Sleep(10 * time.Millisecond)
	second := sb.Get(context.Background())

	if first != "https://listing.example" || second != first {
		t.Errorf("Failed refresh must keep serving the old value, got %q then %q", first, second)
	}
}
