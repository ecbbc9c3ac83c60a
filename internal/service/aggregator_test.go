package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ivlasau/digestd/internal/models"
	"github.com/ivlasau/digestd/internal/telegram"
)

type mockFetcher struct {
	mu           sync.Mutex
	fetchFunc    func(peer string, since *time.Time) ([]telegram.Message, error)
	resolveFunc  func(identifier string) (int64, error)
	fetchPeers   []string
	resolveCalls []string
}

func (m *mockFetcher) FetchMessages(ctx context.Context, peer string, since *time.Time) ([]telegram.Message, error) {
	m.mu.Lock()
	m.fetchPeers = append(m.fetchPeers, peer)
	m.mu.Unlock()
	return m.fetchFunc(peer, since)
}

func (m *mockFetcher) ResolvePeer(ctx context.Context, identifier string) (int64, error) {
	m.mu.Lock()
	m.resolveCalls = append(m.resolveCalls, identifier)
	m.mu.Unlock()
	if m.resolveFunc != nil {
		return m.resolveFunc(identifier)
	}
	return 0, errors.New("resolve not configured")
}

type mockSourceCache struct {
	mu      sync.Mutex
	set     map[string]int64
	cleared []string
}

func newMockSourceCache() *mockSourceCache {
	return &mockSourceCache{set: make(map[string]int64)}
}

func (m *mockSourceCache) SetSourceChatID(ctx context.Context, sourceID string, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set[sourceID] = chatID
	return nil
}

func (m *mockSourceCache) ClearSourceChatID(ctx context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, sourceID)
	return nil
}

func int64Ptr(v int64) *int64 {
	return &v
}

func TestAggregator_OneFailingSourceDoesNotAbortOthers(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(peer string, since *time.Time) ([]telegram.Message, error) {
			switch peer {
			case "@good":
				return []telegram.Message{{Text: "A"}}, nil
			case "@broken":
				return nil, errors.New("timeout")
			}
			return nil, errors.New("unexpected peer " + peer)
		},
		resolveFunc: func(identifier string) (int64, error) {
			return 0, errors.New("no resolution")
		},
	}

	agg := NewAggregator(fetcher, newMockSourceCache(), zap.NewNop().Sugar())
	messages := agg.Collect(context.Background(), []models.DigestSource{
		{ID: "s1", SourceIdentifier: "@good"},
		{ID: "s2", SourceIdentifier: "@broken"},
	}, nil)

	if len(messages) != 1 {
		t.Fatalf("expected 1 message from the healthy source, got %d", len(messages))
	}
	if messages[0].Text != "A" {
		t.Errorf("unexpected message %q", messages[0].Text)
	}
}

func TestAggregator_MergesAllSources(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(peer string, since *time.Time) ([]telegram.Message, error) {
			switch peer {
			case "@one":
				return []telegram.Message{{Text: "Msg 1"}}, nil
			case "@two":
				return []telegram.Message{{Text: "Msg 2"}, {Text: "Msg 3"}}, nil
			}
			return nil, errors.New("unexpected peer")
		},
		resolveFunc: func(identifier string) (int64, error) {
			return 0, errors.New("no resolution")
		},
	}

	agg := NewAggregator(fetcher, newMockSourceCache(), zap.NewNop().Sugar())
	messages := agg.Collect(context.Background(), []models.DigestSource{
		{ID: "s1", SourceIdentifier: "@one"},
		{ID: "s2", SourceIdentifier: "@two"},
	}, nil)

	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	seen := make(map[string]bool)
	for _, m := range messages {
		seen[m.Text] = true
	}
	for _, want := range []string{"Msg 1", "Msg 2", "Msg 3"} {
		if !seen[want] {
			t.Errorf("missing message %q", want)
		}
	}
}

func TestAggregator_PrefersCachedChatID(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(peer string, since *time.Time) ([]telegram.Message, error) {
			if peer != "-100123" {
				return nil, errors.New("expected cached peer, got " + peer)
			}
			return []telegram.Message{{Text: "cached"}}, nil
		},
	}

	cache := newMockSourceCache()
	agg := NewAggregator(fetcher, cache, zap.NewNop().Sugar())
	messages := agg.Collect(context.Background(), []models.DigestSource{
		{ID: "s1", SourceIdentifier: "@chan", SourceChatID: int64Ptr(-100123)},
	}, nil)

	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if len(fetcher.resolveCalls) != 0 {
		t.Error("must not resolve when a cached chat id worked")
	}
	if len(cache.cleared) != 0 {
		t.Error("must not invalidate a working cache entry")
	}
}

func TestAggregator_InvalidatesStaleCacheAndFallsBack(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(peer string, since *time.Time) ([]telegram.Message, error) {
			if peer == "-100123" {
				return nil, errors.New("peer gone")
			}
			return []telegram.Message{{Text: "via identifier"}}, nil
		},
	}

	cache := newMockSourceCache()
	agg := NewAggregator(fetcher, cache, zap.NewNop().Sugar())
	messages := agg.Collect(context.Background(), []models.DigestSource{
		{ID: "s1", SourceIdentifier: "@chan", SourceChatID: int64Ptr(-100123)},
	}, nil)

	if len(messages) != 1 || messages[0].Text != "via identifier" {
		t.Fatalf("expected fallback messages, got %+v", messages)
	}
	if len(cache.cleared) != 1 || cache.cleared[0] != "s1" {
		t.Errorf("expected cache invalidation for s1, got %v", cache.cleared)
	}
	// Re-resolution is left to the next run.
	if len(fetcher.resolveCalls) != 0 {
		t.Error("must not re-resolve within the same run after invalidation")
	}
}

func TestAggregator_CachesResolutionAfterIdentifierFetch(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(peer string, since *time.Time) ([]telegram.Message, error) {
			return []telegram.Message{{Text: "fresh"}}, nil
		},
		resolveFunc: func(identifier string) (int64, error) {
			return -100777, nil
		},
	}

	cache := newMockSourceCache()
	agg := NewAggregator(fetcher, cache, zap.NewNop().Sugar())
	agg.Collect(context.Background(), []models.DigestSource{
		{ID: "s1", SourceIdentifier: "@chan"},
	}, nil)

	if got := cache.set["s1"]; got != -100777 {
		t.Errorf("expected resolved chat id cached, got %d", got)
	}
}

func TestAggregator_ResolveFailureIsSilent(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(peer string, since *time.Time) ([]telegram.Message, error) {
			return []telegram.Message{{Text: "still works"}}, nil
		},
		resolveFunc: func(identifier string) (int64, error) {
			return 0, errors.New("resolution unavailable")
		},
	}

	cache := newMockSourceCache()
	agg := NewAggregator(fetcher, cache, zap.NewNop().Sugar())
	messages := agg.Collect(context.Background(), []models.DigestSource{
		{ID: "s1", SourceIdentifier: "@chan"},
	}, nil)

	if len(messages) != 1 {
		t.Fatalf("expected messages despite resolve failure, got %d", len(messages))
	}
	if len(cache.set) != 0 {
		t.Error("nothing should be cached when resolution fails")
	}
}

func TestAggregator_PassesWatermark(t *testing.T) {
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var gotSince *time.Time

	fetcher := &mockFetcher{
		fetchFunc: func(peer string, s *time.Time) ([]telegram.Message, error) {
			gotSince = s
			return nil, nil
		},
		resolveFunc: func(identifier string) (int64, error) {
			return 0, errors.New("no resolution")
		},
	}

	agg := NewAggregator(fetcher, newMockSourceCache(), zap.NewNop().Sugar())
	agg.Collect(context.Background(), []models.DigestSource{
		{ID: "s1", SourceIdentifier: "@chan"},
	}, &since)

	if gotSince == nil || !gotSince.Equal(since) {
		t.Errorf("expected watermark %v to reach the fetcher, got %v", since, gotSince)
	}
}
