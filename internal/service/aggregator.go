package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivlasau/digestd/internal/models"
	"github.com/ivlasau/digestd/internal/telegram"
)

// SourceFetcher is the slice of the gateway client the aggregator needs.
type SourceFetcher interface {
	FetchMessages(ctx context.Context, peer string, since *time.Time) ([]telegram.Message, error)
	ResolvePeer(ctx context.Context, identifier string) (int64, error)
}

// SourceCache persists and invalidates resolved chat IDs on source rows.
type SourceCache interface {
	SetSourceChatID(ctx context.Context, sourceID string, chatID int64) error
	ClearSourceChatID(ctx context.Context, sourceID string) error
}

// Aggregator collects the union of new messages across a digest's sources.
// Failures are isolated per source: one broken channel never aborts
// collection for the others, so Collect has no error return.
type Aggregator struct {
	fetcher SourceFetcher
	cache   SourceCache
	logger  *zap.SugaredLogger
}

func NewAggregator(fetcher SourceFetcher, cache SourceCache, logger *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
	}
}

// Collect fans out one fetch per source and merges the results. Order across
// sources is not meaningful downstream; the summarizer treats the input as
// an unordered bag of posts.
func (a *Aggregator) Collect(ctx context.Context, sources []models.DigestSource, since *time.Time) []telegram.Message {
	var mu sync.Mutex
	var collected []telegram.Message

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			messages := a.collectOne(gctx, src, since)
			if len(messages) == 0 {
				return nil
			}
			mu.Lock()
			collected = append(collected, messages...)
			mu.Unlock()
			return nil
		})
	}
	// Per-source goroutines never return errors, only log them.
	_ = g.Wait()
	return collected
}

func (a *Aggregator) collectOne(ctx context.Context, src models.DigestSource, since *time.Time) []telegram.Message {
	hadCache := src.SourceChatID != nil

	if hadCache {
		peer := strconv.FormatInt(*src.SourceChatID, 10)
		messages, err := a.fetcher.FetchMessages(ctx, peer, since)
		if err == nil {
			return messages
		}
		a.logger.Warnw("fetch via cached chat id failed, invalidating cache",
			"source", src.SourceIdentifier, "chat_id", *src.SourceChatID, "error", err)
		if cerr := a.cache.ClearSourceChatID(ctx, src.ID); cerr != nil {
			a.logger.Errorw("failed to invalidate source cache", "source", src.SourceIdentifier, "error", cerr)
		}
	}

	messages, err := a.fetcher.FetchMessages(ctx, src.SourceIdentifier, since)
	if err != nil {
		a.logger.Errorw("failed to fetch source, skipping",
			"source", src.SourceIdentifier, "error", err)
		return nil
	}

	if !hadCache {
		// Best effort; resolution failure is silently ignored and the next
		// run simply fetches by identifier again.
		if chatID, err := a.fetcher.ResolvePeer(ctx, src.SourceIdentifier); err == nil {
			if cerr := a.cache.SetSourceChatID(ctx, src.ID, chatID); cerr != nil {
				a.logger.Warnw("failed to cache resolved chat id", "source", src.SourceIdentifier, "error", cerr)
			}
		}
	}
	return messages
}
