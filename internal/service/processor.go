package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ivlasau/digestd/internal/models"
	"github.com/ivlasau/digestd/internal/repository"
	"github.com/ivlasau/digestd/internal/summarizer"
	"github.com/ivlasau/digestd/internal/telegram"
)

// DigestStore is the slice of the digest repository the pipeline needs.
type DigestStore interface {
	ListActiveIdle(ctx context.Context) ([]models.Digest, error)
	GetWithSources(ctx context.Context, id string) (*models.Digest, error)
	SetInProgress(ctx context.Context, ids []string, inProgress bool) error
	UpdateAfterRun(ctx context.Context, id string, lastRunAt *time.Time) error
}

// RunLedger records execution attempts.
type RunLedger interface {
	Create(ctx context.Context, digestID string) (string, error)
	Finalize(ctx context.Context, runID string, status models.RunStatus, messagesCount int, errorMessage *string) error
}

// MessageCollector gathers new messages across a digest's sources.
type MessageCollector interface {
	Collect(ctx context.Context, sources []models.DigestSource, since *time.Time) []telegram.Message
}

// Summarizer condenses collected posts into a digest text.
type Summarizer interface {
	Summarize(ctx context.Context, messages []telegram.Message, customInstructions *string) (*summarizer.Summary, error)
}

// MessageSender delivers the digest text to its target chat.
type MessageSender interface {
	SendMessage(ctx context.Context, target string, text string) error
}

// Result is the structured outcome of one digest run, returned synchronously
// so a manual trigger can report without polling the run log.
type Result struct {
	Success       bool   `json:"success"`
	MessagesCount int    `json:"messages_count"`
	TotalTokens   int    `json:"total_tokens,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Processor executes one digest end-to-end: load, collect, summarize,
// deliver, finalize. Whatever happens in the middle, finalize runs and the
// digest's in_progress flag is cleared.
type Processor struct {
	digests   DigestStore
	runs      RunLedger
	collector MessageCollector
	summarize Summarizer
	sender    MessageSender
	logger    *zap.SugaredLogger
}

func NewProcessor(
	digests DigestStore,
	runs RunLedger,
	collector MessageCollector,
	summarize Summarizer,
	sender MessageSender,
	logger *zap.SugaredLogger,
) *Processor {
	return &Processor{
		digests:   digests,
		runs:      runs,
		collector: collector,
		summarize: summarize,
		sender:    sender,
		logger:    logger,
	}
}

// Run processes a single digest. sinceOverride, when set by a manual
// trigger, replaces the digest's last-run watermark. The caller is expected
// to have set the digest's in_progress flag already.
func (p *Processor) Run(ctx context.Context, digestID string, sinceOverride *time.Time) Result {
	digest, err := p.digests.GetWithSources(ctx, digestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Digests may be deleted between scheduling and execution.
			p.logger.Warnw("digest not found, skipping run", "digest_id", digestID)
			return Result{Success: false, Error: "digest not found"}
		}
		p.logger.Errorw("failed to load digest", "digest_id", digestID, "error", err)
		return Result{Success: false, Error: fmt.Sprintf("load digest: %v", err)}
	}

	since := sinceOverride
	if since == nil {
		since = digest.LastRunAt
	}

	// Committed before any network call so a crash mid-run leaves an
	// observable "running" record.
	runID, err := p.runs.Create(ctx, digestID)
	if err != nil {
		p.logger.Errorw("failed to create run log", "digest_id", digestID, "error", err)
		return Result{Success: false, Error: fmt.Sprintf("create run log: %v", err)}
	}

	messages := p.collector.Collect(ctx, digest.Sources, since)
	if len(messages) == 0 {
		// Empty digests are not sent.
		p.logger.Infow("no new messages", "digest_id", digestID)
		p.finalize(ctx, digestID, runID, true, 0, nil)
		return Result{Success: true, MessagesCount: 0}
	}

	summary, err := p.summarize.Summarize(ctx, messages, digest.CustomPrompt)
	if err != nil {
		return p.fail(ctx, digestID, runID, len(messages), fmt.Errorf("summarize: %w", err))
	}
	p.logger.Infow("summarizer usage",
		"digest_id", digestID,
		"prompt_tokens", summary.PromptTokens,
		"completion_tokens", summary.CompletionTokens,
		"total_tokens", summary.TotalTokens)

	if err := p.sender.SendMessage(ctx, digest.TargetChatID, summary.Text); err != nil {
		return p.fail(ctx, digestID, runID, len(messages), fmt.Errorf("deliver: %w", err))
	}

	p.finalize(ctx, digestID, runID, true, len(messages), nil)
	p.logger.Infow("digest processed", "digest_id", digestID, "messages", len(messages))
	return Result{
		Success:       true,
		MessagesCount: len(messages),
		TotalTokens:   summary.TotalTokens,
	}
}

func (p *Processor) fail(ctx context.Context, digestID, runID string, messagesCount int, runErr error) Result {
	p.logger.Errorw("digest run failed", "digest_id", digestID, "error", runErr)
	msg := runErr.Error()
	p.finalize(ctx, digestID, runID, false, messagesCount, &msg)
	return Result{Success: false, MessagesCount: messagesCount, Error: msg}
}

// finalize clears the exclusivity flag and moves the run log to a terminal
// state. Best effort: a finalize failure is logged, never re-raised, even
// though it can leave in_progress stuck until manual recovery. Detached from
// cancellation so a shutdown mid-run still records its outcome.
func (p *Processor) finalize(ctx context.Context, digestID, runID string, success bool, messagesCount int, errorMessage *string) {
	fctx := context.WithoutCancel(ctx)

	var lastRunAt *time.Time
	if success {
		now := time.Now().UTC()
		lastRunAt = &now
	}
	if err := p.digests.UpdateAfterRun(fctx, digestID, lastRunAt); err != nil {
		p.logger.Errorw("failed to finalize digest", "digest_id", digestID, "error", err)
	}

	status := models.RunStatusSuccess
	if !success {
		status = models.RunStatusError
	}
	if err := p.runs.Finalize(fctx, runID, status, messagesCount, errorMessage); err != nil {
		p.logger.Errorw("failed to finalize run log", "run_id", runID, "error", err)
	}
}
