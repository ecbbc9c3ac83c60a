package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ivlasau/digestd/internal/telegram"
)

const (
	DeepSeekAPIURL = "https://api.deepseek.com/v1/chat/completions"

	// Input shaping: keep the prompt bounded no matter how noisy the
	// sources are. Posts beyond these budgets are dropped, not errored.
	maxPosts      = 50
	maxPostChars  = 1000
	maxTotalChars = 12000

	maxAttempts = 3
	baseBackoff = 1 * time.Second
	maxBackoff  = 10 * time.Second

	baseMaxTokens = 300
	perPostTokens = 40
	maxTokensCap  = 800
)

// EmptySummaryText is returned when there is nothing to summarize.
const EmptySummaryText = "No new messages."

const systemPrompt = "You summarize Telegram news digests. " +
	"Write a short, prioritized summary of 3-7 bullet points. " +
	"Stick to the facts, do not mention the source channels. " +
	"If a post has a link, include that URL once in its bullet point."

// Summary is the result of one summarization call.
type Summary struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Truncated        bool
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

func NewClient(apiKey string, logger *zap.SugaredLogger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: DeepSeekAPIURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Summarize condenses the collected posts into a short digest text.
// Transient backend failures (connection errors, 5xx, 429) are retried with
// exponential backoff; other 4xx responses fail immediately. Either way the
// caller sees a single error once the attempt budget is spent.
func (c *Client) Summarize(ctx context.Context, messages []telegram.Message, customInstructions *string) (*Summary, error) {
	if len(messages) == 0 {
		return &Summary{Text: EmptySummaryText}, nil
	}

	posts, dropped := shapePosts(messages)
	if dropped > 0 {
		c.logger.Infow("truncated summarizer input", "kept", len(posts), "dropped", dropped)
	}

	payload := map[string]interface{}{
		"model": "deepseek-chat",
		"messages": []map[string]string{
			{"role": "system", "content": buildSystemPrompt(customInstructions)},
			{"role": "user", "content": buildUserPrompt(posts)},
		},
		"temperature": 0.2,
		"max_tokens":  maxTokensFor(len(posts)),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		summary, err := c.call(ctx, jsonData)
		if err == nil {
			return summary, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		c.logger.Warnw("summarizer call failed, will retry", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("summarizer failed after %d attempts: %w", maxAttempts, lastErr)
}

// statusError marks an HTTP-layer failure so the retry loop can classify it.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.code, e.body)
}

// errMalformedResponse marks a 200 response the client could not use.
// Resending the same request will not change the body, so it is never
// retried.
var errMalformedResponse = errors.New("malformed API response")

func isRetryable(err error) bool {
	if errors.Is(err, errMalformedResponse) {
		return false
	}
	if se, ok := err.(*statusError); ok {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	// Connection errors and timeouts come through as plain transport errors.
	return true
}

func (c *Client) call(ctx context.Context, jsonData []byte) (*Summary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", errMalformedResponse)
	}

	choice := apiResp.Choices[0]
	summary := &Summary{
		Text:             strings.TrimSpace(choice.Message.Content),
		PromptTokens:     apiResp.Usage.PromptTokens,
		CompletionTokens: apiResp.Usage.CompletionTokens,
		TotalTokens:      apiResp.Usage.TotalTokens,
	}

	if choice.FinishReason == "length" {
		summary.Text = repairTruncated(summary.Text)
		summary.Truncated = true
		c.logger.Warnw("summarizer output hit the length limit, repaired")
	}
	return summary, nil
}

// shapePosts applies the input budgets: individual posts are cut to
// maxPostChars with an ellipsis, at most maxPosts are kept, and the combined
// text stays under maxTotalChars. Budgets count runes, not bytes, so
// multi-byte text is never cut mid-character. Returns the kept posts and how
// many non-empty posts the budgets discarded; empty posts are filtered
// silently.
func shapePosts(messages []telegram.Message) ([]telegram.Message, int) {
	total := 0
	dropped := 0
	kept := make([]telegram.Message, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		if len(kept) >= maxPosts {
			dropped++
			continue
		}
		text = truncateRunes(text, maxPostChars)
		n := utf8.RuneCountInString(text)
		if total+n > maxTotalChars {
			dropped++
			continue
		}
		total += n
		m.Text = text
		kept = append(kept, m)
	}
	return kept, dropped
}

// truncateRunes bounds text to max runes, appending an ellipsis when
// anything was cut.
func truncateRunes(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max]) + "…"
}

func buildSystemPrompt(customInstructions *string) string {
	if customInstructions == nil || strings.TrimSpace(*customInstructions) == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\nAdditional instructions from the digest owner:\n" + strings.TrimSpace(*customInstructions)
}

func buildUserPrompt(posts []telegram.Message) string {
	var b strings.Builder
	b.WriteString("Compose the digest from these posts:\n\n")
	for i, p := range posts {
		fmt.Fprintf(&b, "[Post %d]\n%s\n", i+1, p.Text)
		if p.Link != nil && *p.Link != "" {
			fmt.Fprintf(&b, "Link: %s\n", *p.Link)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func maxTokensFor(postCount int) int {
	tokens := baseMaxTokens + perPostTokens*postCount
	if tokens > maxTokensCap {
		return maxTokensCap
	}
	return tokens
}

// repairTruncated drops a trailing line that was cut off mid-sentence and
// appends a shortened notice. A line is considered complete when it ends in
// sentence-final punctuation or carries a link. Best effort only.
func repairTruncated(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if len(lines) > 1 && last != "" && !lineComplete(last) {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n\n(shortened)"
}

func lineComplete(line string) bool {
	if strings.Contains(line, "http://") || strings.Contains(line, "https://") {
		return true
	}
	return strings.HasSuffix(line, ".") ||
		strings.HasSuffix(line, "!") ||
		strings.HasSuffix(line, "?") ||
		strings.HasSuffix(line, "…")
}

func sleepBackoff(ctx context.Context, attempt int) error {
	wait := baseBackoff << (attempt - 1)
	if wait > maxBackoff {
		wait = maxBackoff
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
