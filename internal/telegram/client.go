package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const fetchLimit = 200

// Message is one post collected from a monitored channel.
type Message struct {
	ID     int64     `json:"id"`
	Date   time.Time `json:"date"`
	Text   string    `json:"text"`
	Source string    `json:"source"`
	Link   *string   `json:"link"`
}

// Client talks to the MTProto gateway service, which owns the actual
// Telegram sessions. The gateway exposes a small JSON API: message history
// for a peer, peer resolution, and sending on behalf of the bot.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchMessages returns posts from peer newer than since. A nil since means
// no lower bound. Service messages and empty posts are filtered out.
func (c *Client) FetchMessages(ctx context.Context, peer string, since *time.Time) ([]Message, error) {
	q := url.Values{}
	q.Set("peer", peer)
	q.Set("limit", strconv.Itoa(fetchLimit))
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}

	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/messages?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", peer, err)
	}

	messages := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// ResolvePeer resolves a channel handle into its numeric chat ID.
func (c *Client) ResolvePeer(ctx context.Context, identifier string) (int64, error) {
	body := map[string]string{"identifier": identifier}

	var resp struct {
		ChatID int64 `json:"chat_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/resolve", body, &resp); err != nil {
		return 0, fmt.Errorf("resolve %s: %w", identifier, err)
	}
	if resp.ChatID == 0 {
		return 0, fmt.Errorf("resolve %s: gateway returned no chat id", identifier)
	}
	return resp.ChatID, nil
}

// SendMessage delivers text to the target chat via the bot.
func (c *Client) SendMessage(ctx context.Context, target string, text string) error {
	body := map[string]string{"target": target, "text": text}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/send", body, nil); err != nil {
		return fmt.Errorf("send to %s: %w", target, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var reader io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if respBody != nil {
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("failed to parse gateway response: %w", err)
		}
	}
	return nil
}
