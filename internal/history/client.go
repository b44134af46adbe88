// Package history fetches paginated chat history from the PulsePal REST backend.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/tokenstore"
)

// Client calls GET /api/chat/rooms/{roomId}/messages. Pages come back
// oldest-first within the page, which is the order the cache stores.
type Client struct {
	base   string
	http   *http.Client
	tokens *tokenstore.Store
	logger *slog.Logger
}

// NewClient creates a history client for the given REST base URL. The bearer
// token is read from the store on every request so a refreshed token is used
// without re-wiring.
func NewClient(base string, tokens *tokenstore.Store) *Client {
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: 10 * time.Second},
		tokens: tokens,
		logger: slog.Default().With("service", "history"),
	}
}

type page struct {
	Messages []domain.Message `json:"messages"`
}

// Messages fetches up to limit messages for a room. A non-empty before id
// requests the page strictly older than that message.
func (c *Client) Messages(ctx context.Context, roomID string, limit int, before string) ([]domain.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != "" {
		q.Set("before", before)
	}
	endpoint := fmt.Sprintf("%s/api/chat/rooms/%s/messages?%s", c.base, url.PathEscape(roomID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	if token := c.tokens.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history for room %s: %w", roomID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history for room %s: unexpected status %d", roomID, resp.StatusCode)
	}

	var body page
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history for room %s: %w", roomID, err)
	}

	c.logger.Debug("history page fetched", "room", roomID, "count", len(body.Messages), "before", before)
	return body.Messages, nil
}
