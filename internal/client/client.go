// Package client talks to dm-service over HTTP and websocket.
package client

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

	"dm-service/internal/models"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dm-service: status %d", e.Status)
	}
	return fmt.Sprintf("dm-service: status %d: %s", e.Status, e.Message)
}

// Client calls the HTTP API as one member.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// New returns a client for baseURL authenticating with token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient swaps the underlying http.Client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpc = h
	return c
}

// Send posts a message to recipientID.
func (c *Client) Send(ctx context.Context, recipientID int, text string) (models.MessageSummary, error) {
	var out models.MessageSummary
	body := map[string]any{"recipient_id": recipientID, "text": text}
	err := c.do(ctx, http.MethodPost, "/messages", body, &out)
	return out, err
}

// OpenThread fetches the thread with otherID, marking it read.
func (c *Client) OpenThread(ctx context.Context, otherID int) (models.OpenedThread, error) {
	var out models.OpenedThread
	err := c.do(ctx, http.MethodGet, "/messages/thread/"+strconv.Itoa(otherID), nil, &out)
	return out, err
}

// List returns the inbox or outbox.
func (c *Client) List(ctx context.Context, container models.Container) ([]models.MessageSummary, error) {
	var out struct {
		Messages []models.MessageSummary `json:"messages"`
	}
	q := url.Values{"container": {string(container)}}
	err := c.do(ctx, http.MethodGet, "/messages?"+q.Encode(), nil, &out)
	return out.Messages, err
}

// Delete hides messageID from the caller.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

// UnreadCount returns the badge seed.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, "/messages/unread-count", nil, &out)
	return out.Count, err
}

// Presence lists members online on the server instance.
func (c *Client) Presence(ctx context.Context) ([]int, error) {
	var out struct {
		Members []int `json:"members"`
	}
	err := c.do(ctx, http.MethodGet, "/presence", nil, &out)
	return out.Members, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
