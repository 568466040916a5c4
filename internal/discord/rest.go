package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RESTClient implements CommandRegistry and Messenger over the
// collaborator's HTTP API.
type RESTClient struct {
	base          string
	applicationID string
	token         string
	http          *http.Client
}

// NewRESTClient creates a client. The token is a bot token from the
// environment, never from configuration files.
func NewRESTClient(base, applicationID, token string) *RESTClient {
	return &RESTClient{
		base:          base,
		applicationID: applicationID,
		token:         token,
		http:          &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterCommands replaces the registered command schema in one call.
func (c *RESTClient) RegisterCommands(ctx context.Context, commands []Command) error {
	url := fmt.Sprintf("%s/applications/%s/commands", c.base, c.applicationID)
	_, err := c.do(ctx, http.MethodPut, url, commands, nil)
	return err
}

type messagePayload struct {
	Content string `json:"content"`
}

type messageResponse struct {
	ID string `json:"id"`
}

// Post creates a new message and returns its reference.
func (c *RESTClient) Post(ctx context.Context, channelRef, content string) (MessageRef, error) {
	url := fmt.Sprintf("%s/channels/%s/messages", c.base, channelRef)
	var resp messageResponse
	if _, err := c.do(ctx, http.MethodPost, url, messagePayload{Content: content}, &resp); err != nil {
		return "", err
	}
	return MessageRef(resp.ID), nil
}

// Edit replaces the content of an existing message.
func (c *RESTClient) Edit(ctx context.Context, channelRef string, ref MessageRef, content string) error {
	url := fmt.Sprintf("%s/channels/%s/messages/%s", c.base, channelRef, ref)
	_, err := c.do(ctx, http.MethodPatch, url, messagePayload{Content: content}, nil)
	return err
}

// do issues one JSON request and maps the collaborator's failure modes onto
// the error taxonomy. Rate limits are surfaced, not retried here: the gate
// and the scheduler own their own retry policies.
func (c *RESTClient) do(ctx context.Context, method, url string, body, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, ErrMessageGone
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%s %s: HTTP %d: %s", method, url, resp.StatusCode, data)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// retryAfter reads the collaborator-reported delay, falling back to a
// conservative default when the header is absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		var secs float64
		if _, err := fmt.Sscanf(v, "%f", &secs); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 5 * time.Second
}
