// README: Chat-bot and spreadsheet webhook channels (JSON POST).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ChatWebhook posts {chat_id, text} to a messaging bot endpoint.
type ChatWebhook struct {
	URL    string
	ChatID string
	Client *http.Client
}

func (c *ChatWebhook) Name() string { return "chat" }

func (c *ChatWebhook) Handles(k Kind) bool {
	switch k {
	case KindAcceptedNow, KindClaimedTomorrow, KindScheduledStarted:
		return true
	default:
		return false
	}
}

func (c *ChatWebhook) Send(ctx context.Context, e Event) error {
	resp, err := postJSON(ctx, c.Client, c.URL, map[string]string{
		"chat_id": c.ChatID,
		"text":    e.Text(),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook: status %d", resp.StatusCode)
	}
	return nil
}

// SheetWebhook appends a row on immediate accept. The response is ignored.
type SheetWebhook struct {
	URL    string
	Client *http.Client
}

func (s *SheetWebhook) Name() string { return "sheet" }

func (s *SheetWebhook) Handles(k Kind) bool { return k == KindAcceptedNow }

func (s *SheetWebhook) Send(ctx context.Context, e Event) error {
	resp, err := postJSON(ctx, s.Client, s.URL, map[string]string{
		"action":    "accept",
		"orderId":   e.OrderID.String(),
		"riderName": e.RiderName,
		"status":    e.Status,
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}
