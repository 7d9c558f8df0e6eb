package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bprzybys-nc/manager-sub001/approval"
)

// Webhook posts messages and questions as JSON to a chat bridge. The
// bridge renders questions with yes/no buttons and reports answers to the
// engine's confirmation endpoint with the question's correlation id.
type Webhook struct {
	url    string
	client *http.Client
}

var (
	_ Channel          = (*Webhook)(nil)
	_ approval.Gateway = (*Webhook)(nil)
)

type webhookPayload struct {
	Kind          string `json:"kind"`
	ThreadID      string `json:"thread_id,omitempty"`
	Text          string `json:"text"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type webhookReply struct {
	ThreadID string `json:"thread_id"`
}

// NewWebhook creates a Webhook channel. A nil client uses a client with a
// 10 second timeout.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, client: client}
}

// Post implements Channel.
func (w *Webhook) Post(ctx context.Context, threadID string, msg Message) (string, error) {
	reply, err := w.send(ctx, webhookPayload{Kind: "message", ThreadID: threadID, Text: msg.Markdown()})
	if err != nil {
		return "", err
	}
	if reply.ThreadID == "" {
		return threadID, nil
	}
	return reply.ThreadID, nil
}

// Ask implements approval.Gateway.
func (w *Webhook) Ask(ctx context.Context, correlationID, threadID, text string) error {
	_, err := w.send(ctx, webhookPayload{
		Kind:          "question",
		ThreadID:      threadID,
		Text:          text,
		CorrelationID: correlationID,
	})
	return err
}

func (w *Webhook) send(ctx context.Context, p webhookPayload) (*webhookReply, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("chat: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat: post %s: %w", p.Kind, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("chat: post %s: status %d: %s", p.Kind, resp.StatusCode, bytes.TrimSpace(data))
	}
	var reply webhookReply
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &reply); err != nil {
			return nil, fmt.Errorf("chat: decode reply: %w", err)
		}
	}
	return &reply, nil
}
