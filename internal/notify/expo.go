package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/umar/rental-chat/internal/models"
)

const DefaultExpoEndpoint = "https://exp.host/--/api/v2/push/send"

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type expoResponse struct {
	Data []expoTicket `json:"data"`
}

// ExpoClient sends push messages through an Expo-compatible HTTP endpoint.
type ExpoClient struct {
	endpoint string
	http     *http.Client
}

func NewExpoClient(endpoint string, timeout time.Duration) *ExpoClient {
	if endpoint == "" {
		endpoint = DefaultExpoEndpoint
	}
	return &ExpoClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *ExpoClient) Push(ctx context.Context, tokens []string, msg PushMessage) error {
	batch := make([]expoMessage, 0, len(tokens))
	for _, t := range tokens {
		batch = append(batch, expoMessage{
			To:    t,
			Title: msg.Title,
			Body:  msg.Body,
			Data:  msg.Data,
			Sound: "default",
		})
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode push batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to send push: %w", models.ErrTransientIO, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: push endpoint returned %d: %s", models.ErrTransientIO, resp.StatusCode, snippet)
	}

	var out expoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// Delivered; the receipt body is informational only.
		slog.Debug("unreadable push response", "error", err)
		return nil
	}
	for i, ticket := range out.Data {
		if ticket.Status == "error" && i < len(tokens) {
			slog.Warn("push rejected", "token", tokens[i], "message", ticket.Message)
		}
	}
	return nil
}
