// Package notify posts ladder events to Discord.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

const (
	colorRed   = 15158332 // 0xE74C3C
	colorBlue  = 3447003  // 0x3498DB
	colorGreen = 5763719  // 0x57F287

	defaultWebhookTimeout = 10 * time.Second
	maxRetries            = 3
)

type CrashAlert struct {
	BotID     string
	BotName   string
	OwnerName string
	Crashes   int
}

type ResultNotice struct {
	MatchID    string
	Bot1Name   string
	Bot2Name   string
	ResultType string
	GameSteps  int
	Requested  bool
}

// Notifier delivers ladder events. Callers treat failures as best-effort.
type Notifier interface {
	SendCrashAlert(ctx context.Context, alert CrashAlert) error
	PostResult(ctx context.Context, notice ResultNotice) error
}

type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

func NewCrashAlertPayload(a CrashAlert) WebhookPayload {
	return WebhookPayload{
		Embeds: []Embed{
			{
				Title:       "Bot crash limit reached",
				Description: fmt.Sprintf("%s crashed %d matches in a row and may need attention.", a.BotName, a.Crashes),
				Color:       colorRed,
				Fields: []EmbedField{
					{Name: "Bot", Value: a.BotName, Inline: true},
					{Name: "Owner", Value: a.OwnerName, Inline: true},
				},
			},
		},
	}
}

func NewResultPayload(n ResultNotice) WebhookPayload {
	color := colorGreen
	if n.Requested {
		color = colorBlue
	}
	return WebhookPayload{
		Embeds: []Embed{
			{
				Title: fmt.Sprintf("%s vs %s", n.Bot1Name, n.Bot2Name),
				Color: color,
				Fields: []EmbedField{
					{Name: "Result", Value: n.ResultType, Inline: true},
					{Name: "Game steps", Value: strconv.Itoa(n.GameSteps), Inline: true},
					{Name: "Match", Value: n.MatchID},
				},
			},
		},
	}
}

// WebhookClient sends notifications to a Discord webhook.
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
}

func NewWebhookClient(webhookURL string) *WebhookClient {
	return &WebhookClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: defaultWebhookTimeout},
	}
}

func (c *WebhookClient) SendCrashAlert(ctx context.Context, alert CrashAlert) error {
	return c.sendPayload(ctx, NewCrashAlertPayload(alert))
}

func (c *WebhookClient) PostResult(ctx context.Context, notice ResultNotice) error {
	return c.sendPayload(ctx, NewResultPayload(notice))
}

// sendPayload retries while Discord rate limits the webhook.
func (c *WebhookClient) sendPayload(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "failed to marshal payload")
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(data))
		if err != nil {
			return eris.Wrap(err, "failed to create request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return eris.Wrap(err, "request failed")
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := time.Second
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				wait = time.Duration(seconds) * time.Second
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return eris.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return eris.Errorf("webhook request failed after %d retries", maxRetries)
}

// LogNotifier only logs. Used when no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) SendCrashAlert(_ context.Context, a CrashAlert) error {
	log.Warn().Str("component", "notify").Str("bot", a.BotName).Int("crashes", a.Crashes).Msg("[Notify] crash limit reached")
	return nil
}

func (LogNotifier) PostResult(_ context.Context, n ResultNotice) error {
	log.Debug().Str("component", "notify").Str("match_id", n.MatchID).Str("result", n.ResultType).Msg("[Notify] result")
	return nil
}
