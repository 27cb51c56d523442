package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	colorRed   = 16711680
	colorGreen = 65280
	// Discord rejects embed descriptions above 4096 characters.
	maxDescription = 4000
)

type DiscordMessage struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// Notifier posts run results to a Discord webhook. A Notifier without a URL
// does nothing.
type Notifier struct {
	URL    string
	Client *http.Client
}

func NewNotifier(url string) *Notifier {
	return &Notifier{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (n *Notifier) Enabled() bool { return n != nil && n.URL != "" }

func (n *Notifier) SendError(ctx context.Context, errorMessage string) error {
	return n.send(ctx, DiscordEmbed{
		Title:       "🚨 Regrid failed",
		Description: fmt.Sprintf("An error occurred: %s", errorMessage),
		Color:       colorRed,
	})
}

func (n *Notifier) SendSuccess(ctx context.Context, successMessage string) error {
	return n.send(ctx, DiscordEmbed{
		Title:       "✅ Regrid finished",
		Description: successMessage,
		Color:       colorGreen,
	})
}

func (n *Notifier) send(ctx context.Context, embed DiscordEmbed) error {
	if !n.Enabled() {
		return nil
	}
	if len(embed.Description) > maxDescription {
		embed.Description = embed.Description[:maxDescription] + "…"
	}
	payload, err := json.Marshal(DiscordMessage{Embeds: []DiscordEmbed{embed}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to send Discord notification, status code: %d", resp.StatusCode)
	}
	return nil
}
