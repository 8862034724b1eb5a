package notifications

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/events"
)

const defaultBaseURL = "https://ntfy.sh"

var ErrDisabled = errors.New("notifications not configured")

// Client posts alerts to an ntfy topic. A nil *Client is valid; Send returns
// ErrDisabled.
type Client struct {
	http    *http.Client
	baseURL string
	topic   string
}

// New returns nil when topic is empty.
func New(topic string) *Client {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return nil
	}
	log.Info().Str("topic", topic).Msg("Ntfy notifications initialized")
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: defaultBaseURL,
		topic:   topic,
	}
}

// Send sends a notification to ntfy.sh
func (c *Client) Send(title, message string) error {
	if c == nil {
		return ErrDisabled
	}

	payload := map[string]interface{}{
		"topic":   c.topic,
		"title":   title,
		"message": message,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.baseURL, "/"), c.topic)
	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")
	return nil
}

// CycleAlerts is an events.Sink that reports finished runs started with
// StartSingleProcess.
type CycleAlerts struct {
	client *Client
}

func NewCycleAlerts(c *Client) *CycleAlerts {
	return &CycleAlerts{client: c}
}

func (a *CycleAlerts) Name() string { return "ntfy" }

func (a *CycleAlerts) Handle(e events.Event) {
	if e.Kind != events.CycleCompleted {
		return
	}
	msg := fmt.Sprintf("Run finished at %s, all channels closed.", e.At.Local().Format("15:04:05"))
	if err := a.client.Send("UF run complete", msg); err != nil && !errors.Is(err, ErrDisabled) {
		log.Warn().Err(err).Msg("Failed to send run complete alert")
	}
}
