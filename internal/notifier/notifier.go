package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"ttufish/tank-monitor/internal/metrics"
)

const (
	// DefaultAPIBase is the Telegram Bot API endpoint.
	DefaultAPIBase = "https://api.telegram.org"
	// QueueSize bounds the messages waiting for the sender; extras are dropped.
	QueueSize = 32

	sendTimeout = 2 * time.Second
	testMessage = "Tank monitor test notification"
)

// ErrNotConfigured is returned by SendTest when no usable credentials are set.
var ErrNotConfigured = errors.New("telegram credentials not configured")

// CredentialSource yields the bot token and chat id at send time.
type CredentialSource interface {
	Credentials() (token, chatID string, ok bool)
}

// Notifier delivers text messages to a Telegram chat. Notify only enqueues;
// a single Run goroutine performs the HTTP calls.
type Notifier struct {
	creds   CredentialSource
	client  *resty.Client
	queue   chan string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// New returns a Notifier posting to apiBase, or DefaultAPIBase when empty.
// Nothing is sent until Run is started.
func New(creds CredentialSource, apiBase string, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	client := resty.New().
		SetBaseURL(apiBase).
		SetTimeout(sendTimeout).
		SetHeader("Accept", "application/json")

	return &Notifier{
		creds:   creds,
		client:  client,
		queue:   make(chan string, QueueSize),
		logger:  logger,
		metrics: m,
	}
}

// Notify queues text for delivery. It never blocks: with no credentials the
// call is a no-op, and a full queue drops the message.
func (n *Notifier) Notify(text string) {
	if _, _, ok := n.creds.Credentials(); !ok {
		n.metrics.Notification("skipped")
		return
	}

	select {
	case n.queue <- text:
	default:
		n.metrics.Notification("dropped")
		n.logger.Warn("notification queue full, dropping message")
	}
}

// Run sends queued messages until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.queue:
			token, chatID, ok := n.creds.Credentials()
			if !ok {
				n.metrics.Notification("skipped")
				continue
			}
			if err := n.send(ctx, token, chatID, text); err != nil {
				n.metrics.Notification("failed")
				n.logger.Error("telegram send failed", "error", err)
				continue
			}
			n.metrics.Notification("sent")
		}
	}
}

// SendTest delivers a test message synchronously.
func (n *Notifier) SendTest(ctx context.Context) error {
	token, chatID, ok := n.creds.Credentials()
	if !ok {
		return ErrNotConfigured
	}
	err := n.send(ctx, token, chatID, testMessage)
	if err != nil {
		n.metrics.Notification("failed")
		return err
	}
	n.metrics.Notification("sent")
	return nil
}

func (n *Notifier) send(ctx context.Context, token, chatID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	resp, err := n.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id": chatID,
			"text":    text,
		}).
		Post("/bot" + token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("post sendMessage: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode(), err)
	}
	if !result.OK {
		return fmt.Errorf("telegram api error %d: %s", result.ErrorCode, result.Description)
	}
	return nil
}
