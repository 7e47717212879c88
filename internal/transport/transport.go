// ABOUTME: Messaging-bridge boundary: inbound webhook handler and outbound HTTP sender.
// ABOUTME: The actual WhatsApp client lives outside this service, behind these two hops.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/donafarma/dispatch/internal/dispatch"
	"github.com/donafarma/dispatch/internal/identity"
)

// WebhookSender delivers outbound texts by POSTing them to the bridge.
type WebhookSender struct {
	url    string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// NewWebhookSender builds a sender for the configured bridge endpoint.
func NewWebhookSender(url, token string, logger *slog.Logger) *WebhookSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSender{
		url:    url,
		token:  token,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "transport"),
	}
}

type outboundPayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendText implements dispatch.TextSender. The wire form of the identity is
// what the bridge expects, not the canonical form.
func (s *WebhookSender) SendText(ctx context.Context, to identity.ID, text string) error {
	body, err := json.Marshal(outboundPayload{To: to.Wire(), Text: text})
	if err != nil {
		return fmt.Errorf("encoding outbound message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating outbound request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("delivering outbound message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("bridge rejected outbound message: status %d", resp.StatusCode)
	}
	return nil
}

// LogSender is the no-bridge fallback: outbound texts go to the log. Used in
// development and in deployments that run the bridge separately.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender builds a sender that only logs.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With("component", "transport")}
}

// SendText implements dispatch.TextSender.
func (s *LogSender) SendText(_ context.Context, to identity.ID, text string) error {
	s.logger.Info("outbound message (no bridge configured)", "to", to, "text", text)
	return nil
}

type inboundPayload struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// InboundHandler returns the webhook endpoint the bridge POSTs customer
// messages to. Delivery into the scheduler is synchronous; the bridge gets a
// 202 once the message is accepted.
func InboundHandler(scheduler *dispatch.Scheduler, token string, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "transport")

	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var payload inboundPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if payload.From == "" {
			http.Error(w, "from is required", http.StatusBadRequest)
			return
		}

		scheduler.HandleInbound(r.Context(), dispatch.InboundMessage{
			From:       payload.From,
			Text:       payload.Text,
			ReceivedAt: time.Now(),
		})

		log.Debug("inbound message accepted", "from", payload.From)
		w.WriteHeader(http.StatusAccepted)
	}
}
