package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/models"
	"github.com/CedarClinic/ClinicPipe/internal/twiliowhatsapp"
)

// TwilioService implements Service over Twilio's WhatsApp API. Inbound
// messages arrive via Twilio webhooks, which the HTTP layer feeds through
// EmitInbound.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	responses chan models.InboundMessage
	done      chan struct{}
	once      sync.Once
}

// NewTwilioService creates a TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:    client,
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient implements Service. Twilio requires E.164,
// so the canonical form carries a plus prefix.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	cleaned, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}
	return cleaned, nil
}

// SendMessage implements Service.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	return s.client.SendMessage(ctx, canonical, body)
}

// SendSelectionMenu implements Service. The Twilio Go SDK has no interactive
// list support, so the menu goes out as numbered text.
func (s *TwilioService) SendSelectionMenu(ctx context.Context, to string, header string, menu models.SelectionMenu) error {
	return s.SendMessage(ctx, to, RenderMenu(header, menu))
}

// Start implements Service. Twilio pushes inbound traffic over webhooks, so
// there is no polling to begin.
func (s *TwilioService) Start(ctx context.Context) error {
	slog.Debug("TwilioService started")
	return nil
}

// Stop implements Service.
func (s *TwilioService) Stop() error {
	s.once.Do(func() {
		close(s.done)
		close(s.responses)
	})
	slog.Info("TwilioService stopped")
	return nil
}

// Responses implements Service.
func (s *TwilioService) Responses() <-chan models.InboundMessage {
	return s.responses
}

// EmitInbound feeds one webhook-delivered message into the response stream.
func (s *TwilioService) EmitInbound(msg models.InboundMessage) {
	select {
	case s.responses <- msg:
		slog.Debug("TwilioService inbound message forwarded", "from", msg.UserID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", msg.UserID)
	case <-s.done:
	}
}
