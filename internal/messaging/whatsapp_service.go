package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/CedarClinic/ClinicPipe/internal/models"
	"github.com/CedarClinic/ClinicPipe/internal/whatsapp"
)

// WhatsAppService implements Service over a direct whatsmeow device session.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // nil when constructed with a mock sender
	responses chan models.InboundMessage
	done      chan struct{}
	once      sync.Once
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client:    client,
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
	}
	return s
}

// ValidateAndCanonicalizeRecipient implements Service. WhatsApp JIDs carry
// bare digits, so the canonical form has no plus prefix.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	cleaned, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(cleaned, "+"), nil
}

// SendMessage implements Service.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	return s.client.SendMessage(ctx, to, body)
}

// SendSelectionMenu implements Service, rendering the menu as numbered text.
func (s *WhatsAppService) SendSelectionMenu(ctx context.Context, to string, header string, menu models.SelectionMenu) error {
	return s.client.SendMessage(ctx, to, RenderMenu(header, menu))
}

// Start registers the inbound event handler when a full client is available.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService started without event handling (mock sender)")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop implements Service.
func (s *WhatsAppService) Stop() error {
	s.once.Do(func() {
		close(s.done)
		close(s.responses)
		if s.waClient != nil {
			s.waClient.Disconnect()
		}
	})
	slog.Info("WhatsAppService stopped")
	return nil
}

// Responses implements Service.
func (s *WhatsAppService) Responses() <-chan models.InboundMessage {
	return s.responses
}

// handleIncomingMessage normalizes one WhatsApp message event. Text comes
// from plain or extended messages; interactive list taps surface the tapped
// row's ID as the selection.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	var text, selectionID string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil:
		text = evt.Message.ExtendedTextMessage.GetText()
	case evt.Message.ListResponseMessage != nil:
		selectionID = evt.Message.ListResponseMessage.GetSingleSelectReply().GetSelectedRowID()
		text = evt.Message.ListResponseMessage.GetTitle()
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	inbound := models.InboundMessage{
		UserID:      evt.Info.Sender.User,
		MessageID:   evt.Info.ID,
		Text:        text,
		SelectionID: selectionID,
		Time:        evt.Info.Timestamp.Unix(),
	}

	select {
	case s.responses <- inbound:
		slog.Debug("WhatsAppService inbound message forwarded", "from", inbound.UserID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", inbound.UserID)
	case <-s.done:
	}
}
