// Package messaging defines the pluggable chat transport abstraction.
//
// Two transports are provided: a direct WhatsApp device session (whatsmeow)
// and Twilio's WhatsApp API. Both normalize inbound traffic into
// models.InboundMessage so the conversation engine never sees transport
// details.
package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size for the inbound channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel sends.
	DefaultChannelTimeout = 1 * time.Second
)

// Service is the message transport consumed by the engine.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier per the transport's rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a plain text message.
	SendMessage(ctx context.Context, to string, body string) error

	// SendSelectionMenu sends a menu of numbered options. Transports
	// without interactive lists render it as numbered text; replying with
	// the number or tapping the option are equivalent.
	SendSelectionMenu(ctx context.Context, to string, header string, menu models.SelectionMenu) error

	// Start begins background processing (e.g. event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns the channel of normalized inbound messages.
	Responses() <-chan models.InboundMessage
}

// RenderMenu formats a selection menu as numbered text.
func RenderMenu(header string, menu models.SelectionMenu) string {
	var b strings.Builder
	if header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	if menu.Title != "" {
		b.WriteString(menu.Title)
		b.WriteString(":\n")
	}
	for i, opt := range menu.Options {
		label := opt.Label
		// Slot labels already carry their display number.
		if !strings.HasPrefix(label, fmt.Sprintf("%d)", i+1)) {
			label = fmt.Sprintf("%d) %s", i+1, label)
		}
		b.WriteString(label)
		b.WriteString("\n")
	}
	b.WriteString("\nReply with a number to choose.")
	return b.String()
}

// canonicalizePhone strips formatting from a phone-number recipient and
// enforces a plausible digit count.
func canonicalizePhone(recipient string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(recipient))
	cleaned = strings.TrimPrefix(cleaned, "whatsapp:")
	digits := strings.TrimPrefix(cleaned, "+")
	if digits == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("recipient %q is not a phone number", recipient)
		}
	}
	if len(digits) < 8 || len(digits) > 15 {
		return "", fmt.Errorf("recipient %q has an implausible digit count", recipient)
	}
	return cleaned, nil
}
