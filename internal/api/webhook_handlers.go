package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// twilioWebhookHandler accepts inbound WhatsApp messages pushed by Twilio.
// The webhook is always acknowledged with 200 once the payload is readable;
// Twilio retries on anything else and the engine dedupes by MessageSid anyway.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}
	if s.twilioSvc == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("twilio transport not configured"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid form payload"))
		return
	}

	if s.opts.TwilioAuthToken != "" && !s.validTwilioSignature(r) {
		slog.Warn("Twilio webhook signature rejected", "remote", r.RemoteAddr)
		writeJSONResponse(w, http.StatusForbidden, models.Error("invalid signature"))
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	sid := r.PostFormValue("MessageSid")
	if from == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("missing From"))
		return
	}

	userID, err := s.msg.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Twilio webhook with invalid sender", "from", from, "error", err)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}

	s.twilioSvc.EmitInbound(models.InboundMessage{
		UserID:    userID,
		MessageID: sid,
		Text:      body,
		Time:      time.Now().Unix(),
	})
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// validTwilioSignature checks the X-Twilio-Signature header against the
// posted form, per Twilio's webhook security scheme.
func (s *Server) validTwilioSignature(r *http.Request) bool {
	validator := twilioclient.NewRequestValidator(s.opts.TwilioAuthToken)
	url := s.opts.PublicURL + r.URL.Path
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return validator.Validate(url, params, r.Header.Get("X-Twilio-Signature"))
}

// simulateRequest is the operator-facing payload for exercising the engine
// without a live transport.
type simulateRequest struct {
	UserID      string `json:"user_id"`
	MessageID   string `json:"message_id,omitempty"`
	Text        string `json:"text,omitempty"`
	SelectionID string `json:"selection_id,omitempty"`
}

type simulateReply struct {
	Text string                `json:"text,omitempty"`
	Menu *models.SelectionMenu `json:"menu,omitempty"`
}

// simulateHandler runs one message through the conversation machine
// synchronously and returns the replies instead of sending them.
func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid JSON payload"))
		return
	}
	if req.UserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}

	replies, err := s.machine.HandleMessage(r.Context(), models.InboundMessage{
		UserID:      req.UserID,
		MessageID:   req.MessageID,
		Text:        req.Text,
		SelectionID: req.SelectionID,
		Time:        time.Now().Unix(),
	})
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}

	out := make([]simulateReply, 0, len(replies))
	for _, reply := range replies {
		out = append(out, simulateReply{Text: reply.Text, Menu: reply.Menu})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}
