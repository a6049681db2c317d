package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/booking"
	"github.com/CedarClinic/ClinicPipe/internal/flow"
	"github.com/CedarClinic/ClinicPipe/internal/messaging"
	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	TwilioAuthToken string // enables webhook signature validation when set
	PublicURL       string // externally visible base URL, used for signature validation
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioAuthToken enables Twilio webhook signature validation.
func WithTwilioAuthToken(token string) Option {
	return func(o *Opts) { o.TwilioAuthToken = token }
}

// WithPublicURL sets the externally visible base URL for signature validation.
func WithPublicURL(url string) Option {
	return func(o *Opts) { o.PublicURL = url }
}

// Server wires the conversation machine, transport, and booking handler into
// an HTTP service.
type Server struct {
	machine   *flow.Machine
	msg       messaging.Service
	handler   *booking.Handler
	twilioSvc *messaging.TwilioService // non-nil when the transport is Twilio
	opts      Opts
	httpSrv   *http.Server
}

// NewServer creates the API server. When the messaging service is a
// TwilioService, the Twilio webhook endpoint feeds it directly.
func NewServer(machine *flow.Machine, msg messaging.Service, handler *booking.Handler, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{machine: machine, msg: msg, handler: handler, opts: cfg}
	if twilioSvc, ok := msg.(*messaging.TwilioService); ok {
		s.twilioSvc = twilioSvc
	}
	return s
}

// Run starts the transport, the inbound message pump, and the HTTP listener.
// It blocks until the context is cancelled, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.msg.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	go s.pumpResponses(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("/simulate", s.simulateHandler)
	mux.HandleFunc("/triage", s.triageHandler)

	s.httpSrv = &http.Server{Addr: s.opts.Addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.opts.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
	}
	if err := s.msg.Stop(); err != nil {
		slog.Error("Messaging service stop failed", "error", err)
	}
	return nil
}

// pumpResponses consumes inbound transport messages and runs each through the
// conversation machine, sending the replies back out. One message is one
// synchronous step; per-user ordering follows transport delivery order.
func (s *Server) pumpResponses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.msg.Responses():
			if !ok {
				return
			}
			s.processInbound(ctx, msg)
		}
	}
}

func (s *Server) processInbound(ctx context.Context, msg models.InboundMessage) {
	replies, err := s.machine.HandleMessage(ctx, msg)
	if err != nil {
		slog.Error("Message handling failed", "userID", msg.UserID, "error", err)
		return
	}
	for _, reply := range replies {
		if err := s.sendReply(ctx, msg.UserID, reply); err != nil {
			slog.Error("Reply delivery failed", "userID", msg.UserID, "error", err)
		}
	}
}

func (s *Server) sendReply(ctx context.Context, to string, reply flow.Reply) error {
	if reply.Menu != nil {
		return s.msg.SendSelectionMenu(ctx, to, reply.Text, *reply.Menu)
	}
	if reply.Text == "" {
		return nil
	}
	return s.msg.SendMessage(ctx, to, reply.Text)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// triageHandler lists handoff tickets for clinic staff tooling.
func (s *Server) triageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.handler.TriageTickets()))
}
