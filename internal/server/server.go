package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	hertzserver "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/google/uuid"

	"github.com/drivana/sales-agent/internal/agent/graph"
	"github.com/drivana/sales-agent/internal/agent/model"
	"github.com/drivana/sales-agent/internal/core/errx"
	logx "github.com/drivana/sales-agent/pkg/logger"
)

// TurnFailureReply is what the user receives when a turn fails before
// producing a reply. Every inbound message gets exactly one reply, even on
// an internal fault.
const TurnFailureReply = "Lo siento, tuve un problema para procesar tu mensaje. " +
	"¿Podrias intentarlo de nuevo en un momento?"

// Deliverer pushes the reply out on the messaging channel the webhook came
// from. The webhook response itself also carries the reply, so delivery is
// best-effort.
type Deliverer interface {
	Deliver(ctx context.Context, to, from, body string) error
}

// LogDeliverer is the default Deliverer. It only logs; a real channel
// integration replaces it at wiring time.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(ctx context.Context, to, from, body string) error {
	logx.Info().
		Str("to", to).
		Str("from", from).
		Int("body_len", len(body)).
		Msg("Outbound message delivered")
	return nil
}

// Server exposes the conversation webhook over HTTP.
type Server struct {
	cfg       model.ServerConfig
	runner    graph.Runner
	states    model.StateRepository
	deliverer Deliverer
	hz        *hertzserver.Hertz
}

// New builds the HTTP server and registers its routes.
func New(cfg model.ServerConfig, runner graph.Runner, states model.StateRepository, deliverer Deliverer) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("graph runner is nil")
	}
	if states == nil {
		return nil, fmt.Errorf("state repository is nil")
	}
	if deliverer == nil {
		deliverer = LogDeliverer{}
	}

	s := &Server{
		cfg:       cfg,
		runner:    runner,
		states:    states,
		deliverer: deliverer,
	}

	s.hz = hertzserver.Default(
		hertzserver.WithHostPorts(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
	)
	s.hz.GET("/healthz", s.handleHealth)
	s.hz.POST("/api/chat", s.handleChat)
	s.hz.DELETE("/api/conversations/:id", s.handleClear)

	return s, nil
}

// Run blocks serving HTTP until the process is told to stop.
func (s *Server) Run() error {
	logx.Info().
		Str("host", s.cfg.Host).
		Int("port", s.cfg.Port).
		Msg("HTTP server listening")
	return s.hz.Run()
}

func (s *Server) handleHealth(ctx context.Context, c *app.RequestContext) {
	c.JSON(http.StatusOK, utils.H{"status": "ok"})
}

// handleChat is the inbound message webhook. It speaks the WhatsApp-style
// form contract: Body is the message text, WaId identifies the conversation,
// From/To are the channel addresses.
func (s *Server) handleChat(ctx context.Context, c *app.RequestContext) {
	body := strings.TrimSpace(string(c.FormValue("Body")))
	waID := strings.TrimSpace(string(c.FormValue("WaId")))
	from := strings.TrimSpace(string(c.FormValue("From")))
	to := strings.TrimSpace(string(c.FormValue("To")))

	if body == "" || waID == "" {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Body and WaId are required"})
		return
	}

	correlationID := uuid.NewString()
	logx.Info().
		Str("conversation_id", waID).
		Str("correlation_id", correlationID).
		Msg("Inbound message received")

	reply, err := s.runner.Invoke(ctx, model.TurnInput{
		ConversationID: waID,
		Message:        body,
		CorrelationID:  correlationID,
	})
	if err != nil {
		// The user always gets a reply in persona. The machine detail
		// stays in the logs.
		logx.Error().
			Err(err).
			Str("conversation_id", waID).
			Str("correlation_id", correlationID).
			Msg("Turn failed, replying with apology")
		reply = TurnFailureReply
	}

	// From the user's perspective the reply travels back on the same
	// channel; the JSON body exists for the webhook caller.
	if from != "" {
		if err := s.deliverer.Deliver(ctx, from, to, reply); err != nil {
			logx.Error().
				Err(err).
				Str("conversation_id", waID).
				Msg("Outbound delivery failed")
		}
	}

	c.JSON(http.StatusOK, utils.H{
		"conversation_id": waID,
		"correlation_id":  correlationID,
		"reply":           reply,
	})
}

// handleClear drops the persisted conversation so the next message starts
// fresh.
func (s *Server) handleClear(ctx context.Context, c *app.RequestContext) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, utils.H{"error": "conversation id is required"})
		return
	}
	if err := s.states.Clear(ctx, id); err != nil {
		logx.Error().Err(err).Str("conversation_id", id).Msg("Failed to clear conversation")
		c.JSON(http.StatusInternalServerError, utils.H{"error": errx.SystemErrorMessage})
		return
	}
	c.JSON(http.StatusOK, utils.H{"conversation_id": id, "cleared": true})
}
