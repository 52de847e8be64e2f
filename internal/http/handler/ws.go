package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"vimani/internal/errs"
	"vimani/internal/model"
	"vimani/internal/orchestrator"
	"vimani/internal/validation"
)

// queueSize bounds the pending user messages and step decisions per connection.
const queueSize = 64

// Inbound frame types.
const (
	msgStartRun     = "START_RUN"
	msgUserMessage  = "USER_MESSAGE"
	msgStepDecision = "STEP_DECISION"
)

// wsConn is the part of a websocket connection the session uses.
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// inbound holds the union of all client frame fields.
type inbound struct {
	Type string `json:"type"`

	ToolKey      string         `json:"tool_key"`
	Intent       string         `json:"intent"`
	UserContext  map[string]any `json:"user_context"`
	FailOnStepID *string        `json:"fail_on_step_id"`

	RunID    string         `json:"run_id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`

	StepID   string             `json:"step_id"`
	Decision model.StepDecision `json:"decision"`
	Notes    string             `json:"notes"`
}

// WebSocketUpgrade rejects plain HTTP requests to the websocket route.
func WebSocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// WebSocket serves the run protocol. Each connection runs at most one run at a time.
func WebSocket(ctx context.Context, svc *orchestrator.Service, log zerolog.Logger) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		newWSSession(c, svc, log).serve(ctx)
	})
}

// wsSession is one client connection. It implements orchestrator.Session.
type wsSession struct {
	conn wsConn
	svc  *orchestrator.Service
	log  zerolog.Logger

	writeMu sync.Mutex

	userMessages chan model.Message
	decisions    chan model.StepDecisionMessage

	mu     sync.Mutex
	active bool
	wg     sync.WaitGroup
}

func newWSSession(conn wsConn, svc *orchestrator.Service, log zerolog.Logger) *wsSession {
	return &wsSession{
		conn:         conn,
		svc:          svc,
		log:          log.With().Str("component", "ws").Logger(),
		userMessages: make(chan model.Message, queueSize),
		decisions:    make(chan model.StepDecisionMessage, queueSize),
	}
}

// serve reads frames until the client goes away or sends malformed JSON.
// The active run is cancelled on return.
func (s *wsSession) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	closed := make(chan struct{})
	// closing the connection also unblocks ReadJSON on server shutdown
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
		close(closed)
	}()
	defer func() {
		cancel()
		<-closed
		s.wg.Wait()
	}()

	s.log.Debug().Msg("client connected")
	for {
		var msg inbound
		err := s.conn.ReadJSON(&msg)

		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case err == nil:
		case errors.As(err, &typeErr):
			s.sendError(errs.CodeInvalidMessage, fmt.Sprintf("invalid field %s", typeErr.Field))
			continue
		case errors.As(err, &syntaxErr):
			s.sendError(errs.CodeWSFailure, err.Error())
			return
		default:
			s.log.Debug().Err(err).Msg("client disconnected")
			return
		}

		switch msg.Type {
		case msgStartRun:
			s.startRun(ctx, msg)
		case msgUserMessage:
			s.enqueueUserMessage(msg)
		case msgStepDecision:
			s.enqueueDecision(msg)
		default:
			s.sendError(errs.CodeUnknownMessage, "Unknown message type")
		}
	}
}

func (s *wsSession) startRun(ctx context.Context, msg inbound) {
	req := orchestrator.RunRequest{
		ToolKey:     msg.ToolKey,
		Intent:      msg.Intent,
		UserContext: map[string]any{},
	}
	for k, v := range msg.UserContext {
		req.UserContext[k] = v
	}
	if msg.FailOnStepID != nil {
		req.UserContext[orchestrator.FailOnStepKey] = *msg.FailOnStepID
	}
	if err := validation.Struct(req); err != nil {
		s.sendError(errs.CodeInvalidMessage, err.Error())
		return
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		s.sendError(errs.CodeRunAlreadyActive, "A run is already active on this connection")
		return
	}
	s.active = true
	s.mu.Unlock()

	pc := s.svc.PlannerConfig()
	plannerType := "Mock"
	if pc.Mode == "llm" {
		plannerType = "LLM"
	}
	_ = s.write(model.DebugEvent("", fmt.Sprintf("START_RUN: OPENAI_API_KEY present=%t, planner=%s", pc.APIKey != "", plannerType)))

	p, err := s.svc.NewPlanner()
	if err != nil {
		s.setActive(false)
		text := err.Error()
		var e *errs.Error
		if errors.As(err, &e) {
			text = e.Envelope.Message
		}
		s.sendError(errs.CodePlannerInitFailed, text)
		return
	}
	_ = s.write(model.DebugEvent("", p.Describe()))

	s.drain()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.setActive(false)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Msg("run task crashed")
				s.setActive(false)
				s.sendError(errs.CodeRunTaskFailed, fmt.Sprintf("Run task crashed: %v", r))
			}
		}()

		res, err := s.svc.StartRun(ctx, req, p, s)
		// the connection accepts a new START_RUN once the terminal frame is out
		s.setActive(false)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var e *errs.Error
			if errors.As(err, &e) {
				_ = s.write(model.RunErrorEvent("", e.Envelope))
				return
			}
			s.sendError(errs.CodeRunTaskFailed, fmt.Sprintf("Run task crashed: %v", err))
			return
		}

		_ = s.write(model.Event{
			Type:       model.EventRunDone,
			RunID:      res.RunID,
			Status:     res.Status,
			ArchiveRef: res.ArchiveRef,
			Result:     res,
		})
	}()
}

func (s *wsSession) enqueueUserMessage(msg inbound) {
	select {
	case s.userMessages <- model.UserText(msg.Text, msg.Metadata):
	default:
		s.sendError(errs.CodeQueueFull, "Too many pending user messages")
	}
}

func (s *wsSession) enqueueDecision(msg inbound) {
	d := model.StepDecisionMessage{RunID: msg.RunID, StepID: msg.StepID, Decision: msg.Decision, Notes: msg.Notes}
	if err := validation.Struct(d); err != nil {
		s.sendError(errs.CodeInvalidMessage, err.Error())
		return
	}
	select {
	case s.decisions <- d:
	default:
		s.sendError(errs.CodeQueueFull, "Too many pending step decisions")
	}
}

// drain drops answers left over from a previous run.
func (s *wsSession) drain() {
	for {
		select {
		case <-s.userMessages:
		case <-s.decisions:
		default:
			return
		}
	}
}

func (s *wsSession) setActive(v bool) {
	s.mu.Lock()
	s.active = v
	s.mu.Unlock()
}

func (s *wsSession) sendError(code, message string) {
	env := errs.New(model.SourceOrchestrator, code, message).Envelope
	_ = s.write(model.RunErrorEvent("", env))
}

func (s *wsSession) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsSession) Send(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.Type == model.EventPlannerMessage {
		s.log.Debug().Str("run_id", ev.RunID).Msg("planner message sent")
	}
	return s.write(ev)
}

func (s *wsSession) NextUserMessage(ctx context.Context) (model.Message, error) {
	select {
	case m := <-s.userMessages:
		return m, nil
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}
}

func (s *wsSession) NextStepDecision(ctx context.Context) (model.StepDecisionMessage, error) {
	select {
	case d := <-s.decisions:
		return d, nil
	case <-ctx.Done():
		return model.StepDecisionMessage{}, ctx.Err()
	}
}
