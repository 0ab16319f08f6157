package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/middleware"
	"github.com/stemsi/intervu-backend/internal/model"
	"github.com/stemsi/intervu-backend/internal/response"
	"github.com/stemsi/intervu-backend/internal/service"
	ws "github.com/stemsi/intervu-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a candidate's session events over a WebSocket.
type WSHandler struct {
	rdb            *redis.Client
	sessionService *service.TestSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, sessionService *service.TestSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:            rdb,
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// streamState is the per-connection context shared by the action handlers.
type streamState struct {
	conn   *ws.Conn
	id     uuid.UUID
	caller model.Caller
	log    zerolog.Logger
}

// SessionStream godoc
// WS /ws/v1/candidate/sessions/:id/stream?token=...
// Accepts answer, focus_lost, time, complete and ping actions and pushes the
// session's published transitions. The stream closes once the session ends.
func (h *WSHandler) SessionStream(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	// Reject before upgrading so the client gets a normal HTTP error.
	view, err := h.sessionService.GetSession(c.Request.Context(), id, caller)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	rawConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(rawConn)
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	st := &streamState{
		conn:   conn,
		id:     id,
		caller: caller,
		log: h.log.With().
			Int("candidate_id", caller.UserID).
			Str("session_id", id.String()).
			Logger(),
	}
	st.log.Info().Msg("Candidate connected")

	// Subscribe before the ready frame so no transition after it is missed.
	pubsub := h.rdb.Subscribe(ctx, config.CacheKey.SessionEventsChannel(id.String()))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		st.log.Error().Err(err).Msg("Session subscribe failed")
		_ = conn.WriteError(string(response.ErrInternal), response.GetMessage(response.ErrInternal), "")
		return
	}

	if err := conn.WriteTyped(ws.ReadyResponse{Event: ws.EventReady, Session: *view}); err != nil {
		return
	}
	if view.Status.IsTerminal() {
		_ = conn.WriteClose(websocket.CloseNormalClosure, "session finished")
		return
	}

	forwardDone := h.forwardEvents(ctx, st, pubsub)
	defer func() {
		cancel()
		<-forwardDone
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				st.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				st.log.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = conn.WriteError(string(response.ErrInvalidPayload), "message must be a JSON object with an action", "")
			continue
		}

		var finished bool
		switch env.Action {
		case ws.ActionAnswer:
			finished = h.handleAnswer(ctx, st, data)
		case ws.ActionFocusLost:
			finished = h.handleFocusLost(ctx, st)
		case ws.ActionTime:
			finished = h.handleTime(ctx, st, data)
		case ws.ActionComplete:
			finished = h.handleComplete(ctx, st)
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			st.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			_ = conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(env.Action), "")
		}

		if finished {
			_ = conn.WriteClose(websocket.CloseNormalClosure, "session finished")
			return
		}
	}
}

// forwardEvents relays a live subscription to the socket until ctx ends.
func (h *WSHandler) forwardEvents(ctx context.Context, st *streamState, pubsub *redis.PubSub) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev model.SessionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					st.log.Warn().Err(err).Msg("Malformed session event")
					continue
				}
				if err := st.conn.WriteTyped(ws.SessionEventResponse{Event: ws.EventSession, Payload: ev}); err != nil {
					return
				}
			}
		}
	}()
	return done
}

func (h *WSHandler) handleAnswer(ctx context.Context, st *streamState, data []byte) bool {
	var req ws.AnswerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return h.writeFailure(st, &service.ValidationError{Field: "value", Reason: "must be an integer index or text"})
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return h.writeFailure(st, &service.ValidationError{Field: "question_id", Reason: "must be a valid UUID"})
	}
	if req.Value == nil {
		return h.writeFailure(st, &service.ValidationError{Field: "value", Reason: "is required"})
	}

	sess, err := h.sessionService.SubmitAnswer(ctx, st.id, st.caller, questionID, *req.Value)
	if err != nil {
		return h.writeFailure(st, err)
	}
	_ = st.conn.WriteTyped(ws.AckResponse{
		Event:         ws.EventAck,
		Action:        ws.ActionAnswer,
		AnsweredCount: len(sess.Answers),
		RemainingTime: sess.RemainingTime,
	})
	return false
}

func (h *WSHandler) handleFocusLost(ctx context.Context, st *streamState) bool {
	report, err := h.sessionService.ReportFocusLost(ctx, st.id, st.caller)
	if err != nil {
		return h.writeFailure(st, err)
	}

	event := ws.EventWarning
	if report.Status == service.FocusTerminated {
		event = ws.EventTerminated
	}
	_ = st.conn.WriteTyped(ws.ResultResponse{Event: event, Action: ws.ActionFocusLost, Result: report})
	return report.Status == service.FocusTerminated
}

func (h *WSHandler) handleTime(ctx context.Context, st *streamState, data []byte) bool {
	var req ws.TimeRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RemainingSeconds == nil {
		return h.writeFailure(st, &service.ValidationError{Field: "remaining_seconds", Reason: "must be a non-negative number"})
	}

	report, err := h.sessionService.ReportRemainingTime(ctx, st.id, st.caller, *req.RemainingSeconds)
	if err != nil {
		return h.writeFailure(st, err)
	}

	if report.Status.IsTerminal() {
		_ = st.conn.WriteTyped(ws.ResultResponse{Event: ws.EventCompleted, Action: ws.ActionTime, Result: report})
		return true
	}
	_ = st.conn.WriteTyped(ws.AckResponse{
		Event:         ws.EventAck,
		Action:        ws.ActionTime,
		RemainingTime: report.RemainingTime,
	})
	return false
}

func (h *WSHandler) handleComplete(ctx context.Context, st *streamState) bool {
	result, err := h.sessionService.RequestCompletion(ctx, st.id, st.caller)
	if err != nil {
		return h.writeFailure(st, err)
	}
	_ = st.conn.WriteTyped(ws.ResultResponse{Event: ws.EventCompleted, Action: ws.ActionComplete, Result: result})
	return true
}

// writeFailure sends err as an error event and reports whether the session
// is already over, in which case the stream should close.
func (h *WSHandler) writeFailure(st *streamState, err error) bool {
	e := classify(err)
	msg := response.GetMessage(e.code)
	if e.code == response.ErrValidation {
		msg = err.Error()
	}
	if e.status == http.StatusInternalServerError {
		st.log.Error().Err(err).Msg("Session action failed")
	}

	current := e.fields["current_status"]
	_ = st.conn.WriteError(string(e.code), msg, current)
	return model.SessionStatus(current).IsTerminal()
}
