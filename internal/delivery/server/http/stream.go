package http

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"smartsched/internal/app/negotiator"
	"smartsched/internal/logging"
)

const (
	maxStreamFrameBytes = 16 << 10
	streamWriteTimeout  = 10 * time.Second
)

// streamRegistry holds at most one open stream per session. A new stream
// for the same session replaces the old one.
type streamRegistry struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{conns: make(map[string]*websocket.Conn)}
}

func (r *streamRegistry) add(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.conns[sessionID]; ok {
		closeConn(existing, websocket.ClosePolicyViolation, "replaced by a newer stream")
	}
	r.conns[sessionID] = conn
}

func (r *streamRegistry) remove(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[sessionID] == conn {
		delete(r.conns, sessionID)
	}
}

func (r *streamRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.conns {
		closeConn(conn, websocket.CloseGoingAway, "server shutting down")
		delete(r.conns, id)
	}
}

func (r *streamRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// handleStream runs turns over a websocket. Each frame is either a JSON
// TurnRequest or plain text; each turn gets one reply frame.
func (s *Server) handleStream(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade for session %s failed: %v", id, err)
		return
	}
	logger := logging.WithSession(s.logger, id)

	s.wg.Add(1)
	defer s.wg.Done()
	s.streams.add(id, conn)
	defer s.streams.remove(id, conn)
	defer conn.Close()

	conn.SetReadLimit(maxStreamFrameBytes)
	logger.Info("stream opened")
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("stream closed: %v", err)
			} else {
				logger.Info("stream closed")
			}
			return
		}

		msg := s.streamTurn(id, frame)
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Warn("stream write failed: %v", err)
			return
		}
	}
}

func (s *Server) streamTurn(sessionID string, frame []byte) StreamMessage {
	msg := StreamMessage{SessionID: sessionID, Timestamp: time.Now()}

	var req TurnRequest
	trimmed := strings.TrimSpace(string(frame))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(frame, &req); err != nil {
			msg.Type, msg.Error = streamTypeError, "Invalid frame: "+err.Error()
			return msg
		}
	} else {
		req.Text = trimmed
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" && req.Turn == nil {
		msg.Type, msg.Error = streamTypeError, "Either text or turn is required"
		return msg
	}
	if len(req.Text) > maxTurnTextLength {
		msg.Type, msg.Error = streamTypeError, "Text is too long"
		return msg
	}

	ctx, cancel := s.turnContext(s.ctx)
	defer cancel()
	var (
		res negotiator.Result
		err error
	)
	if req.Turn != nil {
		res, err = s.deps.Service.HandleTurn(ctx, sessionID, *req.Turn)
	} else {
		res, err = s.deps.Service.HandleUtterance(ctx, sessionID, req.Text)
	}
	if err != nil {
		_, text := mapDomainError(err)
		s.logger.Warn("stream turn for session %s failed: %v", sessionID, err)
		msg.Type, msg.Error = streamTypeError, text
		return msg
	}
	msg.Type, msg.Data = streamTypeTurn, s.render(res)
	return msg
}
