package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"smartsched/internal/app/negotiator"
	"smartsched/internal/domain/scheduling"
	schederrors "smartsched/internal/errors"
	"smartsched/internal/infra/sessionstore"
)

const maxTurnTextLength = 2000

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   s.deps.Version,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.deps.Breaker != nil {
		state := s.deps.Breaker.State()
		resp.Calendar = state.String()
		if state == schederrors.StateOpen {
			resp.Status = "degraded"
		}
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: resp})
}

// handleBreakerReset closes the calendar breaker without waiting out its
// open timeout.
func (s *Server) handleBreakerReset(c *gin.Context) {
	if s.deps.Breaker == nil {
		c.JSON(http.StatusNotImplemented, APIResponse{Success: false, Error: "Calendar breaker is not configured"})
		return
	}
	previous := s.deps.Breaker.State()
	s.deps.Breaker.Reset()
	s.logger.Info("calendar breaker reset from %s", previous)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: BreakerResponse{
		Previous: previous.String(),
		State:    s.deps.Breaker.State().String(),
	}})
}

func (s *Server) sessionID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := sessionstore.ValidateID(id); err != nil {
		badRequest(c, err.Error())
		return "", false
	}
	return id, true
}

func (s *Server) handleTurn(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}
	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" && req.Turn == nil {
		badRequest(c, "Either text or turn is required")
		return
	}
	if len(text) > maxTurnTextLength {
		badRequest(c, "Text is too long")
		return
	}

	ctx, cancel := s.turnContext(c.Request.Context())
	defer cancel()
	var (
		res negotiator.Result
		err error
	)
	if req.Turn != nil {
		res, err = s.deps.Service.HandleTurn(ctx, id, *req.Turn)
	} else {
		res, err = s.deps.Service.HandleUtterance(ctx, id, text)
	}
	if err != nil {
		_ = c.Error(err)
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: s.render(res)})
}

func (s *Server) render(res negotiator.Result) *TurnResponse {
	return &TurnResponse{Result: res, Reply: s.deps.Formatter.Format(res)}
}

func (s *Server) handleGetSession(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}
	conv, err := s.deps.Service.Session(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: SessionResponse{Session: conv}})
}

func (s *Server) handleClearSession(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}
	res, err := s.deps.Service.Clear(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: s.render(res)})
}

// handleAvailability lists free gaps between from and to (RFC 3339),
// keeping only gaps of at least min minutes.
func (s *Server) handleAvailability(c *gin.Context) {
	if s.deps.Calendar == nil {
		c.JSON(http.StatusNotImplemented, APIResponse{Success: false, Error: "Availability is not configured"})
		return
	}
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		badRequest(c, "from must be an RFC 3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		badRequest(c, "to must be an RFC 3339 timestamp")
		return
	}
	if !to.After(from) {
		badRequest(c, "to must be after from")
		return
	}
	if to.Sub(from) > s.deps.MaxAvailabilityRange {
		badRequest(c, "Range is too long")
		return
	}
	minLength := time.Duration(0)
	if raw := c.Query("min"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes < 0 {
			badRequest(c, "min must be a non-negative number of minutes")
			return
		}
		minLength = time.Duration(minutes) * time.Minute
	}

	busy, err := s.deps.Calendar.BusyIntervals(c.Request.Context(), from, to)
	if err != nil {
		_ = c.Error(err)
		s.writeError(c, err)
		return
	}
	free := scheduling.FreeGaps(busy, from, to, minLength)
	if free == nil {
		free = []scheduling.CandidateWindow{}
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: AvailabilityResponse{From: from, To: to, Free: free}})
}
