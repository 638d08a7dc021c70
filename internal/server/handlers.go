package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/corpusqa/corpusqa/internal/answer"
	"github.com/corpusqa/corpusqa/internal/engine"
	"github.com/corpusqa/corpusqa/internal/errors"
	"github.com/corpusqa/corpusqa/internal/search"
	"github.com/corpusqa/corpusqa/pkg/version"
)

// queryRequest is the /query and /query/stream payload. "question" is
// accepted as an alias for "query".
type queryRequest struct {
	Query     string `json:"query"`
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	Strategy  string `json:"strategy"`
	// Mode selects "adaptive" strategy classification (the default)
	// or "simple", which forces the dense tier.
	Mode string `json:"mode"`
	// TopK overrides how many passages back the answer.
	TopK int `json:"top_k"`
	// IncludeConversation defaults to true; only an explicit false
	// disables conversation enrichment.
	IncludeConversation *bool `json:"include_conversation"`
}

func (r *queryRequest) text() string {
	if r.Query != "" {
		return r.Query
	}
	return r.Question
}

// engineRequest maps the payload onto an engine request. An explicit
// strategy wins over mode.
func (r *queryRequest) engineRequest() (engine.Request, error) {
	strategy := search.Strategy(r.Strategy)
	switch r.Mode {
	case "", "adaptive":
	case "simple":
		if strategy == "" {
			strategy = search.StrategySimpleDense
		}
	default:
		return engine.Request{}, errors.InvalidInput(`mode must be "simple" or "adaptive"`)
	}
	if r.TopK < 0 {
		return engine.Request{}, errors.InvalidInput("top_k must be at least 1")
	}
	return engine.Request{
		Query:            r.text(),
		SessionID:        r.SessionID,
		Strategy:         strategy,
		TopK:             r.TopK,
		SkipConversation: r.IncludeConversation != nil && !*r.IncludeConversation,
	}, nil
}

type queryResponse struct {
	Answer      string             `json:"answer"`
	Citations   []answer.Citation  `json:"citations"`
	Confidence  float64            `json:"confidence"`
	Strategy    string             `json:"strategy"`
	Cached      bool               `json:"cached"`
	CacheStage  string             `json:"cache_stage,omitempty"`
	FollowUp    bool               `json:"follow_up,omitempty"`
	Explanation search.Explanation `json:"explanation"`
	Timing      engine.Timing      `json:"timing"`
	RequestID   string             `json:"request_id"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, errors.InvalidInput("request body must be JSON"))
	}
	engReq, err := req.engineRequest()
	if err != nil {
		return s.writeError(c, err)
	}

	result, err := s.engine.Query(c.Request().Context(), engReq)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, queryResponse{
		Answer:      result.Answer.Text,
		Citations:   result.Answer.Citations,
		Confidence:  result.Answer.Confidence,
		Strategy:    result.Answer.Strategy,
		Cached:      result.Cached,
		CacheStage:  string(result.CacheStage),
		FollowUp:    result.FollowUp,
		Explanation: result.Explanation,
		Timing:      result.Timing,
		RequestID:   requestID(c),
	})
}

func (s *Server) handleQueryStream(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, errors.InvalidInput("request body must be JSON"))
	}
	engReq, err := req.engineRequest()
	if err != nil {
		return s.writeError(c, err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")

	flusher, canFlush := resp.Writer.(http.Flusher)

	started := false
	err = s.engine.QueryStream(c.Request().Context(), engReq, func(ev engine.Event) error {
		if !started {
			resp.WriteHeader(http.StatusOK)
			started = true
		}
		if err := writeSSE(resp, ev); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	})

	if err != nil {
		if !started {
			return s.writeError(c, err)
		}
		// Mid-stream failures can only be reported in-band.
		_ = writeSSE(resp, engine.Event{Type: "error", Text: publicMessage(err)})
	}
	return nil
}

func writeSSE(resp *echo.Response, ev engine.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Type, payload)
	return err
}

type clearRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleConversationClear(c echo.Context) error {
	var req clearRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, errors.InvalidInput("request body must be JSON"))
	}
	if req.SessionID == "" {
		return s.writeError(c, errors.InvalidInput("session_id is required"))
	}

	s.engine.ClearSession(req.SessionID)
	return c.JSON(http.StatusOK, map[string]string{
		"status":     "cleared",
		"session_id": req.SessionID,
	})
}

type healthResponse struct {
	Status   string        `json:"status"`
	Version  string        `json:"version"`
	Backends engine.Health `json:"backends"`
}

func (s *Server) handleHealth(c echo.Context) error {
	health := s.engine.CheckHealth(c.Request().Context())
	status := "ok"
	if !health.Generator {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:   status,
		Version:  version.String(),
		Backends: health,
	})
}

// writeError maps error kinds to HTTP statuses.
func (s *Server) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch errors.KindOf(err) {
	case errors.KindInvalidInput:
		status = http.StatusBadRequest
	case errors.KindOverloaded:
		status = http.StatusTooManyRequests
	case errors.KindBackendUnavailable:
		status = http.StatusServiceUnavailable
	case errors.KindDeadlineExceeded, errors.KindGenerationTimeout:
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err, "request_id", requestID(c))
	}

	return c.JSON(status, errorResponse{
		Error:     publicMessage(err),
		Code:      errors.GetCode(err),
		RequestID: requestID(c),
	})
}

// publicMessage hides internal details for unexpected errors.
func publicMessage(err error) string {
	if qe, ok := err.(*errors.QueryError); ok {
		return qe.Message
	}
	return "internal error"
}
