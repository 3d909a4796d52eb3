package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/research"
	"github.com/kapu/guest-research-go/internal/sse"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

type researchBody struct {
	SubjectName string `json:"subjectName"`
	Context     string `json:"context"`
	Mode        string `json:"mode"`
}

// activeRun is a started run holding a limiter slot until release.
type activeRun struct {
	stream  *research.Stream
	release func()
}

// begin performs every check that can still answer with a plain HTTP status:
// input, concurrency and credentials. On failure the response is written.
func (s *Server) begin(c *gin.Context, body researchBody) (*activeRun, bool) {
	subject := strings.TrimSpace(body.SubjectName)
	if subject == "" {
		abortError(c, errors.NewValidationError("subjectName is required", "subjectName", body.SubjectName))
		return nil, false
	}
	if s.opts.Runner == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "research is not configured"})
		return nil, false
	}
	if !s.runs.TryAcquire(1) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many research runs in progress, try again shortly"})
		return nil, false
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.opts.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.Request.Context(), s.opts.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.Request.Context())
	}
	release := func() {
		cancel()
		s.runs.Release(1)
	}

	uid := userID(c)
	req := domain.ResearchRequest{
		UserID:      uid,
		SubjectName: subject,
		Context:     strings.TrimSpace(body.Context),
		Mode:        domain.ParseMode(body.Mode),
		Keys:        s.userKeys(ctx, uid),
	}

	stream, err := s.opts.Runner.Run(ctx, req)
	if err != nil {
		release()
		s.logger.Info("Research run rejected", zap.String("user_id", uid), zap.Error(err))
		abortError(c, err)
		return nil, false
	}

	c.Header("X-Run-ID", stream.RunID())
	return &activeRun{stream: stream, release: release}, true
}

func (s *Server) userKeys(ctx context.Context, uid string) domain.APIKeys {
	if s.opts.Keys == nil || uid == "" {
		return domain.APIKeys{}
	}
	keys, err := s.opts.Keys.GetAPIKeys(ctx, uid)
	if err != nil {
		s.logger.Warn("Failed to load user API keys", zap.String("user_id", uid), zap.Error(err))
		return domain.APIKeys{}
	}
	return keys
}

// startResearch streams the run as server-sent events until the terminal
// event. A client disconnect cancels the request context and with it the run.
// Reading follows the request rather than the run so a timed-out run still
// delivers its terminal error.
func (s *Server) startResearch(c *gin.Context) {
	var body researchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	run, ok := s.begin(c, body)
	if !ok {
		return
	}
	defer run.release()

	sse.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	enc := sse.NewEncoder(c.Writer)

	reqCtx := c.Request.Context()
	for {
		waitCtx, cancel := context.WithTimeout(reqCtx, s.opts.KeepAliveInterval)
		ev, ok := run.stream.Next(waitCtx)
		cancel()

		var err error
		switch {
		case ok:
			err = enc.Encode(ev)
		case reqCtx.Err() != nil:
			return
		default:
			err = enc.Comment("keep-alive")
		}
		if err != nil {
			s.logger.Debug("SSE client went away", zap.String("run_id", run.stream.RunID()), zap.Error(err))
			return
		}
		if ok && ev.IsTerminal() {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin is enforced by the cors middleware and the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout   = 10 * time.Second
	defaultKeepAlive = 15 * time.Second
)

// researchSocket carries the same event stream over a websocket, one JSON
// text message per event.
func (s *Server) researchSocket(c *gin.Context) {
	body := researchBody{
		SubjectName: c.Query("subjectName"),
		Context:     c.Query("context"),
		Mode:        c.Query("mode"),
	}
	run, ok := s.begin(c, body)
	if !ok {
		return
	}
	defer run.release()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, http.Header{"X-Run-ID": []string{run.stream.RunID()}})
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	// The read side only watches for the peer going away.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		_ = conn.Close()
		<-readerDone
	}()

	for {
		ev, ok := run.stream.Next(ctx)
		if !ok {
			break
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			s.logger.Debug("WebSocket client went away", zap.String("run_id", run.stream.RunID()), zap.Error(err))
			return
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}
