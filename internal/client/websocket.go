package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

// StreamResearchWS runs the same flow as StreamResearch over a websocket.
func (c *Client) StreamResearchWS(ctx context.Context, params ResearchParams, onEvent EventHandler) (*domain.ResearchReport, error) {
	wsURL, err := c.socketURL(params)
	if err != nil {
		return nil, err
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			if statusErr := checkStatus(resp); statusErr != nil {
				return nil, statusErr
			}
		}
		c.logger.Error("Failed to connect WebSocket", zap.Error(err))
		return nil, errors.NewAppError("websocket dial failed", errors.CodeAppError, 502, nil).WithCause(err)
	}
	defer conn.Close()

	// Closing the connection unblocks ReadMessage when ctx ends first.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	return c.listen(ctx, conn, onEvent)
}

func (c *Client) listen(ctx context.Context, conn *websocket.Conn, onEvent EventHandler) (*domain.ResearchReport, error) {
	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, errors.NewAppError("stream ended before the run finished", errors.CodeAppError, 502, nil)
			}
			c.logger.Error("WebSocket read error", zap.Error(err))
			return nil, errors.NewAppError("failed to read websocket", errors.CodeAppError, 502, nil).WithCause(err)
		}

		var ev domain.Event
		if err := json.Unmarshal(msgBytes, &ev); err != nil {
			dataStr := string(msgBytes)
			if len(dataStr) > 200 {
				dataStr = dataStr[:200]
			}
			c.logger.Warn("Failed to parse event", zap.Error(err), zap.String("data", dataStr))
			continue
		}

		if report, done, err := handleEvent(ev, onEvent); done {
			return report, err
		}
	}
}

func (c *Client) socketURL(params ResearchParams) (string, error) {
	u, err := url.Parse(c.baseURL + "/api/research/ws")
	if err != nil {
		return "", errors.NewAppError("invalid base URL", errors.CodeAppError, 400, nil).WithCause(err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	q := u.Query()
	q.Set("subjectName", params.SubjectName)
	if params.Context != "" {
		q.Set("context", params.Context)
	}
	if params.Mode != "" {
		q.Set("mode", params.Mode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
