// Package client talks to the research server's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/sse"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

// EventHandler receives every progress event of a streamed run.
type EventHandler func(event domain.ProgressEvent)

type ResearchParams struct {
	SubjectName string `json:"subjectName"`
	Context     string `json:"context,omitempty"`
	Mode        string `json:"mode,omitempty"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamClient has no overall timeout; runs take minutes.
	streamClient *http.Client
	logger       *zap.Logger
}

func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 3 * time.Minute,
		},
		streamClient: &http.Client{},
		logger:       util.OrNop(logger),
	}
}

func (c *Client) GenerateQuestions(ctx context.Context, req domain.QuestionRequest) (*domain.QuestionResult, error) {
	var result domain.QuestionResult
	if err := c.doRequest(ctx, http.MethodPost, "/api/questions", req, &result); err != nil {
		c.logger.Error("Failed to generate questions", zap.Error(err))
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	var run domain.RunRecord
	if err := c.doRequest(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(runID), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) Ping(ctx context.Context) bool {
	return c.doRequest(ctx, http.MethodGet, "/healthz", nil, nil) == nil
}

// StreamResearch starts a run over server-sent events, hands each progress
// event to onEvent and returns the final report.
func (c *Client) StreamResearch(ctx context.Context, params ResearchParams, onEvent EventHandler) (*domain.ResearchReport, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/research", params)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, errors.NewAppError("request failed", errors.CodeAppError, 500, map[string]any{
			"url": req.URL.String(),
		}).WithCause(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		var ev domain.Event
		if err := dec.DecodeInto(&ev); err != nil {
			if err == io.EOF {
				return nil, errors.NewAppError("stream ended before the run finished", errors.CodeAppError, 502, nil)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.NewAppError("failed to read event stream", errors.CodeAppError, 502, nil).WithCause(err)
		}
		if report, done, err := handleEvent(ev, onEvent); done {
			return report, err
		}
	}
}

// handleEvent dispatches one frame. done is true for the terminal frame.
func handleEvent(ev domain.Event, onEvent EventHandler) (*domain.ResearchReport, bool, error) {
	switch {
	case ev.Error != nil:
		return nil, true, errors.NewAppError(ev.Error.Message, ev.Error.Code, 0, nil)
	case ev.Result != nil:
		return ev.Result, true, nil
	}
	if onEvent != nil {
		onEvent(ev.Progress())
	}
	return nil, false, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, reqBody any) (*http.Request, error) {
	endpoint := c.baseURL + path

	var bodyReader io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, errors.NewAppError("failed to marshal request", errors.CodeAppError, 400, map[string]any{
				"url": endpoint,
			}).WithCause(err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, errors.NewAppError("failed to create request", errors.CodeAppError, 500, map[string]any{
			"url": endpoint,
		}).WithCause(err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, reqBody, respBody any) error {
	req, err := c.newRequest(ctx, method, path, reqBody)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewAppError("request failed", errors.CodeAppError, 500, map[string]any{
			"url": req.URL.String(),
		}).WithCause(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return errors.NewAppError("failed to decode response", errors.CodeAppError, 500, map[string]any{
				"url": req.URL.String(),
			}).WithCause(err)
		}
	}

	return nil
}

// checkStatus turns a non-2xx response into an AppError carrying the
// server's code and message when the body has them.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	message := fmt.Sprintf("research API error: %s", resp.Status)
	code := errors.CodeAppError
	if json.Unmarshal(bodyBytes, &body) == nil {
		if body.Error != "" {
			message = body.Error
		}
		if body.Code != "" {
			code = body.Code
		}
	}

	details := map[string]any{"body": string(bodyBytes)}
	if resp.Request != nil {
		details["url"] = resp.Request.URL.String()
	}
	return errors.NewAppError(message, code, resp.StatusCode, details)
}
