package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
)

// Client talks JSON over HTTP to a remote quiz backend. One Client is bound
// to one player via its auth header, so the run endpoints carry no player id.
type Client struct {
	baseURL string
	http    *http.Client
	headers map[string]string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader sets a header sent on every request (e.g. the session token).
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *Client) StartRun(ctx context.Context, req StartRunRequest) (StartRunResponse, error) {
	var resp StartRunResponse
	err := c.post(ctx, "/api/run/start", req, &resp)
	return resp, err
}

func (c *Client) StartQuestion(ctx context.Context, req StartQuestionRequest) (StartQuestionResponse, error) {
	var resp StartQuestionResponse
	err := c.post(ctx, "/api/question/start", req, &resp)
	return resp, err
}

func (c *Client) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (SubmitAnswerResponse, error) {
	var resp SubmitAnswerResponse
	err := c.post(ctx, "/api/answer/submit", req, &resp)
	return resp, err
}

func (c *Client) UseJoker(ctx context.Context, req UseJokerRequest) (UseJokerResponse, error) {
	var resp UseJokerResponse
	err := c.post(ctx, "/api/joker/use", req, &resp)
	return resp, err
}

func (c *Client) FinishRun(ctx context.Context) (domain.RunSummary, error) {
	var resp domain.RunSummary
	err := c.post(ctx, "/api/run/finish", struct{}{}, &resp)
	return resp, err
}

func (c *Client) RestartRun(ctx context.Context) error {
	return c.post(ctx, "/api/run/restart", struct{}{}, nil)
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error == "LIMIT_REACHED" {
			return domain.ErrJokerLimit
		}
		return fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", endpoint, err)
	}
	return nil
}
