package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jprocode/DocAssist-AI/internal/stream"
)

// ErrStreamTruncated indicates the answer stream ended before its done
// record. The accompanying turn is marked failed.
var ErrStreamTruncated = errors.New("answer stream ended before done record")

// Client talks to the document-QA ask endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewClient creates a client for the ask endpoint rooted at baseURL
// (e.g. "http://localhost:8000/api"). timeout bounds one whole request,
// including stream consumption.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

// AskRequest is the ask endpoint's request body.
type AskRequest struct {
	Question     string `json:"question"`
	UseWebSearch bool   `json:"use_web_search"`
	Stream       bool   `json:"stream"`
}

// AskResponse is the non-streaming answer payload.
type AskResponse struct {
	DocID    string           `json:"doc_id"`
	Answer   string           `json:"answer"`
	Sources  *stream.Sources  `json:"sources,omitempty"`
	Contexts []stream.Context `json:"contexts,omitempty"`
}

// Ask submits a question and waits for the complete answer.
func (c *Client) Ask(ctx context.Context, docID, question string, useWeb bool) (*AskResponse, error) {
	body, err := c.post(ctx, docID, AskRequest{Question: question, UseWebSearch: useWeb})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out AskResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode answer: %w", err)
	}
	return &out, nil
}

// AskStream submits a question and folds the streamed answer into one turn.
// onUpdate, when non-nil, receives the turn snapshot after every decoded
// event for live rendering. The returned turn is final; if the transport
// dies before the done record the turn comes back failed alongside the
// error, and the caller should discard it.
func (c *Client) AskStream(ctx context.Context, docID, question string, useWeb bool, onUpdate func(Turn)) (Turn, error) {
	acc := NewAccumulator(question)

	body, err := c.post(ctx, docID, AskRequest{Question: question, UseWebSearch: useWeb, Stream: true})
	if err != nil {
		return acc.Fail(), err
	}
	defer body.Close()

	dec := stream.NewDecoder(body)
	for {
		ev, err := dec.Next(ctx)
		if err == io.EOF {
			if acc.Done() {
				return acc.Turn(), nil
			}
			c.logger.Warn("answer stream truncated", zap.String("doc_id", docID))
			return acc.Fail(), ErrStreamTruncated
		}
		if err != nil {
			c.logger.Warn("answer stream failed", zap.String("doc_id", docID), zap.Error(err))
			return acc.Fail(), err
		}

		snap := acc.Apply(ev)
		if onUpdate != nil {
			onUpdate(snap)
		}
		if acc.Done() {
			return acc.Turn(), nil
		}
	}
}

// Relay submits a streaming question and returns the raw response body for
// callers that re-frame events themselves. The caller must close it.
func (c *Client) Relay(ctx context.Context, docID string, req AskRequest) (io.ReadCloser, error) {
	req.Stream = true
	return c.post(ctx, docID, req)
}

func (c *Client) post(ctx context.Context, docID string, ask AskRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(ask)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ask request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+docID, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ask request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("ask failed: %s", resp.Status)
	}
	return resp.Body, nil
}
