package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	maxRequestSize = 2 * 1024 * 1024
	maxMessageSize = 512 * 1024
	maxErrorBody   = 200
)

// UpstreamError is a non-2xx answer from the provider.
type UpstreamError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("llmclient: upstream %d: %s (%s)", e.StatusCode, e.Message, e.Type)
	}
	return fmt.Sprintf("llmclient: upstream %d: %s", e.StatusCode, e.Message)
}

// ChatCompletion performs one completion call. Retries happen only when MaxRetries > 0.
func (c *client) ChatCompletion(parentCtx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	body, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	resp, err := c.doWithRetry(ctx, body, c.post)
	if err != nil {
		c.logger.Error("llm request failed",
			zap.String("model", req.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		uerr := readUpstreamError(resp)
		c.logger.Error("llm upstream error",
			zap.Int("status", uerr.StatusCode),
			zap.String("error_type", uerr.Type),
			zap.String("error_message", uerr.Message),
		)
		return nil, uerr
	}

	var pResp providerChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&pResp); err != nil {
		return nil, fmt.Errorf("llmclient: decode upstream response: %w", err)
	}
	if len(pResp.Choices) == 0 {
		return nil, fmt.Errorf("llmclient: provider returned no choices")
	}

	out := toChatResponse(pResp)
	c.logger.Info("llm request completed",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func encodeRequest(req *ChatRequest) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("llmclient: request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("llmclient: invalid request: %w", err)
	}
	for i, m := range req.Messages {
		if len(m.Content) > maxMessageSize {
			return nil, fmt.Errorf("llmclient: messages[%d] is %d bytes, max %d", i, len(m.Content), maxMessageSize)
		}
	}

	body, err := json.Marshal(newProviderRequest(req))
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}
	if len(body) > maxRequestSize {
		return nil, fmt.Errorf("llmclient: request is %d bytes, max %d", len(body), maxRequestSize)
	}
	return body, nil
}

// post sends a single attempt; each attempt needs a fresh *http.Request.
func (c *client) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.completionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build HTTP request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	return c.httpClient.Do(httpReq)
}

func readUpstreamError(resp *http.Response) *UpstreamError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	uerr := &UpstreamError{StatusCode: resp.StatusCode}

	var perr providerErrorResponse
	if err := json.Unmarshal(raw, &perr); err == nil && perr.Error.Message != "" {
		uerr.Message = perr.Error.Message
		uerr.Type = perr.Error.Type
		return uerr
	}
	uerr.Message = truncate(string(raw), maxErrorBody)
	return uerr
}

func toChatResponse(p providerChatResponse) *ChatResponse {
	out := &ChatResponse{
		ID:      p.ID,
		Created: time.Unix(p.Created, 0),
		Model:   p.Model,
		Choices: make([]ChatChoice, 0, len(p.Choices)),
		Usage:   &Usage{},
	}
	for _, ch := range p.Choices {
		out.Choices = append(out.Choices, ChatChoice{
			Index:        ch.Index,
			Message:      ch.Message,
			FinishReason: ch.FinishReason,
		})
	}
	if p.Usage != nil {
		out.Usage.PromptTokens = p.Usage.PromptTokens
		out.Usage.CompletionTokens = p.Usage.CompletionTokens
		out.Usage.TotalTokens = p.Usage.TotalTokens
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
