package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"inboxflow/config"
	"inboxflow/internal/model"
	"inboxflow/pkg/circuitbreaker"
	"inboxflow/pkg/metrics"
)

// Analyzer extracts candidate tasks from a message. May fail or return zero
// extractions; never trusted blindly — confidence still gates auto-creation.
type Analyzer interface {
	ExtractTasks(ctx context.Context, msg *model.InboundMessage) ([]model.TaskExtraction, error)
}

// Client calls the external content-analysis service over HTTP, guarded by
// a circuit breaker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(cfg config.AnalyzerConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout, // 挂起的 AI 调用按超时处理
		},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
}

type extractRequest struct {
	MessageID  string    `json:"message_id"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	Body       string    `json:"body"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `json:"received_at"`
}

// ExtractTasks sends the message for analysis and validates the returned
// extractions at the boundary.
func (c *Client) ExtractTasks(ctx context.Context, msg *model.InboundMessage) ([]model.TaskExtraction, error) {
	start := time.Now()

	var extractions []model.TaskExtraction
	err := c.breaker.Execute(func() error {
		var callErr error
		extractions, callErr = c.call(ctx, msg)
		return callErr
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordAnalyzerCallLatency(status, time.Since(start))

	if err != nil {
		return nil, err
	}
	return extractions, nil
}

func (c *Client) call(ctx context.Context, msg *model.InboundMessage) ([]model.TaskExtraction, error) {
	body, err := json.Marshal(extractRequest{
		MessageID:  msg.ID,
		Subject:    msg.Subject,
		From:       msg.FromAddress,
		Body:       msg.EffectiveBody(),
		Snippet:    msg.Snippet,
		ReceivedAt: msg.ReceivedAt,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call analyzer service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		// 可重试错误
		return nil, fmt.Errorf("analyzer service 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer service error: %d", resp.StatusCode)
	}

	var payload struct {
		Extractions []json.RawMessage `json:"extractions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode analyzer response: %w", err)
	}

	valid := make([]model.TaskExtraction, 0, len(payload.Extractions))
	for i, raw := range payload.Extractions {
		extraction, err := ValidateExtraction(raw)
		if err != nil {
			// 无效的 extraction 跳过，不让坏数据进入下游
			c.logger.Warn("Dropping malformed extraction",
				zap.String("message_id", msg.ID),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, extraction)
	}

	return valid, nil
}
