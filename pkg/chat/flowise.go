package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumenchat/lumenchat/pkg/config"
	"github.com/lumenchat/lumenchat/pkg/observability"
)

// Prediction is the completion backend's answer to one question
type Prediction struct {
	Text      string           `json:"text"`
	UsedTools []ToolInvocation `json:"usedTools,omitempty"`
}

// FlowiseClient is a thin proxy to the Flowise prediction API. The protocol
// beyond question/history/streaming is treated as opaque.
type FlowiseClient struct {
	baseURL    string
	apiKey     string
	chatflowID string
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewFlowiseClient validates the configuration and builds a client. The
// chatflow ID must be a UUID; a malformed one would only fail at request
// time with an unhelpful 404.
func NewFlowiseClient(cfg config.FlowiseConfig, logger *observability.Logger, metrics *observability.Metrics) (*FlowiseClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("flowise base URL is required")
	}
	if _, err := uuid.Parse(cfg.ChatflowID); err != nil {
		return nil, fmt.Errorf("invalid chatflow ID %q: %w", cfg.ChatflowID, err)
	}

	return &FlowiseClient{
		baseURL:    strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/api/v1"),
		apiKey:     cfg.APIKey,
		chatflowID: cfg.ChatflowID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// historyEntry is the wire shape of prior turns. The backend names the roles
// userMessage and apiMessage.
type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type predictionRequest struct {
	Question  string         `json:"question"`
	History   []historyEntry `json:"history,omitempty"`
	Streaming bool           `json:"streaming,omitempty"`
}

// buildRequest splits messages into history plus the final question
func buildRequest(messages []*Message, streaming bool) (*predictionRequest, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages must be non-empty")
	}
	for _, msg := range messages {
		if msg.Content == "" {
			return nil, fmt.Errorf("message content must be non-empty")
		}
		if !msg.Role.IsValid() {
			return nil, fmt.Errorf("invalid message role %q", msg.Role)
		}
	}

	req := &predictionRequest{
		Question:  messages[len(messages)-1].Content,
		Streaming: streaming,
	}
	for _, msg := range messages[:len(messages)-1] {
		role := "apiMessage"
		if msg.Role == RoleUser {
			role = "userMessage"
		}
		req.History = append(req.History, historyEntry{Role: role, Content: msg.Content})
	}
	return req, nil
}

func (c *FlowiseClient) newHTTPRequest(ctx context.Context, body *predictionRequest) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/prediction/%s", c.baseURL, c.chatflowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// Predict sends the conversation and returns the complete answer
func (c *FlowiseClient) Predict(ctx context.Context, messages []*Message) (*Prediction, error) {
	body, err := buildRequest(messages, false)
	if err != nil {
		return nil, err
	}
	req, err := c.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ChatProxyTotal.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.ChatProxyDuration.WithLabelValues("single").Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		c.metrics.ChatProxyTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return nil, fmt.Errorf("prediction request returned status %d", resp.StatusCode)
	}
	c.metrics.ChatProxyTotal.WithLabelValues("200").Inc()

	prediction := &Prediction{}
	if err := json.NewDecoder(resp.Body).Decode(prediction); err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", err)
	}
	return prediction, nil
}

// streamChunk is one server-sent event from the streaming prediction API
type streamChunk struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// PredictStream sends the conversation and streams the answer, invoking
// onToken for each token as it arrives. The accumulated prediction is
// returned once the stream ends.
func (c *FlowiseClient) PredictStream(ctx context.Context, messages []*Message, onToken func(token string)) (*Prediction, error) {
	body, err := buildRequest(messages, true)
	if err != nil {
		return nil, err
	}
	req, err := c.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ChatProxyTotal.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.ChatProxyTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return nil, fmt.Errorf("prediction request returned status %d", resp.StatusCode)
	}

	prediction := &Prediction{}
	var text strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.WithError(err).Debug("Skipping unparseable stream chunk")
			continue
		}

		switch chunk.Event {
		case "token":
			var token string
			if err := json.Unmarshal(chunk.Data, &token); err != nil {
				continue
			}
			text.WriteString(token)
			if onToken != nil {
				onToken(token)
			}
		case "usedTools":
			var tools []ToolInvocation
			if err := json.Unmarshal(chunk.Data, &tools); err != nil {
				c.logger.WithError(err).Warn("Failed to parse tool usage from stream")
				continue
			}
			prediction.UsedTools = tools
		case "error":
			var message string
			if err := json.Unmarshal(chunk.Data, &message); err != nil || message == "" {
				message = "unknown streaming error"
			}
			c.metrics.ChatProxyTotal.WithLabelValues("stream_error").Inc()
			return nil, fmt.Errorf("prediction stream error: %s", message)
		case "end":
			// Remaining lines after end are ignored
		}
	}
	if err := scanner.Err(); err != nil {
		c.metrics.ChatProxyTotal.WithLabelValues("stream_error").Inc()
		return nil, fmt.Errorf("prediction stream read failed: %w", err)
	}

	c.metrics.ChatProxyDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())
	c.metrics.ChatProxyTotal.WithLabelValues("200").Inc()

	prediction.Text = text.String()
	return prediction, nil
}
