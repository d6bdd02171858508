package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenchat/lumenchat/pkg/config"
	"github.com/lumenchat/lumenchat/pkg/observability"
)

const testChatflowID = "8f14e45f-ceea-467f-9c03-1b5d7c2e8a91"

func newFlowiseFixture(t *testing.T, handler http.HandlerFunc) *FlowiseClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewFlowiseClient(config.FlowiseConfig{
		BaseURL:    server.URL,
		APIKey:     "test-api-key",
		ChatflowID: testChatflowID,
		Timeout:    5 * time.Second,
	}, observability.NewLogger(observability.ErrorLevel, io.Discard),
		observability.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	return client
}

func userMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

func assistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

func TestNewFlowiseClientValidatesChatflowID(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	_, err := NewFlowiseClient(config.FlowiseConfig{
		BaseURL:    "http://flowise.local",
		ChatflowID: "not-a-uuid",
	}, logger, metrics)
	assert.Error(t, err)

	_, err = NewFlowiseClient(config.FlowiseConfig{
		ChatflowID: testChatflowID,
	}, logger, metrics)
	assert.Error(t, err, "base URL is required")
}

func TestPredict(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody predictionRequest

	client := newFlowiseFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"text": "Hello there!",
			"usedTools": []map[string]interface{}{
				{"tool": "calculator", "toolInput": map[string]interface{}{"a": 1.0}, "toolOutput": "2"},
			},
		})
	})

	prediction, err := client.Predict(context.Background(), []*Message{
		userMessage("hi"),
		assistantMessage("hello"),
		userMessage("how are you?"),
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/prediction/"+testChatflowID, gotPath)
	assert.Equal(t, "Bearer test-api-key", gotAuth)
	assert.Equal(t, "how are you?", gotBody.Question)
	require.Len(t, gotBody.History, 2)
	assert.Equal(t, historyEntry{Role: "userMessage", Content: "hi"}, gotBody.History[0])
	assert.Equal(t, historyEntry{Role: "apiMessage", Content: "hello"}, gotBody.History[1])
	assert.False(t, gotBody.Streaming)

	assert.Equal(t, "Hello there!", prediction.Text)
	require.Len(t, prediction.UsedTools, 1)
	assert.Equal(t, "calculator", prediction.UsedTools[0].Tool)
}

func TestPredictRejectsInvalidInput(t *testing.T) {
	client := newFlowiseFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the backend")
	})
	ctx := context.Background()

	_, err := client.Predict(ctx, nil)
	assert.Error(t, err)

	_, err = client.Predict(ctx, []*Message{{Role: RoleUser}})
	assert.Error(t, err)

	_, err = client.Predict(ctx, []*Message{{Role: Role("system"), Content: "x"}})
	assert.Error(t, err)
}

func TestPredictUpstreamError(t *testing.T) {
	client := newFlowiseFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Predict(context.Background(), []*Message{userMessage("hi")})
	assert.ErrorContains(t, err, "502")
}

func TestPredictStream(t *testing.T) {
	client := newFlowiseFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var body predictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Streaming)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data:{\"event\":\"token\",\"data\":\"Hel\"}\n\n")
		fmt.Fprint(w, "data:{\"event\":\"token\",\"data\":\"lo\"}\n\n")
		fmt.Fprint(w, "data:{\"event\":\"usedTools\",\"data\":[{\"tool\":\"search\",\"toolInput\":{},\"toolOutput\":\"ok\"}]}\n\n")
		fmt.Fprint(w, "data:{\"event\":\"end\",\"data\":\"\"}\n\n")
	})

	var tokens []string
	prediction, err := client.PredictStream(context.Background(),
		[]*Message{userMessage("hi")},
		func(token string) { tokens = append(tokens, token) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "Hello", prediction.Text)
	require.Len(t, prediction.UsedTools, 1)
	assert.Equal(t, "search", prediction.UsedTools[0].Tool)
}

func TestPredictStreamErrorEvent(t *testing.T) {
	client := newFlowiseFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data:{\"event\":\"token\",\"data\":\"par\"}\n\n")
		fmt.Fprint(w, "data:{\"event\":\"error\",\"data\":\"model overloaded\"}\n\n")
	})

	_, err := client.PredictStream(context.Background(),
		[]*Message{userMessage("hi")}, nil)
	assert.ErrorContains(t, err, "model overloaded")
}

func TestPredictStreamSkipsGarbageChunks(t *testing.T) {
	client := newFlowiseFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": heartbeat comment\n\n")
		fmt.Fprint(w, "data:not json at all\n\n")
		fmt.Fprint(w, "data:{\"event\":\"token\",\"data\":\"ok\"}\n\n")
		fmt.Fprint(w, "data:[DONE]\n\n")
	})

	prediction, err := client.PredictStream(context.Background(),
		[]*Message{userMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", prediction.Text)
}
