package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxflow/config"
	"inboxflow/internal/model"
)

func TestValidateExtraction(t *testing.T) {
	t.Run("valid item passes through", func(t *testing.T) {
		raw := json.RawMessage(`{
			"type": "meeting",
			"title": "Sync with design team",
			"priority": "high",
			"confidence": 0.9,
			"category": "work",
			"estimated_duration": 30,
			"energy_level": "low"
		}`)

		e, err := ValidateExtraction(raw)
		require.NoError(t, err)
		assert.Equal(t, "Sync with design team", e.Title)
		assert.Equal(t, "high", e.Priority)
		assert.Equal(t, 0.9, e.Confidence)
	})

	t.Run("missing title is rejected", func(t *testing.T) {
		_, err := ValidateExtraction(json.RawMessage(`{"title": "   ", "confidence": 0.9}`))
		assert.Error(t, err)
	})

	t.Run("invalid json is rejected", func(t *testing.T) {
		_, err := ValidateExtraction(json.RawMessage(`{"title": 42}`))
		assert.Error(t, err)
	})

	t.Run("out of range confidence is clamped", func(t *testing.T) {
		e, err := ValidateExtraction(json.RawMessage(`{"title": "x", "confidence": 7.5}`))
		require.NoError(t, err)
		assert.Equal(t, 1.0, e.Confidence)

		e, err = ValidateExtraction(json.RawMessage(`{"title": "x", "confidence": -3}`))
		require.NoError(t, err)
		assert.Equal(t, 0.0, e.Confidence)
	})

	t.Run("unknown priority defaults to medium", func(t *testing.T) {
		e, err := ValidateExtraction(json.RawMessage(`{"title": "x", "priority": "mega-urgent"}`))
		require.NoError(t, err)
		assert.Equal(t, model.PriorityMedium, e.Priority)
	})

	t.Run("negative durations are zeroed", func(t *testing.T) {
		e, err := ValidateExtraction(json.RawMessage(`{"title": "x", "estimated_duration": -15, "duration": -5}`))
		require.NoError(t, err)
		assert.Equal(t, 0, e.EstimatedDuration)
		assert.Equal(t, 0, e.Duration)
	})
}

func testMessage() *model.InboundMessage {
	return &model.InboundMessage{
		ID:          "m-1",
		Subject:     "planning",
		FromAddress: "pm@example.com",
		Body:        "let's plan the quarter",
		ReceivedAt:  time.Now(),
	}
}

func TestExtractTasksFiltersMalformedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		_, _ = w.Write([]byte(`{"extractions": [
			{"title": "Prepare roadmap", "confidence": 0.8, "priority": "high"},
			{"title": "", "confidence": 0.9},
			{"title": "Review budget", "confidence": 2.0, "priority": "??"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(config.AnalyzerConfig{BaseURL: srv.URL}, zap.NewNop())
	extractions, err := client.ExtractTasks(context.Background(), testMessage())

	require.NoError(t, err)
	require.Len(t, extractions, 2)
	assert.Equal(t, "Prepare roadmap", extractions[0].Title)
	assert.Equal(t, "Review budget", extractions[1].Title)
	assert.Equal(t, 1.0, extractions[1].Confidence)
	assert.Equal(t, model.PriorityMedium, extractions[1].Priority)
}

func TestExtractTasksServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(config.AnalyzerConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := client.ExtractTasks(context.Background(), testMessage())
	assert.Error(t, err)
}

func TestExtractTasksCircuitOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(config.AnalyzerConfig{BaseURL: srv.URL}, zap.NewNop())
	for i := 0; i < 10; i++ {
		_, _ = client.ExtractTasks(context.Background(), testMessage())
	}

	_, err := client.ExtractTasks(context.Background(), testMessage())
	assert.Error(t, err)
}

func TestExtractTasksEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"extractions": []}`))
	}))
	defer srv.Close()

	client := NewClient(config.AnalyzerConfig{BaseURL: srv.URL}, zap.NewNop())
	extractions, err := client.ExtractTasks(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Empty(t, extractions)
}
