//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalkit/evalkit/evaluation/item"
	"github.com/evalkit/evalkit/evaluation/metric"
)

func TestNewOpenAIRequiresModel(t *testing.T) {
	_, err := NewOpenAI("")
	require.Error(t, err)
}

func TestCriteriaCoverCatalog(t *testing.T) {
	for _, name := range metric.DefaultCatalog().All() {
		assert.Contains(t, criteria, name)
	}
}

func TestParseScore(t *testing.T) {
	tests := map[string]float64{
		"0.85":                     0.85,
		"Score: 0.7":               0.7,
		"1":                        1,
		"I would rate this 0.33/1": 0.33,
	}
	for reply, want := range tests {
		got, err := parseScore(reply)
		require.NoError(t, err, reply)
		assert.InDelta(t, want, got, 1e-9, reply)
	}

	_, err := parseScore("no number here")
	require.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt("how relevant the answer is", &item.Item{
		Question: "what is go",
		Answer:   "a language",
		Context:  "   ",
	})
	assert.Contains(t, prompt, "how relevant the answer is")
	assert.Contains(t, prompt, "what is go")
	assert.Contains(t, prompt, "a language")
	// Blank fields are omitted from the prompt.
	assert.NotContains(t, prompt, "Context:")
}

func TestScoreAgainstCompatibleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{
				{
					"index":   0,
					"message": map[string]any{"role": "assistant", "content": "0.85"},
				},
			},
		})
	}))
	defer srv.Close()

	j, err := NewOpenAI("test-model", WithAPIKey("test-key"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	score, err := j.Score(context.Background(), metric.MetricAnswerRelevancy,
		&item.Item{Question: "what is go", Answer: "a language"}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, score, 1e-9)
}

func TestScoreUnknownMetric(t *testing.T) {
	j, err := NewOpenAI("test-model", WithAPIKey("test-key"))
	require.NoError(t, err)

	_, err = j.Score(context.Background(), "mystery_metric", &item.Item{}, nil)
	require.ErrorIs(t, err, metric.ErrUnknownMetric)
}
