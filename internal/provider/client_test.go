package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:          baseURL,
		APIKey:           "sk-test",
		Model:            "gpt-3.5-turbo",
		Temperature:      0.7,
		MaxTokens:        128,
		TopP:             1.0,
		FrequencyPenalty: 0.1,
		PresencePenalty:  0.2,
		ImageCount:       2,
		ImageSize:        "512x768",
	}
}

func TestCompleteSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"text":"a completion"}]}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	result, err := c.Complete(context.Background(), "say something")
	require.NoError(t, err)

	assert.Equal(t, "/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-3.5-turbo", gotBody["model"])
	assert.Equal(t, "say something", gotBody["prompt"])
	assert.Equal(t, 0.7, gotBody["temperature"])
	assert.Equal(t, float64(128), gotBody["max_tokens"])
	assert.Equal(t, 0.1, gotBody["frequency_penalty"])
	assert.Equal(t, 0.2, gotBody["presence_penalty"])

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "a completion", result.Text)
}

func TestChatSuccess(t *testing.T) {
	var gotPath string
	var gotBody chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"choices":[{"message":{"content":"a reply"}}]}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	messages := []ChatMessage{
		{Role: "system", Content: "Be terse."},
		{Role: "user", Content: "hi"},
	}
	result, err := c.Chat(context.Background(), messages)
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, messages, gotBody.Messages)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "a reply", result.Text)
}

func TestGenerateImagesSuccess(t *testing.T) {
	var gotBody imageRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"data":[{"url":"http://img/1"},{"url":"http://img/2"}]}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	result, err := c.GenerateImages(context.Background(), "a lighthouse")
	require.NoError(t, err)

	assert.Equal(t, "a lighthouse", gotBody.Prompt)
	assert.Equal(t, 2, gotBody.N)
	assert.Equal(t, "512x768", gotBody.Size)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, []string{"http://img/1", "http://img/2"}, result.ImageURLs)
}

func TestClassificationByBodyShape(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		outcome    Outcome
		errMessage string
	}{
		{name: "choices is success", status: 200, body: `{"choices":[{"text":"ok"}]}`, outcome: OutcomeSuccess},
		{name: "structured error", status: 400, body: `{"error":{"message":"quota exceeded"}}`, outcome: OutcomeProviderError, errMessage: "quota exceeded"},
		{name: "error with 200 status still classifies on body", status: 200, body: `{"error":{"message":"x"}}`, outcome: OutcomeProviderError, errMessage: "x"},
		{name: "empty object", status: 200, body: `{}`, outcome: OutcomeUnexpected},
		{name: "unrelated body", status: 502, body: `{"detail":"bad gateway"}`, outcome: OutcomeUnexpected},
		{name: "not JSON", status: 200, body: `<html>`, outcome: OutcomeUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(testConfig(srv.URL))
			result, err := c.Complete(context.Background(), "p")
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, tt.errMessage, result.ErrorMessage)
			assert.Equal(t, tt.body, string(result.Raw), "raw body retained")
		})
	}
}

func TestRawBodyRetainedForDebugLogging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"text":"ok"}],"usage":{"total_tokens":3}}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	result, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Contains(t, string(result.Raw), `"total_tokens":3`)
}

func TestTransportErrorSurfacesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := New(testConfig(srv.URL))
	_, err := c.Complete(context.Background(), "p")
	require.Error(t, err)
}
