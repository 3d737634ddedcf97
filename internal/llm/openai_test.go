package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIResponse(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1760000000,
		"model":   "gpt-4o-mini",
		"choices": []any{
			map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     900,
			"completion_tokens": 300,
			"total_tokens":      1200,
		},
	})
	return string(body)
}

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIGenerator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gen, err := NewOpenAIGenerator("sk-test", GeneratorOptions{
		Model:       "gpt-4o-mini",
		Temperature: 0.4,
		BaseURL:     server.URL + "/v1/",
		HTTPClient:  server.Client(),
	})
	require.NoError(t, err)
	return gen
}

func TestOpenAIGenerator_Success(t *testing.T) {
	var captured map[string]any
	var authHeader, path string

	gen := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(openAIResponse(`{"title":"Team meeting in modern office","description":"Colleagues discussing plans.","keywords":["business","teamwork"],"category":"Business"}`)))
	})

	img := Image{Data: []byte{0x89, 0x50, 0x4e, 0x47}, MIMEType: "image/png"}
	result, err := gen.GenerateMetadata(context.Background(), img)
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "Bearer sk-test", authHeader)
	assert.Equal(t, "gpt-4o-mini", captured["model"])
	assert.InDelta(t, 0.4, captured["temperature"], 1e-9)

	format, ok := captured["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
	schema := format["json_schema"].(map[string]any)
	assert.Equal(t, "stock_metadata", schema["name"])
	assert.Equal(t, true, schema["strict"])

	raw, err := json.Marshal(captured["messages"])
	require.NoError(t, err)
	assert.Contains(t, string(raw), img.DataURL())
	assert.Contains(t, string(raw), "Microstock Keywording Expert")

	assert.Equal(t, "Team meeting in modern office", result.Metadata.Title)
	assert.Equal(t, "Business", result.Metadata.Category)
	assert.Equal(t, int64(1200), result.Usage.TotalTokens)
	assert.InDelta(t, 900.0/1e6*0.15+300.0/1e6*0.60, result.Usage.CostUSD, 1e-12)
}

func TestOpenAIGenerator_EmptyContent(t *testing.T) {
	gen := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(openAIResponse("")))
	})

	_, err := gen.GenerateMetadata(context.Background(), Image{Data: []byte("img"), MIMEType: "image/png"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestOpenAIGenerator_Unauthorized(t *testing.T) {
	calls := 0
	gen := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	})

	_, err := gen.GenerateMetadata(context.Background(), Image{Data: []byte("img"), MIMEType: "image/png"})
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Equal(t, 1, calls, "requests are never retried")
}

func TestOpenAIGenerator_ServerError(t *testing.T) {
	calls := 0
	gen := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := gen.GenerateMetadata(context.Background(), Image{Data: []byte("img"), MIMEType: "image/png"})
	require.Error(t, err)
	assert.Equal(t, KindGeneration, KindOf(err))
	assert.Equal(t, 1, calls)
	assert.True(t, strings.HasPrefix(err.Error(), "generation failed: request failed"))
}
