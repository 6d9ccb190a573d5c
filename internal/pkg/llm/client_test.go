package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/dgeneration/radiance-ai/backend/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	cfg := config.Default()
	cfg.LLM.APIURL = url
	cfg.LLM.APIKey = "test-key"
	cfg.LLM.Model = "gpt-4o"
	cfg.LLM.MaxTokens = 1000
	return NewClient(cfg)
}

func TestNewClient(t *testing.T) {
	client := newTestClient("https://api.example.com/v1/")

	assert.Equal(t, "https://api.example.com/v1", client.BaseURL)
	assert.Equal(t, "test-key", client.APIKey)
	assert.Equal(t, "gpt-4o", client.Model)
	assert.Equal(t, 1000, client.MaxTokens)
	assert.NotNil(t, client.Client)
}

func TestClientGenerate(t *testing.T) {
	var got ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	msg, err := client.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("system"),
		schema.UserMessage("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, msg.Content)

	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
}

func TestClientGenerateStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	assert.Contains(t, statusErr.Body, "rate limited")
}

func TestClientGenerateEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClientStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{`{\"a\"`, `: 1`, `}`} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"%s\"}}]}\n\n", part)
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	sr, err := newTestClient(server.URL).Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)

	var partials []string
	text, err := Complete(context.Background(), &fakeModel{stream: sr}, nil, func(partial string, done bool) {
		partials = append(partials, partial)
	})
	require.NoError(t, err)
	assert.True(t, text.Streamed)
	assert.Equal(t, `{"a": 1}`, text.Text)
	assert.Equal(t, []string{`{"a"`, `{"a": 1`, `{"a": 1}`, `{"a": 1}`}, partials)
}

func TestClientStreamWithoutDoneIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer server.Close()

	sr, err := newTestClient(server.URL).Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	defer sr.Close()

	chunk, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", chunk.Content)

	_, err = sr.Recv()
	require.Error(t, err)
}

func TestToChatMessagesMultiPart(t *testing.T) {
	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: "Analyze this report"},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: "https://example.com/report.png"}},
		},
	}

	out := toChatMessages([]*schema.Message{msg})
	require.Len(t, out, 1)

	data, err := json.Marshal(out[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"role": "user",
		"content": [
			{"type": "text", "text": "Analyze this report"},
			{"type": "image_url", "image_url": {"url": "https://example.com/report.png"}}
		]
	}`, string(data))
}
