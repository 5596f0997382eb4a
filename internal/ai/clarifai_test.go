package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	Temperature   *float64 `json:"temperature"`
	Stream        bool     `json:"stream"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

func (r capturedRequest) contentString(t *testing.T, i int) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(r.Messages[i].Content, &s))
	return s
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func newClarifaiServer(t *testing.T, captured *capturedRequest, events ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer pat-123", r.Header.Get("Authorization"))
		if captured != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		writeSSE(w, events...)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClarifai(baseURL, key, model string) *ClarifaiHandler {
	return NewClarifaiHandler(ClarifaiOptions{
		CommonOptions:  CommonOptions{BaseURL: baseURL, Retry: fastRetry()},
		ClarifaiAPIKey: key,
		APIModelID:     model,
	})
}

func TestClarifaiHandler_StreamsTextReasoningAndUsage(t *testing.T) {
	var got capturedRequest
	srv := newClarifaiServer(t, &got,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"reasoning_content":"thinking"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`,
	)

	model := "https://clarifai.com/openai/chat-completion/models/gpt-oss-120b"
	h := newTestClarifai(srv.URL, "pat-123", model)

	chunks, errs := h.CreateMessage(context.Background(), "be terse", []MessageParam{TextMessage(RoleUser, "hello")})
	var seq []Chunk
	for c := range chunks {
		seq = append(seq, c)
	}
	require.NoError(t, <-errs)

	assert.Equal(t, []Chunk{
		TextChunk("Hel"),
		ReasoningChunk("thinking"),
		TextChunk("lo"),
		UsageChunk(12, 3),
	}, seq)

	assert.Equal(t, model, got.Model)
	assert.True(t, got.Stream)
	require.NotNil(t, got.StreamOptions)
	assert.True(t, got.StreamOptions.IncludeUsage)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0, *got.Temperature, 1e-9)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be terse", got.contentString(t, 0))
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "hello", got.contentString(t, 1))
}

func TestClarifaiHandler_R1ModelFoldsSystemPrompt(t *testing.T) {
	var got capturedRequest
	srv := newClarifaiServer(t, &got, `{"choices":[{"index":0,"delta":{"content":"ok"}}]}`)

	model := "https://clarifai.com/deepseek-ai/deepseek-chat/models/DeepSeek-R1-0528-Qwen3-8B"
	h := newTestClarifai(srv.URL, "pat-123", model)

	res, err := Collect(h.CreateMessage(context.Background(), "system rules", []MessageParam{
		TextMessage(RoleUser, "question"),
		TextMessage(RoleAssistant, "answer"),
	}))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "system rules\nquestion", got.contentString(t, 0))
	assert.Equal(t, "assistant", got.Messages[1].Role)
}

func TestClarifaiHandler_MissingTokenFailsWithoutRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	h := newTestClarifai(srv.URL, "  ", "")
	_, err := Collect(h.CreateMessage(context.Background(), "sys", nil))

	assert.ErrorIs(t, err, ErrClarifaiTokenRequired)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestClarifaiHandler_InvalidBaseURL(t *testing.T) {
	h := newTestClarifai("not a url", "pat-123", "")
	_, err := h.ensureClient()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error creating Clarifai client")
}

func TestClarifaiHandler_ClientIsBuiltOnce(t *testing.T) {
	h := newTestClarifai("https://example.test/v1", "pat-123", "")
	c1, err := h.ensureClient()
	require.NoError(t, err)
	c2, err := h.ensureClient()
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestClarifaiHandler_RetriesOnRateLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, `{"error":{"message":"slow down"}}`, http.StatusTooManyRequests)
			return
		}
		writeSSE(w, `{"choices":[{"index":0,"delta":{"content":"second try"}}]}`)
	}))
	defer srv.Close()

	h := newTestClarifai(srv.URL, "pat-123", "")
	res, err := Collect(h.CreateMessage(context.Background(), "sys", nil))
	require.NoError(t, err)
	assert.Equal(t, "second try", res.Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClarifaiHandler_ServerErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"model crashed","type":"server_error"}}`)
	}))
	defer srv.Close()

	h := newTestClarifai(srv.URL, "pat-123", "")
	_, err := Collect(h.CreateMessage(context.Background(), "sys", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClarifaiHandler_GetModel(t *testing.T) {
	known := "https://clarifai.com/moonshotai/kimi/models/Kimi-K2-Instruct"

	ref := newTestClarifai("", "k", known).GetModel()
	assert.Equal(t, known, ref.ID)
	assert.Equal(t, ClarifaiModels[known], ref.Info)

	for _, id := range []string{"", "unknown/model"} {
		ref = newTestClarifai("", "k", id).GetModel()
		assert.Equal(t, ClarifaiDefaultModelID, ref.ID)
		assert.Equal(t, ClarifaiModels[ClarifaiDefaultModelID], ref.Info)
	}
}

func TestClarifaiHandler_CancelStopsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{"content":"first"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	h := newTestClarifai(srv.URL, "pat-123", "")
	chunks, errs := h.CreateMessage(ctx, "sys", nil)

	first := <-chunks
	assert.Equal(t, TextChunk("first"), first)
	cancel()

	done := make(chan error, 1)
	go func() {
		_, err := Collect(chunks, errs)
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "context canceled"))
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}
