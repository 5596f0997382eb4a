package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/assistant-gateway/internal/ai"
	"github.com/suPer8Hu/assistant-gateway/internal/config"
	"github.com/suPer8Hu/assistant-gateway/internal/db"
	"github.com/suPer8Hu/assistant-gateway/internal/httpapi/handlers"
	"github.com/suPer8Hu/assistant-gateway/internal/metrics"
	"github.com/suPer8Hu/assistant-gateway/internal/store/redisstore"
)

func init() { gin.SetMode(gin.TestMode) }

type fakePublisher struct {
	mu   sync.Mutex
	jobs []string
}

func (p *fakePublisher) PublishJob(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, jobID)
	return nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testEnv struct {
	router    *gin.Engine
	publisher *fakePublisher
	upstream  *[]string // Authorization headers seen by the fake Clarifai
}

// fakeClarifai streams a reasoning delta, two text deltas and usage.
func fakeClarifai(t *testing.T, auths *[]string) *httptest.Server {
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*auths = append(*auths, r.Header.Get("Authorization"))
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range []string{
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"reasoning_content":"hmm"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hi"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":" there"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	gdb, err := db.Connect("sqlite::memory:", nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	mr := miniredis.RunT(t)
	cache, err := redisstore.New(ctx, redisstore.Options{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	var auths []string
	upstream := fakeClarifai(t, &auths)

	cfg, err := config.LoadFrom("")
	require.NoError(t, err)
	cfg.JWTSecret = "test-secret"
	cfg.RateLimitRPS = 0

	catalog := ai.NewCatalog(nil)
	reg := ai.NewRegistry()
	ai.RegisterBuiltins(reg, ai.DefaultsConfig{
		Common:          ai.CommonOptions{Catalog: catalog},
		ClarifaiBaseURL: upstream.URL,
	})

	pub := &fakePublisher{}
	r := NewRouter(ctx, gdb, cfg, handlers.Deps{
		Registry:  reg,
		Catalog:   catalog,
		Cache:     cache,
		Publisher: pub,
	}, metrics.NewCollector("test", nil))

	return &testEnv{router: r, publisher: pub, upstream: &auths}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (e *testEnv) signup(t *testing.T) string {
	t.Helper()
	rec, env := e.do(t, http.MethodPost, "/users", "", gin.H{"email": "dev@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

type sseEvent struct {
	Event string
	Data  map[string]any
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var (
		out []sseEvent
		cur sseEvent
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.Data))
		case line == "":
			if cur.Event != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		}
	}
	return out
}

func TestRouter_SignupLoginMe(t *testing.T) {
	e := newTestEnv(t)
	e.signup(t)

	rec, env := e.do(t, http.MethodPost, "/login", "", gin.H{"account": "DEV@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &login))

	rec, env = e.do(t, http.MethodGet, "/me", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"email":"dev@example.com"`)

	rec, env = e.do(t, http.MethodPost, "/login", "", gin.H{"account": "dev@example.com", "password": "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 40103, env.Code)

	rec, _ = e.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_SettingsAndForm(t *testing.T) {
	e := newTestEnv(t)
	token := e.signup(t)

	rec, env := e.do(t, http.MethodPut, "/settings/field", token, gin.H{"field": "clarifaiApiKey", "value": "pat-123456789"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(env.Data), `"clarifaiApiKey":"********6789"`)
	assert.NotContains(t, string(env.Data), "pat-123456789")

	kimi := "https://clarifai.com/moonshotai/kimi/models/Kimi-K2-Instruct"
	rec, _ = e.do(t, http.MethodPut, "/settings/mode-field", token, gin.H{"value": kimi, "mode": "act"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = e.do(t, http.MethodPut, "/settings/mode-field", token, gin.H{"value": kimi, "mode": "review"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 40003, env.Code)

	rec, env = e.do(t, http.MethodPut, "/settings/field", token, gin.H{"field": "nope", "value": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 40010, env.Code)

	rec, env = e.do(t, http.MethodGet, "/settings/providers/clarifai/form?mode=act&popup=true", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var form struct {
		ApiKeyField struct {
			InitialValue  string `json:"initialValue"`
			OnChangeField string `json:"onChangeField"`
			SignupURL     string `json:"signupUrl"`
		} `json:"apiKeyField"`
		ModelSelector struct {
			SelectedModelID string `json:"selectedModelId"`
		} `json:"modelSelector"`
		ModelInfoView struct {
			IsPopup bool `json:"isPopup"`
		} `json:"modelInfoView"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &form))
	assert.Equal(t, "********6789", form.ApiKeyField.InitialValue)
	assert.Equal(t, "clarifaiApiKey", form.ApiKeyField.OnChangeField)
	assert.Equal(t, "https://clarifai.com/signup", form.ApiKeyField.SignupURL)
	assert.Equal(t, kimi, form.ModelSelector.SelectedModelID)
	assert.True(t, form.ModelInfoView.IsPopup)

	rec, env = e.do(t, http.MethodGet, "/settings/providers/clarifai/form?show_model_options=false", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, string(env.Data), "modelSelector")

	rec, env = e.do(t, http.MethodGet, "/settings", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Act struct {
			SelectedProvider string `json:"selectedProvider"`
			SelectedModelID  string `json:"selectedModelId"`
		} `json:"act"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "clarifai", got.Act.SelectedProvider)
	assert.Equal(t, kimi, got.Act.SelectedModelID)
}

func TestRouter_ChatStreamWithUserKey(t *testing.T) {
	e := newTestEnv(t)
	token := e.signup(t)

	rec, _ := e.do(t, http.MethodPut, "/settings/field", token, gin.H{"field": "clarifaiApiKey", "value": "user-pat"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := e.do(t, http.MethodPost, "/chat/sessions", token, gin.H{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess struct {
		SessionID string `json:"session_id"`
		Provider  string `json:"provider"`
		Model     string `json:"model"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, "clarifai", sess.Provider)
	assert.Equal(t, ai.ClarifaiDefaultModelID, sess.Model)

	rec, _ = e.do(t, http.MethodPost, "/chat/messages/stream", token, gin.H{"session_id": sess.SessionID, "message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	var names []string
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	assert.Equal(t, []string{"reasoning", "text", "text", "usage", "done"}, names)
	assert.Equal(t, "hmm", events[0].Data["reasoning"])
	assert.Equal(t, float64(12), events[3].Data["input_tokens"])
	assert.NotZero(t, events[4].Data["message_id"])
	assert.Equal(t, []string{"Bearer user-pat"}, *e.upstream)

	rec, env = e.do(t, http.MethodGet, "/chat/sessions/"+sess.SessionID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Messages []struct {
			Role         string `json:"role"`
			Content      string `json:"content"`
			Reasoning    string `json:"reasoning"`
			OutputTokens int    `json:"output_tokens"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Messages, 2)
	// newest first
	assert.Equal(t, "assistant", list.Messages[0].Role)
	assert.Equal(t, "Hi there", list.Messages[0].Content)
	assert.Equal(t, "hmm", list.Messages[0].Reasoning)
	assert.Equal(t, 3, list.Messages[0].OutputTokens)
}

func TestRouter_ChatWithoutTokenFails(t *testing.T) {
	e := newTestEnv(t)
	token := e.signup(t)

	_, env := e.do(t, http.MethodPost, "/chat/sessions", token, gin.H{"provider": "clarifai"})
	var sess struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sess))

	rec, env := e.do(t, http.MethodPost, "/chat/messages", token, gin.H{"session_id": sess.SessionID, "message": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 40005, env.Code)
	assert.Empty(t, *e.upstream)

	rec, env = e.do(t, http.MethodPost, "/chat/sessions", token, gin.H{"provider": "bedrock"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 40002, env.Code)
}

func TestRouter_AsyncIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	token := e.signup(t)

	_, env := e.do(t, http.MethodPost, "/chat/sessions", token, gin.H{})
	var sess struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sess))

	send := func() string {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(gin.H{"session_id": sess.SessionID, "message": "later"}))
		req := httptest.NewRequest(http.MethodPost, "/chat/messages/async", &buf)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "k-1")
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var out envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		var data struct {
			JobID string `json:"job_id"`
		}
		require.NoError(t, json.Unmarshal(out.Data, &data))
		return data.JobID
	}

	first, second := send(), send()
	assert.Equal(t, first, second)
	assert.Equal(t, []string{first}, e.publisher.jobs)

	rec, env := e.do(t, http.MethodGet, "/chat/jobs/"+first, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"status":"queued"`)

	rec, env = e.do(t, http.MethodGet, "/chat/sessions/"+sess.SessionID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(string(env.Data), `"role":"user"`))
}

func TestRouter_ProvidersAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	rec, env := e.do(t, http.MethodGet, "/providers/clarifai/models", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var models struct {
		DefaultModel string `json:"default_model"`
		Models       []struct {
			ID string `json:"id"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &models))
	assert.Equal(t, ai.ClarifaiDefaultModelID, models.DefaultModel)
	assert.Len(t, models.Models, len(ai.ClarifaiModels))

	rec, env = e.do(t, http.MethodGet, "/providers/bedrock/models", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 40403, env.Code)

	rec, _ = e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_http_requests_total{method="GET",path="/providers/:provider/models",status="200"} 1`)

	rec, env = e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 40400, env.Code)
}
