package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const ClarifaiBaseURL = "https://api.clarifai.com/v2/ext/openai/v1"

var ErrClarifaiTokenRequired = errors.New("clarifai: personal access token is required")

type ClarifaiOptions struct {
	CommonOptions

	ClarifaiAPIKey string
	APIModelID     string
}

// ClarifaiHandler streams chat completions from Clarifai's OpenAI-compatible endpoint.
type ClarifaiHandler struct {
	opts   ClarifaiOptions
	logger *zap.Logger

	mu     sync.Mutex
	client *openai.Client
}

var _ ApiHandler = (*ClarifaiHandler)(nil)

func NewClarifaiHandler(opts ClarifaiOptions) *ClarifaiHandler {
	return &ClarifaiHandler{
		opts:   opts,
		logger: opts.logger(ProviderClarifai),
	}
}

// ensureClient builds the SDK client on first use. A missing token is
// reported on every call until one is configured.
func (h *ClarifaiHandler) ensureClient() (*openai.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client != nil {
		return h.client, nil
	}
	if strings.TrimSpace(h.opts.ClarifaiAPIKey) == "" {
		return nil, ErrClarifaiTokenRequired
	}

	baseURL := h.opts.BaseURL
	if baseURL == "" {
		baseURL = ClarifaiBaseURL
	}
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		if err == nil {
			err = fmt.Errorf("invalid base url %q", baseURL)
		}
		return nil, fmt.Errorf("error creating Clarifai client: %w", err)
	}

	cfg := openai.DefaultConfig(h.opts.ClarifaiAPIKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = rateLimitDoer{client: h.opts.httpClient()}
	h.client = openai.NewClientWithConfig(cfg)
	return h.client, nil
}

// GetModel returns the configured model when the catalog knows it, otherwise the Clarifai default.
func (h *ClarifaiHandler) GetModel() ModelRef {
	return h.opts.catalog().Resolve(ProviderClarifai, h.opts.APIModelID)
}

func (h *ClarifaiHandler) CreateMessage(ctx context.Context, systemPrompt string, messages []MessageParam) (<-chan Chunk, <-chan error) {
	model := h.GetModel()
	stream := WithRetry(h.opts.retryOptions(ProviderClarifai, model.ID), h.logger, func(ctx context.Context) (<-chan Chunk, <-chan error) {
		return h.createMessage(ctx, model, systemPrompt, messages)
	})
	chunks, errs := stream(ctx)
	return observe(ctx, h.opts.Observer, ProviderClarifai, model.ID, chunks, errs)
}

func (h *ClarifaiHandler) buildMessages(model ModelRef, systemPrompt string, messages []MessageParam) []openai.ChatCompletionMessage {
	if strings.Contains(model.ID, "DeepSeek-R1") {
		return ConvertToR1Format(append([]MessageParam{TextMessage(RoleUser, systemPrompt)}, messages...))
	}
	return append(
		[]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt}},
		ConvertToOpenAIMessages(messages)...,
	)
}

func (h *ClarifaiHandler) createMessage(ctx context.Context, model ModelRef, systemPrompt string, messages []MessageParam) (<-chan Chunk, <-chan error) {
	client, err := h.ensureClient()
	if err != nil {
		return errStream(err)
	}

	req := openai.ChatCompletionRequest{
		Model:    model.ID,
		Messages: h.buildMessages(model, systemPrompt, messages),
		// go-openai omits a zero temperature; this is its documented way to send 0.
		Temperature:   math.SmallestNonzeroFloat32,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}

	chunks := make(chan Chunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		stream, err := client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		defer stream.Close()

		send := func(c Chunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				errs <- ctx.Err()
				return false
			}
		}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errs <- err
				return
			}

			if len(resp.Choices) > 0 {
				delta := resp.Choices[0].Delta
				if delta.Content != "" && !send(TextChunk(delta.Content)) {
					return
				}
				if delta.ReasoningContent != "" && !send(ReasoningChunk(delta.ReasoningContent)) {
					return
				}
			}

			if resp.Usage != nil {
				u := UsageChunk(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
				if d := resp.Usage.PromptTokensDetails; d != nil {
					u.CacheReadTokens = d.CachedTokens
				}
				if !send(u) {
					return
				}
			}
		}
	}()

	return chunks, errs
}
