package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

var ErrOpenRouterKeyRequired = errors.New("openrouter: api key is required")

type OpenRouterOptions struct {
	CommonOptions

	APIKey  string
	ModelID string
	SiteURL string
	AppName string
}

// OpenRouterHandler speaks OpenRouter's SSE dialect directly; it needs the
// attribution headers and the "reasoning" delta field, which differ from Clarifai.
type OpenRouterHandler struct {
	opts   OpenRouterOptions
	logger *zap.Logger
}

var _ ApiHandler = (*OpenRouterHandler)(nil)

func NewOpenRouterHandler(opts OpenRouterOptions) *OpenRouterHandler {
	if opts.BaseURL == "" {
		opts.BaseURL = OpenRouterBaseURL
	}
	return &OpenRouterHandler{opts: opts, logger: opts.logger(ProviderOpenRouter)}
}

type openRouterMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterChatReq struct {
	Model         string          `json:"model"`
	Messages      []openRouterMsg `json:"messages"`
	Temperature   float64         `json:"temperature"`
	Stream        bool            `json:"stream"`
	StreamOptions struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

type openRouterStreamResp struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenRouterHandler) GetModel() ModelRef {
	if id := strings.TrimSpace(p.opts.ModelID); id != "" {
		// OpenRouter routes arbitrary slugs, so unknown ids pass through with empty info.
		info, _ := p.opts.catalog().Lookup(ProviderOpenRouter, id)
		return ModelRef{ID: id, Info: info}
	}
	ref, _ := p.opts.catalog().Default(ProviderOpenRouter)
	return ref
}

func (p *OpenRouterHandler) CreateMessage(ctx context.Context, systemPrompt string, messages []MessageParam) (<-chan Chunk, <-chan error) {
	model := p.GetModel()
	stream := WithRetry(p.opts.retryOptions(ProviderOpenRouter, model.ID), p.logger, func(ctx context.Context) (<-chan Chunk, <-chan error) {
		return p.stream(ctx, model.ID, systemPrompt, messages)
	})
	chunks, errs := stream(ctx)
	return observe(ctx, p.opts.Observer, ProviderOpenRouter, model.ID, chunks, errs)
}

func flattenMessages(systemPrompt string, messages []MessageParam) []openRouterMsg {
	out := make([]openRouterMsg, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openRouterMsg{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		out = append(out, openRouterMsg{Role: string(m.Role), Content: m.Content.PlainText()})
	}
	return out
}

func (p *OpenRouterHandler) stream(ctx context.Context, model, systemPrompt string, messages []MessageParam) (<-chan Chunk, <-chan error) {
	if strings.TrimSpace(p.opts.APIKey) == "" {
		return errStream(ErrOpenRouterKeyRequired)
	}

	chunks := make(chan Chunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		reqBody := openRouterChatReq{
			Model:    model,
			Messages: flattenMessages(systemPrompt, messages),
			Stream:   true,
		}
		reqBody.StreamOptions.IncludeUsage = true

		b, err := json.Marshal(reqBody)
		if err != nil {
			errs <- err
			return
		}

		url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.opts.BaseURL, "/"))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
		if p.opts.SiteURL != "" {
			req.Header.Set("HTTP-Referer", p.opts.SiteURL)
		}
		if p.opts.AppName != "" {
			req.Header.Set("X-Title", p.opts.AppName)
		}

		resp, err := p.opts.httpClient().Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			errs <- rateLimitFromResponse(resp)
			return
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			msg := strings.TrimSpace(string(body))
			if msg == "" {
				msg = fmt.Sprintf("status %d", resp.StatusCode)
			}
			errs <- fmt.Errorf("openrouter: %s", msg)
			return
		}

		send := func(c Chunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				errs <- ctx.Err()
				return false
			}
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue // blank separators and ": OPENROUTER PROCESSING" keep-alives
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var decoded openRouterStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				errs <- fmt.Errorf("openrouter: %s", decoded.Error.Message)
				return
			}
			if len(decoded.Choices) > 0 {
				d := decoded.Choices[0].Delta
				if d.Content != "" && !send(TextChunk(d.Content)) {
					return
				}
				reasoning := d.Reasoning
				if reasoning == "" {
					reasoning = d.ReasoningContent
				}
				if reasoning != "" && !send(ReasoningChunk(reasoning)) {
					return
				}
			}
			if decoded.Usage != nil && !send(UsageChunk(decoded.Usage.PromptTokens, decoded.Usage.CompletionTokens)) {
				return
			}
		}

		if err := sc.Err(); err != nil {
			errs <- err
			return
		}
	}()

	return chunks, errs
}
