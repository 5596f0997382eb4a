package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const OllamaBaseURL = "http://localhost:11434"

type OllamaOptions struct {
	CommonOptions

	ModelID string
}

type OllamaHandler struct {
	opts   OllamaOptions
	logger *zap.Logger
}

var _ ApiHandler = (*OllamaHandler)(nil)

func NewOllamaHandler(opts OllamaOptions) *OllamaHandler {
	if opts.BaseURL == "" {
		opts.BaseURL = OllamaBaseURL
	}
	return &OllamaHandler{opts: opts, logger: opts.logger(ProviderOllama)}
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature"`
	} `json:"options"`
}

type ollamaStreamResp struct {
	Message         ollamaMsg `json:"message"`
	Done            bool      `json:"done"`
	PromptEvalCount int       `json:"prompt_eval_count,omitempty"`
	EvalCount       int       `json:"eval_count,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// GetModel passes any locally pulled tag through; only the default comes from the catalog.
func (p *OllamaHandler) GetModel() ModelRef {
	if id := strings.TrimSpace(p.opts.ModelID); id != "" {
		info, _ := p.opts.catalog().Lookup(ProviderOllama, id)
		return ModelRef{ID: id, Info: info}
	}
	ref, _ := p.opts.catalog().Default(ProviderOllama)
	return ref
}

func (p *OllamaHandler) CreateMessage(ctx context.Context, systemPrompt string, messages []MessageParam) (<-chan Chunk, <-chan error) {
	model := p.GetModel()
	chunks, errs := p.stream(ctx, model.ID, systemPrompt, messages)
	return observe(ctx, p.opts.Observer, ProviderOllama, model.ID, chunks, errs)
}

func (p *OllamaHandler) stream(ctx context.Context, model, systemPrompt string, messages []MessageParam) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		flat := flattenMessages(systemPrompt, messages)
		reqBody := ollamaChatReq{
			Model:    model,
			Stream:   true,
			Messages: make([]ollamaMsg, 0, len(flat)),
		}
		for _, m := range flat {
			reqBody.Messages = append(reqBody.Messages, ollamaMsg(m))
		}

		b, err := json.Marshal(reqBody)
		if err != nil {
			errs <- err
			return
		}

		url := fmt.Sprintf("%s/api/chat", strings.TrimRight(p.opts.BaseURL, "/"))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.opts.httpClient().Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- fmt.Errorf("ollama: status %d", resp.StatusCode)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		// Increase scanner buffer for long JSON lines.
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaStreamResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != "" {
				errs <- errors.New("ollama: " + decoded.Error)
				return
			}

			if decoded.Message.Content != "" {
				select {
				case chunks <- TextChunk(decoded.Message.Content):
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}

			if decoded.Done {
				select {
				case chunks <- UsageChunk(decoded.PromptEvalCount, decoded.EvalCount):
				case <-ctx.Done():
					errs <- ctx.Err()
				}
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
