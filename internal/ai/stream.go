package ai

import (
	"context"
	"strings"
)

type ChunkType string

const (
	ChunkText      ChunkType = "text"
	ChunkReasoning ChunkType = "reasoning"
	ChunkUsage     ChunkType = "usage"
)

// Chunk is one incremental unit of a streamed reply.
type Chunk struct {
	Type ChunkType `json:"type"`

	Text      string `json:"text,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`

	InputTokens     int `json:"inputTokens,omitempty"`
	OutputTokens    int `json:"outputTokens,omitempty"`
	CacheReadTokens int `json:"cacheReadTokens,omitempty"`
}

func TextChunk(s string) Chunk      { return Chunk{Type: ChunkText, Text: s} }
func ReasoningChunk(s string) Chunk { return Chunk{Type: ChunkReasoning, Reasoning: s} }

func UsageChunk(in, out int) Chunk {
	return Chunk{Type: ChunkUsage, InputTokens: in, OutputTokens: out}
}

// ModelRef is a resolved model id together with its catalog entry.
type ModelRef struct {
	ID   string
	Info ModelInfo
}

// ApiHandler maps a vendor chat API onto the internal chunk stream.
//
// CreateMessage returns immediately with two channels; both are closed when
// streaming ends and the error channel carries at most one value.
type ApiHandler interface {
	CreateMessage(ctx context.Context, systemPrompt string, messages []MessageParam) (<-chan Chunk, <-chan error)
	GetModel() ModelRef
}

// StreamFunc produces one stream. It is the unit the retry wrapper re-invokes.
type StreamFunc func(ctx context.Context) (<-chan Chunk, <-chan error)

// Result is a fully drained stream.
type Result struct {
	Text         string
	Reasoning    string
	InputTokens  int
	OutputTokens int
	CacheReads   int
}

// Usage returns the accumulated token counts as a usage chunk.
func (r Result) Usage() Chunk {
	return Chunk{Type: ChunkUsage, InputTokens: r.InputTokens, OutputTokens: r.OutputTokens, CacheReadTokens: r.CacheReads}
}

// Add folds one chunk into the result. Usage chunks are summed.
func (r *Result) Add(c Chunk, text, reasoning *strings.Builder) {
	switch c.Type {
	case ChunkText:
		text.WriteString(c.Text)
	case ChunkReasoning:
		reasoning.WriteString(c.Reasoning)
	case ChunkUsage:
		r.InputTokens += c.InputTokens
		r.OutputTokens += c.OutputTokens
		r.CacheReads += c.CacheReadTokens
	}
}

// Collect drains a stream. The chunk channel is read to completion before the
// error channel is checked, matching how producers close them.
func Collect(chunks <-chan Chunk, errs <-chan error) (Result, error) {
	var (
		res             Result
		text, reasoning strings.Builder
	)
	for c := range chunks {
		res.Add(c, &text, &reasoning)
	}
	res.Text = text.String()
	res.Reasoning = reasoning.String()
	if err, ok := <-errs; ok && err != nil {
		return res, err
	}
	return res, nil
}

// errStream returns an already-terminated stream carrying err.
func errStream(err error) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	close(chunks)
	errs <- err
	close(errs)
	return chunks, errs
}
