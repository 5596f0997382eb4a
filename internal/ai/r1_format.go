package ai

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ConvertToR1Format flattens messages for reasoning models that reject system
// prompts and consecutive turns of the same role. Callers pass the system
// prompt as the first user message; it merges into the first user turn.
// Tool blocks are dropped.
func ConvertToR1Format(messages []MessageParam) []openai.ChatCompletionMessage {
	merged := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, m := range messages {
		next := r1Content(m.Content)
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}

		if n := len(merged); n > 0 && merged[n-1].Role == role {
			last := &merged[n-1]
			if last.MultiContent == nil && next.MultiContent == nil {
				last.Content += "\n" + next.Content
				continue
			}
			last.MultiContent = append(asParts(*last), asParts(next)...)
			last.Content = ""
			continue
		}

		next.Role = role
		merged = append(merged, next)
	}
	return merged
}

// r1Content renders one message body, without a role.
func r1Content(c MessageContent) openai.ChatCompletionMessage {
	if c.IsString() {
		return openai.ChatCompletionMessage{Content: c.Text}
	}

	var (
		texts  []string
		images []openai.ChatMessagePart
	)
	for _, b := range c.Blocks {
		switch b.Type {
		case BlockText:
			texts = append(texts, b.Text)
		case BlockImage:
			if b.Source == nil {
				continue
			}
			images = append(images, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: b.Source.DataURL()},
			})
		}
	}

	if len(images) == 0 {
		return openai.ChatCompletionMessage{Content: strings.Join(texts, "\n")}
	}
	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	if len(texts) > 0 {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: strings.Join(texts, "\n")})
	}
	return openai.ChatCompletionMessage{MultiContent: append(parts, images...)}
}

func asParts(m openai.ChatCompletionMessage) []openai.ChatMessagePart {
	if m.MultiContent != nil {
		return m.MultiContent
	}
	return []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
}
