package ai

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const toolResultImagePlaceholder = "(see following user message for image)"

// ConvertToOpenAIMessages maps message params onto the chat-completions shape.
// Tool results become "tool" messages placed ahead of the user's other content,
// since they must directly follow the assistant turn that issued the calls.
func ConvertToOpenAIMessages(messages []MessageParam) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, m := range messages {
		if m.Content.IsString() {
			out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content.Text})
			continue
		}

		switch m.Role {
		case RoleUser:
			var toolResults, rest []ContentBlock
			for _, b := range m.Content.Blocks {
				switch b.Type {
				case BlockToolResult:
					toolResults = append(toolResults, b)
				case BlockText, BlockImage:
					rest = append(rest, b)
				}
			}

			for _, tr := range toolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: tr.ToolUseID,
					Content:    toolResultText(tr.Content),
				})
			}

			if len(rest) > 0 {
				parts := make([]openai.ChatMessagePart, 0, len(rest))
				for _, b := range rest {
					if b.Type == BlockImage && b.Source != nil {
						parts = append(parts, openai.ChatMessagePart{
							Type:     openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{URL: b.Source.DataURL()},
						})
						continue
					}
					parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: b.Text})
				}
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
			}

		case RoleAssistant:
			var (
				texts []string
				calls []openai.ToolCall
			)
			for _, b := range m.Content.Blocks {
				switch b.Type {
				case BlockToolUse:
					args := string(b.Input)
					if args == "" {
						args = "{}"
					}
					calls = append(calls, openai.ToolCall{
						ID:   b.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      b.Name,
							Arguments: args,
						},
					})
				case BlockText:
					texts = append(texts, b.Text)
				case BlockImage:
					// assistants cannot send images
					texts = append(texts, "")
				}
			}
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: strings.Join(texts, "\n")}
			if len(calls) > 0 {
				msg.ToolCalls = calls
			}
			out = append(out, msg)
		}
	}
	return out
}

func toolResultText(c *MessageContent) string {
	if c == nil {
		return ""
	}
	if c.IsString() {
		return c.Text
	}
	parts := make([]string, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		if b.Type == BlockImage {
			parts = append(parts, toolResultImagePlaceholder)
			continue
		}
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}
