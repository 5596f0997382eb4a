package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

type ImageSource struct {
	Type      string `json:"type"` // always "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// DataURL renders the image as an inline data URL.
func (s ImageSource) DataURL() string {
	return "data:" + s.MediaType + ";base64," + s.Data
}

// ContentBlock is one typed part of a message. Only the fields of Type are meaningful.
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *MessageContent `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

func TextBlock(text string) ContentBlock { return ContentBlock{Type: BlockText, Text: text} }

func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, Source: &ImageSource{Type: "base64", MediaType: mediaType, Data: data}}
}

func ToolUseBlock(id, name string, input any) (ContentBlock, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return ContentBlock{}, err
	}
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: raw}, nil
}

func ToolResultBlock(toolUseID string, content MessageContent) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: &content}
}

// MessageContent is either a plain string or a list of blocks.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

func StringContent(s string) MessageContent { return MessageContent{Text: s} }

func BlocksContent(blocks ...ContentBlock) MessageContent { return MessageContent{Blocks: blocks} }

// IsString reports whether the content is the plain-string form.
func (c MessageContent) IsString() bool { return c.Blocks == nil }

// PlainText flattens the content: text blocks joined by newlines, everything else dropped.
func (c MessageContent) PlainText() string {
	if c.IsString() {
		return c.Text
	}
	parts := make([]string, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		switch b.Type {
		case BlockText:
			parts = append(parts, b.Text)
		case BlockToolResult:
			if b.Content != nil {
				parts = append(parts, b.Content.PlainText())
			}
		}
	}
	return strings.Join(parts, "\n")
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsString() {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

func (c *MessageContent) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" || trimmed == "null" {
		*c = MessageContent{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = MessageContent{Text: s}
		return nil
	case '[':
		blocks := []ContentBlock{}
		if err := json.Unmarshal(b, &blocks); err != nil {
			return err
		}
		*c = MessageContent{Blocks: blocks}
		return nil
	}
	return errors.New("message content must be a string or an array of blocks")
}

type MessageParam struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
}

func TextMessage(role Role, text string) MessageParam {
	return MessageParam{Role: role, Content: StringContent(text)}
}

// Message is the flat role/content pair persisted by the chat store.
type Message struct {
	Role    string
	Content string
}

// ToMessageParams converts flat history into message params. Roles other than
// user and assistant are dropped; the system prompt travels separately.
func ToMessageParams(msgs []Message) []MessageParam {
	out := make([]MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch Role(m.Role) {
		case RoleUser, RoleAssistant:
			out = append(out, TextMessage(Role(m.Role), m.Content))
		}
	}
	return out
}
