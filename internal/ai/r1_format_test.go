package ai

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertToR1Format_FoldsSystemPromptIntoFirstUserTurn(t *testing.T) {
	out := ConvertToR1Format([]MessageParam{
		TextMessage(RoleUser, "You are a coding assistant."),
		TextMessage(RoleUser, "Fix the bug."),
		TextMessage(RoleAssistant, "Done."),
	})

	require.Len(t, out, 2)
	assert.Equal(t, openai.ChatMessageRoleUser, out[0].Role)
	assert.Equal(t, "You are a coding assistant.\nFix the bug.", out[0].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, out[1].Role)
	assert.Equal(t, "Done.", out[1].Content)
}

func TestConvertToR1Format_JoinsTextBlocksAndDropsTools(t *testing.T) {
	use, err := ToolUseBlock("c1", "ls", map[string]any{})
	require.NoError(t, err)

	out := ConvertToR1Format([]MessageParam{
		{Role: RoleUser, Content: BlocksContent(TextBlock("a"), TextBlock("b"), ToolResultBlock("c0", StringContent("ignored")))},
		{Role: RoleAssistant, Content: BlocksContent(TextBlock("c"), use)},
	})

	require.Len(t, out, 2)
	assert.Equal(t, "a\nb", out[0].Content)
	assert.Nil(t, out[0].MultiContent)
	assert.Equal(t, "c", out[1].Content)
}

func TestConvertToR1Format_ImagesPromoteToParts(t *testing.T) {
	out := ConvertToR1Format([]MessageParam{
		TextMessage(RoleUser, "system"),
		{Role: RoleUser, Content: BlocksContent(TextBlock("look"), ImageBlock("image/png", "AAAA"))},
	})

	require.Len(t, out, 1)
	parts := out[0].MultiContent
	require.Len(t, parts, 3)
	assert.Empty(t, out[0].Content)
	assert.Equal(t, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: "system"}, parts[0])
	assert.Equal(t, "look", parts[1].Text)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[2].Type)
	assert.Equal(t, "data:image/png;base64,AAAA", parts[2].ImageURL.URL)
}

func TestConvertToR1Format_ImageOnlyHasNoTextPart(t *testing.T) {
	out := ConvertToR1Format([]MessageParam{
		{Role: RoleUser, Content: BlocksContent(ImageBlock("image/gif", "R0lG"))},
	})

	require.Len(t, out, 1)
	require.Len(t, out[0].MultiContent, 1)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, out[0].MultiContent[0].Type)
}

func TestConvertToR1Format_RolesAlternate(t *testing.T) {
	out := ConvertToR1Format([]MessageParam{
		TextMessage(RoleUser, "1"),
		TextMessage(RoleAssistant, "2"),
		TextMessage(RoleAssistant, "3"),
		TextMessage(RoleUser, "4"),
		TextMessage(RoleUser, "5"),
	})

	require.Len(t, out, 3)
	for i := 1; i < len(out); i++ {
		assert.NotEqual(t, out[i-1].Role, out[i].Role)
	}
	assert.Equal(t, "2\n3", out[1].Content)
	assert.Equal(t, "4\n5", out[2].Content)
}
