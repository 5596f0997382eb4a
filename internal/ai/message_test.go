package ai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageParam_UnmarshalBothContentShapes(t *testing.T) {
	var msgs []MessageParam
	raw := `[
		{"role":"user","content":"plain"},
		{"role":"assistant","content":[
			{"type":"text","text":"calling"},
			{"type":"tool_use","id":"t1","name":"search","input":{"q":"go"}}
		]},
		{"role":"user","content":[
			{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"found"}]},
			{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAAA"}}
		]}
	]`
	require.NoError(t, json.Unmarshal([]byte(raw), &msgs))
	require.Len(t, msgs, 3)

	assert.True(t, msgs[0].Content.IsString())
	assert.Equal(t, "plain", msgs[0].Content.Text)

	require.Len(t, msgs[1].Content.Blocks, 2)
	assert.Equal(t, BlockToolUse, msgs[1].Content.Blocks[1].Type)
	assert.JSONEq(t, `{"q":"go"}`, string(msgs[1].Content.Blocks[1].Input))

	tr := msgs[2].Content.Blocks[0]
	require.NotNil(t, tr.Content)
	assert.Equal(t, "found", tr.Content.PlainText())
	assert.Equal(t, "data:image/png;base64,AAAA", msgs[2].Content.Blocks[1].Source.DataURL())
}

func TestMessageContent_RejectsOtherShapes(t *testing.T) {
	var c MessageContent
	assert.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestMessageContent_MarshalRoundsToSameShape(t *testing.T) {
	b, err := json.Marshal(TextMessage(RoleUser, "hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, string(b))

	b, err = json.Marshal(MessageParam{Role: RoleUser, Content: BlocksContent(TextBlock("a"))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"a"}]}`, string(b))
}

func TestToMessageParams_SkipsUnknownRoles(t *testing.T) {
	out := ToMessageParams([]Message{
		{Role: "system", Content: "s"},
		{Role: "user", Content: "u"},
		{Role: "assistant", Content: "a"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, RoleUser, out[0].Role)
	assert.Equal(t, RoleAssistant, out[1].Role)
}

func TestModelInfo_Cost(t *testing.T) {
	info := ModelInfo{InputPrice: 1, OutputPrice: 2, CacheReadsPrice: 0.5}
	u := Chunk{Type: ChunkUsage, InputTokens: 1_000_000, OutputTokens: 500_000, CacheReadTokens: 200_000}

	assert.InDelta(t, 0.8+0.1+1.0, info.Cost(u), 1e-9)
}
