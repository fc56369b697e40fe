package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSDKMessages(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "classify these"},
		{Role: "assistant", Content: "[]"},
	})

	require.Len(t, msgs, 2)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
}

func TestFromSDKMessageConcatenatesText(t *testing.T) {
	msg := &sdk.Message{
		ID:    "msg_123",
		Model: "claude-haiku-4-5-20251001",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "["},
			{Type: "text", Text: "]"},
		},
		StopReason: "end_turn",
	}
	msg.Usage.InputTokens = 10
	msg.Usage.OutputTokens = 2

	resp := fromSDKMessage(msg)
	assert.Equal(t, "msg_123", resp.ID)
	assert.Equal(t, "[]", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
	assert.Equal(t, int64(2), resp.Usage.OutputTokens)
}
