package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "  Source code "},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "and media. "},
	}}
	assert.Equal(t, "Source code and media.", resp.Text())

	var nilResp *MessageResponse
	assert.Empty(t, nilResp.Text())
}

func TestCachedSystem(t *testing.T) {
	blocks := CachedSystem("prompt")
	require.Len(t, blocks, 1)
	assert.Equal(t, "prompt", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "5m", blocks[0].CacheControl.TTL)
}

func TestToSDKMessages(t *testing.T) {
	out := toSDKMessages([]Message{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
		{Role: "system", Content: "unknown roles become user"},
	})
	require.Len(t, out, 3)
	assert.EqualValues(t, "user", out[0].Role)
	assert.EqualValues(t, "assistant", out[1].Role)
	assert.EqualValues(t, "user", out[2].Role)

	assert.Empty(t, toSDKMessages(nil))
}

func TestToSDKSystemBlocks(t *testing.T) {
	out := toSDKSystemBlocks([]SystemBlock{
		{Text: "plain"},
		{Text: "cached", CacheControl: &CacheControl{TTL: "1h"}},
		{Text: "default ttl", CacheControl: &CacheControl{}},
	})
	require.Len(t, out, 3)
	assert.Equal(t, "plain", out[0].Text)
	assert.EqualValues(t, "1h", out[1].CacheControl.TTL)
	assert.Empty(t, out[2].CacheControl.TTL)
}

func TestFromSDKMessage(t *testing.T) {
	msg := &sdk.Message{
		ID:         "msg_1",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "end_turn",
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "reason"}},
		Usage:      sdk.Usage{InputTokens: 100, OutputTokens: 20, CacheReadInputTokens: 80},
	}
	resp := fromSDKMessage(msg)
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "reason", resp.Text())
	assert.Equal(t, int64(80), resp.Usage.CacheReadInputTokens)

	empty := fromSDKMessage(&sdk.Message{})
	assert.Empty(t, empty.Content)
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name  string
		model string
		usage TokenUsage
		want  float64
	}{
		{"haiku", "claude-haiku-4-5-20251001", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 6.00},
		{"sonnet", "claude-sonnet-4-5-20250929", TokenUsage{InputTokens: 1_000_000}, 3.00},
		{"cache read", "claude-haiku-4-5-20251001", TokenUsage{CacheReadInputTokens: 1_000_000}, 0.10},
		{"unknown model", "gpt-x", TokenUsage{InputTokens: 1_000_000}, 0},
		{"zero", "claude-haiku-4-5-20251001", TokenUsage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 1e-9)
		})
	}
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 10}.LogCost("claude-haiku-4-5-20251001", "scoring_reason")
	})
}
