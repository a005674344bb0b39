package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	resp openai.ChatCompletionResponse
	err  error
	req  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func completion(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}
}

func TestGPTResponder_Reply(t *testing.T) {
	chat := &fakeChat{resp: completion("  Good morning to you too!  ")}
	r := NewGPTResponderWithClient(chat, "gpt-4o-mini", 80, 0.5, nil)

	reply, err := r.Reply(context.Background(), "good morning")
	require.NoError(t, err)
	assert.Equal(t, "Good morning to you too!", reply)

	require.Len(t, chat.req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, chat.req.Messages[0].Role)
	assert.Equal(t, "good morning", chat.req.Messages[1].Content)
	assert.Equal(t, "gpt-4o-mini", chat.req.Model)
	assert.Equal(t, 80, chat.req.MaxTokens)
}

func TestGPTResponder_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		chat *fakeChat
	}{
		{"api error", &fakeChat{err: errors.New("429")}},
		{"no choices", &fakeChat{}},
		{"blank content", &fakeChat{resp: completion("   ")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := NewGPTResponderWithClient(tt.chat, "m", 10, 0, nil).Reply(context.Background(), "hi")
			assert.Error(t, err)
			assert.Equal(t, FallbackReply, reply)
		})
	}
}

func TestStatic(t *testing.T) {
	reply, err := Static{}.Reply(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, reply)
}
