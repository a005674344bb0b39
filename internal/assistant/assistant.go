// Package assistant answers small talk through the OpenAI chat API, falling
// back to a canned reply.
package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const FallbackReply = "Hello! 👋 I can look up factory averages, elevation prices and market reports, or put you in touch with our staff. Type *help* to see how."

const systemPrompt = `You are the front desk assistant of a tea brokering company.
Reply to the customer's small talk in one or two friendly sentences.
Do not invent prices, sale results or company facts. If they ask for data,
tell them to type "help".`

var errEmptyReply = errors.New("empty completion")

// ChatClient is the subset of the OpenAI client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type GPTResponder struct {
	client      ChatClient
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewGPTResponder(apiKey, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTResponder {
	return NewGPTResponderWithClient(openai.NewClient(apiKey), model, maxTokens, temperature, logger)
}

func NewGPTResponderWithClient(client ChatClient, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTResponder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GPTResponder{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// Reply returns a short answer to text, or FallbackReply with the error when
// the API call fails.
func (r *GPTResponder) Reply(ctx context.Context, text string) (string, error) {
	resp, err := r.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: r.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
			MaxTokens:   r.maxTokens,
			Temperature: float32(r.temperature),
		},
	)
	if err != nil {
		r.logger.Error("Failed to get GPT response", zap.Error(err))
		return FallbackReply, err
	}

	if len(resp.Choices) == 0 {
		return FallbackReply, errEmptyReply
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return FallbackReply, errEmptyReply
	}
	return reply, nil
}

// Static always answers with FallbackReply. Used when no API key is configured.
type Static struct{}

func (Static) Reply(ctx context.Context, text string) (string, error) {
	return FallbackReply, nil
}
