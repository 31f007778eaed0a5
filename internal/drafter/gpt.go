package drafter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatClient is the part of *openai.Client used for drafting.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type GPTDrafter struct {
	client      ChatClient
	model       string
	maxTokens   int
	temperature float64
	fallback    Drafter
	logger      *zap.Logger
}

func NewGPTDrafter(apiKey, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTDrafter {
	return NewGPTDrafterWithClient(openai.NewClient(apiKey), model, maxTokens, temperature, logger)
}

func NewGPTDrafterWithClient(client ChatClient, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTDrafter {
	return &GPTDrafter{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		fallback:    NewTemplateDrafter(),
		logger:      logger,
	}
}

const systemPrompt = `You are a friendly host assistant for a short-term rental company.
Write a short, polite reply (max 3 sentences) to the guest message.
Do not invent prices, codes or addresses. Reply in the guest's language.`

// Draft asks the model for a reply and falls back to templates on any failure.
func (d *GPTDrafter) Draft(ctx context.Context, req DraftRequest) (string, error) {
	reply, err := d.complete(ctx, req)
	if err != nil {
		d.logger.Error("Failed to get GPT draft",
			zap.Error(err),
			zap.String("thread_id", req.ThreadID))
		return d.fallback.Draft(ctx, req)
	}
	return reply, nil
}

func (d *GPTDrafter) complete(ctx context.Context, req DraftRequest) (string, error) {
	prompt := req.GuestMessage
	if req.GuestName != "" {
		prompt = fmt.Sprintf("Guest %s wrote:\n%s", req.GuestName, req.GuestMessage)
	}
	if req.StaffName != "" {
		prompt += fmt.Sprintf("\n\nSign the reply as %s.", req.StaffName)
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   d.maxTokens,
		Temperature: float32(d.temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", errors.New("empty completion")
	}
	return reply, nil
}
