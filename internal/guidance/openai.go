package guidance

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"gwi.com/wellness-chat/internal/store"
)

type OpenAIGenerator struct {
	client     *openai.Client
	model      string
	imageModel string
}

func NewOpenAIGenerator(apiKey, model, imageModel string) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:     openai.NewClient(apiKey),
		model:      model,
		imageModel: imageModel,
	}
}

func dataURL(img *store.Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func (g *OpenAIGenerator) GenerateGuidance(ctx context.Context, prompt Prompt) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
	}
	messages = append(messages, openAIHistory(prompt.History)...)

	userMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if prompt.Image != nil && len(prompt.Image.Data) > 0 {
		userMsg.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt.Text},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL(prompt.Image)}},
		}
	} else {
		userMsg.Content = prompt.Text
	}
	messages = append(messages, userMsg)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai guidance request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (g *OpenAIGenerator) GenerateImage(ctx context.Context, prompt string) (*store.Image, error) {
	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          g.imageModel,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image request failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, ErrNoImage
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode openai image: %w", err)
	}
	return &store.Image{MIMEType: "image/png", Data: data}, nil
}

func openAIHistory(history []store.ChatMessage) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		text, ok := turnText(m)
		if !ok {
			continue
		}
		role := openai.ChatMessageRoleUser
		if m.Role == store.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: text})
	}
	return messages
}
