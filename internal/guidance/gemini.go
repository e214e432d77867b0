package guidance

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"gwi.com/wellness-chat/internal/store"
)

const (
	defaultGeminiTextModel  = "gemini-2.5-flash"
	defaultGeminiImageModel = "gemini-2.5-flash-image"
)

type GeminiGenerator struct {
	client     *genai.Client
	textModel  string
	imageModel string
	logger     *zap.Logger
}

func NewGeminiGenerator(ctx context.Context, apiKey, textModel, imageModel string, logger *zap.Logger) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if textModel == "" {
		textModel = defaultGeminiTextModel
	}
	if imageModel == "" {
		imageModel = defaultGeminiImageModel
	}
	return &GeminiGenerator{client: client, textModel: textModel, imageModel: imageModel, logger: logger}, nil
}

func (g *GeminiGenerator) Close() {
	if g.client != nil {
		if err := g.client.Close(); err != nil {
			g.logger.Warn("Error closing GenAI client", zap.Error(err))
		} else {
			g.logger.Info("GenAI client closed")
		}
	}
}

func stringList() *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
}

// responseSchema mirrors store.WellnessResponse.
func responseSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"condition":             str,
			"confidence":            str,
			"explanation":           str,
			"immediateActionsTitle": str,
			"immediateActions":      stringList(),
			"smallComfortsTitle":    str,
			"smallComforts":         stringList(),
			"stepByStep":            stringList(),
			"youtubeResource": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"title":  str,
					"url":    str,
					"reason": str,
				},
				Required: []string{"title", "url", "reason"},
			},
			"safetyMessage":       str,
			"aiCommentary":        str,
			"gentleReminder":      str,
			"visualizationPrompt": str,
			"visualizationTitle":  str,
		},
		Required: []string{"condition", "aiCommentary", "visualizationPrompt", "visualizationTitle"},
	}
}

func toGenaiHistory(history []store.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		text, ok := turnText(m)
		if !ok {
			continue
		}
		role := "user"
		if m.Role == store.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(text)}})
	}
	return contents
}

func (g *GeminiGenerator) GenerateGuidance(ctx context.Context, prompt Prompt) (string, error) {
	model := g.client.GenerativeModel(g.textModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(prompt.System)},
	}
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = responseSchema()

	chatSession := model.StartChat()
	chatSession.History = toGenaiHistory(prompt.History)

	parts := []genai.Part{genai.Text(prompt.Text)}
	if prompt.Image != nil && len(prompt.Image.Data) > 0 {
		parts = append(parts, genai.Blob{MIMEType: prompt.Image.MIMEType, Data: prompt.Image.Data})
	}

	resp, err := chatSession.SendMessage(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini guidance request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	if responseText.Len() == 0 {
		return "", fmt.Errorf("gemini response contained no text")
	}
	return responseText.String(), nil
}

func (g *GeminiGenerator) GenerateImage(ctx context.Context, prompt string) (*store.Image, error) {
	model := g.client.GenerativeModel(g.imageModel)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini image request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrNoImage
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
			mimeType := blob.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			return &store.Image{MIMEType: mimeType, Data: blob.Data}, nil
		}
	}
	return nil, ErrNoImage
}
