// Package guidance turns a user's feeling into a structured wellness response
// using an external text and image generation service.
package guidance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gwi.com/wellness-chat/internal/metrics"
	"gwi.com/wellness-chat/internal/store"
)

const DefaultHistoryLimit = 10

var (
	ErrMalformedResponse = errors.New("guidance response is malformed")
	ErrNoImage           = errors.New("image service returned no image")
)

type Request struct {
	Feeling  string
	Tone     store.Tone
	StepMode bool
	Image    *store.Image
	Role     string
	History  []store.ChatMessage
}

// Prompt is what a Generator sends for the guidance call.
type Prompt struct {
	System  string
	Text    string
	Image   *store.Image
	History []store.ChatMessage
}

// imageOnlyText stands in for a user turn that carried only an image, so the
// history sent to a generator keeps alternating between user and model.
const imageOnlyText = "[shared an image]"

// turnText is the text a history turn is sent with. Turns with neither text
// nor an image are skipped.
func turnText(m store.ChatMessage) (string, bool) {
	if text := strings.TrimSpace(m.Text); text != "" {
		return m.Text, true
	}
	if m.Role == store.RoleUser && m.Image != nil {
		return imageOnlyText, true
	}
	return "", false
}

// Generator is the external generation service.
type Generator interface {
	// GenerateGuidance returns the raw JSON text of a wellness response.
	GenerateGuidance(ctx context.Context, prompt Prompt) (string, error)
	GenerateImage(ctx context.Context, prompt string) (*store.Image, error)
}

type Client struct {
	gen          Generator
	historyLimit int
	logger       *zap.Logger
}

func NewClient(gen Generator, historyLimit int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{gen: gen, historyLimit: historyLimit, logger: logger}
}

// RequestGuidance produces a complete response or fails. The illustration is
// best-effort: when the image call fails the text-only response is returned.
func (c *Client) RequestGuidance(ctx context.Context, req Request) (*store.WellnessResponse, error) {
	if !req.Tone.Valid() {
		req.Tone = store.ToneCalmGentle
	}
	prompt := Prompt{
		System:  systemInstruction,
		Text:    buildUserPrompt(req),
		Image:   req.Image,
		History: recentHistory(req.History, c.historyLimit),
	}

	return requiredThenOptional(ctx,
		func(ctx context.Context) (*store.WellnessResponse, error) {
			raw, err := c.gen.GenerateGuidance(ctx, prompt)
			if err != nil {
				return nil, fmt.Errorf("guidance request failed: %w", err)
			}
			return parseResponse(raw)
		},
		func(ctx context.Context, resp *store.WellnessResponse) (*store.Image, error) {
			if strings.TrimSpace(resp.VisualizationPrompt) == "" {
				return nil, fmt.Errorf("no visualization prompt to illustrate")
			}
			img, err := c.gen.GenerateImage(ctx, imagePrompt(resp))
			if err != nil {
				return nil, err
			}
			if img == nil || len(img.Data) == 0 {
				return nil, ErrNoImage
			}
			return img, nil
		},
		func(resp *store.WellnessResponse, img *store.Image) *store.WellnessResponse {
			resp.VisualizationImage = img
			return resp
		},
		func(err error) {
			metrics.IllustrationFailures.Inc()
			c.logger.Warn("Image generation failed, returning text-only guidance", zap.Error(err))
		},
	)
}

// requiredThenOptional runs required and, on success, optional seeded by its
// result. A failed optional step is reported to onOptionalErr and the required
// result is returned unchanged.
func requiredThenOptional[T, U any](
	ctx context.Context,
	required func(context.Context) (T, error),
	optional func(context.Context, T) (U, error),
	merge func(T, U) T,
	onOptionalErr func(error),
) (T, error) {
	first, err := required(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	second, err := optional(ctx, first)
	if err != nil {
		if onOptionalErr != nil {
			onOptionalErr(err)
		}
		return first, nil
	}
	return merge(first, second), nil
}

// parseResponse decodes the model's JSON and enforces the required fields.
func parseResponse(raw string) (*store.WellnessResponse, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var resp store.WellnessResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	resp.AICommentary = strings.TrimSpace(resp.AICommentary)
	if resp.Condition == "" || resp.AICommentary == "" {
		return nil, fmt.Errorf("%w: condition and aiCommentary are required", ErrMalformedResponse)
	}

	if resp.YouTubeResource != nil {
		if strings.TrimSpace(resp.YouTubeResource.Title) == "" {
			resp.YouTubeResource = nil
		} else {
			resp.YouTubeResource.URL = VideoSearchURL(resp.YouTubeResource.Title)
		}
	}
	// The image is only ever set by the image call.
	resp.VisualizationImage = nil
	return &resp, nil
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
