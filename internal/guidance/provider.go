package guidance

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gwi.com/wellness-chat/internal/config"
)

// NewGenerator builds the configured provider. The returned func releases it.
func NewGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Generator, func(), error) {
	switch cfg.GuidanceProvider {
	case config.ProviderGemini:
		gen, err := NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiTextModel, cfg.GeminiImageModel, logger)
		if err != nil {
			return nil, nil, err
		}
		return gen, gen.Close, nil
	case config.ProviderOpenAI:
		return NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIImageModel), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported guidance provider %q", cfg.GuidanceProvider)
	}
}
