package gemini

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kathan-shah07/fundrag/ai"
	"google.golang.org/genai"
)

// Generator implements ai.Generator on the Gemini generateContent API.
type Generator struct {
	models      *genai.Models
	model       string
	temperature float32
	logger      *slog.Logger
}

var _ ai.Generator = (*Generator)(nil)

// Generate sends the prompt and returns the concatenated text parts.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	})
	if err != nil {
		g.logger.Error("generation request failed", "model", g.model, "err", err)
		return "", classifyError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ai.ErrEmptyResponse
	}
	return text, nil
}
