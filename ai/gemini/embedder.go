package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kathan-shah07/fundrag/ai"
	"google.golang.org/genai"
)

const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// Embedder implements ai.Embedder on the Gemini embedContent API.
type Embedder struct {
	models *genai.Models
	model  string
	logger *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// EmbedText embeds a single query string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds documents in one request.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return e.embed(ctx, texts, taskRetrievalDocument)
}

func (e *Embedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	e.logger.Debug("embedding texts", "count", len(texts), "task", task)

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := e.models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{TaskType: task})
	if err != nil {
		e.logger.Error("embedding request failed", "count", len(texts), "err", err)
		return nil, classifyError(err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ai.ErrEmptyResponse, got, len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%w: embedding %d missing", ai.ErrEmptyResponse, i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}
