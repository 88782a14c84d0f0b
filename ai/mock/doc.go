// Package mock provides test double implementations of AI service interfaces.
//
// MockEmbedder, MockGenerator and MockProvider let tests run without an
// external AI service and give deterministic, inspectable behavior.
//
// # Usage in Tests
//
//	// Default behavior
//	embedder := mock.NewMockEmbedder()
//	vec, err := embedder.EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("429 quota exceeded")
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: unit vectors derived from an FNV hash of the text
//   - MockGenerator: returns a fixed response and records prompts
//   - MockProvider: aggregates the two
package mock
