// Package ai provides abstractions for the AI services fundrag depends on.
//
// Two capabilities are needed: turning text into vectors (Embedder) and
// turning a prompt into answer text (Generator). A Provider bundles both
// so they share configuration and lifetime.
//
// # Implementation Packages
//
//   - ai/gemini: Google Gemini API through google.golang.org/genai
//   - ai/openai: OpenAI-compatible servers through langchaingo
//   - ai/mock: Test doubles with deterministic output and call counters
//
// # Quota errors
//
// Implementations wrap rate and quota responses with ErrQuotaExceeded while
// keeping the provider's message text. The embedding batcher relies on both:
// the sentinel marks the error as a quota problem, the message tells a
// permanently exhausted quota ("limit: 0") from a transient one.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithAPIKey(os.Getenv("GEMINI_API_KEY")))
//	provider, err := gemini.NewProvider(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "expense ratio of HDFC Flexi Cap")
//	text, err := provider.Generator().Generate(ctx, prompt)
package ai
