package fundrag

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kathan-shah07/fundrag/ai"
	"github.com/kathan-shah07/fundrag/ai/mock"
	"github.com/kathan-shah07/fundrag/config"
	"github.com/kathan-shah07/fundrag/ingestion"
	"github.com/kathan-shah07/fundrag/retrieval"
)

const fundPage = `<!doctype html>
<html>
<head><title>Alpha Flexi Cap Fund Direct Growth</title></head>
<body>
  <h1>Alpha Flexi Cap Fund Direct Growth</h1>
  <div>Expense ratio <span>0.77%</span></div>
  <p>Exit load of 1% if redeemed within 1 year</p>
</body>
</html>`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, "db")
	cfg.Ingestion.DataDir = filepath.Join(dir, "data")
	cfg.Embedding.Delay = 0
	cfg.Scraper.Interval = 0
	return cfg
}

func openTestService(t *testing.T, cfg *config.Config, opts ...Option) (*Service, *mock.MockGenerator) {
	t.Helper()
	gen := mock.NewMockGenerator("Alpha Flexi Cap has an expense ratio of 0.77%.")
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(), gen)
	svc, err := Open(context.Background(), cfg, append([]Option{WithProvider(provider)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, gen
}

func TestOpen(t *testing.T) {
	svc, _ := openTestService(t, testConfig(t))

	assert.NotNil(t, svc.Store())
	assert.NotNil(t, svc.Batcher())
	assert.NotNil(t, svc.Catalog())
	assert.NotNil(t, svc.Pipeline())
	assert.NotNil(t, svc.Scheduler())
	assert.NotNil(t, svc.Engine())
	assert.NotNil(t, svc.Metrics())
	assert.NotNil(t, svc.Registry())
	assert.Equal(t, 5, svc.Engine().TopK())

	info, err := svc.Store().CollectionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mutual_funds", info.Name)
	assert.Zero(t, info.Count)
}

func TestOpen_Errors(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := Open(context.Background(), nil)
		assert.ErrorIs(t, err, ErrConfigRequired)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Ingestion.TopK = 0
		_, err := Open(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AI.Provider = "bogus"
		_, err := Open(context.Background(), cfg)
		assert.ErrorIs(t, err, ai.ErrUnknownProvider)
	})

	t.Run("gemini without key", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AI.APIKey = ""
		_, err := Open(context.Background(), cfg)
		assert.Error(t, err)
	})
}

func TestOpen_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	svc, _ := openTestService(t, cfg)

	assert.Nil(t, svc.Metrics())
	assert.Nil(t, svc.Registry())

	srv, err := svc.NewServer()
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestService_ScrapeIngestAnswer(t *testing.T) {
	pages := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(fundPage))
	}))
	defer pages.Close()

	cfg := testConfig(t)
	target := pages.URL + "/mutual-funds/alpha-flexi-cap-fund"
	cfg.URLs = []config.URLEntry{{URL: target}}
	reg := prometheus.NewRegistry()
	svc, gen := openTestService(t, cfg, WithRegistry(reg))
	ctx := context.Background()

	result, err := svc.Scheduler().RunOnce(ctx, ingestion.RunOptions{Force: true})
	require.NoError(t, err)
	require.NotNil(t, result.Scraping)
	assert.Equal(t, 1, result.Scraping.Successful)
	require.NotNil(t, result.Ingestion)
	assert.Positive(t, result.Ingestion.Chunks)

	hasData, err := svc.Catalog().HasData(ctx)
	require.NoError(t, err)
	assert.True(t, hasData)
	assert.Empty(t, svc.Catalog().FindNew(ctx, []string{target}))

	answer, err := svc.Answer(ctx, "What is the expense ratio of Alpha Flexi Cap Fund?", retrieval.AnswerOptions{})
	require.NoError(t, err)
	assert.Positive(t, answer.RetrievedCount)
	assert.Equal(t, target, answer.CitationURL)
	assert.Equal(t, "Alpha Flexi Cap has an expense ratio of 0.77%.", answer.Answer)
	assert.Equal(t, 1, gen.CallCount())
	assert.Contains(t, gen.LastPrompt(), "0.77%")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "fundrag_pipeline_runs_total")
}

func TestService_NewServer(t *testing.T) {
	svc, _ := openTestService(t, testConfig(t))

	srv, err := svc.NewServer()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestService_Close(t *testing.T) {
	cfg := testConfig(t)
	provider := mock.NewMockProvider()
	svc, err := Open(context.Background(), cfg, WithProvider(provider))
	require.NoError(t, err)

	require.NoError(t, svc.Close())
	assert.True(t, provider.Closed())

	_, err = svc.Store().CollectionInfo(context.Background())
	assert.Error(t, err)
}
