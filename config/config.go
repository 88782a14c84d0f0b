// Package config loads fundrag's configuration from a YAML file, a .env
// file and environment variables, in that order of precedence from lowest
// to highest.
//
// The file layout mirrors the scraper configuration the service grew out
// of, so a JSON file with "urls", "schedule" and "scraper_settings" keys
// loads unchanged:
//
//	urls:
//	  - url: https://groww.in/mutual-funds/alpha-flexi-cap-fund-direct-growth
//	schedule:
//	  enabled: true
//	  interval_type: hourly
//	  interval_hours: 1
//	  auto_ingest_after_scrape: true
//	scraper_settings:
//	  output_dir: data/mutual_funds
//
// Durations are written as Go duration strings ("1s", "5m").
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kathan-shah07/fundrag/ai"
	"github.com/kathan-shah07/fundrag/embedding"
	"github.com/kathan-shah07/fundrag/scheduler"
)

// Store backends.
const (
	BackendBadger = "badger"
	BackendChroma = "chroma"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the top-level configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	AI        AIConfig        `yaml:"ai"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Scraper   ScraperConfig   `yaml:"scraper_settings"`
	URLs      []URLEntry      `yaml:"urls"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-"`
}

// StoreConfig selects and locates the chunk store.
type StoreConfig struct {
	Backend        string `yaml:"backend"`
	Path           string `yaml:"path"`
	CollectionName string `yaml:"collection_name"`
	ChromaURL      string `yaml:"chroma_url"`
}

// AIConfig configures the embedding and generation provider.
type AIConfig struct {
	Provider        string  `yaml:"provider"`
	APIKey          string  `yaml:"api_key"`
	Host            string  `yaml:"host"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	GenerationModel string  `yaml:"generation_model"`
	Temperature     float64 `yaml:"temperature"`
}

// EmbeddingConfig tunes the embedding batcher.
type EmbeddingConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	Delay      time.Duration `yaml:"delay"`
	MaxRetries int           `yaml:"max_retries"`
	BaseWait   time.Duration `yaml:"base_wait"`
}

// IngestionConfig covers loading, chunking and retrieval depth.
type IngestionConfig struct {
	DataDir      string `yaml:"data_dir"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	TopK         int    `yaml:"top_k"`
}

// ScheduleConfig controls the background scheduler.
type ScheduleConfig struct {
	Enabled               bool          `yaml:"enabled"`
	IntervalType          string        `yaml:"interval_type"`
	IntervalHours         int           `yaml:"interval_hours"`
	IntervalDays          int           `yaml:"interval_days"`
	AutoIngestAfterScrape bool          `yaml:"auto_ingest_after_scrape"`
	Cooldown              time.Duration `yaml:"cooldown"`
	WatchConfig           bool          `yaml:"watch_config"`
}

// ScraperConfig configures the HTTP scraper.
type ScraperConfig struct {
	OutputDir   string        `yaml:"output_dir"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	UserAgent   string        `yaml:"user_agent"`
	Concurrency int           `yaml:"concurrency"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AskRate is the sustained /api/v1/query rate per second; zero disables limiting.
	AskRate  float64 `yaml:"ask_rate"`
	AskBurst int     `yaml:"ask_burst"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:        BackendBadger,
			Path:           "./chroma_db",
			CollectionName: "mutual_funds",
			ChromaURL:      "http://localhost:8000",
		},
		AI: AIConfig{
			Provider:        ai.ProviderGemini,
			Host:            "http://localhost:11434/v1",
			EmbeddingModel:  "models/embedding-001",
			GenerationModel: "gemini-1.5-flash",
			Temperature:     0.1,
		},
		Embedding: EmbeddingConfig{
			BatchSize:  embedding.DefaultBatchSize,
			Delay:      embedding.DefaultDelay,
			MaxRetries: embedding.DefaultMaxRetries,
			BaseWait:   embedding.DefaultBaseWait,
		},
		Ingestion: IngestionConfig{
			DataDir:      "./data/mutual_funds",
			ChunkSize:    1000,
			ChunkOverlap: 200,
			TopK:         5,
		},
		Schedule: ScheduleConfig{
			Enabled:               false,
			IntervalType:          scheduler.IntervalHourly,
			IntervalHours:         1,
			IntervalDays:          1,
			AutoIngestAfterScrape: true,
			Cooldown:              scheduler.DefaultCooldown,
			WatchConfig:           true,
		},
		Scraper: ScraperConfig{
			Interval:    2 * time.Second,
			Timeout:     30 * time.Second,
			UserAgent:   "fundrag/1.0",
			Concurrency: 1,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			AskRate:         2,
			AskBurst:        5,
		},
		Metrics: MetricsConfig{Enabled: true},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (if non-empty) over the defaults, loads ./.env when it
// exists and applies environment overrides. Variables already set in the
// environment win over .env entries.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.Path = path
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString("GEMINI_API_KEY", &cfg.AI.APIKey)
	setString("GEMINI_MODEL", &cfg.AI.GenerationModel)
	setString("GEMINI_EMBEDDING_MODEL", &cfg.AI.EmbeddingModel)
	setString("AI_PROVIDER", &cfg.AI.Provider)
	setString("OPENAI_BASE_URL", &cfg.AI.Host)
	if cfg.AI.Provider == ai.ProviderOpenAI {
		setString("OPENAI_API_KEY", &cfg.AI.APIKey)
	}

	setString("FUNDRAG_STORE", &cfg.Store.Backend)
	setString("CHROMA_DB_PATH", &cfg.Store.Path)
	setString("COLLECTION_NAME", &cfg.Store.CollectionName)
	setString("CHROMA_URL", &cfg.Store.ChromaURL)

	setString("DATA_DIR", &cfg.Ingestion.DataDir)
	setInt("CHUNK_SIZE", &cfg.Ingestion.ChunkSize)
	setInt("CHUNK_OVERLAP", &cfg.Ingestion.ChunkOverlap)
	setInt("TOP_K_RESULTS", &cfg.Ingestion.TopK)

	setString("API_HOST", &cfg.Server.Host)
	setInt("API_PORT", &cfg.Server.Port)
	setInt("PORT", &cfg.Server.Port)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
}

func setString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for badger", ErrInvalidConfig)
		}
	case BackendChroma:
		if c.Store.ChromaURL == "" {
			return fmt.Errorf("%w: store.chroma_url is required for chroma", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	if c.Store.CollectionName == "" {
		return fmt.Errorf("%w: store.collection_name is required", ErrInvalidConfig)
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.BatchSize > embedding.MaxBatchSize {
		return fmt.Errorf("%w: embedding.batch_size must be between 1 and %d, got %d",
			ErrInvalidConfig, embedding.MaxBatchSize, c.Embedding.BatchSize)
	}
	if c.Embedding.MaxRetries < 0 {
		return fmt.Errorf("%w: embedding.max_retries must not be negative", ErrInvalidConfig)
	}
	if c.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("%w: ingestion.chunk_size must be positive", ErrInvalidConfig)
	}
	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("%w: ingestion.chunk_overlap must be in [0, chunk_size)", ErrInvalidConfig)
	}
	if c.Ingestion.TopK <= 0 {
		return fmt.Errorf("%w: ingestion.top_k must be positive", ErrInvalidConfig)
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("%w: scraper_settings.concurrency must be positive", ErrInvalidConfig)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if err := c.SchedulerConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for i, u := range c.URLs {
		if u.URL == "" {
			continue
		}
		if !strings.HasPrefix(u.URL, "http://") && !strings.HasPrefix(u.URL, "https://") {
			return fmt.Errorf("%w: urls[%d]: %q is not an http(s) URL", ErrInvalidConfig, i, u.URL)
		}
	}
	return nil
}

// OutputDir is where scraped records are written. It defaults to the
// ingestion data directory so scraped files are ingested directly.
func (c *Config) OutputDir() string {
	if c.Scraper.OutputDir != "" {
		return c.Scraper.OutputDir
	}
	return c.Ingestion.DataDir
}

// AIConfig converts the ai section for provider construction.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithProvider(c.AI.Provider),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithHost(c.AI.Host),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithTemperature(c.AI.Temperature),
	)
}

// SchedulerConfig converts the schedule section. The config file is
// watched for URL changes when watch_config is set and a file was loaded.
func (c *Config) SchedulerConfig() scheduler.Config {
	sc := scheduler.DefaultConfig()
	sc.Enabled = c.Schedule.Enabled
	sc.IntervalType = c.Schedule.IntervalType
	sc.IntervalHours = c.Schedule.IntervalHours
	sc.IntervalDays = c.Schedule.IntervalDays
	if c.Schedule.Cooldown > 0 {
		sc.Cooldown = c.Schedule.Cooldown
	}
	sc.OutputDir = c.OutputDir()
	if c.Schedule.WatchConfig {
		sc.WatchPath = c.Path
	}
	return sc
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
