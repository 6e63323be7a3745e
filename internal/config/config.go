package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"docpilot"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"docpilot"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Model backends
	LLMProvider   string `envconfig:"LLM_PROVIDER" default:"ollama"`
	LLMModel      string `envconfig:"LLM_MODEL" default:"llama3.2"`
	OllamaURL     string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:"http://localhost:1234/v1"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`

	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel    string `envconfig:"EMBED_MODEL" default:"nomic-embed-text"`
	EmbedBatch    int    `envconfig:"EMBED_BATCH" default:"16"`

	LLMTimeoutSeconds   int `envconfig:"LLM_TIMEOUT_SECONDS" default:"120"`
	EmbedTimeoutSeconds int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"30"`

	// RAG tuning
	ChunkSize           int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap        int `envconfig:"CHUNK_OVERLAP" default:"200"`
	TopK                int `envconfig:"TOP_K" default:"5"`
	ContextBudgetTokens int `envconfig:"CONTEXT_BUDGET_TOKENS" default:"3000"`
	MaxPromptChars      int `envconfig:"MAX_PROMPT_CHARS" default:"24000"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"DOCPILOT_UPLOAD_DIR" default:"./uploads"`
	MigrationPath   string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrMissingRequired)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be non-negative and smaller than CHUNK_SIZE", ErrMissingRequired)
	}
	switch c.LLMProvider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("%w: LLM_PROVIDER must be ollama or openai", ErrMissingRequired)
	}
	switch c.EmbedProvider {
	case "ollama", "openai", "gemini":
	default:
		return fmt.Errorf("%w: EMBED_PROVIDER must be ollama, openai or gemini", ErrMissingRequired)
	}
	return nil
}
