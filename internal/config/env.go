package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// OCRConfig selects and configures the OCR backend.
type OCRConfig struct {
	Engine             string // "mistral"|"replay"|"tesseract"
	APIKey             string
	BaseURL            string
	Model              string
	RequestTimeout     time.Duration
	MaxAttempts        int
	RetryBaseDelay     time.Duration
	RetryJitter        time.Duration
	RetryBackoffFactor float64
	ReplayDir          string
	TesseractLanguage  string
}

// LimiterConfig bounds calls to the OCR engine.
type LimiterConfig struct {
	MaxInflight  int
	BaseCooldown time.Duration
	MaxCooldown  time.Duration
	// Shared keeps cooldowns in Redis (REDIS_URL) across processes.
	Shared bool
}

// FetchConfig bounds remote image retrieval.
type FetchConfig struct {
	Timeout  time.Duration
	MaxBytes int64
}

// OutputConfig selects where artifacts land.
type OutputConfig struct {
	Dir         string
	Backend     string // "local"|"s3"
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	// Password seals S3 artifacts when set.
	Password string
}

// StatusConfig selects the per-document status sink.
type StatusConfig struct {
	Backend  string // "log"|"redis"
	RedisURL string
	TTL      time.Duration
}

// WorkerConfig defines document-level parallelism.
type WorkerConfig struct {
	Concurrency     int
	DocumentTimeout time.Duration
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string
}

// InputConfig locates the documents to process.
type InputConfig struct {
	Dir string
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	OCR     OCRConfig
	Limiter LimiterConfig
	Fetch   FetchConfig
	Output  OutputConfig
	Status  StatusConfig
	Worker  WorkerConfig
	Metrics MetricsConfig
	Input   InputConfig
}

// Load reads a .env file from the working directory, if present, and then
// builds the configuration. Variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/ocrmd.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_ocrmd",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	// OCR backend defaults
	cfg.OCR = OCRConfig{
		Engine:             strings.ToLower(getEnv("OCR_ENGINE", "mistral")),
		APIKey:             getEnv("MISTRAL_API_KEY", ""),
		BaseURL:            strings.TrimRight(getEnv("MISTRAL_BASE_URL", "https://api.mistral.ai"), "/"),
		Model:              getEnv("OCR_MODEL", "mistral-ocr-latest"),
		RequestTimeout:     parseDuration(getEnv("OCR_TIMEOUT", "120s"), 120*time.Second),
		MaxAttempts:        parseInt(getEnv("OCR_MAX_ATTEMPTS", "3"), 3),
		RetryBaseDelay:     parseDuration(getEnv("OCR_RETRY_BASE_DELAY", "2s"), 2*time.Second),
		RetryJitter:        parseDuration(getEnv("OCR_RETRY_JITTER", "200ms"), 200*time.Millisecond),
		RetryBackoffFactor: parseFloat(getEnv("OCR_RETRY_BACKOFF_FACTOR", "2.0"), 2.0),
		ReplayDir:          getEnv("OCR_REPLAY_DIR", "responses"),
		TesseractLanguage:  getEnv("TESSERACT_LANG", "eng"),
	}
	if cfg.OCR.MaxAttempts < 1 {
		cfg.OCR.MaxAttempts = 1
	}

	cfg.Limiter = LimiterConfig{
		MaxInflight:  parseInt(getEnv("OCR_MAX_INFLIGHT", "2"), 2),
		BaseCooldown: parseDuration(getEnv("OCR_COOLDOWN_BASE", "30s"), 30*time.Second),
		MaxCooldown:  parseDuration(getEnv("OCR_COOLDOWN_MAX", "5m"), 5*time.Minute),
		Shared:       parseBool(getEnv("OCR_COOLDOWN_SHARED", "false")),
	}

	cfg.Fetch = FetchConfig{
		Timeout:  parseDuration(getEnv("FETCH_TIMEOUT", "30s"), 30*time.Second),
		MaxBytes: int64(parseInt(getEnv("FETCH_MAX_BYTES", "52428800"), 50<<20)),
	}

	cfg.Output = OutputConfig{
		Dir:         getEnv("OUTPUT_DIR", "output"),
		Backend:     strings.ToLower(getEnv("OUTPUT_BACKEND", "local")),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Prefix:    getEnv("S3_PREFIX", ""),
		S3Region:    getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		Password:    getEnv("ARTIFACT_PASSWORD", ""),
	}

	cfg.Status = StatusConfig{
		Backend:  strings.ToLower(getEnv("STATUS_BACKEND", "log")),
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		TTL:      parseDuration(getEnv("STATUS_TTL", "168h"), 7*24*time.Hour),
	}

	cfg.Worker = WorkerConfig{
		Concurrency:     parseInt(getEnv("WORKER_CONCURRENCY", "1"), 1),
		DocumentTimeout: parseDuration(getEnv("DOCUMENT_TIMEOUT", "10m"), 10*time.Minute),
	}
	if cfg.Worker.Concurrency < 1 {
		cfg.Worker.Concurrency = 1
	}

	cfg.Metrics = MetricsConfig{Addr: getEnv("METRICS_ADDR", "")}
	cfg.Input = InputConfig{Dir: getEnv("INPUT_DIR", "input")}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
