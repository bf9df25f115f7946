package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/models"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Logging
	LogLevel string
	LogFile  string // Rotated log file (empty = stdout only)

	// Database (postgres:// for the service, sqlite:// for local history)
	DatabaseURL string

	// Redis
	RedisURL string

	// Storage
	StorageBackend string // "supabase" or "s3"

	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	S3Endpoint  string // Empty = AWS default endpoint
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string // Base URL for public object links (empty = derived from endpoint)

	// Stock providers
	PexelsKey        string
	PixabayKey       string
	RequireProviders bool // When false, a run with no provider keys renders all-synthetic clips
	ProviderRPS      float64
	SearchLimit      int
	SearchTimeout    time.Duration
	IncludeImages    bool

	// Resolution
	MaxAttemptsPerQuery int
	AllowRepeats        bool // Fall back to already-used candidates when every candidate is used

	// Assets
	TempDir         string
	MinAssetBytes   int64
	DownloadTimeout time.Duration
	DownloadRetries int
	FFmpegPath      string
	FFprobePath     string

	// Output defaults
	DefaultResolution string
	DefaultFPS        int
	DefaultStyle      string
	MinSegment        float64 // Shorter segments are stretched to this length (seconds)
	PrepareWorkers    int

	// Audio
	BackgroundMusicEnabled bool
	BackgroundMusicPath    string // Local file or http(s) URL
	MusicGain              float64

	// Transcription (used when a run has no segments)
	Transcriber  string // "openai", "gemini" or "none"
	OpenAIKey    string
	WhisperModel string
	GeminiKey    string
	GeminiModel  string

	// Worker
	MaxConcurrentJobs int
}

// Load reads the environment (and .env if present). It never fails: call
// ValidatePipeline or ValidateService for the checks each entry point needs.
func Load() *Config {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	return &Config{
		APIPort:                getEnv("API_PORT", "8080"),
		WorkerEnabled:          getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:          getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:     getEnv("CORS_ALLOWED_ORIGINS", ""),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFile:                getEnv("LOG_FILE", ""),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageBackend:         strings.ToLower(getEnv("STORAGE_BACKEND", "supabase")),
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:     getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket:  getEnv("SUPABASE_STORAGE_BUCKET", "stockreel"),
		S3Endpoint:             getEnv("S3_ENDPOINT", ""),
		S3Region:               getEnv("S3_REGION", "us-east-1"),
		S3Bucket:               getEnv("S3_BUCKET", ""),
		S3AccessKey:            getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:            getEnv("S3_SECRET_KEY", ""),
		S3PublicURL:            getEnv("S3_PUBLIC_URL", ""),
		PexelsKey:              getEnv("PEXELS_API_KEY", ""),
		PixabayKey:             getEnv("PIXABAY_API_KEY", ""),
		RequireProviders:       getEnvBool("REQUIRE_PROVIDERS", true),
		ProviderRPS:            getEnvFloat("PROVIDER_RPS", 2),
		SearchLimit:            getEnvInt("SEARCH_LIMIT", 15),
		SearchTimeout:          getEnvDuration("SEARCH_TIMEOUT", 15*time.Second),
		IncludeImages:          getEnvBool("INCLUDE_IMAGES", true),
		MaxAttemptsPerQuery:    getEnvInt("MAX_ATTEMPTS_PER_QUERY", 3),
		AllowRepeats:           getEnvBool("ALLOW_REPEATS", true),
		TempDir:                getEnv("TEMP_DIR", os.TempDir()+"/stockreel"),
		MinAssetBytes:          int64(getEnvInt("MIN_ASSET_BYTES", 10000)),
		DownloadTimeout:        getEnvDuration("DOWNLOAD_TIMEOUT", 120*time.Second),
		DownloadRetries:        getEnvInt("DOWNLOAD_RETRIES", 2),
		FFmpegPath:             getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:            getEnv("FFPROBE_PATH", "ffprobe"),
		DefaultResolution:      getEnv("DEFAULT_RESOLUTION", "1920x1080"),
		DefaultFPS:             getEnvInt("DEFAULT_FPS", 30),
		DefaultStyle:           getEnv("DEFAULT_STYLE", "general"),
		MinSegment:             getEnvFloat("MIN_SEGMENT_SECONDS", 0.12),
		PrepareWorkers:         getEnvInt("PREPARE_WORKERS", 4),
		BackgroundMusicEnabled: getEnvBool("BACKGROUND_MUSIC_ENABLED", true),
		BackgroundMusicPath:    getEnv("BACKGROUND_MUSIC_PATH", ""),
		MusicGain:              getEnvFloat("MUSIC_GAIN", 0.1),
		Transcriber:            strings.ToLower(getEnv("TRANSCRIBER", "none")),
		OpenAIKey:              getEnv("OPENAI_API_KEY", ""),
		WhisperModel:           getEnv("WHISPER_MODEL", "whisper-1"),
		GeminiKey:              getEnv("GEMINI_API_KEY", ""),
		GeminiModel:            getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		MaxConcurrentJobs:      getEnvInt("MAX_CONCURRENT_JOBS", 2),
	}
}

// HasProviders reports whether at least one stock provider key is set.
func (c *Config) HasProviders() bool {
	return c.PexelsKey != "" || c.PixabayKey != ""
}

// ValidatePipeline checks the settings every run depends on. Failures match
// models.ErrConfiguration.
func (c *Config) ValidatePipeline() error {
	if c.RequireProviders && !c.HasProviders() {
		return errors.Wrap(models.ErrConfiguration, "PEXELS_API_KEY or PIXABAY_API_KEY is required (set REQUIRE_PROVIDERS=false to render placeholders only)")
	}
	if _, err := models.ParseResolution(c.DefaultResolution); err != nil {
		return errors.Wrap(models.ErrConfiguration, err.Error())
	}
	if c.DefaultFPS <= 0 {
		return errors.Wrap(models.ErrConfiguration, "DEFAULT_FPS must be greater than 0")
	}
	if c.MinAssetBytes < 0 {
		return errors.Wrap(models.ErrConfiguration, "MIN_ASSET_BYTES must not be negative")
	}
	if c.MusicGain < 0 || c.MusicGain > 1 {
		return errors.Wrap(models.ErrConfiguration, "MUSIC_GAIN must be within [0, 1]")
	}
	if c.PrepareWorkers <= 0 {
		return errors.Wrap(models.ErrConfiguration, "PREPARE_WORKERS must be greater than 0")
	}
	if c.MaxAttemptsPerQuery <= 0 {
		return errors.Wrap(models.ErrConfiguration, "MAX_ATTEMPTS_PER_QUERY must be greater than 0")
	}
	if c.SearchTimeout <= 0 || c.DownloadTimeout <= 0 {
		return errors.Wrap(models.ErrConfiguration, "SEARCH_TIMEOUT and DOWNLOAD_TIMEOUT must be greater than 0")
	}
	switch c.Transcriber {
	case "none", "":
	case "openai":
		if c.OpenAIKey == "" {
			return errors.Wrap(models.ErrConfiguration, "OPENAI_API_KEY is required when TRANSCRIBER=openai")
		}
	case "gemini":
		if c.GeminiKey == "" {
			return errors.Wrap(models.ErrConfiguration, "GEMINI_API_KEY is required when TRANSCRIBER=gemini")
		}
	default:
		return errors.Wrapf(models.ErrConfiguration, "unknown TRANSCRIBER %q", c.Transcriber)
	}
	return nil
}

// ValidateService adds the checks for the API server and worker.
func (c *Config) ValidateService() error {
	if err := c.ValidatePipeline(); err != nil {
		return err
	}

	if c.DatabaseURL == "" {
		return errors.Wrap(models.ErrConfiguration, "DATABASE_URL is required")
	}

	switch c.StorageBackend {
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return errors.Wrap(models.ErrConfiguration, "SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
		}
	case "s3":
		if c.S3Bucket == "" {
			return errors.Wrap(models.ErrConfiguration, "S3_BUCKET is required")
		}
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			return errors.Wrap(models.ErrConfiguration, "S3_ACCESS_KEY and S3_SECRET_KEY are required")
		}
	default:
		return errors.Wrapf(models.ErrConfiguration, "unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.MaxConcurrentJobs <= 0 {
		return errors.Wrap(models.ErrConfiguration, "MAX_CONCURRENT_JOBS must be greater than 0")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
		warnInvalid(key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
		warnInvalid(key, value, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
		warnInvalid(key, value, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
		warnInvalid(key, value, defaultValue)
	}
	return defaultValue
}

func warnInvalid(key, value string, defaultValue interface{}) {
	log.WithFields(log.Fields{
		"key":          key,
		"value":        value,
		"defaultValue": defaultValue,
	}).Warn("Invalid value, using default")
}
