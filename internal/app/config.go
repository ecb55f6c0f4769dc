package app

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr   string
	BackendURL string
	// BackendWSURL is derived from BackendURL when empty.
	BackendWSURL string
	// BackendTimeout of 0 leaves the client without a timeout.
	BackendTimeout time.Duration
	// BackendRPS of 0 disables the outbound limiter.
	BackendRPS   float64
	BackendBurst int
	// An empty MongoURI disables session persistence.
	MongoURI      string
	MongoDatabase string
	ResumeSession bool
	// An empty RedisAddr disables the music library cache.
	RedisAddr          string
	MusicCacheTTL      time.Duration
	LogLevel           string
	LogFormat          string
	FFProbePath        string
	ProbeCacheSize     int
	ProbeCacheTTL      time.Duration
	TickInterval       time.Duration
	TransitionDuration time.Duration
	SettingsDebounce   time.Duration
	ProjectID          string
	ControlRPS         float64
	ControlBurst       int
	CORSAllowedOrigins []string
	OTLPEndpoint       string
	TraceSampleRate    float64
}

// LoadEnvFile pre-loads variables from .env style files. Variables already
// set in the process environment win. Missing files are not an error.
func LoadEnvFile(paths ...string) (bool, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	if len(existing) == 0 {
		return false, nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return false, err
	}
	return true, nil
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8090"),
		BackendURL:         strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:3000"), "/"),
		BackendWSURL:       strings.TrimRight(getEnv("BACKEND_WS_URL", ""), "/"),
		BackendTimeout:     getEnvMillis("BACKEND_TIMEOUT_MS", 0),
		BackendRPS:         getEnvFloat("BACKEND_RPS", 0),
		BackendBurst:       int(getEnvInt64("BACKEND_BURST", 5)),
		MongoURI:           getEnv("MONGO_URI", ""),
		MongoDatabase:      getEnv("MONGO_DB", "clipstudio"),
		ResumeSession:      getEnvBool("RESUME_SESSION", true),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		MusicCacheTTL:      time.Duration(getEnvInt64("MUSIC_CACHE_TTL_MINUTES", 10)) * time.Minute,
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		FFProbePath:        getEnv("FFPROBE_PATH", "ffprobe"),
		ProbeCacheSize:     int(getEnvInt64("PROBE_CACHE_SIZE", 64)),
		ProbeCacheTTL:      getEnvDuration("PROBE_CACHE_TTL", time.Hour),
		TickInterval:       getEnvMillis("PREVIEW_TICK_MS", 250),
		TransitionDuration: getEnvMillis("TRANSITION_MS", 1000),
		SettingsDebounce:   getEnvMillis("SETTINGS_DEBOUNCE_MS", 500),
		ProjectID:          strings.TrimSpace(getEnv("PROJECT_ID", "")),
		ControlRPS:         getEnvFloat("CONTROL_RPS", 50),
		ControlBurst:       int(getEnvInt64("CONTROL_BURST", 100)),
		CORSAllowedOrigins: parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		OTLPEndpoint:       strings.TrimSpace(getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
		TraceSampleRate:    getEnvRatio("OTEL_TRACE_SAMPLE_RATE", 0.1),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvRatio(key string, fallback float64) float64 {
	v := getEnvFloat(key, fallback)
	if v > 1 {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvMillis reads a non-negative integer number of milliseconds.
func getEnvMillis(key string, fallbackMs int64) time.Duration {
	return time.Duration(getEnvInt64(key, fallbackMs)) * time.Millisecond
}

// getEnvDuration accepts Go duration syntax ("90s", "2h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func parseCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
