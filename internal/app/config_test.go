package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configEnvVars = []string{
	"HTTP_ADDR", "BACKEND_URL", "BACKEND_WS_URL", "BACKEND_TIMEOUT_MS",
	"BACKEND_RPS", "BACKEND_BURST", "MONGO_URI", "MONGO_DB", "RESUME_SESSION",
	"REDIS_ADDR", "MUSIC_CACHE_TTL_MINUTES", "LOG_LEVEL", "LOG_FORMAT",
	"FFPROBE_PATH", "PROBE_CACHE_SIZE", "PROBE_CACHE_TTL", "PREVIEW_TICK_MS",
	"TRANSITION_MS", "SETTINGS_DEBOUNCE_MS", "PROJECT_ID", "CONTROL_RPS",
	"CONTROL_BURST", "CORS_ALLOWED_ORIGINS", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_TRACE_SAMPLE_RATE",
}

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func clearEnvs(t *testing.T) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnvs(t)
	cfg := LoadConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":8090"},
		{"BackendURL", cfg.BackendURL, "http://localhost:3000"},
		{"BackendWSURL", cfg.BackendWSURL, ""},
		{"BackendTimeout", cfg.BackendTimeout, time.Duration(0)},
		{"BackendRPS", cfg.BackendRPS, 0.0},
		{"BackendBurst", cfg.BackendBurst, 5},
		{"MongoURI", cfg.MongoURI, ""},
		{"MongoDatabase", cfg.MongoDatabase, "clipstudio"},
		{"ResumeSession", cfg.ResumeSession, true},
		{"RedisAddr", cfg.RedisAddr, ""},
		{"MusicCacheTTL", cfg.MusicCacheTTL, 10 * time.Minute},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"FFProbePath", cfg.FFProbePath, "ffprobe"},
		{"ProbeCacheSize", cfg.ProbeCacheSize, 64},
		{"ProbeCacheTTL", cfg.ProbeCacheTTL, time.Hour},
		{"TickInterval", cfg.TickInterval, 250 * time.Millisecond},
		{"TransitionDuration", cfg.TransitionDuration, time.Second},
		{"SettingsDebounce", cfg.SettingsDebounce, 500 * time.Millisecond},
		{"ProjectID", cfg.ProjectID, ""},
		{"ControlRPS", cfg.ControlRPS, 50.0},
		{"ControlBurst", cfg.ControlBurst, 100},
		{"OTLPEndpoint", cfg.OTLPEndpoint, ""},
		{"TraceSampleRate", cfg.TraceSampleRate, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Errorf("CORSAllowedOrigins: got %v, want nil/empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnvs(t)
	setEnvs(t, map[string]string{
		"HTTP_ADDR":                   ":9090",
		"BACKEND_URL":                 "https://api.example.com/",
		"BACKEND_WS_URL":              "wss://ws.example.com",
		"BACKEND_TIMEOUT_MS":          "15000",
		"BACKEND_RPS":                 "2.5",
		"MONGO_URI":                   "mongodb://remote:27017",
		"MONGO_DB":                    "studio",
		"RESUME_SESSION":              "false",
		"REDIS_ADDR":                  "redis:6379",
		"MUSIC_CACHE_TTL_MINUTES":     "30",
		"LOG_LEVEL":                   "DEBUG",
		"LOG_FORMAT":                  "JSON",
		"PROBE_CACHE_TTL":             "90s",
		"PREVIEW_TICK_MS":             "100",
		"TRANSITION_MS":               "400",
		"SETTINGS_DEBOUNCE_MS":        "750",
		"PROJECT_ID":                  " 65f0c0ffee ",
		"CORS_ALLOWED_ORIGINS":        "http://localhost:4200, https://studio.example.com",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "http://otel:4318",
		"OTEL_TRACE_SAMPLE_RATE":      "1",
	})

	cfg := LoadConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":9090"},
		{"BackendURL", cfg.BackendURL, "https://api.example.com"},
		{"BackendWSURL", cfg.BackendWSURL, "wss://ws.example.com"},
		{"BackendTimeout", cfg.BackendTimeout, 15 * time.Second},
		{"BackendRPS", cfg.BackendRPS, 2.5},
		{"MongoURI", cfg.MongoURI, "mongodb://remote:27017"},
		{"MongoDatabase", cfg.MongoDatabase, "studio"},
		{"ResumeSession", cfg.ResumeSession, false},
		{"RedisAddr", cfg.RedisAddr, "redis:6379"},
		{"MusicCacheTTL", cfg.MusicCacheTTL, 30 * time.Minute},
		{"LogLevel", cfg.LogLevel, "debug"},
		{"LogFormat", cfg.LogFormat, "json"},
		{"ProbeCacheTTL", cfg.ProbeCacheTTL, 90 * time.Second},
		{"TickInterval", cfg.TickInterval, 100 * time.Millisecond},
		{"TransitionDuration", cfg.TransitionDuration, 400 * time.Millisecond},
		{"SettingsDebounce", cfg.SettingsDebounce, 750 * time.Millisecond},
		{"ProjectID", cfg.ProjectID, "65f0c0ffee"},
		{"OTLPEndpoint", cfg.OTLPEndpoint, "http://otel:4318"},
		{"TraceSampleRate", cfg.TraceSampleRate, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	wantOrigins := []string{"http://localhost:4200", "https://studio.example.com"}
	if len(cfg.CORSAllowedOrigins) != len(wantOrigins) {
		t.Fatalf("CORSAllowedOrigins: got %d entries, want %d", len(cfg.CORSAllowedOrigins), len(wantOrigins))
	}
	for i, got := range cfg.CORSAllowedOrigins {
		if got != wantOrigins[i] {
			t.Errorf("CORSAllowedOrigins[%d]: got %q, want %q", i, got, wantOrigins[i])
		}
	}
}

func TestGetEnvInt64InvalidFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		envVal   string
		fallback int64
		want     int64
	}{
		{"empty string", "", 42, 42},
		{"not a number", "abc", 42, 42},
		{"negative number", "-5", 42, 42},
		{"zero", "0", 42, 0},
		{"valid positive", "100", 42, 100},
		{"whitespace around number", "  50  ", 42, 50},
		{"float", "3.14", 42, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_VAR", tt.envVal)
			if got := getEnvInt64("TEST_INT_VAR", tt.fallback); got != tt.want {
				t.Errorf("getEnvInt64(%q, %d) = %d, want %d", tt.envVal, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestGetEnvTypedFallbacks(t *testing.T) {
	t.Run("float", func(t *testing.T) {
		for val, want := range map[string]float64{"": 1.5, "x": 1.5, "-1": 1.5, "0.25": 0.25} {
			t.Setenv("TEST_FLOAT_VAR", val)
			if got := getEnvFloat("TEST_FLOAT_VAR", 1.5); got != want {
				t.Errorf("getEnvFloat(%q) = %v, want %v", val, got, want)
			}
		}
	})
	t.Run("ratio", func(t *testing.T) {
		t.Setenv("TEST_RATIO_VAR", "1.5")
		if got := getEnvRatio("TEST_RATIO_VAR", 0.1); got != 0.1 {
			t.Errorf("getEnvRatio = %v, want fallback", got)
		}
	})
	t.Run("bool", func(t *testing.T) {
		for val, want := range map[string]bool{"": true, "nope": true, "0": false, "false": false, "TRUE": true} {
			t.Setenv("TEST_BOOL_VAR", val)
			if got := getEnvBool("TEST_BOOL_VAR", true); got != want {
				t.Errorf("getEnvBool(%q) = %v, want %v", val, got, want)
			}
		}
	})
	t.Run("duration", func(t *testing.T) {
		for val, want := range map[string]time.Duration{"": time.Minute, "soon": time.Minute, "-1s": time.Minute, "2h": 2 * time.Hour} {
			t.Setenv("TEST_DURATION_VAR", val)
			if got := getEnvDuration("TEST_DURATION_VAR", time.Minute); got != want {
				t.Errorf("getEnvDuration(%q) = %v, want %v", val, got, want)
			}
		}
	})
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty string", "", nil},
		{"whitespace only", "   ", nil},
		{"single value", "http://localhost:4200", []string{"http://localhost:4200"}},
		{"values with spaces", " a , b , c ", []string{"a", "b", "c"}},
		{"empty entries filtered", "a,,b,", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCSV(tt.input)
			if tt.want == nil {
				if got != nil {
					t.Errorf("parseCSV(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("parseCSV(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CLIPSTUDIO_TEST_FROM_FILE=file\nCLIPSTUDIO_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLIPSTUDIO_TEST_FROM_FILE", "")
	os.Unsetenv("CLIPSTUDIO_TEST_FROM_FILE")
	t.Setenv("CLIPSTUDIO_TEST_PRESET", "process")

	loaded, err := LoadEnvFile(filepath.Join(dir, "missing.env"), path)
	if err != nil || !loaded {
		t.Fatalf("LoadEnvFile = %v, %v", loaded, err)
	}
	if got := os.Getenv("CLIPSTUDIO_TEST_FROM_FILE"); got != "file" {
		t.Errorf("from file = %q", got)
	}
	if got := os.Getenv("CLIPSTUDIO_TEST_PRESET"); got != "process" {
		t.Errorf("process env overridden: %q", got)
	}

	loaded, err = LoadEnvFile(filepath.Join(dir, "nope.env"))
	if err != nil || loaded {
		t.Fatalf("missing file: loaded=%v err=%v", loaded, err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "json")
	logger.Debug("hello", slog.String("k", "v"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if line["msg"] != "hello" || line["k"] != "v" {
		t.Fatalf("line = %v", line)
	}

	buf.Reset()
	newLogger(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
