// Package config loads and validates SakaiBot's environment configuration
// (.env, via godotenv), then exposes it read-only through a process-wide
// singleton.
//
// Thread safety: Load is serialized by a package mutex and Warnings takes
// the singleton's read lock; Env reads the singleton without locking. The singleton is
// assembled once at Load and never mutated afterward.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig holds every recognized environment option: Telegram session
// credentials, the LLM provider selection and its key pool, the optional
// TTS/transcoder/image-worker settings, and the ambient debug/environment
// markers.
type EnvConfig struct {
	APIID       int
	APIHash     string
	PhoneNumber string
	SessionName string

	LogLevel    string
	Environment string
	Debug       bool

	DataDir        string
	SettingsFile   string
	PeerCacheFile  string
	LockFile       string
	TempDir        string
	MonitorLogFile string
	SessionFile    string
	UpdatesStateFile string

	LLMProvider string // "gemini" | "openrouter"
	LLMModel    string
	LLMKeys     []string

	TTSBaseURL string // optional
	TTSKey     string // optional, separate from the LLM key pool

	Transcoder string // optional path to an external audio tool (e.g. ffmpeg)

	FluxBaseURL string // optional
	SDXLBaseURL string // optional
	SDXLKey     string // optional, required if SDXLBaseURL is set

	MaxAnalyzeMessages int

	RateLimitPerMinute int
}

// Config wraps EnvConfig with warnings accumulated while loading it.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

const (
	defaultLogLevel          = "info"
	defaultEnvironment       = "production"
	defaultSessionName       = "sakaibot"
	defaultDataDir           = "data"
	defaultSettingsFileName  = "settings.json"
	defaultPeerCacheFileName = "peer_cache.bbolt"
	defaultLockFileName      = "sakaibot.pid"
	defaultTempDirName       = "tmp"
	defaultMonitorLogName    = "monitor.log"
	defaultSessionFileName   = "session.json"
	defaultUpdatesStateName  = "updates_state.json"
	defaultLLMProvider       = "gemini"
	defaultLLMModel          = "gemini-2.0-flash"
	defaultMaxAnalyzeN       = 500
	defaultRateLimitPerMin   = 20
)

var (
	cfgInstance *Config
	cfgDone     bool
	cfgMu       sync.Mutex
)

// Load is the entry point for initializing the global configuration. A
// second call returns an error: re-loading mid-run would let one goroutine
// observe half-updated state while another reads the old singleton.
func Load(envPath string) error {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig performs the actual load/validation without touching global
// state, so tests can build a throwaway Config and inspect it directly.
func loadConfig(envPath string) (*Config, error) {
	// A missing .env file is not fatal: real deployments often set these
	// variables directly in the process environment instead.
	_ = godotenv.Load(envPath)

	apiID, err := parseRequiredInt("TELEGRAM_API_ID")
	if err != nil {
		return nil, err
	}
	apiHash := strings.TrimSpace(os.Getenv("TELEGRAM_API_HASH"))
	if apiHash == "" {
		return nil, errors.New("env TELEGRAM_API_HASH must be set")
	}
	phone := strings.TrimSpace(os.Getenv("TELEGRAM_PHONE"))
	if phone == "" {
		return nil, errors.New("env TELEGRAM_PHONE must be set")
	}

	var warnings []string

	sessionName := sanitizeValue("TELEGRAM_SESSION_NAME", os.Getenv("TELEGRAM_SESSION_NAME"), defaultSessionName, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), &warnings)
	environment := sanitizeValue("ENVIRONMENT", os.Getenv("ENVIRONMENT"), defaultEnvironment, &warnings)
	debug := strings.EqualFold(strings.TrimSpace(os.Getenv("DEBUG")), "true")

	dataDir := sanitizeValue("DATA_DIR", os.Getenv("DATA_DIR"), defaultDataDir, &warnings)
	settingsFile := sanitizeFile("SETTINGS_FILE", os.Getenv("SETTINGS_FILE"), joinPath(dataDir, defaultSettingsFileName), &warnings)
	peerCacheFile := sanitizeFile("PEER_CACHE_FILE", os.Getenv("PEER_CACHE_FILE"), joinPath(dataDir, defaultPeerCacheFileName), &warnings)
	lockFile := sanitizeFile("LOCK_FILE", os.Getenv("LOCK_FILE"), joinPath(dataDir, defaultLockFileName), &warnings)
	tempDir := sanitizeFile("TEMP_DIR", os.Getenv("TEMP_DIR"), joinPath(dataDir, defaultTempDirName), &warnings)
	monitorLogFile := sanitizeFile("MONITOR_LOG_FILE", os.Getenv("MONITOR_LOG_FILE"), joinPath(dataDir, defaultMonitorLogName), &warnings)
	sessionFile := sanitizeFile("SESSION_FILE", os.Getenv("SESSION_FILE"), joinPath(dataDir, defaultSessionFileName), &warnings)
	updatesStateFile := sanitizeFile("UPDATES_STATE_FILE", os.Getenv("UPDATES_STATE_FILE"), joinPath(dataDir, defaultUpdatesStateName), &warnings)

	llmProvider := sanitizeLLMProvider(os.Getenv("LLM_PROVIDER"), &warnings)
	llmModel := sanitizeValue("LLM_MODEL", os.Getenv("LLM_MODEL"), defaultLLMModel, &warnings)
	llmKeys := splitAndClean(os.Getenv("LLM_API_KEYS"))
	if len(llmKeys) == 0 {
		return nil, errors.New("env LLM_API_KEYS must list at least one key")
	}

	ttsBaseURL := strings.TrimSpace(os.Getenv("TTS_BASE_URL"))
	ttsKey := strings.TrimSpace(os.Getenv("TTS_API_KEY"))
	if ttsKey != "" && ttsBaseURL == "" {
		appendWarningf(&warnings, "env TTS_API_KEY is set but TTS_BASE_URL is empty; tts requests will be rejected")
	}
	transcoder := strings.TrimSpace(os.Getenv("TRANSCODER_PATH"))

	fluxBaseURL := strings.TrimSpace(os.Getenv("FLUX_BASE_URL"))
	sdxlBaseURL := strings.TrimSpace(os.Getenv("SDXL_BASE_URL"))
	sdxlKey := strings.TrimSpace(os.Getenv("SDXL_API_KEY"))
	if sdxlBaseURL != "" && sdxlKey == "" {
		appendWarningf(&warnings, "env SDXL_BASE_URL is set but SDXL_API_KEY is empty; sdxl requests will be rejected")
	}

	maxAnalyzeN := parseIntDefault("MAX_ANALYZE_MESSAGES", defaultMaxAnalyzeN, greaterThanZero, &warnings)
	rateLimitPerMin := parseIntDefault("RATE_LIMIT_PER_MINUTE", defaultRateLimitPerMin, greaterThanZero, &warnings)

	env := EnvConfig{
		APIID:              apiID,
		APIHash:            apiHash,
		PhoneNumber:        phone,
		SessionName:        sessionName,
		LogLevel:           logLevel,
		Environment:        environment,
		Debug:              debug,
		DataDir:            dataDir,
		SettingsFile:       settingsFile,
		PeerCacheFile:      peerCacheFile,
		LockFile:           lockFile,
		TempDir:            tempDir,
		MonitorLogFile:     monitorLogFile,
		SessionFile:        sessionFile,
		UpdatesStateFile:   updatesStateFile,
		LLMProvider:        llmProvider,
		LLMModel:           llmModel,
		LLMKeys:            llmKeys,
		TTSBaseURL:         ttsBaseURL,
		TTSKey:             ttsKey,
		Transcoder:         transcoder,
		FluxBaseURL:        fluxBaseURL,
		SDXLBaseURL:        sdxlBaseURL,
		SDXLKey:            sdxlKey,
		MaxAnalyzeMessages: maxAnalyzeN,
		RateLimitPerMinute: rateLimitPerMin,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings returns the warnings accumulated while loading .env (e.g. when a
// default value was substituted). Returns a copy.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	out := make([]string, len(cfgInstance.warnings))
	copy(out, cfgInstance.warnings)
	return out
}

// Env returns the EnvConfig from the global singleton. Load must have
// succeeded first.
func Env() EnvConfig {
	return cfgInstance.Env
}

func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }

func sanitizeLogLevel(level string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultLogLevel)
		return defaultLogLevel
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultLogLevel)
		return defaultLogLevel
	}
}

func sanitizeLLMProvider(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		appendWarningf(warnings, "env LLM_PROVIDER is not set; using default %q", defaultLLMProvider)
		return defaultLLMProvider
	}
	switch v {
	case "gemini", "openrouter":
		return v
	default:
		appendWarningf(warnings, "env LLM_PROVIDER value %q is invalid; using default %q", value, defaultLLMProvider)
		return defaultLLMProvider
	}
}

func sanitizeValue(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

func splitAndClean(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}
