package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
)

const (
	STTWhisper    = "whisper"
	STTWhisperCLI = "whisper-cli"
	STTOpenAI     = "openai"
)

// Config holds the daemon settings. Flags override the environment, the
// environment overrides the .env file.
type Config struct {
	EnvFile  string
	LogLevel string

	OpenAIAPIKey  string
	OpenAIModel   string
	SocksProxy    string
	MaxToolRounds int

	BaseDirectory string
	WorkDir       string

	STTBackend       string
	WhisperModelPath string
	WhisperCLI       string
	WhisperLanguage  string
	WhisperThreads   int

	VADThreshold float64
	VADPause     time.Duration
	VADMinVoiced time.Duration
	VADMaxLength time.Duration
	StartMuted   bool

	BeepPath     string
	SpeakAnswers bool
	SpeakVoice   string
	DuckFactor   float64

	HTTPAddr         string
	MetricsNamespace string
	BusURL           string
	BusName          string
	DatabaseURL      string
	ControlSocket    string
	ShutdownTimeout  time.Duration
}

// Load parses args (without the program name), reads the env file and the
// environment, and validates the result.
func Load(args []string) (Config, error) {
	flags := cli.NewFlagSet("sidekick-daemon", cli.ContinueOnError)
	envFile := flags.StringP("env", "e", ".env", "Env file path")
	logLevel := flags.StringP("log", "l", "info", "Log level (debug, info, warn, error)")
	proxyAddr := flags.StringP("proxy", "p", "", "SOCKS5 proxy address for the model endpoint")
	httpAddr := flags.String("http", "", "HTTP listen address, empty to disable")
	backend := flags.String("stt", "", "Transcription backend (whisper, whisper-cli, openai)")
	muted := flags.Bool("muted", false, "Start with the microphone muted")
	socket := flags.String("socket", "", "Control socket path")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if err := loadEnvFile(*envFile); err != nil {
		return Config{}, err
	}

	cfg := Config{
		EnvFile:          *envFile,
		LogLevel:         *logLevel,
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:      envOrDefault("OPENAI_MODEL", "gpt-4o"),
		SocksProxy:       stringsTrimSpace("SOCKS_PROXY"),
		BaseDirectory:    stringsTrimSpace("BASE_DIRECTORY"),
		WorkDir:          envOrDefault("WORK_DIR", filepath.Join(os.TempDir(), "sidekick")),
		STTBackend:       strings.ToLower(envOrDefault("STT_BACKEND", STTOpenAI)),
		WhisperModelPath: stringsTrimSpace("WHISPER_MODEL_PATH"),
		WhisperCLI:       envOrDefault("WHISPER_CLI", "whisper-cli"),
		WhisperLanguage:  envOrDefault("WHISPER_LANGUAGE", "auto"),
		BeepPath:         stringsTrimSpace("BEEP_PATH"),
		SpeakVoice:       envOrDefault("SPEAK_VOICE", "en"),
		HTTPAddr:         envOrDefault("HTTP_ADDR", "127.0.0.1:8765"),
		MetricsNamespace: envOrDefault("METRICS_NAMESPACE", "sidekick"),
		BusURL:           stringsTrimSpace("BUS_URL"),
		BusName:          envOrDefault("BUS_NAME", "sidekick"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		ControlSocket:    envOrDefault("CONTROL_SOCKET", "/tmp/sidekick.sock"),
	}

	var err error
	if cfg.MaxToolRounds, err = intFromEnv("MAX_TOOL_ROUNDS", 25); err != nil {
		return Config{}, err
	}
	if cfg.WhisperThreads, err = intFromEnv("WHISPER_THREADS", 0); err != nil {
		return Config{}, err
	}
	if cfg.VADThreshold, err = floatFromEnv("VAD_THRESHOLD", 0.015); err != nil {
		return Config{}, err
	}
	if cfg.VADPause, err = durationFromEnv("VAD_PAUSE", 2500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.VADMinVoiced, err = durationFromEnv("VAD_MIN_VOICED", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.VADMaxLength, err = durationFromEnv("VAD_MAX_LENGTH", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.StartMuted, err = boolFromEnv("START_MUTED", true); err != nil {
		return Config{}, err
	}
	if cfg.SpeakAnswers, err = boolFromEnv("SPEAK_ANSWERS", false); err != nil {
		return Config{}, err
	}
	if cfg.DuckFactor, err = floatFromEnv("DUCK_FACTOR", 0.3); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationFromEnv("SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}

	if flags.Changed("proxy") {
		cfg.SocksProxy = *proxyAddr
	}
	if flags.Changed("http") {
		cfg.HTTPAddr = *httpAddr
	}
	if flags.Changed("stt") {
		cfg.STTBackend = strings.ToLower(*backend)
	}
	if flags.Changed("muted") {
		cfg.StartMuted = *muted
	}
	if flags.Changed("socket") {
		cfg.ControlSocket = *socket
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY not set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	switch c.STTBackend {
	case STTOpenAI, STTWhisperCLI:
	case STTWhisper:
		if c.WhisperModelPath == "" {
			return errors.New("WHISPER_MODEL_PATH is required for the whisper backend")
		}
	default:
		return fmt.Errorf("unknown STT_BACKEND %q", c.STTBackend)
	}
	if c.STTBackend == STTWhisperCLI && c.WhisperModelPath == "" {
		return errors.New("WHISPER_MODEL_PATH is required for the whisper-cli backend")
	}
	if c.MaxToolRounds <= 0 {
		return fmt.Errorf("MAX_TOOL_ROUNDS must be positive, got %d", c.MaxToolRounds)
	}
	if c.VADThreshold <= 0 || c.VADThreshold >= 1 {
		return fmt.Errorf("VAD_THRESHOLD must be in (0, 1), got %v", c.VADThreshold)
	}
	if c.VADPause <= 0 || c.VADMinVoiced <= 0 {
		return errors.New("VAD_PAUSE and VAD_MIN_VOICED must be positive")
	}
	if c.VADMaxLength < c.VADMinVoiced {
		return fmt.Errorf("VAD_MAX_LENGTH %v is shorter than VAD_MIN_VOICED %v", c.VADMaxLength, c.VADMinVoiced)
	}
	if c.DuckFactor < 0 || c.DuckFactor > 1 {
		return fmt.Errorf("DUCK_FACTOR must be in [0, 1], got %v", c.DuckFactor)
	}
	return nil
}

// loadEnvFile sets the variables of path that are unset or empty in the
// environment. A missing file is not an error.
func loadEnvFile(path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	for k, v := range values {
		if os.Getenv(k) == "" {
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
