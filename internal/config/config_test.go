package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load([]string{"--env", filepath.Join(t.TempDir(), "missing.env")})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAIModel != "gpt-4o" {
		t.Fatalf("OpenAIModel = %q", cfg.OpenAIModel)
	}
	if cfg.MaxToolRounds != 25 {
		t.Fatalf("MaxToolRounds = %d, want 25", cfg.MaxToolRounds)
	}
	if cfg.VADPause != 2500*time.Millisecond || cfg.VADMinVoiced != 500*time.Millisecond {
		t.Fatalf("VAD durations = %v / %v", cfg.VADPause, cfg.VADMinVoiced)
	}
	if !cfg.StartMuted {
		t.Fatal("StartMuted = false, want true by default")
	}
	if cfg.STTBackend != STTOpenAI {
		t.Fatalf("STTBackend = %q", cfg.STTBackend)
	}
	if cfg.ControlSocket != "/tmp/sidekick.sock" {
		t.Fatalf("ControlSocket = %q", cfg.ControlSocket)
	}
}

func TestLoadReadsEnvFileAndFlagsOverride(t *testing.T) {
	setEnvEmpty(t)
	envFile := filepath.Join(t.TempDir(), "test.env")
	content := strings.Join([]string{
		"OPENAI_API_KEY=sk-from-file",
		"BASE_DIRECTORY=/data/lake",
		"VAD_PAUSE=1s",
		"START_MUTED=false",
		"SOCKS_PROXY=127.0.0.1:9050",
	}, "\n")
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	// The environment wins over the file.
	t.Setenv("BASE_DIRECTORY", "/env/lake")

	cfg, err := Load([]string{"-e", envFile, "--muted", "--proxy", "", "--log", "debug"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-from-file" {
		t.Fatalf("OpenAIAPIKey = %q", cfg.OpenAIAPIKey)
	}
	if cfg.BaseDirectory != "/env/lake" {
		t.Fatalf("BaseDirectory = %q", cfg.BaseDirectory)
	}
	if cfg.VADPause != time.Second {
		t.Fatalf("VADPause = %v", cfg.VADPause)
	}
	if !cfg.StartMuted {
		t.Fatal("--muted did not override START_MUTED")
	}
	if cfg.SocksProxy != "" {
		t.Fatalf("SocksProxy = %q, want flag override to empty", cfg.SocksProxy)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing key", env: map[string]string{}, want: "OPENAI_API_KEY"},
		{name: "bad backend", env: map[string]string{"OPENAI_API_KEY": "k", "STT_BACKEND": "vosk"}, want: "STT_BACKEND"},
		{name: "whisper without model", env: map[string]string{"OPENAI_API_KEY": "k", "STT_BACKEND": "whisper"}, want: "WHISPER_MODEL_PATH"},
		{name: "bad duration", env: map[string]string{"OPENAI_API_KEY": "k", "VAD_PAUSE": "soon"}, want: "VAD_PAUSE"},
		{name: "bad bool", env: map[string]string{"OPENAI_API_KEY": "k", "START_MUTED": "maybe"}, want: "START_MUTED"},
		{name: "zero rounds", env: map[string]string{"OPENAI_API_KEY": "k", "MAX_TOOL_ROUNDS": "0"}, want: "MAX_TOOL_ROUNDS"},
		{name: "threshold range", env: map[string]string{"OPENAI_API_KEY": "k", "VAD_THRESHOLD": "2"}, want: "VAD_THRESHOLD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setEnvEmpty(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load([]string{"--env", filepath.Join(t.TempDir(), "none.env")})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadRejectsUnknownFlag(t *testing.T) {
	setEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "k")
	if _, err := Load([]string{"--frobnicate"}); err == nil {
		t.Fatal("Load() accepted an unknown flag")
	}
}

func setEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"OPENAI_API_KEY",
		"OPENAI_MODEL",
		"SOCKS_PROXY",
		"BASE_DIRECTORY",
		"WORK_DIR",
		"STT_BACKEND",
		"WHISPER_MODEL_PATH",
		"WHISPER_CLI",
		"WHISPER_LANGUAGE",
		"WHISPER_THREADS",
		"VAD_THRESHOLD",
		"VAD_PAUSE",
		"VAD_MIN_VOICED",
		"VAD_MAX_LENGTH",
		"START_MUTED",
		"BEEP_PATH",
		"SPEAK_ANSWERS",
		"SPEAK_VOICE",
		"DUCK_FACTOR",
		"HTTP_ADDR",
		"METRICS_NAMESPACE",
		"BUS_URL",
		"BUS_NAME",
		"DATABASE_URL",
		"CONTROL_SOCKET",
		"MAX_TOOL_ROUNDS",
		"SHUTDOWN_TIMEOUT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
