package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

// clearEnv blanks every overlay variable so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HOST", "PORT", "SESSION_TIMEOUT_MINUTES", "BROWSER_USE_HEADLESS", "CHROME_BIN",
		"ENABLE_VNC", "VNC_PASSWORD", "PUID", "PGID", "DATA_DIR", "DOWNLOADS_DIR",
		"LOG_LEVEL", "LOG_FILE", "REDIS_ADDR", "POSTGRES_DSN", "OPENAI_API_KEY",
		"ANTHROPIC_API_KEY", "GOOGLE_API_KEY", "BROWSER_USE_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout())
	assert.Equal(t, 2*time.Minute, cfg.Session.CleanupInterval)
	assert.True(t, cfg.Browser.Headless)
	assert.False(t, cfg.Display.EnableVNC)
	assert.Equal(t, 9222, cfg.Browser.DebuggingPort)
	assert.Equal(t, 5900, cfg.Display.VNCPort)
	assert.Equal(t, "/app/data", cfg.Mounts.DataDir)
	assert.Equal(t, "/app/downloads", cfg.Mounts.DownloadsDir)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
}

func TestLoadFrom_YAMLKeepsUnsetDefaults(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, `server:
  port: 9001
session:
  timeout_minutes: 1
browser:
  max_sessions: 3
`)
	cfg := LoadFrom(p)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3, cfg.Browser.MaxSessions)
	// cleanup interval is clamped to the session timeout
	assert.Equal(t, time.Minute, cfg.Session.CleanupInterval)
}

func TestLoadFrom_EnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, `server:
  host: "127.0.0.1"
  port: 9001
`)
	t.Setenv("HOST", "::1")
	t.Setenv("PORT", "8123")
	t.Setenv("SESSION_TIMEOUT_MINUTES", "30")
	t.Setenv("BROWSER_USE_HEADLESS", "false")
	t.Setenv("ENABLE_VNC", "true")
	t.Setenv("VNC_PASSWORD", "secret")
	t.Setenv("PUID", "1000")
	t.Setenv("PGID", "1001")
	t.Setenv("DATA_DIR", "/data")
	t.Setenv("DOWNLOADS_DIR", "/downloads")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg := LoadFrom(p)

	assert.Equal(t, "[::1]:8123", cfg.Addr())
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout())
	assert.False(t, cfg.Browser.Headless)
	assert.True(t, cfg.Display.EnableVNC)
	assert.Equal(t, "secret", cfg.Display.VNCPassword)
	assert.Equal(t, 1000, cfg.Mounts.PUID)
	assert.Equal(t, 1001, cfg.Mounts.PGID)
	assert.Equal(t, "/data", cfg.Mounts.DataDir)
	assert.Equal(t, "/downloads", cfg.Mounts.DownloadsDir)
	assert.Equal(t, []string{"ANTHROPIC_API_KEY"}, cfg.LLM.Configured())
}

func TestLoadFrom_PanicsOnInvalidValues(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		yml  string
	}{
		{name: "port out of range", yml: "server:\n  port: 70000\n"},
		{name: "zero timeout", yml: "session:\n  timeout_minutes: 0\n"},
		{name: "zero max sessions", yml: "browser:\n  max_sessions: 0\n"},
		{name: "negative user limit", yml: "rate_limiter:\n  user_limit: -1\n"},
		{name: "empty data dir", yml: "mounts:\n  data_dir: ''\n"},
		{name: "broken yaml", yml: "server: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, tc.yml)
			require.Panics(t, func() { _ = LoadFrom(p) })
		})
	}
}

func TestLoadFrom_PanicsOnInvalidEnvironmentTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("SESSION_TIMEOUT_MINUTES", "-5")
	require.Panics(t, func() { _ = LoadFrom(filepath.Join(t.TempDir(), "missing.yaml")) })
}

func TestLoad_UsesConfigPathEnv(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "server:\n  name: from-env-path\n")
	t.Setenv("CONFIG_PATH", p)

	cfg := Load()
	if cfg.Server.Name != "from-env-path" {
		t.Fatalf("expected CONFIG_PATH to be used, got %q", cfg.Server.Name)
	}
}

func TestLLMConfigured_AllKeys(t *testing.T) {
	l := LLMConfig{OpenAIAPIKey: "a", AnthropicAPIKey: "b", GoogleAPIKey: "c", BrowserUseAPIKey: "d"}
	assert.Equal(t, []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY", "BROWSER_USE_API_KEY"}, l.Configured())
	assert.Empty(t, LLMConfig{}.Configured())
}
