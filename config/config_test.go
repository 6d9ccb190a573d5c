package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 30*time.Second, cfg.Chat.Timeout)
	assert.Equal(t, 1, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 2000, cfg.Pipeline.RawTextLimit)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9000"
database:
  type: postgres
  dsn: "host=localhost"
pipeline:
  stage_timeout: 45s
  workers: 4
chat:
  timeout: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("OPENAI_MODEL_NAME", "gpt-4o-mini")
	t.Setenv("SUPABASE_JWT_SECRET", "secret")

	cfg := Load(path)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 10*time.Second, cfg.Chat.Timeout)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Server.Port = "7777"
	require.NoError(t, cfg.Save(path))

	loaded := Load(path)
	assert.Equal(t, "7777", loaded.Server.Port)
}
