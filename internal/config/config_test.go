package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{configPathEnv, databaseDriverEnv, databaseDSNEnv, llmModelEnv, portalsFileEnv} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(portalsFileEnv, filepath.Join(t.TempDir(), "missing.json"))

	cfg := Load("")

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "fundbot.db", cfg.Database.DSN)
	assert.Equal(t, 500*time.Millisecond, cfg.Notifications.Discord.Pacing)
	assert.Equal(t, 3, cfg.Fetch.Retry.MaxRetries)
	assert.Equal(t, 15000, cfg.Fetch.MaxContentSize)
	assert.Empty(t, cfg.Portals)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeFile(t, "fundbot.yaml", `
database:
  driver: postgres
  dsn: postgres://localhost/fundbot
notifications:
  discord:
    pacing: 1s
    colors:
      cdti: 255
llm:
  model: gpt-4o
  retry:
    max_retries: 5
portals:
  cdti: https://www.cdti.es/convocatorias
`)
	clearEnv(t)
	t.Setenv(webhookURLEnv, "https://discord.com/api/webhooks/1/abc")
	t.Setenv(llmAPIKeyEnv, "sk-test")
	t.Setenv(llmModelEnv, "gpt-4.1-mini")

	cfg := Load(path)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/fundbot", cfg.Database.DSN)
	assert.Equal(t, time.Second, cfg.Notifications.Discord.Pacing)
	assert.Equal(t, 255, cfg.Notifications.Discord.Colors["cdti"])
	assert.Equal(t, 0x9467bd, cfg.Notifications.Discord.Colors["default"])
	assert.Equal(t, "gpt-4.1-mini", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.LLM.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.LLM.Retry.BaseDelay)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "https://discord.com/api/webhooks/1/abc", cfg.Notifications.Discord.WebhookURL)
	assert.Equal(t, map[string]string{"cdti": "https://www.cdti.es/convocatorias"}, cfg.Portals)
	require.NoError(t, cfg.Validate())
}

func TestLoadExplicitZeroRetriesDisablesRetry(t *testing.T) {
	path := writeFile(t, "fundbot.yaml", `
notifications:
  discord:
    retry:
      max_retries: 0
llm:
  retry:
    base_delay: 3s
fetch:
  retry:
    max_retries: 0
    max_delay: 10s
`)
	clearEnv(t)
	t.Setenv(portalsFileEnv, filepath.Join(t.TempDir(), "missing.json"))

	cfg := Load(path)

	assert.Equal(t, 0, cfg.Notifications.Discord.Retry.MaxRetries)
	assert.Equal(t, 0, cfg.Fetch.Retry.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Fetch.Retry.MaxDelay)
	assert.Equal(t, 2, cfg.LLM.Retry.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.LLM.Retry.BaseDelay)
}

func TestLoadMalformedFileFallsBackToDefaults(t *testing.T) {
	path := writeFile(t, "broken.yaml", "database: [unterminated")
	clearEnv(t)
	t.Setenv(portalsFileEnv, filepath.Join(t.TempDir(), "missing.json"))

	cfg := Load(path)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
}

func TestLoadPortals(t *testing.T) {
	t.Parallel()

	jsonPath := writeFile(t, "portales.json", `{"cdti": "https://cdti.es", "accio": "https://accio.gencat.cat"}`)
	assert.Equal(t, map[string]string{
		"cdti":  "https://cdti.es",
		"accio": "https://accio.gencat.cat",
	}, LoadPortals(jsonPath))

	broken := writeFile(t, "broken.json", `{"cdti": `)
	assert.Empty(t, LoadPortals(broken))

	assert.Empty(t, LoadPortals(filepath.Join(t.TempDir(), "nope.json")))
	assert.Empty(t, LoadPortals(""))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	err := Config{}.Validate()
	require.ErrorIs(t, err, ErrMissingSettings)
	assert.Contains(t, err.Error(), llmAPIKeyEnv)
	assert.Contains(t, err.Error(), webhookURLEnv)

	cfg := Config{}
	cfg.LLM.APIKey = "key"
	err = cfg.Validate()
	require.ErrorIs(t, err, ErrMissingSettings)
	assert.NotContains(t, err.Error(), llmAPIKeyEnv)
}
