package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentellent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":9090\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Events.Driver)
	assert.Equal(t, "none", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.Equal(t, 5, cfg.Agent.MaxFallbackRetries)
	assert.Equal(t, "Asia/Kolkata", cfg.Agent.Timezone)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Runtime.DataDir)
	assert.Equal(t, 2*time.Minute, cfg.Redis.LockTTL)
	assert.Equal(t, "disabled", cfg.Auth.Mode)
}

func TestParseDurationsAndSQLiteDSN(t *testing.T) {
	content := []byte(`
storage:
  driver: sqlite
agent:
  turn_timeout: 45s
  lock_wait: 500ms
logging:
  audit:
    enabled: true
`)
	cfg, err := Parse(content, "/srv/sentellent")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Agent.TurnTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Agent.LockWait)
	assert.Equal(t, "/srv/sentellent/data/sentellent.db", cfg.Storage.DSN)
	assert.Equal(t, "/srv/sentellent/data/audit.log", cfg.Logging.Audit.Path)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTELLENT_STORAGE_DRIVER", "mysql")
	t.Setenv("SENTELLENT_STORAGE_DSN", "user:pass@tcp(localhost:3306)/agent")
	t.Setenv("SENTELLENT_LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SENTELLENT_REDIS_DB", "3")

	cfg, err := Parse([]byte("{}"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Storage.Driver)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/agent", cfg.Storage.DSN)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestValidateRejectsInconsistentSettings(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cases := map[string]string{
		"unknown driver":   "storage:\n  driver: oracle\n",
		"mysql no dsn":     "storage:\n  driver: mysql\n",
		"redis events":     "events:\n  driver: redis\n",
		"rabbit no url":    "events:\n  driver: rabbitmq\n",
		"openai no key":    "llm:\n  provider: openai\n",
		"exec no command":  "llm:\n  provider: exec\n",
		"iteration cap":    "agent:\n  max_iterations: 9\n",
		"bad timezone":     "agent:\n  timezone: Mars/Olympus\n",
		"show all too low": "agent:\n  page_size: 20\n  show_all_limit: 10\n",
		"token no tokens":  "auth:\n  mode: token\n",
		"unknown auth":     "auth:\n  mode: jwt\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content), t.TempDir())
			require.Error(t, err)
		})
	}
}

func TestAuthTokensFromFileAndEnv(t *testing.T) {
	content := []byte(`
auth:
  mode: token
  tokens:
    - name: web
      token: s-web
      users: [u1, u2]
`)
	t.Setenv("SENTELLENT_API_TOKEN", "s-env")
	cfg, err := Parse(content, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "token", cfg.Auth.Mode)
	require.Len(t, cfg.Auth.Tokens, 2)
	assert.Equal(t, []string{"u1", "u2"}, cfg.Auth.Tokens[0].Users)
	assert.Equal(t, "s-env", cfg.Auth.Tokens[1].Token)
	assert.Equal(t, []string{"*"}, cfg.Auth.Tokens[1].Users)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultPath, ResolvePath(""))
	t.Setenv(EnvConfigPath, "/etc/sentellent.yaml")
	assert.Equal(t, "/etc/sentellent.yaml", ResolvePath(""))
	assert.Equal(t, "local.yaml", ResolvePath("local.yaml"))
}

func TestLoadRequiresPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "sentellent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(cfg.Runtime.DataDir, "sentellent.db"), cfg.Storage.DSN)
	assert.False(t, cfg.Fallback.Disabled)
	assert.Equal(t, 5*time.Second, cfg.Fallback.SandboxTimeout)
}
