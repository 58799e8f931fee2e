package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadServerConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yaml", `
server:
  port: 9090
storage:
  type: postgres
  postgres:
    host: db
    user: clusterd
    password: from-file
    dbname: clusterd
channel:
  type: redis
  redis:
    addr: redis:6379
orchestrator:
  receiver_workers: 8
`)
	t.Setenv(EnvPostgresPassword, "from-env")

	cfg, err := LoadServerConfig(path, dir)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Address())
	assert.Equal(t, "from-env", cfg.Storage.Postgres.Password)
	assert.Equal(t, 5432, cfg.Storage.Postgres.Port)
	assert.Equal(t, "redis:6379", cfg.Channel.Redis.Addr)
	assert.Equal(t, 8, cfg.Orchestrator.ReceiverWorkers)
	assert.Equal(t, "Fuel", cfg.Orchestrator.SystemName)
	assert.Equal(t, filepath.Join(dir, "data/clusterd.log"), cfg.Log.File)
}

func TestLoadServerConfigResolvesSQLitePath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "server.yaml", "storage:\n  type: sqlite\n  sqlite:\n    path: state/clusterd.db\n")

	cfg, err := LoadServerConfig(path, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "state/clusterd.db"), cfg.Storage.SQLite.Path)
	assert.DirExists(t, filepath.Join(dir, "state"))
}

func TestServerConfigValidate(t *testing.T) {
	cases := map[string]func(*ServerConfig){
		"bad port":           func(c *ServerConfig) { c.Server.Port = 0 },
		"unknown storage":    func(c *ServerConfig) { c.Storage.Type = "mysql" },
		"postgres sans host": func(c *ServerConfig) { c.Storage.Type = "postgres" },
		"redis sans addr":    func(c *ServerConfig) { c.Channel.Type = "redis" },
		"unknown channel":    func(c *ServerConfig) { c.Channel.Type = "amqp" },
		"tls sans cert":      func(c *ServerConfig) { c.Server.TLS.Enabled = true },
		"no workers":         func(c *ServerConfig) { c.Orchestrator.ReceiverWorkers = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultServerConfig().Validate())
}

func TestLoadAgentConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", `
agent_id: agent-7
channel:
  type: redis
  redis:
    addr: localhost:6379
runtime:
  step_delay: 50ms
faults:
  unreachable_nodes: ["3"]
  fail_methods: [execute_tasks]
`)
	t.Setenv(EnvRedisPassword, "secret")

	cfg, err := LoadAgentConfig(path, dir)
	require.NoError(t, err)
	assert.Equal(t, "agent-7", cfg.AgentID)
	assert.Equal(t, "secret", cfg.Channel.Redis.Password)
	assert.Equal(t, 50*time.Millisecond, cfg.Runtime.StepDelay)
	assert.Equal(t, 4, cfg.Runtime.Workers)
	assert.Equal(t, []string{"3"}, cfg.Faults.UnreachableNodes)
	assert.Equal(t, []string{"execute_tasks"}, cfg.Faults.FailMethods)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", "CLUSTERD_TEST_ONLY_VALUE=dotenv\n")
	t.Cleanup(func() { os.Unsetenv("CLUSTERD_TEST_ONLY_VALUE") })

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "dotenv", os.Getenv("CLUSTERD_TEST_ONLY_VALUE"))
}
