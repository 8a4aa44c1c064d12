package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kawan/internal/config"
	"github.com/harun/kawan/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Skills.Dir = filepath.Join(dir, "skills")
	cfg.Logging.File = filepath.Join(dir, "kawan.log")
	cfg.Builtin.APIKey = "test-key"
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return l
}

func TestNew_WiresComponents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs = []config.JobConfig{{Name: "morning", Expr: "0 8 * * *", Message: "hello"}}
	cfg.Auth.Tokens = []config.TokenEntry{{Token: "t1", UserID: "u1"}}

	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)

	assert.NotNil(t, d.registry)
	assert.NotNil(t, d.server)
	assert.Equal(t, []string{"morning"}, d.sched.Jobs())
	// Push listener stays nil unless enabled
	assert.Nil(t, d.pushListener)

	// Builtins registered
	assert.True(t, d.registry.Enabled("calculator"))
}

func TestNew_InvalidJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs = []config.JobConfig{{Name: "bad", Expr: "nonsense", Message: "hi"}}

	_, err := New(cfg, testLogger(t))
	assert.ErrorContains(t, err, "invalid schedule")
}

func TestNew_PushListener(t *testing.T) {
	cfg := testConfig(t)
	cfg.Push.Enabled = true
	cfg.Push.Endpoint = "http://upstream.internal"

	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, d.pushListener)
}

func TestLifecycle_PIDFile(t *testing.T) {
	d, err := New(testConfig(t), testLogger(t))
	require.NoError(t, err)

	require.NoError(t, d.lifecycle.Start())
	pid, err := d.lifecycle.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, d.lifecycle.IsRunning())

	require.NoError(t, d.lifecycle.Stop())
	assert.False(t, d.lifecycle.IsRunning())
}

func TestStatus_BeforeStart(t *testing.T) {
	d, err := New(testConfig(t), testLogger(t))
	require.NoError(t, err)

	status := d.Status()
	assert.False(t, status.Running)
	assert.Zero(t, status.Uptime)
	assert.Zero(t, status.Connections)
}
