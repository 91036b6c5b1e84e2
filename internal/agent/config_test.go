package agent

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvAndFlags(t *testing.T) {
	t.Setenv("PROPDESK_AGENT_SERVER", "https://ops.example.com")
	t.Setenv("PROPDESK_AGENT_EMAIL", "ops@example.com")
	t.Setenv("PROPDESK_AGENT_PASSWORD", "pw")
	t.Setenv("PROPDESK_AGENT_PAGES", "/dashboard/units")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dashboard/units"}, cfg.Pages)
	assert.Equal(t, 2*time.Minute, cfg.SyncTimeout)

	fs := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--partition", "persist:b", "--sync-timeout", "30s"}))

	assert.Equal(t, "https://ops.example.com", cfg.Server)
	assert.Equal(t, "persist:b", cfg.Partition)
	assert.Equal(t, 30*time.Second, cfg.SyncTimeout)
	require.NoError(t, cfg.Validate())
}

func TestValidateReportsAllProblems(t *testing.T) {
	err := Config{SyncTimeout: 0}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server is required")
	assert.Contains(t, err.Error(), "email is required")
	assert.Contains(t, err.Error(), "PASSWORD")
	assert.Contains(t, err.Error(), "sync timeout")
}
