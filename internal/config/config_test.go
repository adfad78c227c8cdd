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
	dir := t.TempDir()
	path := filepath.Join(dir, "walletpilot.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"web3": {"chain_config": "chains.yaml"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 60, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, "memory", cfg.Storage.TurnStore.Driver)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout())
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 60*time.Second, cfg.ExecutionTimeout())
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL())
	assert.Equal(t, filepath.Join(dir, "chains.yaml"), cfg.Web3.ChainConfig)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Runtime.DataDir)
	assert.Equal(t, dir, cfg.LLM.Python.WorkingDir)
	assert.Equal(t, "transfer.submitted", cfg.Events.RoutingKey)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("WALLETPILOT_OPENAI_API_KEY", "sk-prefixed")
	t.Setenv("RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("WALLETPILOT_MYSQL_DSN", "user:pass@tcp(127.0.0.1:3306)/walletpilot")

	path := writeConfig(t, `{"llm": {"openai": {"api_key": "from-file"}}}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-prefixed", cfg.LLM.OpenAI.APIKey)
	assert.Equal(t, "http://127.0.0.1:8545", cfg.Web3.RPCURL, "unprefixed variable is used as fallback")
	assert.Equal(t, "mysql", cfg.Storage.TurnStore.Driver)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown driver":   `{"storage": {"turn_store": {"driver": "sqlite"}}}`,
		"mysql no dsn":     `{"storage": {"turn_store": {"driver": "mysql"}}}`,
		"unknown provider": `{"llm": {"provider": "bard"}}`,
		"bad timeout":      `{"llm": {"timeout": "soon"}}`,
		"two signers":      `{"web3": {"signer_key": "01", "signer_url": "http://localhost:8550"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("WALLETPILOT_CONFIG", "")
	assert.Equal(t, DefaultPath, PathFromEnv())

	t.Setenv("WALLETPILOT_CONFIG", "/etc/walletpilot.json")
	assert.Equal(t, "/etc/walletpilot.json", PathFromEnv())
}
