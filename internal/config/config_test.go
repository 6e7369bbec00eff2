package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminAddr    = "0x00000000000000000000000000000000000ad001"
	treasuryAddr = "0x0000000000000000000000000000000000007777"
)

func valid() Config {
	cfg := Defaults()
	cfg.Chain.Admin = adminAddr
	cfg.Chain.Treasury = treasuryAddr
	return cfg
}

func TestDefaultsNeedOnlyAccounts(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain.admin")
	assert.Contains(t, err.Error(), "chain.treasury")

	cfg = valid()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := valid()
	cfg.Mode = "trade"
	cfg.Oracle.Randomness = "vrf"
	cfg.Oracle.Identity = "redis"
	cfg.Oracle.DrawFee = "1.0000001"
	cfg.Chain.TokenDecimals = 18
	cfg.Keeper.Interval = duration{}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"vrf needs private_key",
		"requires redis.enabled",
		"draw_fee",
		"token_decimals must be 6",
		"keeper: interval",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fairstake.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "api"

[chain]
admin = "`+adminAddr+`"
treasury = "`+treasuryAddr+`"

[keeper]
interval = "250ms"

[oracle]
whitelist = ["0x0000000000000000000000000000000000002001"]
`), 0o600))

	t.Setenv("FAIRSTAKE_MODE", "keeper")
	t.Setenv("FAIRSTAKE_SERVER_PORT", "9090")
	t.Setenv("FAIRSTAKE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "keeper", cfg.Mode)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Keeper.Interval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Len(t, cfg.Oracle.Whitelist, 1)
	assert.Equal(t, time.Second, cfg.Journal.FlushInterval.Duration)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
}

func TestRedacted(t *testing.T) {
	cfg := valid()
	cfg.Postgres.Password = "pw"
	cfg.Oracle.PrivateKey = "0xabc"
	cfg.Server.APIKey = "k"

	out := Redacted(&cfg)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Oracle.PrivateKey)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "pw", cfg.Postgres.Password)

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
