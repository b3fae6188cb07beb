package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "server"

[market]
default_liquidity = 250
bonus_interval = "12h"

[redis]
enabled = true
lock_ttl = "5s"

[server]
port = 9090
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 250.0, cfg.Market.DefaultLiquidity)
	require.Equal(t, 12*time.Hour, cfg.Market.BonusInterval.Duration)
	require.Equal(t, 100.0, cfg.Market.StartingBalance)
	require.True(t, cfg.Redis.Enabled)
	require.Equal(t, 5*time.Second, cfg.Redis.LockTTL.Duration)
	require.Equal(t, 30*time.Second, cfg.Redis.CacheTTL.Duration)
	require.Equal(t, 9090, cfg.Server.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MARKETD_SERVER_PORT", "7001")
	t.Setenv("MARKETD_SERVER_ADMIN_KEY", "sekrit")
	t.Setenv("MARKETD_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("MARKETD_MARKET_BONUS_AMOUNT", "2.5")
	t.Setenv("MARKETD_REDIS_LOCK_TTL", "3s")
	t.Setenv("MARKETD_POSTGRES_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7001, cfg.Server.Port)
	require.Equal(t, "sekrit", cfg.Server.AdminKey)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.Equal(t, 2.5, cfg.Market.BonusAmount)
	require.Equal(t, 3*time.Second, cfg.Redis.LockTTL.Duration)
	require.Equal(t, 5432, cfg.Postgres.Port, "unparsable values are ignored")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Storage.Backend = "sqlite"
	cfg.Market.DefaultLiquidity = 0
	cfg.Server.Port = 70000
	cfg.Archive.Cron = "every tuesday"
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`storage: unknown backend "sqlite"`,
		"market: default_liquidity",
		"server: port must be 1-65535",
		"archive: invalid cron",
		"notify: telegram_token and telegram_chat_id",
	} {
		require.Contains(t, err.Error(), want)
	}
}

func TestValidate_ArchiveModeNeedsDurableStores(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "durable store")
	require.Contains(t, err.Error(), "requires s3.enabled")

	cfg.Storage.Backend = "postgres"
	cfg.S3.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "s3"
	cfg.Server.AdminKey = "admin"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	require.Equal(t, "***", out.Postgres.Password)
	require.Equal(t, "***", out.S3.SecretKey)
	require.Equal(t, "***", out.Server.AdminKey)
	require.Equal(t, "***", out.Notify.DiscordWebhookURL)
	require.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Server.CORSOrigins[0] = "mutated"
	require.Equal(t, "pw", cfg.Postgres.Password)
	require.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
