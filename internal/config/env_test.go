package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		line  string
		key   string
		value string
		ok    bool
	}{
		{"KEY1=value1", "KEY1", "value1", true},
		{`KEY2="quoted # value"`, "KEY2", "quoted # value", true},
		{"KEY3='single quoted'", "KEY3", "single quoted", true},
		{"export JWT_SECRET=abc123", "JWT_SECRET", "abc123", true},
		{"PORT=8080 # api port", "PORT", "8080", true},
		{"DSN=postgres://u:p@db/pillpal?sslmode=disable", "DSN", "postgres://u:p@db/pillpal?sslmode=disable", true},
		{"EMPTY=", "EMPTY", "", true},
		{"# comment", "", "", false},
		{"   ", "", "", false},
		{"no equals sign", "", "", false},
		{"=value", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			key, value, ok := parseEnvLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.value, value)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := `# Test env file
PILLPAL_TEST_KEY1=value1
PILLPAL_TEST_KEY2="quoted value"
export PILLPAL_TEST_KEY3='single quoted'
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0644))

	for _, k := range []string{"PILLPAL_TEST_KEY1", "PILLPAL_TEST_KEY2", "PILLPAL_TEST_KEY3"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	require.NoError(t, loadEnvFile(envFile))
	assert.Equal(t, "value1", os.Getenv("PILLPAL_TEST_KEY1"))
	assert.Equal(t, "quoted value", os.Getenv("PILLPAL_TEST_KEY2"))
	assert.Equal(t, "single quoted", os.Getenv("PILLPAL_TEST_KEY3"))
}

func TestLoadEnvFile_DoesNotOverride(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PILLPAL_EXISTING=new_value\n"), 0644))

	t.Setenv("PILLPAL_EXISTING", "original_value")
	require.NoError(t, loadEnvFile(envFile))
	assert.Equal(t, "original_value", os.Getenv("PILLPAL_EXISTING"))
}

func TestLoadEnvFiles_ExplicitFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "pillpal.env")
	require.NoError(t, os.WriteFile(envFile, []byte("PILLPAL_FROM_FILE=yes\n"), 0644))

	t.Setenv("PILLPAL_FROM_FILE", "")
	os.Unsetenv("PILLPAL_FROM_FILE")
	t.Setenv(EnvFileVar, envFile)

	require.NoError(t, LoadEnvFiles())
	assert.Equal(t, "yes", os.Getenv("PILLPAL_FROM_FILE"))

	t.Setenv(EnvFileVar, filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, LoadEnvFiles())
}

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("PILLPAL_DEFAULT_KEY", "")
	assert.Equal(t, "fallback", GetEnvDefault("PILLPAL_DEFAULT_KEY", "fallback"))

	t.Setenv("PILLPAL_DEFAULT_KEY", "actual")
	assert.Equal(t, "actual", GetEnvDefault("PILLPAL_DEFAULT_KEY", "fallback"))
}

func TestResolveEnvWithAliases(t *testing.T) {
	t.Setenv("PILLPAL_STORAGE_POSTGRES_DSN", "")
	t.Setenv("DATABASE_URL", "")
	assert.Empty(t, ResolveEnvWithAliases("PILLPAL_STORAGE_POSTGRES_DSN"))

	t.Setenv("DATABASE_URL", "postgres://alias")
	assert.Equal(t, "postgres://alias", ResolveEnvWithAliases("PILLPAL_STORAGE_POSTGRES_DSN"))

	t.Setenv("PILLPAL_STORAGE_POSTGRES_DSN", "postgres://canonical")
	assert.Equal(t, "postgres://canonical", ResolveEnvWithAliases("PILLPAL_STORAGE_POSTGRES_DSN"))

	assert.Empty(t, ResolveEnvWithAliases("PILLPAL_UNKNOWN"))
}

func TestEnvAliases_Exist(t *testing.T) {
	requiredAliases := map[string]string{
		"PILLPAL_SECURITY_JWT_SECRET":       "JWT_SECRET",
		"PILLPAL_STORAGE_POSTGRES_DSN":      "DATABASE_URL",
		"PILLPAL_NOTIFY_TELEGRAM_BOT_TOKEN": "TELEGRAM_BOT_TOKEN",
		"PILLPAL_NOTIFY_DISCORD_TOKEN":      "DISCORD_BOT_TOKEN",
	}

	for canonical, alias := range requiredAliases {
		assert.Contains(t, envAliases[canonical], alias, canonical)
	}
}

func BenchmarkParseEnvLine(b *testing.B) {
	for i := 0; i < b.N; i++ {
		parseEnvLine(`export PILLPAL_SECURITY_JWT_SECRET="abc # def"`)
	}
}
