package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileVar names an extra .env file that must exist when set.
const EnvFileVar = "PILLPAL_ENV_FILE"

// LoadEnvFiles exports KEY=value pairs from the known .env locations.
// Variables already present in the environment win.
func LoadEnvFiles() error {
	if explicit := os.Getenv(EnvFileVar); explicit != "" {
		if err := loadEnvFile(explicit); err != nil {
			return fmt.Errorf("%s: %w", EnvFileVar, err)
		}
	}

	envPaths := []string{"./.env"}
	if home, err := os.UserHomeDir(); err == nil {
		envPaths = append(envPaths,
			filepath.Join(home, ".pillpal", ".env"),
			filepath.Join(home, ".config", "pillpal", ".env"),
		)
	}

	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			if err := loadEnvFile(path); err != nil {
				return err
			}
		}
	}

	return nil
}

func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := parseEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

// parseEnvLine accepts KEY=value, export KEY=value and quoted values.
// Unquoted values lose a trailing " # comment".
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return "", "", false
	}

	switch {
	case len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"':
		value = value[1 : len(value)-1]
	case len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'':
		value = value[1 : len(value)-1]
	default:
		if i := strings.Index(value, " #"); i >= 0 {
			value = strings.TrimSpace(value[:i])
		}
	}
	return key, value, true
}

func GetEnvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// Conventional names accepted for secrets, checked after the
// PILLPAL_ variable itself.
var envAliases = map[string][]string{
	"PILLPAL_SECURITY_JWT_SECRET":       {"JWT_SECRET", "SECRET_KEY"},
	"PILLPAL_STORAGE_POSTGRES_DSN":      {"DATABASE_URL"},
	"PILLPAL_NOTIFY_TELEGRAM_BOT_TOKEN": {"TELEGRAM_BOT_TOKEN"},
	"PILLPAL_NOTIFY_DISCORD_TOKEN":      {"DISCORD_BOT_TOKEN", "DISCORD_TOKEN"},
}

func ResolveEnvWithAliases(canonicalKey string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}
	for _, alias := range envAliases[canonicalKey] {
		if val := os.Getenv(alias); val != "" {
			return val
		}
	}
	return ""
}
