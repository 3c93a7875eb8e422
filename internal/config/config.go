package config

import (
	"os"
	"strconv"
)

type Config struct {
	Environment string
	// Document conversion
	DocLinkBaseURL string // Base URL prepended to linked/synced doc references
	WorkspaceID    string
	AssetsDir      string
	Frontmatter    bool // Emit/parse YAML frontmatter on doc export/import
	SyncedDocDepth int  // Max synced-doc inline expansion depth
	MaxImportBytes int64
	// Logging
	LogLevel  string
	LogFormat string // "json" or "text"
	// Debug flags
	Debug bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Environment:    env,
		DocLinkBaseURL: getEnv("DOC_LINK_BASE_URL", ""),
		WorkspaceID:    getEnv("WORKSPACE_ID", ""),
		AssetsDir:      getEnv("ASSETS_DIR", "assets"),
		Frontmatter:    getEnv("FRONTMATTER", "false") == "true",
		SyncedDocDepth: getEnvInt("SYNCED_DOC_DEPTH", DefaultSyncedDocDepth),
		MaxImportBytes: int64(getEnvInt("MAX_IMPORT_BYTES", DefaultMaxImportBytes)),
		LogLevel:       getEnv("LOG_LEVEL", getDefaultLogLevel(env)),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getDefaultLogLevel returns the default log level based on environment
func getDefaultLogLevel(env string) string {
	if env == "prod" {
		return "info"
	}
	return "debug"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
