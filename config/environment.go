package config

import (
	"os"
	"strings"
)

const (
	appEnvVar = "APP_ENV"

	EnvironmentDevelopment = "development"
	EnvironmentStaging     = "staging"
	EnvironmentProduction  = "production"

	// DefaultPath is used when no -config flag is given.
	DefaultPath = "config/config.yml"
)

var environmentAliases = map[string]string{
	"dev":  EnvironmentDevelopment,
	"prod": EnvironmentProduction,
	"stag": EnvironmentStaging,
}

// AppEnvironment reads APP_ENV and defaults to development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return EnvironmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// IsProductionLike reports whether env trades against a real account.
func IsProductionLike(env string) bool {
	return env == EnvironmentProduction || env == EnvironmentStaging
}

// ResolvePath picks config/config.<env>.yml over the default path when that
// file exists. An explicitly chosen path is returned unchanged.
func ResolvePath(path string) string {
	if path != "" && path != DefaultPath {
		return path
	}
	candidate := strings.TrimSuffix(DefaultPath, ".yml") + "." + AppEnvironment() + ".yml"
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return DefaultPath
}
