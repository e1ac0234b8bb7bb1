package config

import (
	"os"
	"strings"
)

// Deployment environments of the overtime service. Outside development,
// LoadWithValidation refuses localhost databases and brokers and demands a
// JWT secret for the ops endpoints.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// GetEnv reads key, falling back to defaultValue when it is unset or empty.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvironment reads TIMEFLOW_SERVER_ENVIRONMENT without loading the full
// config.
func GetEnvironment() string {
	return strings.ToLower(GetEnv("TIMEFLOW_SERVER_ENVIRONMENT", EnvDevelopment))
}

// IsDevelopment reports whether the service runs with relaxed checks.
func IsDevelopment() bool {
	return GetEnvironment() == EnvDevelopment
}

// IsProductionLike reports whether ledger writes may reach real tenants, in
// which case the strict configuration checks apply.
func IsProductionLike() bool {
	return isProductionLike(GetEnvironment())
}

func isProductionLike(env string) bool {
	switch strings.ToLower(env) {
	case EnvStaging, EnvProduction:
		return true
	}
	return false
}
