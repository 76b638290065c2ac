package config

import (
	"fmt"
	"os"
	"strconv"
)

// Defaults for the environment-driven knobs. Everything else comes from the
// deployment model handed to the orchestrator at boot.
const (
	DefaultDataDir    = "/var/lib/burrow"
	DefaultPortBase   = 4560
	DefaultAdminPort  = 4590
	DefaultLogLevel   = "info"
	DefaultSigningKey = "burrow-local-signing-key"
)

// Config is the process-level configuration read from the environment.
type Config struct {
	// DataDir is the root for all disk-backed providers
	// (<data>/s3/..., <data>/dynamodb/...).
	DataDir string

	// PortBase is the first port of the per-service port range.
	PortBase int

	// AdminPort serves /healthz and /metrics.
	AdminPort int

	// LogLevel is debug, info, warn or error.
	LogLevel string

	// LogJSON switches from console to JSON log output.
	LogJSON bool

	// SigningKey is the symmetric key for presigned object URLs. Not
	// SigV4-compatible and never meant to leave the local machine.
	SigningKey string

	// ContainerdSocket enables the container-service runner when set.
	ContainerdSocket string
}

// FromEnv reads configuration from BURROW_* environment variables, filling
// defaults for everything unset.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DataDir:          envOr("BURROW_DATA_DIR", DefaultDataDir),
		PortBase:         DefaultPortBase,
		AdminPort:        DefaultAdminPort,
		LogLevel:         envOr("BURROW_LOG_LEVEL", DefaultLogLevel),
		LogJSON:          os.Getenv("BURROW_LOG_JSON") == "true",
		SigningKey:       envOr("BURROW_SIGNING_KEY", DefaultSigningKey),
		ContainerdSocket: os.Getenv("BURROW_CONTAINERD_SOCKET"),
	}

	if v := os.Getenv("BURROW_PORT_BASE"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BURROW_PORT_BASE %q: %w", v, err)
		}
		cfg.PortBase = port
	}

	if v := os.Getenv("BURROW_ADMIN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BURROW_ADMIN_PORT %q: %w", v, err)
		}
		cfg.AdminPort = port
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid BURROW_LOG_LEVEL %q", cfg.LogLevel)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
