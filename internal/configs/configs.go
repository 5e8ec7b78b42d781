/*
Package configs is responsible for loading and parsing the application's configuration settings.

It configures the sync server by reading operating system environment variables: the running
environment, port, CORS allowed origins, token policy, session capacity, and the optional
backends (Redis relay, PostgreSQL store, S3 journal archive, mDNS advertisement).
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"collabsync/internal/app/user"
)

// AppConfig contains all configuration parameters required for the application to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int
	NodeID      string

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string
	RequireToken   bool

	// Session Settings
	MaxParticipants   int
	DefaultRole       user.Role
	ReplaceDuplicates bool

	// Relay Settings; empty means single node.
	RedisURL string

	// S3 Archive Settings; all empty disables archiving.
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Database Settings; empty keeps session metadata in memory.
	DatabaseDSN string

	// Discovery Settings
	MDNSEnabled bool
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// ArchiveEnabled reports whether the S3 settings are present.
func (c *AppConfig) ArchiveEnabled() bool {
	return c.S3BucketName != ""
}

// LoadConfig reads and parses the application configuration from environment variables.
// It provides default values for each configuration item and performs necessary type conversions and validation.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = os.Getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	port, err := intEnv("PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.Port = port

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	cfg.NodeID = os.Getenv("NODE_ID")
	if cfg.NodeID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "collabsync"
		}
		cfg.NodeID = host
	}

	// --- Security Settings ---
	originsStr := os.Getenv("ALLOWED_ORIGINS")
	cfg.AllowedOrigins = []string{}
	for _, origin := range strings.Split(originsStr, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", cfg.Environment)
		}
		jwtSecret = "your_default_insecure_secret_key_change_me"
	}
	cfg.JWTSecret = jwtSecret

	if cfg.RequireToken, err = boolEnv("REQUIRE_TOKEN", false); err != nil {
		return nil, err
	}

	// --- Session Settings ---
	if cfg.MaxParticipants, err = intEnv("MAX_PARTICIPANTS", 10); err != nil {
		return nil, err
	}
	if cfg.MaxParticipants < 1 {
		return nil, fmt.Errorf("MAX_PARTICIPANTS must be at least 1, got %d", cfg.MaxParticipants)
	}

	role := os.Getenv("DEFAULT_ROLE")
	if role == "" {
		role = string(user.RoleEditor)
	}
	if _, err := user.PermissionsFor(user.Role(role)); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_ROLE environment variable: %w", err)
	}
	cfg.DefaultRole = user.Role(role)

	// Replacing on a bare userId would let any guest kick a participant, so the default follows
	// the token policy.
	if cfg.ReplaceDuplicates, err = boolEnv("REPLACE_DUPLICATES", cfg.RequireToken); err != nil {
		return nil, err
	}

	// --- Relay Settings ---
	cfg.RedisURL = os.Getenv("REDIS_URL")

	// --- S3 Archive Settings ---
	cfg.S3BucketName = os.Getenv("S3_BUCKET_NAME")
	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")

	s3 := []string{cfg.S3BucketName, cfg.S3Endpoint, cfg.S3AccessKeyID, cfg.S3SecretAccessKey}
	set := 0
	for _, v := range s3 {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != len(s3) {
		return nil, fmt.Errorf("S3_BUCKET_NAME, S3_ENDPOINT, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}

	// --- Database Settings ---
	cfg.DatabaseDSN = os.Getenv("DATABASE_URL")

	// --- Discovery Settings ---
	if cfg.MDNSEnabled, err = boolEnv("MDNS_ENABLED", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}
