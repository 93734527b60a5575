package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns inside the
// optional YAML config file.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} patterns in the input string
// with their corresponding environment variable values. Unset variables
// without defaults expand to empty string; required values fail later in
// Validate.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		if len(groups) >= 3 && groups[2] != "" {
			return groups[2]
		}
		return ""
	})
}

// LoadFile reads a YAML config file over the defaults. Environment variables
// referenced in the file are expanded before unmarshaling.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv builds the configuration: defaults, then the optional file at
// SLUICE_CONFIG (or sluice.yaml if present), then SLUICE_* environment
// overrides. The result is validated.
func FromEnv() (*Config, error) {
	cfg := Default()

	path := os.Getenv("SLUICE_CONFIG")
	if path == "" {
		if _, err := os.Stat("sluice.yaml"); err == nil {
			path = "sluice.yaml"
		}
	}
	if path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			switch strings.ToLower(v) {
			case "true", "1", "yes":
				*dst = true
			case "false", "0", "no":
				*dst = false
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(key string, dst *Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				dst.Duration = d
			}
		}
	}

	if v, ok := os.LookupEnv("SLUICE_MODE"); ok {
		cfg.Mode = Mode(strings.ToLower(v))
	}
	setString("SLUICE_CONTROL_DB_URL", &cfg.ControlDBURL)
	setString("SLUICE_VECTOR_DB_URL", &cfg.VectorDBURL)
	setString("SLUICE_REDIS_URL", &cfg.RedisURL)
	setString("SLUICE_S3_ENDPOINT", &cfg.S3Endpoint)
	setString("SLUICE_S3_REGION", &cfg.S3Region)
	setBool("SLUICE_S3_PATH_STYLE", &cfg.S3PathStyle)
	setString("SLUICE_BUCKET", &cfg.Bucket)
	setString("SLUICE_SECRETS_PATH", &cfg.SecretsPath)
	setString("SLUICE_EMBEDDING_ENDPOINT", &cfg.EmbeddingEndpoint)
	setString("SLUICE_VISUAL_ENDPOINT", &cfg.VisualEndpoint)
	setString("SLUICE_TRANSCRIPTION_ENDPOINT", &cfg.TranscriptionEndpoint)
	setString("SLUICE_OCR_ENDPOINT", &cfg.OCREndpoint)
	setString("SLUICE_CLAMD_ADDR", &cfg.ClamdAddr)
	setBool("SLUICE_SCAN_REQUIRED", &cfg.ScanRequired)
	setString("SLUICE_JWT_SECRET", &cfg.JWTSecret)
	setBool("SLUICE_AUTH_BYPASS", &cfg.AuthBypass)
	setString("SLUICE_LISTEN_ADDR", &cfg.ListenAddr)
	setInt("SLUICE_RATE_LIMIT", &cfg.RateLimit)
	setDuration("SLUICE_RATE_LIMIT_WINDOW", &cfg.RateLimitWindow)
	setDuration("SLUICE_TENANT_REFRESH", &cfg.TenantRefresh)
	setDuration("SLUICE_POP_TIMEOUT", &cfg.PopTimeout)
	setDuration("SLUICE_EMBED_TIMEOUT", &cfg.EmbedTimeout)
	setDuration("SLUICE_SECRET_TIMEOUT", &cfg.SecretTimeout)

	if v, ok := os.LookupEnv("SLUICE_CORS_ORIGINS"); ok {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		cfg.CORSOrigins = origins
	}
}
