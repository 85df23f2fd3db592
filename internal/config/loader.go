package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Every missing or malformed variable is reported, not just the first.
func Load() (*Config, error) {
	cfg := &Config{}

	if errs := loadStruct(reflect.ValueOf(cfg).Elem(), nil); len(errs) > 0 {
		return nil, fmt.Errorf("config load: %s", strings.Join(errs, "; "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// loadStruct fills tagged fields of v and of its nested sections,
// appending one message per bad variable to errs.
func loadStruct(v reflect.Value, errs []string) []string {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		// Sections (Server, Import, ...) carry no tags of their own
		if field.Type.Kind() == reflect.Struct {
			errs = loadStruct(fieldVal, errs)
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value, ok := lookupEnv(envName, field.Tag.Get("envAlt"))
		if !ok {
			if field.Tag.Get("required") == "true" {
				errs = append(errs, fmt.Sprintf("required environment variable %s is not set", envName))
				continue
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			errs = append(errs, fmt.Sprintf("invalid value for %s=%q: %v", envName, value, err))
		}
	}

	return errs
}

// lookupEnv returns the first non-empty value of name or alt.
func lookupEnv(name, alt string) (string, bool) {
	if v := os.Getenv(name); v != "" {
		return v, true
	}
	if alt != "" {
		if v := os.Getenv(alt); v != "" {
			return v, true
		}
	}
	return "", false
}

// setField parses value into one of the kinds Config uses:
// string, bool, int, int64, time.Duration and []string.
func setField(field reflect.Value, value string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))

	case field.Kind() == reflect.String:
		field.SetString(value)

	case field.Kind() == reflect.Int, field.Kind() == reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)

	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case field.Type() == reflect.TypeOf([]string(nil)):
		field.Set(reflect.ValueOf(splitList(value)))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}

	return nil
}

// splitList splits a comma-separated value, dropping blank items.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Import validation
	if c.Import.MaxSheetSize <= 0 {
		errs = append(errs, "IMPORT_MAX_SHEET_SIZE must be positive")
	}
	if c.Import.MaxArchiveSize <= 0 {
		errs = append(errs, "IMPORT_MAX_ARCHIVE_SIZE must be positive")
	}
	if c.Import.MaxImageSize <= 0 {
		errs = append(errs, "IMPORT_MAX_IMAGE_SIZE must be positive")
	}
	if ext := strings.TrimPrefix(c.Import.ImageExt, "."); ext == "" || strings.ContainsAny(ext, "./\\") {
		errs = append(errs, fmt.Sprintf("IMPORT_IMAGE_EXT (%q) must be a single extension such as .webp", c.Import.ImageExt))
	}
	if c.Import.UploadBatchSize <= 0 {
		errs = append(errs, "IMPORT_UPLOAD_BATCH_SIZE must be positive")
	}
	if c.Import.UploadPhaseWeight < 1 || c.Import.UploadPhaseWeight > 99 {
		errs = append(errs, fmt.Sprintf("IMPORT_UPLOAD_PHASE_WEIGHT (%d) must be 1-99", c.Import.UploadPhaseWeight))
	}
	if c.Import.MaxConcurrent <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT must be positive")
	}
	if c.Import.MaxWaitTime <= 0 {
		errs = append(errs, "IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Import.CommitTimeout < 0 {
		errs = append(errs, "IMPORT_COMMIT_TIMEOUT must be non-negative")
	}
	if c.Import.SessionTTL <= 0 {
		errs = append(errs, "IMPORT_SESSION_TTL must be positive")
	}

	// Storage validation
	if c.Storage.Bucket == "" {
		errs = append(errs, "STORAGE_BUCKET is required")
	}
	if (c.Storage.AccessKeyID == "") != (c.Storage.SecretAccessKey == "") {
		errs = append(errs, "STORAGE_ACCESS_KEY_ID and STORAGE_SECRET_ACCESS_KEY must be set together")
	}
	if c.Storage.PresignExpiry <= 0 || c.Storage.PresignExpiry > 7*24*time.Hour {
		errs = append(errs, "STORAGE_PRESIGN_EXPIRY must be between 1s and 7 days")
	}
	if c.Storage.CredentialTTL <= 0 {
		errs = append(errs, "STORAGE_CREDENTIAL_TTL must be positive")
	}

	// Redis validation
	if c.Redis.Enabled && c.Redis.URL == "" && c.Redis.Addr == "" {
		errs = append(errs, "REDIS_URL or REDIS_ADDR is required when REDIS_ENABLED is true")
	}
	if c.Redis.DB < 0 {
		errs = append(errs, "REDIS_DB must be non-negative")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.ImportLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_IMPORT must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}
	if len(c.Security.UploadSigningSecret) < 32 {
		errs = append(errs, "UPLOAD_SIGNING_SECRET must be at least 32 characters")
	}
	for _, cidr := range c.Security.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, fmt.Sprintf("TRUSTED_PROXIES entry %q is not a CIDR", cidr))
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and secrets are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Import: {MaxSheetSize: %d, MaxArchiveSize: %d, ImageExt: %q, MaxConcurrent: %d, UploadBatchSize: %d}, ",
		c.Import.MaxSheetSize, c.Import.MaxArchiveSize, c.Import.ImageExt, c.Import.MaxConcurrent, c.Import.UploadBatchSize))
	b.WriteString(fmt.Sprintf("Storage: {Bucket: %q, Region: %q, Endpoint: %q, Credentials: %s}, ",
		c.Storage.Bucket, c.Storage.Region, c.Storage.Endpoint, mask(c.Storage.SecretAccessKey)))
	b.WriteString(fmt.Sprintf("Redis: {Enabled: %v, Addr: %q, URL: %s}, ",
		c.Redis.Enabled, c.Redis.Addr, mask(c.Redis.URL)))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d, ImportLimit: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute, c.Rate.ImportLimit))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: %d, SigningSecret: %s}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys), mask(c.Security.UploadSigningSecret)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
