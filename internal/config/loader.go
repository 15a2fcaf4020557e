package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadEnv reads configuration from environment variables without
// validating it, so callers can apply command-line overrides first.
func LoadEnv() (*Config, error) {
	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// envVar is one tagged configuration field.
//
// Tags: env names the variable, envAlt an older name still honoured,
// default the value used when neither is set, required="true" rejects an
// unset variable, and unit="bytes" accepts sizes such as "50MB".
type envVar struct {
	name, alt, def, unit string
	required             bool
	field                reflect.Value
}

// envVars walks v depth-first and returns every field with an env tag.
func envVars(v reflect.Value) []envVar {
	var out []envVar
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct {
			out = append(out, envVars(fv)...)
			continue
		}
		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		out = append(out, envVar{
			name:     name,
			alt:      sf.Tag.Get("envAlt"),
			def:      sf.Tag.Get("default"),
			unit:     sf.Tag.Get("unit"),
			required: sf.Tag.Get("required") == "true",
			field:    fv,
		})
	}
	return out
}

// lookup returns the variable's value and whether the environment set it.
func (ev envVar) lookup() (string, bool) {
	if s := os.Getenv(ev.name); s != "" {
		return s, true
	}
	if ev.alt != "" {
		if s := os.Getenv(ev.alt); s != "" {
			return s, true
		}
	}
	return ev.def, false
}

// loadStruct sets every tagged field of v. Missing and malformed variables
// are reported together.
func loadStruct(v reflect.Value) error {
	var errs []error
	for _, ev := range envVars(v) {
		value, set := ev.lookup()
		if !set && ev.required {
			errs = append(errs, fmt.Errorf("required environment variable %s is not set", ev.name))
			continue
		}
		if value == "" {
			continue
		}
		if err := ev.set(value); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", ev.name, value, err))
		}
	}
	return errors.Join(errs...)
}

var durationType = reflect.TypeOf(time.Duration(0))

func (ev envVar) set(value string) error {
	f := ev.field
	switch {
	case f.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		f.SetInt(int64(d))

	case ev.unit == "bytes":
		n, err := ParseByteSize(value)
		if err != nil {
			return err
		}
		f.SetInt(n)

	case f.Kind() == reflect.String:
		f.SetString(value)

	case f.Kind() == reflect.Int || f.Kind() == reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		if f.OverflowInt(n) {
			return fmt.Errorf("integer %d out of range", n)
		}
		f.SetInt(n)

	case f.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		f.SetBool(b)

	case f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.String:
		f.Set(reflect.ValueOf(splitList(value)))

	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var byteUnits = map[string]int64{
	"":    1,
	"B":   1,
	"KB":  1 << 10,
	"KIB": 1 << 10,
	"MB":  1 << 20,
	"MIB": 1 << 20,
	"GB":  1 << 30,
	"GIB": 1 << 30,
}

var byteSizePattern = regexp.MustCompile(`^\s*(\d+)\s*([A-Za-z]*)\s*$`)

// ParseByteSize parses a size such as "52428800", "512KB" or "50MB".
// Units are binary: 1KB is 1024 bytes.
func ParseByteSize(s string) (int64, error) {
	m := byteSizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	mult, ok := byteUnits[strings.ToUpper(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q", m[2])
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n > (1<<63-1)/mult {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return n * mult, nil
}

// normalize canonicalises case-insensitive settings.
func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Import.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.Import.DefaultCurrency))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// ValidationError lists every problem Validate found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed:\n  - " + strings.Join(e.Problems, "\n  - ")
}

type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

// Validate checks every section and reports all failures at once as a
// *ValidationError.
func (c *Config) Validate() error {
	var p problems
	c.Server.validate(&p)
	c.Database.validate(&p)
	c.Import.validate(&p)
	c.Rate.validate(&p)
	c.Security.validate(&p)
	c.Logging.validate(&p)
	if len(p) == 0 {
		return nil
	}
	return &ValidationError{Problems: p}
}

func (c *ServerConfig) validate(p *problems) {
	if c.Port <= 0 || c.Port > 65535 {
		p.addf("SERVER_PORT (%d) must be 1-65535", c.Port)
	}
	if c.ReadTimeout < 0 {
		p.addf("SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.ShutdownTimeout <= 0 {
		p.addf("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
}

func (c *DatabaseConfig) validate(p *problems) {
	switch strings.ToLower(c.Driver) {
	case StoreMemory:
	case StorePostgres:
		if c.URL == "" {
			p.addf("DATABASE_URL is required for the postgres store")
		}
		if c.MaxConns <= 0 {
			p.addf("DB_MAX_CONNS must be positive")
		}
		if c.MinConns < 0 {
			p.addf("DB_MIN_CONNS must be non-negative")
		}
		if c.MaxConns < c.MinConns {
			p.addf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.MaxConns, c.MinConns)
		}
	default:
		p.addf("STORE_DRIVER (%q) must be one of: postgres, memory", c.Driver)
	}
}

var currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

func (c *ImportConfig) validate(p *problems) {
	if c.MaxFileSize <= 0 {
		p.addf("IMPORT_MAX_FILE_SIZE must be positive")
	}
	if c.MaxConcurrent <= 0 {
		p.addf("IMPORT_MAX_CONCURRENT must be positive")
	}
	if c.MaxWaitTime <= 0 {
		p.addf("IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.PublishTimeout <= 0 {
		p.addf("IMPORT_PUBLISH_TIMEOUT must be positive")
	}
	if !currencyPattern.MatchString(c.DefaultCurrency) {
		p.addf("IMPORT_DEFAULT_CURRENCY (%q) must be a 3-letter ISO code", c.DefaultCurrency)
	}
	if c.PresetsFile != "" {
		if info, err := os.Stat(c.PresetsFile); err != nil {
			p.addf("IMPORT_PRESETS_FILE (%q) cannot be read: %v", c.PresetsFile, err)
		} else if info.IsDir() {
			p.addf("IMPORT_PRESETS_FILE (%q) is a directory", c.PresetsFile)
		}
	}
}

func (c *RateLimitConfig) validate(p *problems) {
	if c.Enabled && c.RequestsPerMinute <= 0 {
		p.addf("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
}

func (c *SecurityConfig) validate(p *problems) {
	if c.RequireAPIKey && len(c.APIKeys) == 0 && len(c.PublishAPIKeys) == 0 {
		p.addf("REQUIRE_API_KEY is true but neither API_KEYS nor PUBLISH_API_KEYS lists a key")
	}
	publish := make(map[string]bool, len(c.PublishAPIKeys))
	for _, k := range c.PublishAPIKeys {
		publish[k] = true
	}
	for _, k := range c.APIKeys {
		if publish[k] {
			p.addf("a key is listed in both API_KEYS and PUBLISH_API_KEYS")
			break
		}
	}
	for _, entry := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			p.addf("TRUSTED_PROXIES entry %q is not a CIDR or IP", entry)
		}
	}
}

func (c *LoggingConfig) validate(p *problems) {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
	default:
		p.addf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "text", "json", "console":
	default:
		p.addf("LOG_FORMAT (%q) must be one of: text, json, console", c.Format)
	}
}

// String returns the configuration for logging, with the database URL and
// API keys masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: {Addr: %q}, Store: {Driver: %q, URL: [MASKED], MaxConns: %d, MinConns: %d}, "+
		"Import: {MaxFileSize: %d, MaxConcurrent: %d, DefaultCurrency: %q, Presets: %q}, "+
		"Security: {RequireAPIKey: %t, StageKeys: %d, PublishKeys: %d}, Logging: {Level: %q, Format: %q}}",
		c.Server.Addr(), c.Database.Driver, c.Database.MaxConns, c.Database.MinConns,
		c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.DefaultCurrency, c.Import.PresetsFile,
		c.Security.RequireAPIKey, len(c.Security.APIKeys), len(c.Security.PublishAPIKeys),
		c.Logging.Level, c.Logging.Format)
}
