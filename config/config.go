// Package config is the configuration surface for the content-fetch layer.
// Values are resolved defaults-first, then an optional YAML file, then
// GICA_* environment variables, so a deployment can pin everything in a
// file and still override a single knob per environment.
package config

import (
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalidBaseURL is returned by Validate when the configured base URL is
// empty or unparsable. This is fatal at startup.
var ErrInvalidBaseURL = errors.New("config: invalid base URL")

// Config holds every knob of the content-fetch layer. Duration fields in
// the YAML file and environment accept human syntax ("500ms", "5m", "1d").
type Config struct {
	// BaseURL is the root of the remote content API. Required.
	BaseURL string `yaml:"base_url"`
	// Token is the bearer token sent with every request. Optional.
	Token string `yaml:"token"`

	RequestTimeout  time.Duration `yaml:"request_timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	RetryMultiplier float64       `yaml:"retry_multiplier"`

	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheMaxSize int           `yaml:"cache_max_size"`
	// RedisURL switches the TTL cache to a shared Redis backend when set.
	RedisURL string `yaml:"redis_url"`

	ImageDir         string        `yaml:"image_dir"`
	ImageTTL         time.Duration `yaml:"image_ttl"`
	ImageMaxBytes    int64         `yaml:"image_max_bytes"`
	ImageConcurrency int           `yaml:"image_concurrency"`

	// LogLevel is the console log level name ("trace" through "fatal").
	LogLevel string `yaml:"log_level"`
}

// Default returns a Config with every knob at its documented default.
func Default() Config {
	return Config{
		RequestTimeout:   10 * time.Second,
		RetryAttempts:    3,
		RetryDelay:       500 * time.Millisecond,
		RetryMaxDelay:    10 * time.Second,
		RetryMultiplier:  2.0,
		CacheEnabled:     true,
		CacheTTL:         5 * time.Minute,
		CacheMaxSize:     1000,
		ImageDir:         "./static/cached-images",
		ImageTTL:         24 * time.Hour,
		ImageMaxBytes:    10 << 20,
		ImageConcurrency: 5,
		LogLevel:         "info",
	}
}

// Load resolves the configuration from defaults plus GICA_* environment
// variables and validates it.
func Load() (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadFile resolves the configuration from defaults, then the YAML file at
// path, then GICA_* environment variables, and validates it. A missing file
// is not an error so the same invocation works with and without one.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	buf, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, errors.Wrapf(err, "reading config file %s", path)
		}
	} else if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config file %s", path)
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the startup-fatal constraints.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Wrapf(ErrInvalidBaseURL, "%q", c.BaseURL)
	}
	if c.RetryAttempts < 0 {
		return errors.Newf("config: retry_attempts must not be negative, got %d", c.RetryAttempts)
	}
	if c.RetryMultiplier < 1 {
		return errors.Newf("config: retry_multiplier must be at least 1, got %g", c.RetryMultiplier)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	setString(&c.BaseURL, "GICA_BASE_URL")
	setString(&c.Token, "GICA_TOKEN")
	setString(&c.RedisURL, "GICA_REDIS_URL")
	setString(&c.ImageDir, "GICA_IMAGE_DIR")
	setString(&c.LogLevel, "GICA_LOG_LEVEL")
	err = firstErr(err, setDuration(&c.RequestTimeout, "GICA_REQUEST_TIMEOUT"))
	err = firstErr(err, setDuration(&c.RetryDelay, "GICA_RETRY_DELAY"))
	err = firstErr(err, setDuration(&c.RetryMaxDelay, "GICA_RETRY_MAX_DELAY"))
	err = firstErr(err, setDuration(&c.CacheTTL, "GICA_CACHE_TTL"))
	err = firstErr(err, setDuration(&c.ImageTTL, "GICA_IMAGE_TTL"))
	err = firstErr(err, setInt(&c.RetryAttempts, "GICA_RETRY_ATTEMPTS"))
	err = firstErr(err, setInt(&c.CacheMaxSize, "GICA_CACHE_MAX_SIZE"))
	err = firstErr(err, setInt(&c.ImageConcurrency, "GICA_IMAGE_CONCURRENCY"))
	err = firstErr(err, setInt64(&c.ImageMaxBytes, "GICA_IMAGE_MAX_BYTES"))
	err = firstErr(err, setFloat(&c.RetryMultiplier, "GICA_RETRY_MULTIPLIER"))
	err = firstErr(err, setBool(&c.CacheEnabled, "GICA_CACHE_ENABLED"))
	return err
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	d, err := str2duration.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", key)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", key)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", key)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", key)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", key)
	}
	*dst = b
	return nil
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
