package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mailsync/mailsync/pkg/credential"
	"github.com/mailsync/mailsync/pkg/engine"
	"github.com/mailsync/mailsync/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable, e.g. MAILSYNC_API_KEY.
const EnvPrefix = "MAILSYNC"

// Where an API key came from.
const (
	SourceFlag    = "flag"
	SourceEnv     = "env"
	SourceFile    = "file"
	SourceKeyring = "keyring"
)

// RetrySettings bounds mutation retries.
type RetrySettings struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1,lte=20"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gte=0"`
	Jitter      float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// JournalSettings locates the run journal. An empty path disables it.
type JournalSettings struct {
	Path string `mapstructure:"path"`
}

// LockSettings configures the run lock. An empty address disables it.
type LockSettings struct {
	RedisAddr string        `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// PolicySettings lists rego files or directories evaluated before push.
type PolicySettings struct {
	Paths []string `mapstructure:"paths"`
}

// LogSettings configures the CLI logger.
type LogSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// MetricsSettings configures the metrics textfile written after push.
type MetricsSettings struct {
	Textfile string `mapstructure:"textfile"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Exporter string `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
}

// Settings is the resolved CLI configuration.
type Settings struct {
	APIKey         string          `mapstructure:"api_key"`
	BaseURL        string          `mapstructure:"base_url" validate:"required,url"`
	Profile        string          `mapstructure:"profile" validate:"required"`
	Concurrency    int             `mapstructure:"concurrency" validate:"gte=1,lte=64"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout" validate:"gt=0"`
	Retry          RetrySettings   `mapstructure:"retry"`
	Journal        JournalSettings `mapstructure:"journal"`
	Lock           LockSettings    `mapstructure:"lock"`
	Policy         PolicySettings  `mapstructure:"policy"`
	Log            LogSettings     `mapstructure:"log"`
	Metrics        MetricsSettings `mapstructure:"metrics"`
	Tracing        TracingSettings `mapstructure:"tracing"`

	// APIKeySource is one of the Source constants, or empty when no key is set.
	APIKeySource string `mapstructure:"-"`

	// ConfigFile is the file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

// flagKeys maps CLI flag names to settings keys. Flags missing from the
// flag set are ignored.
var flagKeys = map[string]string{
	"api-key":         "api_key",
	"base-url":        "base_url",
	"profile":         "profile",
	"concurrency":     "concurrency",
	"request-timeout": "request_timeout",
	"journal":         "journal.path",
	"redis-addr":      "lock.redis_addr",
	"policy":          "policy.paths",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"metrics-file":    "metrics.textfile",
	"trace-exporter":  "tracing.exporter",
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// DefaultConfigPath returns ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	retry := engine.DefaultRetryPolicy()

	v.SetDefault("api_key", "")
	v.SetDefault("base_url", "https://api.mailsync.dev")
	v.SetDefault("profile", "default")
	v.SetDefault("concurrency", 4)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.base_delay", retry.BaseDelay)
	v.SetDefault("retry.max_delay", retry.MaxDelay)
	v.SetDefault("retry.jitter", retry.Jitter)
	v.SetDefault("journal.path", "")
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.ttl", 10*time.Minute)
	v.SetDefault("policy.paths", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "")
}

// Load resolves settings from, in increasing precedence, defaults, the
// config file, MAILSYNC_* environment variables and flags. A missing file is
// only an error when path was given explicitly.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	configFile := path
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		switch {
		case explicit:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		case errors.As(err, &notFound), errors.As(err, &pathErr):
			configFile = ""
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag --%s: %w", name, err)
				}
			}
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	s.ConfigFile = configFile
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.BaseURL = strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")

	if s.APIKey != "" {
		s.APIKeySource = apiKeySource(flags)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func apiKeySource(flags *pflag.FlagSet) string {
	if flags != nil {
		if f := flags.Lookup("api-key"); f != nil && f.Changed {
			return SourceFlag
		}
	}
	if _, ok := os.LookupEnv(EnvPrefix + "_API_KEY"); ok {
		return SourceEnv
	}
	return SourceFile
}

// Validate checks field constraints and reports every violation.
func (s *Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating settings: %w", err)
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		errs = append(errs, engine.NewValidationError(path, "failed %q check (value %v)", fe.Tag(), fe.Value()))
	}
	return errors.Join(errs...)
}

// CredentialGetter looks up a stored API key by profile.
type CredentialGetter interface {
	Get(profile string) (string, error)
}

// ResolveAPIKey falls back to the keyring when neither flag, environment nor
// file set an API key. A keyring miss leaves the key empty.
func (s *Settings) ResolveAPIKey(store CredentialGetter) error {
	if s.APIKey != "" || store == nil {
		return nil
	}

	key, err := store.Get(s.Profile)
	if errors.Is(err, credential.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.APIKey = key
	s.APIKeySource = SourceKeyring
	return nil
}

// RetryPolicy returns the engine retry policy of these settings.
func (s *Settings) RetryPolicy() engine.RetryPolicy {
	return engine.RetryPolicy{
		MaxAttempts: s.Retry.MaxAttempts,
		BaseDelay:   s.Retry.BaseDelay,
		MaxDelay:    s.Retry.MaxDelay,
		Jitter:      s.Retry.Jitter,
	}
}

// Telemetry returns the telemetry configuration of these settings.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.Log.Level
	cfg.Logging.Format = s.Log.Format
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Metrics.TextfilePath = s.Metrics.Textfile
	return cfg
}
