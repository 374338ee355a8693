package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/mailsync/mailsync/pkg/credential"
	"github.com/mailsync/mailsync/pkg/engine"
)

// isolate points HOME at an empty directory and clears the variables the
// tests rely on.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, name := range []string{"API_KEY", "BASE_URL", "CONCURRENCY", "RETRY_MAX_ATTEMPTS", "PROFILE"} {
		t.Setenv(EnvPrefix+"_"+name, "")
		os.Unsetenv(EnvPrefix + "_" + name)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("api-key", "", "")
	fs.String("base-url", "", "")
	fs.Int("concurrency", 4, "")
	fs.StringSlice("policy", nil, "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	s, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	retry := engine.DefaultRetryPolicy()
	if s.Profile != "default" || s.Concurrency != 4 {
		t.Errorf("profile/concurrency = %q/%d", s.Profile, s.Concurrency)
	}
	if s.Retry.MaxAttempts != retry.MaxAttempts || s.Retry.BaseDelay != retry.BaseDelay {
		t.Errorf("retry = %+v", s.Retry)
	}
	if s.Lock.TTL != 10*time.Minute {
		t.Errorf("lock ttl = %v", s.Lock.TTL)
	}
	if s.APIKey != "" || s.APIKeySource != "" {
		t.Errorf("api key = %q from %q", s.APIKey, s.APIKeySource)
	}
	if s.ConfigFile != "" {
		t.Errorf("ConfigFile = %q, want none", s.ConfigFile)
	}
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
api_key: file-key
base_url: https://api.example.com/
retry:
  max_attempts: 2
  base_delay: 250ms
lock:
  redis_addr: localhost:6379
  ttl: 30s
policy:
  paths: [policies]
journal:
  path: /tmp/journal.db
`)

	s, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.APIKey != "file-key" || s.APIKeySource != SourceFile {
		t.Errorf("api key = %q from %q", s.APIKey, s.APIKeySource)
	}
	if s.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", s.BaseURL)
	}
	if s.Retry.MaxAttempts != 2 || s.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("retry = %+v", s.Retry)
	}
	if s.Lock.RedisAddr != "localhost:6379" || s.Lock.TTL != 30*time.Second {
		t.Errorf("lock = %+v", s.Lock)
	}
	if len(s.Policy.Paths) != 1 || s.Policy.Paths[0] != "policies" {
		t.Errorf("policy paths = %v", s.Policy.Paths)
	}
	if s.Journal.Path != "/tmp/journal.db" {
		t.Errorf("journal = %q", s.Journal.Path)
	}
	if s.ConfigFile != path {
		t.Errorf("ConfigFile = %q", s.ConfigFile)
	}
}

func TestLoad_Precedence(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "api_key: file-key\nconcurrency: 2\nretry:\n  max_attempts: 2\n")

	t.Setenv("MAILSYNC_API_KEY", "env-key")
	t.Setenv("MAILSYNC_RETRY_MAX_ATTEMPTS", "7")

	s, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.APIKey != "env-key" || s.APIKeySource != SourceEnv {
		t.Errorf("api key = %q from %q, want env", s.APIKey, s.APIKeySource)
	}
	if s.Retry.MaxAttempts != 7 {
		t.Errorf("max attempts = %d, want env value", s.Retry.MaxAttempts)
	}

	flags := testFlags()
	if err := flags.Parse([]string{"--api-key", "flag-key", "--concurrency", "9"}); err != nil {
		t.Fatal(err)
	}
	s, err = Load(path, flags)
	if err != nil {
		t.Fatal(err)
	}
	if s.APIKey != "flag-key" || s.APIKeySource != SourceFlag {
		t.Errorf("api key = %q from %q, want flag", s.APIKey, s.APIKeySource)
	}
	if s.Concurrency != 9 {
		t.Errorf("concurrency = %d, want flag value", s.Concurrency)
	}
}

func TestLoad_UnsetFlagKeepsFileValue(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "concurrency: 2\n")

	s, err := Load(path, testFlags())
	if err != nil {
		t.Fatal(err)
	}
	if s.Concurrency != 2 {
		t.Errorf("concurrency = %d, want file value", s.Concurrency)
	}
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	tests := []struct {
		name       string
		content    string
		wantField  string
		validation bool
	}{
		{"zero concurrency", "concurrency: 0\n", "concurrency", true},
		{"bad log level", "log:\n  level: loud\n", "log.level", true},
		{"jitter out of range", "retry:\n  jitter: 2\n", "retry.jitter", true},
		{"otlp without endpoint", "tracing:\n  exporter: otlp\n", "tracing.endpoint", true},
		{"bad base url", "base_url: not a url\n", "base_url", true},
		{"malformed yaml", "concurrency: [\n", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, engine.ErrValidation) != tt.validation {
				t.Errorf("validation = %v, want %v: %v", !tt.validation, tt.validation, err)
			}
			if tt.wantField != "" && !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("error %q does not name %s", err, tt.wantField)
			}
		})
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	isolate(t)

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

type fakeCredentials struct {
	keys  map[string]string
	err   error
	calls int
}

func (f *fakeCredentials) Get(profile string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	key, ok := f.keys[profile]
	if !ok {
		return "", fmt.Errorf("getting credential %q: %w", profile, credential.ErrNotFound)
	}
	return key, nil
}

func TestResolveAPIKey(t *testing.T) {
	t.Run("keyring fallback", func(t *testing.T) {
		s := &Settings{Profile: "prod"}
		store := &fakeCredentials{keys: map[string]string{"prod": "ring-key"}}
		if err := s.ResolveAPIKey(store); err != nil {
			t.Fatal(err)
		}
		if s.APIKey != "ring-key" || s.APIKeySource != SourceKeyring {
			t.Errorf("api key = %q from %q", s.APIKey, s.APIKeySource)
		}
	})

	t.Run("keyring miss", func(t *testing.T) {
		s := &Settings{Profile: "prod"}
		if err := s.ResolveAPIKey(&fakeCredentials{}); err != nil {
			t.Fatalf("miss should not fail: %v", err)
		}
		if s.APIKey != "" {
			t.Errorf("api key = %q", s.APIKey)
		}
	})

	t.Run("keyring failure", func(t *testing.T) {
		s := &Settings{Profile: "prod"}
		if err := s.ResolveAPIKey(&fakeCredentials{err: errors.New("locked")}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("explicit key wins", func(t *testing.T) {
		s := &Settings{Profile: "prod", APIKey: "flag-key", APIKeySource: SourceFlag}
		store := &fakeCredentials{keys: map[string]string{"prod": "ring-key"}}
		if err := s.ResolveAPIKey(store); err != nil {
			t.Fatal(err)
		}
		if store.calls != 0 || s.APIKey != "flag-key" {
			t.Errorf("keyring consulted (%d calls), key = %q", store.calls, s.APIKey)
		}
	})
}

func TestSettings_Conversions(t *testing.T) {
	s := &Settings{
		Retry:   RetrySettings{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.1},
		Log:     LogSettings{Level: "debug", Format: "json"},
		Metrics: MetricsSettings{Textfile: "/var/lib/node_exporter/mailsync.prom"},
		Tracing: TracingSettings{Exporter: "stdout"},
	}

	p := s.RetryPolicy()
	if p.MaxAttempts != 3 || p.BaseDelay != time.Second || p.MaxDelay != time.Minute || p.Jitter != 0.1 {
		t.Errorf("RetryPolicy() = %+v", p)
	}

	cfg := s.Telemetry("1.2.3")
	if cfg.ServiceVersion != "1.2.3" || cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("telemetry logging = %+v", cfg.Logging)
	}
	if cfg.Tracing.Exporter != "stdout" || cfg.Metrics.TextfilePath != s.Metrics.Textfile {
		t.Errorf("telemetry = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("telemetry config invalid: %v", err)
	}
}
