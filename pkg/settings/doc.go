// Package settings resolves the mailsync CLI configuration.
//
// Values come from defaults, a YAML config file (by default
// ~/.config/mailsync/config.yaml), MAILSYNC_* environment variables and
// command-line flags, in increasing precedence. The API key additionally
// falls back to the OS keyring for the active profile.
//
// Example config file:
//
//	base_url: https://api.example.com
//	profile: prod
//	concurrency: 8
//	retry:
//	  max_attempts: 5
//	  base_delay: 500ms
//	lock:
//	  redis_addr: localhost:6379
//	journal:
//	  path: ~/.local/share/mailsync/journal.db
package settings
