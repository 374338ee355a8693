// Package credential stores mailsync API keys in the operating system
// keyring, one entry per profile under the "mailsync" service.
package credential
