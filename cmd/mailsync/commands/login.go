package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mailsync/mailsync/pkg/client"
	"github.com/mailsync/mailsync/pkg/credential"
	"github.com/mailsync/mailsync/pkg/settings"
)

func newLoginCommand(a *app) *cobra.Command {
	var noVerify bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key in the OS keyring",
		Long: `Store the API key of a profile in the OS keyring.

The key is taken from --api-key, or prompted for when stdin is a terminal.
It is checked against the remote API before it is stored unless
--no-verify is given.`,
		Example: `  # Prompt for the key
  mailsync login

  # Store a key for another profile
  mailsync login --profile staging --api-key "$KEY"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.settings

			key := ""
			if s.APIKeySource == settings.SourceFlag {
				key = s.APIKey
			}
			if key == "" {
				var err error
				if key, err = promptAPIKey(cmd, s.Profile); err != nil {
					return err
				}
			}

			if !noVerify {
				c, err := client.New(s.BaseURL, key,
					client.WithTimeout(s.RequestTimeout),
					client.WithLogger(a.logger),
				)
				if err != nil {
					return err
				}
				if _, err := c.FetchCurrentState(cmd.Context()); err != nil {
					return fmt.Errorf("verifying API key: %w", err)
				}
			}

			store, err := a.openCredentials()
			if err != nil {
				return err
			}
			if err := store.Set(s.Profile, key); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "API key stored for profile %q.\n", s.Profile)
			return err
		},
	}

	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "store the key without checking it against the remote")

	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove a stored API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := a.settings.Profile

			store, err := a.openCredentials()
			if err != nil {
				return err
			}
			err = store.Delete(profile)
			if errors.Is(err, credential.ErrNotFound) {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "No API key stored for profile %q.\n", profile)
				return err
			}
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "API key removed for profile %q.\n", profile)
			return err
		},
	}
}

func promptAPIKey(cmd *cobra.Command, profile string) (string, error) {
	if !isTerminal(cmd.InOrStdin()) {
		return "", errors.New("no API key given: pass --api-key")
	}

	var key string
	err := huh.NewInput().
		Title(fmt.Sprintf("API key for profile %q", profile)).
		EchoMode(huh.EchoModePassword).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("API key is required")
			}
			return nil
		}).
		Value(&key).
		Run()
	if err != nil {
		return "", fmt.Errorf("API key prompt: %w", err)
	}
	return strings.TrimSpace(key), nil
}
