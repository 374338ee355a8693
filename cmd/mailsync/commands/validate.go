package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a routing document",
		Long: `Validate a routing document without contacting the remote API.

The document is checked against the schema, every endpoint shorthand is
normalized and every reference is resolved. All problems are reported at
once.`,
		Example: `  # Validate a document
  mailsync validate -f mail.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, desired, err := loadDesired(file)
			if err != nil {
				return err
			}

			domains, addresses, endpoints := doc.Counts()
			a.logger.Debug().
				Str("document", file).
				Int("domains", domains).
				Int("addresses", addresses).
				Int("endpoints", endpoints).
				Msg("Document resolved")

			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"%s is valid: %d endpoint(s), %d domain(s), %d email address(es).\n",
				file, len(desired.Endpoints), len(desired.Domains), len(desired.EmailAddresses))
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "routing document (.yaml, .json or .cue)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
