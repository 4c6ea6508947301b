package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/cloudsecrets/internal/config"
	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/pkg/secretstore"
)

// setInput holds the mutually ranked value sources of the set command.
type setInput struct {
	value    string
	b64value string
	file     string
}

// resolve picks the value to store: --b64value, then --value, then --file.
func (in setInput) resolve(cmd *cobra.Command) (string, error) {
	switch {
	case cmd.Flags().Changed("b64value"):
		decoded, err := secretstore.DecodeValue(in.b64value)
		if err != nil {
			return "", dserrors.UserError{
				Message:    "Invalid --b64value",
				Details:    err.Error(),
				Suggestion: "Pass standard base64, e.g. $(printf 'value' | base64)",
				Err:        err,
			}
		}
		return decoded, nil
	case cmd.Flags().Changed("value"):
		return in.value, nil
	case in.file != "":
		data, err := os.ReadFile(in.file)
		if err != nil {
			return "", dserrors.SimplifyError(err)
		}
		return string(data), nil
	}

	return "", dserrors.UserError{
		Message:    "No value given",
		Suggestion: "Pass one of --value, --b64value or --file",
	}
}

func NewSetCommand(cfg *config.Config, sel *StoreSelector) *cobra.Command {
	var in setInput

	cmd := &cobra.Command{
		Use:     "set KEY",
		Aliases: []string{"encrypt"},
		Short:   "Store a value under a key, committing a new version",
		Long: `Set a key in the secret resource and commit the result as a new version.

The value comes from --b64value, --value or --file, in that order of
precedence. The resource is created first unless --no-create is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := in.resolve(cmd)
			if err != nil {
				return err
			}

			s, err := openStore(cmd.Context(), cfg, sel)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if err := s.Set(cmd.Context(), args[0], value); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s (version %s)\n", args[0], s.Name(), s.Version())
			return err
		},
	}

	cmd.Flags().StringVarP(&in.value, "value", "v", "", "Value to store")
	cmd.Flags().StringVarP(&in.b64value, "b64value", "b", "", "Base64-encoded value to store")
	cmd.Flags().StringVarP(&in.file, "file", "f", "", "Read the value from a file")

	return cmd
}
