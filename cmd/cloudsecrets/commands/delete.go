package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/cloudsecrets/internal/config"
	dserrors "github.com/systmms/cloudsecrets/internal/errors"
)

func NewDeleteCommand(cfg *config.Config, sel *StoreSelector) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "delete [KEY]",
		Aliases: []string{"unset", "rm"},
		Short:   "Remove a key, or the whole secret resource",
		Long: `With a KEY, remove that key and commit a new version.

Without a KEY, delete the secret resource and all of its versions.
This cannot be undone and requires --yes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !yes {
				return dserrors.UserError{
					Message:    "Refusing to delete the whole secret resource",
					Suggestion: "Re-run with --yes, or pass a KEY to remove a single key",
				}
			}

			s, err := openStore(cmd.Context(), cfg, sel)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if len(args) == 1 {
				if err := s.Unset(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s (version %s)\n", args[0], s.Name(), s.Version())
				return err
			}

			if err := s.Delete(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", s.Name())
			return err
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion of the whole resource")

	return cmd
}
