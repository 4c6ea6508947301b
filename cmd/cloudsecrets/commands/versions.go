package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/systmms/cloudsecrets/internal/config"
	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/pkg/secretstore"
)

func NewVersionsCommand(cfg *config.Config, sel *StoreSelector) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List the versions of a secret resource, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context(), cfg, sel)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			tokens, err := s.Versions(cmd.Context())
			if err != nil {
				return err
			}
			if len(tokens) == 0 {
				cfg.Logger.Warn("%s has no versions yet", s.Name())
				return nil
			}

			current := s.Version()
			for _, token := range tokens {
				marker := " "
				if token == current {
					marker = "*"
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, token); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// ParseVersionSpec reads a rollback target: zero or a negative integer is
// relative to the current version, anything else is an exact token.
func ParseVersionSpec(arg string) secretstore.VersionSpec {
	if n, err := strconv.Atoi(arg); err == nil && n <= 0 {
		return secretstore.Relative(n)
	}
	return secretstore.Exact(arg)
}

func NewRollbackCommand(cfg *config.Config, sel *StoreSelector) *cobra.Command {
	var (
		commit bool
		offset int
	)

	cmd := &cobra.Command{
		Use:   "rollback [VERSION | --offset N]",
		Short: "Show the store as of an earlier version",
		Long: `Load an earlier version into the store and print its keys.

VERSION is either an exact token as listed by 'cloudsecrets versions',
or a relative offset: 0 reloads the current version, -1 is the one before.
Negative offsets are given with --offset=-1 or after a separator, as in
'cloudsecrets rollback -- -1'.

Rolling back does not write anything to the backend unless --commit is
given, which re-commits the loaded contents as a new latest version.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var spec secretstore.VersionSpec
			switch {
			case cmd.Flags().Changed("offset") && len(args) > 0:
				return dserrors.UserError{
					Message:    "Both VERSION and --offset given",
					Suggestion: "Pass either an exact version or --offset, not both",
				}
			case cmd.Flags().Changed("offset"):
				if offset > 0 {
					return dserrors.UserError{
						Message:    fmt.Sprintf("Invalid offset %d", offset),
						Suggestion: "Offsets count back from the current version: use 0 or a negative number",
					}
				}
				spec = secretstore.Relative(offset)
			case len(args) == 1:
				spec = ParseVersionSpec(args[0])
			default:
				return dserrors.UserError{
					Message:    "No version given",
					Suggestion: "Pass a version token or --offset, e.g. 'cloudsecrets rollback --offset=-1'",
				}
			}

			s, err := openStore(cmd.Context(), cfg, sel)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if err := s.Rollback(cmd.Context(), spec); err != nil {
				return err
			}

			cfg.Logger.Info("Rolled %s back to version %s", s.Name(), s.Version())
			if commit {
				if err := s.Update(cmd.Context()); err != nil {
					return err
				}
				cfg.Logger.Info("Committed as version %s", s.Version())
			}

			out, err := renderSecrets(s, "json")
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().BoolVar(&commit, "commit", false, "Commit the rolled back contents as a new version")
	cmd.Flags().IntVar(&offset, "offset", 0, "Relative version offset (0 or negative)")

	return cmd
}
