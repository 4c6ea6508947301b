package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/cloudsecrets/internal/config"
	"github.com/systmms/cloudsecrets/internal/execenv"
)

func NewExecCommand(cfg *config.Config, sel *StoreSelector) *cobra.Command {
	var (
		prefix        string
		allowOverride bool
		printVars     bool
		workingDir    string
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec -- COMMAND [ARGS...]",
		Short: "Run a command with the store's keys as environment variables",
		Long: `Load the store and run COMMAND with every key exported as an
environment variable. Keys that are not valid variable names are skipped.

Examples:
  cloudsecrets exec --store app -- ./server
  cloudsecrets exec -p aws -s prod/app --prefix APP_ -- env`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := execenv.ValidateCommand(args); err != nil {
				return err
			}

			s, err := openStore(cmd.Context(), cfg, sel)
			if err != nil {
				return err
			}
			secrets := s.Secrets()
			_ = s.Close()

			executor := execenv.New(cfg.Logger).WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())
			return executor.Exec(cmd.Context(), execenv.ExecOptions{
				Command:       args,
				Environment:   secrets,
				Prefix:        prefix,
				AllowOverride: allowOverride,
				PrintVars:     printVars,
				WorkingDir:    workingDir,
				Timeout:       timeout,
			})
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Prefix for exported variable names")
	cmd.Flags().BoolVar(&allowOverride, "allow-override", false, "Let existing environment variables win over stored keys")
	cmd.Flags().BoolVar(&printVars, "print", false, "Print exported names with masked values")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "Working directory for the command")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Kill the command after this long (0 for no limit)")

	return cmd
}
