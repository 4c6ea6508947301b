package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/cloudsecrets/cmd/cloudsecrets/commands"
	"github.com/systmms/cloudsecrets/internal/config"
	"github.com/systmms/cloudsecrets/internal/execenv"
	"github.com/systmms/cloudsecrets/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		var exitErr *execenv.ExitError
		if errors.As(err, &exitErr) && exitErr.Code > 0 {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}
	sel := &commands.StoreSelector{}

	rootCmd := &cobra.Command{
		Use:   "cloudsecrets",
		Short: "Versioned key/value secrets on cloud secret stores",
		Long: `cloudsecrets keeps a whole key/value map in one secret resource and
commits every change as a new version. It works against GCP Secret Manager,
AWS Secrets Manager and Parameter Store, Azure Key Vault, a SQL table, the
process environment or a local JSON file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	sel.Register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		commands.NewGetCommand(cfg, sel),
		commands.NewSetCommand(cfg, sel),
		commands.NewDeleteCommand(cfg, sel),
		commands.NewVersionsCommand(cfg, sel),
		commands.NewRollbackCommand(cfg, sel),
		commands.NewExecCommand(cfg, sel),
		commands.NewWatchCommand(cfg, sel),
		commands.NewStoresCommand(cfg),
		commands.NewDoctorCommand(cfg),
		commands.NewCompletionCommand(),
	)

	return rootCmd.Execute()
}
