package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/cloudsecrets/internal/config"
	"github.com/systmms/cloudsecrets/internal/providers"
)

var storeDescriptions = map[string]string{
	"gcp.secretmanager":  "Google Cloud Secret Manager",
	"aws.secretsmanager": "AWS Secrets Manager",
	"aws.ssm":            "AWS Systems Manager Parameter Store (SecureString)",
	"azure.keyvault":     "Azure Key Vault",
	"sql":                "PostgreSQL or MySQL table of versioned payloads",
	"env":                "Process environment snapshot (in-memory versions)",
	"file":               "Local JSON document (in-memory versions)",
}

func NewStoresCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List backend types and configured stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			registry := providers.NewRegistry()

			_, _ = fmt.Fprintln(out, "Backend Types:")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "TYPE\tDESCRIPTION\n")
			for _, storeType := range registry.GetSupportedTypes() {
				description, ok := storeDescriptions[storeType]
				if !ok {
					description = "No description available"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\n", storeType, description)
			}
			_ = w.Flush()

			if err := cfg.Load(); err != nil {
				cfg.Logger.Debug("No configured stores: %v", err)
				return nil
			}

			_, _ = fmt.Fprintln(out, "\nConfigured Stores:")
			names := cfg.StoreNames()
			if len(names) == 0 {
				_, _ = fmt.Fprintln(out, "No stores configured")
				return nil
			}
			w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "NAME\tTYPE\tSECRET\n")
			for _, name := range names {
				store, _ := cfg.GetStore(name)
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, store.Type, store.Secret)
			}
			return w.Flush()
		},
	}
}
