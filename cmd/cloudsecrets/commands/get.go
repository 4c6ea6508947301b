package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/systmms/cloudsecrets/internal/config"
	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/providers"
)

func NewGetCommand(cfg *config.Config, sel *StoreSelector) *cobra.Command {
	var (
		format     string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:     "get [KEY]",
		Aliases: []string{"decrypt"},
		Short:   "Print the decoded secrets of a store",
		Long: `Print every key of the secret resource, or the value of a single key.

Examples:
  # Whole resource as JSON
  cloudsecrets get --store app

  # One value, written to a file
  cloudsecrets get -p gcp -s app-config DATABASE_URL --file db.url

  # Shell-sourceable output
  cloudsecrets get --store app --format dotenv`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context(), cfg, sel)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			var out []byte
			if len(args) == 1 {
				value, ok := s.Get(args[0])
				if !ok {
					return dserrors.UserError{
						Message:    fmt.Sprintf("Key '%s' not found in %s", args[0], s.Name()),
						Suggestion: "Run 'cloudsecrets get' to list the stored keys",
					}
				}
				out = []byte(value)
			} else {
				out, err = renderSecrets(s, format)
				if err != nil {
					return err
				}
			}

			if outputFile != "" {
				if err := os.WriteFile(outputFile, out, 0600); err != nil {
					return dserrors.UserError{
						Message: "Failed to write output file",
						Details: err.Error(),
						Err:     err,
					}
				}
				cfg.Logger.Info("Wrote %s", outputFile)
				return nil
			}
			return writeLine(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format for the whole resource (json, yaml, dotenv)")
	cmd.Flags().StringVarP(&outputFile, "file", "f", "", "Write the output to a file instead of stdout")

	return cmd
}

func renderSecrets(s *providers.SecretStore, format string) ([]byte, error) {
	secrets := s.Secrets()

	switch format {
	case "json":
		return json.MarshalIndent(secrets, "", "  ")
	case "yaml":
		return yaml.Marshal(secrets)
	case "dotenv":
		keys := make([]string, 0, len(secrets))
		for k := range secrets {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		var out []byte
		for _, k := range keys {
			out = fmt.Appendf(out, "%s=%s\n", k, strconv.Quote(secrets[k]))
		}
		return out, nil
	default:
		return nil, dserrors.UserError{
			Message:    fmt.Sprintf("Unknown format '%s'", format),
			Suggestion: "Use --format json, yaml or dotenv",
		}
	}
}

func writeLine(w io.Writer, data []byte) error {
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	_, err := w.Write(data)
	return err
}
