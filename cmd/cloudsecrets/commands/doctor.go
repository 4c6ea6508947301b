package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/cloudsecrets/internal/config"
	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/providers"
	"github.com/systmms/cloudsecrets/pkg/secretstore"
)

// awsIdentity is swapped out in tests.
var awsIdentity = providers.AWSIdentity

// StoreHealth is the doctor result for one configured store
type StoreHealth struct {
	Name     string
	Type     string
	Status   string // healthy, missing, error
	Message  string
	Identity string
	Err      error
}

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and store connectivity",
		Long: `Verify that every configured store is reachable.

This command checks:
- Configuration file validity
- Backend authentication and connectivity
- Whether each secret resource exists

Doctor never creates a missing secret resource.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger.Info("Checking cloudsecrets configuration...")
			if err := cfg.Load(); err != nil {
				return err
			}
			cfg.Logger.Info("Configuration loaded from %s", cfg.Path)

			registry := providers.NewRegistry()
			results := make([]StoreHealth, 0, len(cfg.Definition.Stores))
			for _, name := range cfg.StoreNames() {
				store, _ := cfg.GetStore(name)
				results = append(results, checkStore(cmd.Context(), cfg, registry, name, store))
			}

			out := cmd.OutOrStdout()
			displayHealthResults(out, results, verbose)

			healthy := 0
			for _, result := range results {
				if result.Status == "healthy" {
					healthy++
				}
			}
			_, _ = fmt.Fprintf(out, "\nSummary: %d/%d stores healthy\n", healthy, len(results))
			if healthy < len(results) {
				return fmt.Errorf("some stores are not healthy")
			}

			cfg.Logger.Info("All systems operational!")
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show suggestions for failing stores")

	return cmd
}

func checkStore(ctx context.Context, cfg *config.Config, registry *providers.Registry, name string, store config.StoreConfig) StoreHealth {
	health := StoreHealth{Name: name, Type: store.Type}

	if !registry.IsSupported(store.Type) {
		health.Status = "error"
		health.Err = fmt.Errorf("unsupported store type %q", store.Type)
		health.Message = health.Err.Error()
		return health
	}

	if strings.HasPrefix(store.Type, "aws.") {
		identity, err := awsIdentity(ctx, store.BackendSettings())
		if err != nil {
			health.Status = "error"
			health.Err = err
			health.Message = err.Error()
			return health
		}
		health.Identity = identity
	}

	store.CreateIfNotPresent = providers.Bool(false)
	s, err := store.Open(ctx, registry, cfg.Logger, nil)
	switch {
	case secretstore.IsNotFound(err):
		health.Status = "missing"
		health.Err = err
		health.Message = fmt.Sprintf("secret %s does not exist", store.Secret)
		return health
	case err != nil:
		health.Status = "error"
		health.Err = err
		health.Message = err.Error()
		return health
	}
	defer func() { _ = s.Close() }()

	health.Status = "healthy"
	version := s.Version()
	if version == "" {
		version = "none"
	}
	health.Message = fmt.Sprintf("version %s, %d keys", version, len(s.Secrets()))
	return health
}

// displayHealthResults shows store health in a formatted table
func displayHealthResults(out io.Writer, results []StoreHealth, verbose bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "STORE\tTYPE\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t----\t------\t-------\n")

	for _, result := range results {
		status := result.Status
		switch result.Status {
		case "healthy":
			status = "✓ " + status
		case "error":
			status = "✗ " + status
		default:
			status = "? " + status
		}

		// Only the first line of multi-line errors fits the table.
		message, _, _ := strings.Cut(result.Message, "\n")
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", result.Name, result.Type, status, message)
	}
	_ = w.Flush()

	if !verbose {
		return
	}
	for _, result := range results {
		if result.Identity != "" {
			_, _ = fmt.Fprintf(out, "\n%s authenticates as %s\n", result.Name, result.Identity)
		}
		if result.Err != nil && result.Status == "error" {
			_, _ = fmt.Fprintf(out, "\n%s (%s):\n  %s\n", result.Name, result.Type, dserrors.StoreError(result.Type, "open", result.Err))
		}
	}
}
