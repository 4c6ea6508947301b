package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/systmms/cloudsecrets/internal/config"
	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/providers"
)

const defaultStoreType = "gcp.secretmanager"

// providerAliases maps the short provider names accepted by --provider.
var providerAliases = map[string]string{
	"gcp":   "gcp.secretmanager",
	"aws":   "aws.secretsmanager",
	"ssm":   "aws.ssm",
	"azure": "azure.keyvault",
}

// StoreSelector picks the store a command operates on, either a named
// entry of the configuration file or an ad-hoc type and secret.
type StoreSelector struct {
	Store       string
	Provider    string
	Secret      string
	Project     string
	Region      string
	Credentials string
	Version     string
	NoCreate    bool
}

// Register adds the selection flags to fs
func (s *StoreSelector) Register(fs *pflag.FlagSet) {
	fs.StringVar(&s.Store, "store", "", "Named store from the config file")
	fs.StringVarP(&s.Provider, "provider", "p", "", "Backend type for an ad-hoc store (gcp, aws, ssm, azure, sql, env, file or a full type key)")
	fs.StringVarP(&s.Secret, "secret", "s", "", "Secret resource name for an ad-hoc store")
	fs.StringVarP(&s.Project, "project", "g", "", "GCP project (defaults to PROJECT, GOOGLE_CLOUD_PROJECT, GCP_PROJECT or GCLOUD_PROJECT)")
	fs.StringVar(&s.Region, "region", "", "AWS region for an ad-hoc store")
	fs.StringVar(&s.Credentials, "credentials", "", "Credential source (file:PATH, keyring:SERVICE/ACCOUNT, profile:NAME, ...)")
	fs.StringVar(&s.Version, "version-pin", "", "Pin the store to a version token")
	fs.BoolVar(&s.NoCreate, "no-create", false, "Fail instead of creating a missing secret resource")
}

func (s *StoreSelector) adHoc() bool {
	return s.Provider != "" || s.Secret != ""
}

// storeType expands a --provider value to a registry type key
func (s *StoreSelector) storeType() string {
	if s.Provider == "" {
		return defaultStoreType
	}
	if full, ok := providerAliases[strings.ToLower(s.Provider)]; ok {
		return full
	}
	return s.Provider
}

// Resolve returns the store configuration the selector points at
func (s *StoreSelector) Resolve(cfg *config.Config) (string, config.StoreConfig, error) {
	var (
		name  string
		store config.StoreConfig
	)

	switch {
	case s.Store != "":
		if err := cfg.Load(); err != nil {
			return "", config.StoreConfig{}, err
		}
		found, err := cfg.GetStore(s.Store)
		if err != nil {
			return "", config.StoreConfig{}, err
		}
		name, store = s.Store, found

	case s.adHoc():
		if s.Secret == "" {
			return "", config.StoreConfig{}, dserrors.UserError{
				Message:    "No secret given",
				Suggestion: "Pass --secret NAME together with --provider",
			}
		}
		name = s.Secret
		store = config.StoreConfig{
			Type:     s.storeType(),
			Secret:   s.Secret,
			Settings: map[string]interface{}{},
		}

	default:
		if err := cfg.Load(); err != nil {
			return "", config.StoreConfig{}, err
		}
		names := cfg.StoreNames()
		if len(names) != 1 {
			return "", config.StoreConfig{}, dserrors.UserError{
				Message:    fmt.Sprintf("%d stores configured, cannot pick one", len(names)),
				Suggestion: "Pass --store NAME or --provider and --secret",
			}
		}
		name = names[0]
		store, _ = cfg.GetStore(name)
	}

	s.applyOverrides(&store)
	return name, store, nil
}

func (s *StoreSelector) applyOverrides(store *config.StoreConfig) {
	settings := make(map[string]interface{}, len(store.Settings)+3)
	for k, v := range store.Settings {
		settings[k] = v
	}
	if s.Project != "" {
		settings["project"] = s.Project
	}
	if s.Region != "" {
		settings["region"] = s.Region
	}
	if s.Credentials != "" {
		settings["credentials"] = s.Credentials
	}
	store.Settings = settings

	if s.Version != "" {
		store.Version = s.Version
	}
	if s.NoCreate {
		store.CreateIfNotPresent = providers.Bool(false)
	}
}

// openStore resolves the selection and opens the store. The caller closes it.
func openStore(ctx context.Context, cfg *config.Config, sel *StoreSelector) (*providers.SecretStore, error) {
	name, store, err := sel.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	cfg.Logger.Debug("Opening store %s (%s, secret %s)", name, store.Type, store.Secret)
	s, err := store.Open(ctx, providers.NewRegistry(), cfg.Logger, nil)
	if err != nil {
		return nil, dserrors.SimplifyError(err)
	}
	return s, nil
}
