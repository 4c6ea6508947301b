package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/logging"
)

// AzureKeyVaultClientAPI defines the interface for Azure Key Vault operations
// This allows for mocking in tests
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
	// ListSecretVersions drains the versions pager.
	ListSecretVersions(ctx context.Context, name string) ([]*azsecrets.SecretProperties, error)
}

// AzureKeyVaultConfig holds Azure Key Vault-specific configuration
type AzureKeyVaultConfig struct {
	VaultURL    string
	Credentials CredentialSource
}

// azureClientSecret is the JSON shape of file: and keyring: Azure credentials.
type azureClientSecret struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// AzureOption is a functional option for the Key Vault backend
type AzureOption func(*azureKeyVaultBackend)

// WithAzureKeyVaultClient sets a custom Azure Key Vault client (for testing)
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureOption {
	return func(b *azureKeyVaultBackend) {
		b.client = client
	}
}

type azureKeyVaultBackend struct {
	client AzureKeyVaultClientAPI
	secret string
	logger *logging.Logger
}

const jsonContentType = "application/json"

// NewAzureKeyVaultStore opens the secret name in the vault at cfg.VaultURL.
func NewAzureKeyVaultStore(ctx context.Context, name string, cfg AzureKeyVaultConfig, opts Options, backendOpts ...AzureOption) (*SecretStore, error) {
	if cfg.VaultURL == "" {
		return nil, dserrors.ConfigError{
			Field:      "vault_url",
			Message:    "vault_url is required for Azure Key Vault",
			Suggestion: "Set vault_url to https://<vault-name>.vault.azure.net/",
		}
	}
	if err := cfg.Credentials.require("azure.keyvault", CredentialFile, CredentialKeyring, CredentialManagedIdentity); err != nil {
		return nil, err
	}

	b := &azureKeyVaultBackend{
		secret: name,
		logger: opts.Logger,
	}
	if b.logger == nil {
		b.logger = logging.New(false, false)
	}

	for _, opt := range backendOpts {
		opt(b)
	}

	if b.client == nil {
		client, err := newAzureKeyVaultClient(cfg)
		if err != nil {
			return nil, dserrors.StoreError("azure.keyvault", "client setup", err)
		}
		b.client = client
	}

	return newSecretStore(ctx, name, b, opts)
}

// newAzureKeyVaultClient creates a Key Vault client with appropriate authentication
func newAzureKeyVaultClient(cfg AzureKeyVaultConfig) (AzureKeyVaultClientAPI, error) {
	var cred azcore.TokenCredential
	var err error

	switch cfg.Credentials.Kind {
	case CredentialManagedIdentity:
		var miOpts *azidentity.ManagedIdentityCredentialOptions
		if cfg.Credentials.Ref != "" {
			// User-assigned managed identity
			miOpts = &azidentity.ManagedIdentityCredentialOptions{
				ID: azidentity.ClientID(cfg.Credentials.Ref),
			}
		}
		cred, err = azidentity.NewManagedIdentityCredential(miOpts)

	case CredentialFile, CredentialKeyring:
		cred, err = azureClientSecretCredential(cfg.Credentials)

	default:
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	client, err := azsecrets.NewClient(cfg.VaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}
	return &azureSDKClient{Client: client}, nil
}

func azureClientSecretCredential(src CredentialSource) (azcore.TokenCredential, error) {
	material, err := src.material()
	if err != nil {
		return nil, err
	}
	defer material.Destroy()

	var sp azureClientSecret
	err = material.Use(func(plaintext []byte) error {
		return json.Unmarshal(plaintext, &sp)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid Azure credentials in %s: %w", src, err)
	}
	if sp.TenantID == "" || sp.ClientID == "" || sp.ClientSecret == "" {
		return nil, fmt.Errorf("azure credentials in %s need tenant_id, client_id and client_secret", src)
	}

	return azidentity.NewClientSecretCredential(sp.TenantID, sp.ClientID, sp.ClientSecret, nil)
}

func (b *azureKeyVaultBackend) kind() string { return "azure.keyvault" }

func (b *azureKeyVaultBackend) exists(ctx context.Context) (bool, error) {
	b.logger.Debug("Probing Azure secret: %s", b.secret)
	_, err := b.client.GetSecret(ctx, b.secret, "", nil)
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// create writes an empty payload; Key Vault has no secret without a value.
func (b *azureKeyVaultBackend) create(ctx context.Context) error {
	_, err := b.set(ctx, []byte("{}"))
	return err
}

func (b *azureKeyVaultBackend) set(ctx context.Context, payload []byte) (string, error) {
	resp, err := b.client.SetSecret(ctx, b.secret, azsecrets.SetSecretParameters{
		Value:       to.Ptr(string(payload)),
		ContentType: to.Ptr(jsonContentType),
	}, nil)
	if err != nil {
		return "", err
	}
	if resp.ID == nil {
		return "", fmt.Errorf("key vault returned no id for %s", b.secret)
	}
	return resp.ID.Version(), nil
}

func (b *azureKeyVaultBackend) fetch(ctx context.Context, version string) ([]byte, string, error) {
	b.logger.Debug("Getting Azure secret: %s", b.secret)
	resp, err := b.client.GetSecret(ctx, b.secret, version, nil)
	if err != nil {
		if version == "" && isAzureNotFound(err) {
			return nil, "", errNoVersions
		}
		return nil, "", err
	}

	var token string
	if resp.ID != nil {
		token = resp.ID.Version()
	}
	var value string
	if resp.Value != nil {
		value = *resp.Value
	}
	return []byte(value), token, nil
}

func (b *azureKeyVaultBackend) commit(ctx context.Context, payload []byte, _ bool) (string, error) {
	// SetSecret creates the secret when it is missing.
	return b.set(ctx, payload)
}

func (b *azureKeyVaultBackend) versions(ctx context.Context) ([]versionInfo, error) {
	props, err := b.client.ListSecretVersions(ctx, b.secret)
	if err != nil {
		return nil, err
	}

	infos := make([]versionInfo, 0, len(props))
	for _, p := range props {
		if p == nil || p.ID == nil {
			continue
		}
		info := versionInfo{token: p.ID.Version()}
		if p.Attributes != nil {
			if p.Attributes.Enabled != nil && !*p.Attributes.Enabled {
				continue
			}
			if p.Attributes.Created != nil {
				info.created = *p.Attributes.Created
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (b *azureKeyVaultBackend) remove(ctx context.Context) error {
	_, err := b.client.DeleteSecret(ctx, b.secret, nil)
	return err
}

func (b *azureKeyVaultBackend) close() error { return nil }

// azureSDKClient adds pager draining to *azsecrets.Client.
type azureSDKClient struct {
	*azsecrets.Client
}

func (c *azureSDKClient) ListSecretVersions(ctx context.Context, name string) ([]*azsecrets.SecretProperties, error) {
	var props []*azsecrets.SecretProperties
	pager := c.NewListSecretPropertiesVersionsPager(name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		props = append(props, page.Value...)
	}
	return props, nil
}

// parseAzureKeyVaultConfig reads a store config map
func parseAzureKeyVaultConfig(configMap map[string]interface{}) (AzureKeyVaultConfig, error) {
	var cfg AzureKeyVaultConfig
	if url, ok := configMap["vault_url"].(string); ok {
		cfg.VaultURL = url
	}
	creds, err := parseCredentials(configMap)
	if err != nil {
		return AzureKeyVaultConfig{}, err
	}
	cfg.Credentials = creds
	return cfg, nil
}
