package providers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/pkg/secretstore"
)

const testVaultURL = "https://unit-test.vault.azure.net"

type kvVersion struct {
	version string
	value   string
	enabled bool
	created time.Time
}

// fakeKeyVault is an in-memory Key Vault.
type fakeKeyVault struct {
	mu          sync.Mutex
	secrets     map[string][]kvVersion
	contentType string

	// SetFunc overrides SetSecret when set.
	SetFunc func(name string) error
}

func newFakeKeyVault() *fakeKeyVault {
	return &fakeKeyVault{secrets: map[string][]kvVersion{}}
}

func kvNotFound() error {
	return &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "SecretNotFound"}
}

func kvID(name, version string) *azsecrets.ID {
	return to.Ptr(azsecrets.ID(fmt.Sprintf("%s/secrets/%s/%s", testVaultURL, name, version)))
}

func (f *fakeKeyVault) GetSecret(_ context.Context, name string, version string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	versions := f.secrets[name]
	if len(versions) == 0 {
		return azsecrets.GetSecretResponse{}, kvNotFound()
	}
	v := versions[len(versions)-1]
	if version != "" {
		found := false
		for _, candidate := range versions {
			if candidate.version == version {
				v, found = candidate, true
			}
		}
		if !found {
			return azsecrets.GetSecretResponse{}, kvNotFound()
		}
	}
	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{
		ID:    kvID(name, v.version),
		Value: to.Ptr(v.value),
	}}, nil
}

func (f *fakeKeyVault) SetSecret(_ context.Context, name string, params azsecrets.SetSecretParameters, _ *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	if f.SetFunc != nil {
		if err := f.SetFunc(name); err != nil {
			return azsecrets.SetSecretResponse{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentType = *params.ContentType

	versions := f.secrets[name]
	v := kvVersion{
		version: fmt.Sprintf("%032x", len(versions)+1),
		value:   *params.Value,
		enabled: true,
		created: time.Date(2024, 1, 1, len(versions), 0, 0, 0, time.UTC),
	}
	f.secrets[name] = append(versions, v)
	return azsecrets.SetSecretResponse{Secret: azsecrets.Secret{ID: kvID(name, v.version), Value: params.Value}}, nil
}

func (f *fakeKeyVault) DeleteSecret(_ context.Context, name string, _ *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[name]; !ok {
		return azsecrets.DeleteSecretResponse{}, kvNotFound()
	}
	delete(f.secrets, name)
	return azsecrets.DeleteSecretResponse{}, nil
}

func (f *fakeKeyVault) ListSecretVersions(_ context.Context, name string) ([]*azsecrets.SecretProperties, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var props []*azsecrets.SecretProperties
	for _, v := range f.secrets[name] {
		props = append(props, &azsecrets.SecretProperties{
			ID: kvID(name, v.version),
			Attributes: &azsecrets.SecretAttributes{
				Enabled: to.Ptr(v.enabled),
				Created: to.Ptr(v.created),
			},
		})
	}
	// An entry without an ID is skipped.
	props = append(props, &azsecrets.SecretProperties{})
	return props, nil
}

func openKeyVaultStore(t *testing.T, client *fakeKeyVault, opts Options) (*SecretStore, error) {
	t.Helper()
	cfg := AzureKeyVaultConfig{VaultURL: testVaultURL}
	return NewAzureKeyVaultStore(context.Background(), "app-config", cfg, opts, WithAzureKeyVaultClient(client))
}

func TestAzureKeyVaultStoreLifecycle(t *testing.T) {
	t.Parallel()

	client := newFakeKeyVault()
	s, err := openKeyVaultStore(t, client, quietOptions())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "azure.keyvault", s.Backend())
	assert.Equal(t, fmt.Sprintf("%032x", 1), s.Version())
	assert.Equal(t, jsonContentType, client.contentType)

	require.NoError(t, s.Set(ctx, "CONN", "Server=db;Password=x"))
	require.NoError(t, s.Set(ctx, "CONN", "Server=db2;Password=y"))

	tokens, err := s.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 3)

	require.NoError(t, s.Rollback(ctx, secretstore.Relative(-1)))
	v, _ := s.Get("CONN")
	assert.Equal(t, "Server=db;Password=x", v)
	assert.Equal(t, tokens[1], s.Version())
}

func TestAzureKeyVaultStoreSkipsDisabledVersions(t *testing.T) {
	t.Parallel()

	client := newFakeKeyVault()
	s, err := openKeyVaultStore(t, client, quietOptions())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "A", "1"))

	client.mu.Lock()
	client.secrets["app-config"][0].enabled = false
	client.mu.Unlock()

	tokens, err := s.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{fmt.Sprintf("%032x", 2)}, tokens)
}

func TestAzureKeyVaultStoreMissing(t *testing.T) {
	t.Parallel()

	opts := quietOptions()
	opts.CreateIfNotPresent = Bool(false)
	_, err := openKeyVaultStore(t, newFakeKeyVault(), opts)
	require.Error(t, err)
	assert.True(t, secretstore.IsNotFound(err))
}

func TestAzureKeyVaultStoreCommitFailure(t *testing.T) {
	t.Parallel()

	client := newFakeKeyVault()
	s, err := openKeyVaultStore(t, client, quietOptions())
	require.NoError(t, err)

	client.SetFunc = func(string) error {
		return &azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: "Forbidden"}
	}
	err = s.Set(context.Background(), "A", "1")
	require.Error(t, err)
	assert.Empty(t, s.Secrets())
}

func TestAzureKeyVaultStoreDelete(t *testing.T) {
	t.Parallel()

	client := newFakeKeyVault()
	s, err := openKeyVaultStore(t, client, quietOptions())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx))
	ok, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAzureKeyVaultConfig(t *testing.T) {
	t.Parallel()

	_, err := NewAzureKeyVaultStore(context.Background(), "s", AzureKeyVaultConfig{}, quietOptions(), WithAzureKeyVaultClient(newFakeKeyVault()))
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))

	cfg, err := parseAzureKeyVaultConfig(map[string]interface{}{
		"vault_url":   testVaultURL,
		"credentials": "managed-identity",
	})
	require.NoError(t, err)
	assert.Equal(t, testVaultURL, cfg.VaultURL)
	assert.Equal(t, CredentialManagedIdentity, cfg.Credentials.Kind)
	assert.Empty(t, cfg.Credentials.Ref)
}

func TestIsAzureNotFound(t *testing.T) {
	t.Parallel()

	assert.True(t, isAzureNotFound(kvNotFound()))
	assert.True(t, isAzureNotFound(fmt.Errorf("wrapped: %w", kvNotFound())))
	assert.False(t, isAzureNotFound(&azcore.ResponseError{StatusCode: http.StatusUnauthorized}))
	assert.False(t, isAzureNotFound(fmt.Errorf("plain")))
}
