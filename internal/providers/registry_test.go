package providers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySupportedTypes(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Equal(t, []string{
		"aws.secretsmanager",
		"aws.ssm",
		"azure.keyvault",
		"env",
		"file",
		"gcp.secretmanager",
		"sql",
	}, r.GetSupportedTypes())

	assert.True(t, r.IsSupported("file"))
	assert.False(t, r.IsSupported("vault"))
}

func TestRegistryOpenUnknownType(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Open(context.Background(), "vault", "s", nil, quietOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store type: vault")
}

func TestRegistryOpenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.json")
	s, err := NewRegistry().Open(context.Background(), "file", "ignored", map[string]interface{}{"path": path}, quietOptions())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.Equal(t, path, s.Name())
	assert.Equal(t, "1", s.Version())
}

func TestRegistryOpenFileUsesSecretAsPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "by-name.json")
	s, err := NewRegistry().Open(context.Background(), "file", path, nil, quietOptions())
	require.NoError(t, err)
	assert.Equal(t, path, s.Name())
}

func TestRegistryOpenEnv(t *testing.T) {
	t.Parallel()

	config := map[string]interface{}{
		"environ": []interface{}{"A=1", "B=2", "A=1", 42},
	}
	s, err := NewRegistry().Open(context.Background(), "env", "env", config, quietOptions())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, s.Secrets())
}

func TestRegistryCustomFactory(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var gotSecret string
	r.RegisterFactory("fake", func(ctx context.Context, secret string, config map[string]interface{}, opts Options) (*SecretStore, error) {
		gotSecret = secret
		assert.NotNil(t, config)
		return newSecretStore(ctx, secret, newFakeBackend(true), opts)
	})

	s, err := r.Open(context.Background(), "fake", "custom", nil, quietOptions())
	require.NoError(t, err)
	assert.Equal(t, "custom", gotSecret)
	assert.Equal(t, "fake", s.Backend())
}

func TestRegistryFactoryConfigErrors(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	tests := []struct {
		storeType string
		config    map[string]interface{}
		wantErr   string
	}{
		{storeType: "gcp.secretmanager", config: map[string]interface{}{}, wantErr: "project is required"},
		{storeType: "gcp.secretmanager", config: map[string]interface{}{"project": "p", "credentials": "bogus:x"}, wantErr: "unknown credential source"},
		{storeType: "azure.keyvault", config: map[string]interface{}{}, wantErr: "vault_url is required"},
		{storeType: "sql", config: map[string]interface{}{"driver": "oracle"}, wantErr: "unsupported database driver"},
		{storeType: "aws.ssm", config: map[string]interface{}{"credentials": "keyring:bad"}, wantErr: "service and an account"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.storeType+"/"+tt.wantErr, func(t *testing.T) {
			t.Parallel()
			_, err := r.Open(context.Background(), tt.storeType, "s", tt.config, quietOptions())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
