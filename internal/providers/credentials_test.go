package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
)

func TestParseCredentialSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    CredentialSource
		wantErr string
	}{
		{input: "", want: CredentialSource{Kind: CredentialDefault}},
		{input: "  default ", want: CredentialSource{Kind: CredentialDefault}},
		{input: "file:~/.config/gcp.json", want: CredentialSource{Kind: CredentialFile, Ref: "~/.config/gcp.json"}},
		{input: "keyring:cloudsecrets/prod", want: CredentialSource{Kind: CredentialKeyring, Ref: "cloudsecrets/prod"}},
		{input: "impersonate:deployer@proj.iam.gserviceaccount.com", want: CredentialSource{Kind: CredentialImpersonate, Ref: "deployer@proj.iam.gserviceaccount.com"}},
		{input: "profile:staging", want: CredentialSource{Kind: CredentialProfile, Ref: "staging"}},
		{input: "assume-role:arn:aws:iam::1:role/r", want: CredentialSource{Kind: CredentialAssumeRole, Ref: "arn:aws:iam::1:role/r"}},
		{input: "managed-identity", want: CredentialSource{Kind: CredentialManagedIdentity}},
		{input: "managed-identity:0000-client", want: CredentialSource{Kind: CredentialManagedIdentity, Ref: "0000-client"}},
		{input: "keyring:nosplit", wantErr: "service and an account"},
		{input: "keyring:/account", wantErr: "service and an account"},
		{input: "vault:secret/data", wantErr: "unknown credential source"},
		{input: "profile:", wantErr: "requires a value"},
		{input: "file", wantErr: "requires a value"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCredentialSource(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, dserrors.IsConfigError(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialSourceString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "default", CredentialSource{Kind: CredentialDefault}.String())
	assert.Equal(t, "profile:dev", CredentialSource{Kind: CredentialProfile, Ref: "dev"}.String())
	assert.True(t, CredentialSource{}.IsDefault())
	assert.False(t, CredentialSource{Kind: CredentialFile, Ref: "x"}.IsDefault())
}

func TestCredentialSourceRequire(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CredentialSource{}.require("sql", CredentialFile))
	assert.NoError(t, CredentialSource{Kind: CredentialFile, Ref: "x"}.require("sql", CredentialFile, CredentialKeyring))

	err := CredentialSource{Kind: CredentialProfile, Ref: "dev"}.require("sql", CredentialFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sql does not support profile credentials")
}

func TestCredentialMaterialFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"service_account"}`), 0600))

	cred, err := CredentialSource{Kind: CredentialFile, Ref: path}.material()
	require.NoError(t, err)
	defer cred.Destroy()

	var got string
	require.NoError(t, cred.Use(func(b []byte) error {
		got = string(b)
		return nil
	}))
	assert.Equal(t, `{"type":"service_account"}`, got)

	_, err = CredentialSource{Kind: CredentialFile, Ref: filepath.Join(t.TempDir(), "missing")}.material()
	assert.ErrorContains(t, err, "failed to read credentials file")

	_, err = CredentialSource{Kind: CredentialProfile, Ref: "dev"}.material()
	assert.ErrorContains(t, err, "carries no material")
}

func TestCredentialMaterialFromKeyring(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, keyring.Set("cloudsecrets", "prod", "dsn-value"))

	cred, err := CredentialSource{Kind: CredentialKeyring, Ref: "cloudsecrets/prod"}.material()
	require.NoError(t, err)
	defer cred.Destroy()
	assert.Equal(t, "keyring:cloudsecrets/prod", cred.Source())

	var got string
	require.NoError(t, cred.Use(func(b []byte) error {
		got = string(b)
		return nil
	}))
	assert.Equal(t, "dsn-value", got)

	_, err = CredentialSource{Kind: CredentialKeyring, Ref: "cloudsecrets/missing"}.material()
	require.Error(t, err)
	var userErr dserrors.UserError
	require.ErrorAs(t, err, &userErr)
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestExpandHome(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandHome("~/creds/key.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "creds", "key.json"), got)

	got, err = expandHome("/etc/key.json")
	require.NoError(t, err)
	assert.Equal(t, "/etc/key.json", got)
}
