package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/logging"
	"github.com/systmms/cloudsecrets/internal/providers"
)

const sampleConfig = `version: 0

stores:
  app:
    type: gcp.secretmanager
    secret: app-config
    project: my-project
    credentials: impersonate:deployer@my-project.iam.gserviceaccount.com
    poll_interval: 30s

  legacy:
    type: aws.secretsmanager
    secret: prod/legacy
    region: eu-west-1
    binary: false
    version: 3
    create_if_not_present: false
    timeout_ms: 5000

  local:
    type: file
    secret: ./secrets.json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultPath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestConfigLoad(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: writeConfig(t, sampleConfig), Logger: logging.Discard()}
	require.NoError(t, cfg.Load())

	require.NotNil(t, cfg.Definition)
	assert.Equal(t, 0, cfg.Definition.Version)
	assert.Equal(t, []string{"app", "legacy", "local"}, cfg.StoreNames())

	app, err := cfg.GetStore("app")
	require.NoError(t, err)
	assert.Equal(t, "gcp.secretmanager", app.Type)
	assert.Equal(t, "app-config", app.Secret)
	assert.Equal(t, "30s", app.PollInterval)
	assert.Equal(t, "my-project", app.Settings["project"])
	assert.Equal(t, "impersonate:deployer@my-project.iam.gserviceaccount.com", app.Settings["credentials"])
	assert.NotContains(t, app.Settings, "type")

	legacy, err := cfg.GetStore("legacy")
	require.NoError(t, err)
	assert.Equal(t, "3", legacy.Version)
	require.NotNil(t, legacy.CreateIfNotPresent)
	assert.False(t, *legacy.CreateIfNotPresent)
	assert.Equal(t, 5*time.Second, legacy.Timeout())
	assert.Equal(t, false, legacy.Settings["binary"])
	assert.Equal(t, 30*time.Second, app.Timeout())
}

func TestConfigLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			content: "version: 0\nstores:\n  app:\n    type: file\n    bad syntax [[[\n",
			wantErr: "invalid YAML syntax",
		},
		{
			name:    "unsupported version",
			content: "version: 2\nstores: {}\n",
			wantErr: "unsupported configuration version",
		},
		{
			name:    "missing secret",
			content: "version: 0\nstores:\n  app:\n    type: env\n",
			wantErr: "secret is required",
		},
		{
			name:    "unknown type",
			content: "version: 0\nstores:\n  app:\n    type: vault\n    secret: x\n",
			wantErr: "does not match the schema",
		},
		{
			name:    "unknown top-level key",
			content: "version: 0\nproviders: {}\n",
			wantErr: "does not match the schema",
		},
		{
			name:    "bad create flag",
			content: "version: 0\nstores:\n  app:\n    type: env\n    secret: env\n    create_if_not_present: maybe\n",
			wantErr: "does not match the schema",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Path: writeConfig(t, tt.content)}
			err := cfg.Load()
			require.Error(t, err)
			assert.True(t, dserrors.IsConfigError(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigMissingFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: filepath.Join(t.TempDir(), "absent.yaml")}
	err := cfg.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestGetStoreNotFound(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: writeConfig(t, sampleConfig)}
	require.NoError(t, cfg.Load())

	_, err := cfg.GetStore("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Available stores: app, legacy, local")

	_, err = (&Config{}).GetStore("app")
	assert.Contains(t, err.Error(), "Configuration not loaded")
}

func TestStoreOptions(t *testing.T) {
	t.Parallel()

	store := StoreConfig{Version: "latest", PollInterval: "1m", CreateIfNotPresent: providers.Bool(false)}
	opts, err := store.Options(logging.Discard(), nil)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, opts.PollInterval)
	assert.Equal(t, "latest", opts.Version)
	assert.False(t, *opts.CreateIfNotPresent)

	_, err = StoreConfig{PollInterval: "often"}.Options(nil, nil)
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))
}

func TestBackendSettingsProjectDiscovery(t *testing.T) {
	t.Setenv("PROJECT", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "from-gcp-project")
	t.Setenv("GCLOUD_PROJECT", "from-gcloud")

	store := StoreConfig{Type: "gcp.secretmanager", Secret: "s", Settings: map[string]interface{}{}}
	assert.Equal(t, "from-gcp-project", store.BackendSettings()["project"])
	assert.NotContains(t, store.Settings, "project", "the stored settings are not mutated")

	store.Settings["project_id"] = "explicit"
	assert.Equal(t, "explicit", store.BackendSettings()["project"])

	other := StoreConfig{Type: "aws.ssm", Settings: map[string]interface{}{"region": "us-west-2"}}
	assert.NotContains(t, other.BackendSettings(), "project")
}

func TestResolveProject(t *testing.T) {
	for _, name := range projectEnvVars {
		t.Setenv(name, "")
	}
	assert.Equal(t, "", ResolveProject(""))

	t.Setenv("GCLOUD_PROJECT", "last")
	assert.Equal(t, "last", ResolveProject(""))

	t.Setenv("PROJECT", "first")
	assert.Equal(t, "first", ResolveProject(""))
	assert.Equal(t, "flag", ResolveProject("flag"))
}

func TestStoreOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "secrets.json")
	store := StoreConfig{Type: "file", Secret: path}

	s, err := store.Open(context.Background(), providers.NewRegistry(), logging.Discard(), nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Set(context.Background(), "K", "v"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"K":"dg=="}`, string(data))

	_, err = StoreConfig{Type: "file", Secret: path, PollInterval: "x"}.Open(context.Background(), providers.NewRegistry(), nil, nil)
	assert.Error(t, err)
}
