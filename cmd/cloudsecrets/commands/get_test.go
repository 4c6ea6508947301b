package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cloudsecrets/pkg/secretstore"
)

// seed writes an encoded payload document for the file backend.
func seed(t *testing.T, path, document string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(document), 0600))
}

func TestGetCommand(t *testing.T) {
	t.Parallel()

	sel, path := fileSelector(t)
	// DATABASE_URL=postgres://db, API_KEY=abc123
	seed(t, path, `{"API_KEY":"YWJjMTIz","DATABASE_URL":"cG9zdGdyZXM6Ly9kYg=="}`)

	t.Run("whole store as json", func(t *testing.T) {
		out, err := execute(t, NewGetCommand(quietConfig(), sel))
		require.NoError(t, err)
		assert.JSONEq(t, `{"API_KEY":"abc123","DATABASE_URL":"postgres://db"}`, out)
	})

	t.Run("dotenv", func(t *testing.T) {
		out, err := execute(t, NewGetCommand(quietConfig(), sel), "--format", "dotenv")
		require.NoError(t, err)
		assert.Equal(t, "API_KEY=\"abc123\"\nDATABASE_URL=\"postgres://db\"\n", out)
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := execute(t, NewGetCommand(quietConfig(), sel), "--format", "yaml")
		require.NoError(t, err)
		assert.YAMLEq(t, "API_KEY: abc123\nDATABASE_URL: postgres://db\n", out)
	})

	t.Run("single key", func(t *testing.T) {
		out, err := execute(t, NewGetCommand(quietConfig(), sel), "DATABASE_URL")
		require.NoError(t, err)
		assert.Equal(t, "postgres://db\n", out)
	})

	t.Run("decrypt alias", func(t *testing.T) {
		cmd := NewGetCommand(quietConfig(), sel)
		assert.Contains(t, cmd.Aliases, "decrypt")
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := execute(t, NewGetCommand(quietConfig(), sel), "NOPE")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Key 'NOPE' not found")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := execute(t, NewGetCommand(quietConfig(), sel), "--format", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unknown format 'xml'")
	})
}

func TestGetCommandWritesFile(t *testing.T) {
	t.Parallel()

	sel, path := fileSelector(t)
	seed(t, path, `{"TLS_KEY":"LS0tLS1CRUdJTg=="}`)
	outPath := filepath.Join(t.TempDir(), "tls.key")

	out, err := execute(t, NewGetCommand(quietConfig(), sel), "TLS_KEY", "--file", outPath)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, "-----BEGIN", readFile(t, outPath))

	info, err := os.Stat(outPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestGetCommandFromConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.json")
	seed(t, secrets, `{"K":"dg=="}`)
	cfg := newTestConfig(t, "version: 0\nstores:\n  local:\n    type: file\n    secret: "+secrets+"\n")

	out, err := execute(t, NewGetCommand(cfg, &StoreSelector{Store: "local"}), "K")
	require.NoError(t, err)
	assert.Equal(t, "v\n", out)
}

func TestGetCommandMissingStore(t *testing.T) {
	t.Parallel()

	sel, _ := fileSelector(t)
	sel.NoCreate = true
	_, err := execute(t, NewGetCommand(quietConfig(), sel))
	require.Error(t, err)
	assert.True(t, secretstore.IsNotFound(err))
}
