package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cloudsecrets/internal/config"
	"github.com/systmms/cloudsecrets/internal/logging"
)

// newTestConfig writes content as the config file of a fresh temp dir.
func newTestConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.DefaultPath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return &config.Config{Path: path, Logger: logging.Discard()}
}

// fileSelector selects an ad-hoc file store in a temp dir.
func fileSelector(t *testing.T) (*StoreSelector, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.json")
	return &StoreSelector{Provider: "file", Secret: path}, path
}

func quietConfig() *config.Config {
	return &config.Config{Path: "does-not-exist.yaml", Logger: logging.Discard()}
}

// syncBuffer is a bytes.Buffer safe for a command writing from another goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	return out.String(), err
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
