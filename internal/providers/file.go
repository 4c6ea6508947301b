package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/systmms/cloudsecrets/pkg/secretstore"
)

// FileConfig configures the file backend.
type FileConfig struct {
	// Path is the JSON document holding the encoded payload.
	Path string
}

// fileBackend keeps the encoded payload in a local JSON document. Version
// tokens are synthetic and live only in this process.
type fileBackend struct {
	path          string
	createMissing bool
	history       *history
}

// NewFileStore returns a store backed by the JSON document at cfg.Path.
func NewFileStore(ctx context.Context, cfg FileConfig, opts Options) (*SecretStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file store requires a path")
	}
	b := &fileBackend{
		path:          cfg.Path,
		createMissing: opts.createIfNotPresent(),
	}
	return newSecretStore(ctx, cfg.Path, b, opts)
}

func (b *fileBackend) kind() string { return "file" }

// exists is always true: a missing file is handled on load.
func (b *fileBackend) exists(context.Context) (bool, error) { return true, nil }

func (b *fileBackend) create(context.Context) error { return nil }

func (b *fileBackend) fetch(_ context.Context, version string) ([]byte, string, error) {
	if version != "" {
		if b.history == nil {
			if _, _, err := b.read(); err != nil {
				return nil, "", err
			}
		}
		payload, err := b.history.get(version)
		if err != nil {
			return nil, "", err
		}
		return payload, version, nil
	}
	return b.read()
}

// read loads the document, creating it when allowed, and returns its
// version. Edits made outside the store become a new version.
func (b *fileBackend) read() ([]byte, string, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		if !b.createMissing {
			return nil, "", secretstore.NotFoundError{Store: b.kind(), Secret: b.path}
		}
		data = []byte("{}")
		if err := b.write(data); err != nil {
			return nil, "", err
		}
	} else if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", b.path, err)
	}

	if b.history == nil {
		b.history = newHistory(data)
		return data, b.history.current(), nil
	}
	if latest, token := b.history.latest(); bytes.Equal(latest, data) {
		return data, token, nil
	}
	return data, b.history.record(data), nil
}

func (b *fileBackend) commit(_ context.Context, payload []byte, _ bool) (string, error) {
	if err := b.write(payload); err != nil {
		return "", err
	}
	if b.history == nil {
		b.history = newHistory(payload)
		return b.history.current(), nil
	}
	return b.history.record(payload), nil
}

func (b *fileBackend) write(data []byte) error {
	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", b.path, err)
		}
	}
	if err := os.WriteFile(b.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", b.path, err)
	}
	return nil
}

func (b *fileBackend) versions(context.Context) ([]versionInfo, error) {
	if b.history == nil {
		return nil, nil
	}
	return b.history.list(), nil
}

func (b *fileBackend) remove(context.Context) error {
	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", b.path, err)
	}
	return nil
}

func (b *fileBackend) close() error { return nil }
