package providers

import (
	"context"
	"os"
	"strings"

	"github.com/systmms/cloudsecrets/pkg/secretstore"
)

// EnvConfig configures the environment backend.
type EnvConfig struct {
	// Environ is the "KEY=value" list to snapshot. Nil means os.Environ().
	Environ []string
}

// envBackend snapshots the process environment once. Commits only advance
// the synthetic version.
type envBackend struct {
	history *history
}

// NewEnvStore returns a store over a snapshot of the environment.
func NewEnvStore(ctx context.Context, name string, cfg EnvConfig, opts Options) (*SecretStore, error) {
	environ := cfg.Environ
	if environ == nil {
		environ = os.Environ()
	}

	decoded := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		decoded[key] = value
	}

	payload, err := secretstore.MarshalPayload(secretstore.EncodePayload(decoded))
	if err != nil {
		return nil, err
	}

	return newSecretStore(ctx, name, &envBackend{history: newHistory(payload)}, opts)
}

func (b *envBackend) kind() string { return "env" }

func (b *envBackend) exists(context.Context) (bool, error) { return true, nil }

func (b *envBackend) create(context.Context) error { return nil }

func (b *envBackend) fetch(_ context.Context, version string) ([]byte, string, error) {
	if version == "" {
		payload, token := b.history.latest()
		return payload, token, nil
	}
	payload, err := b.history.get(version)
	if err != nil {
		return nil, "", err
	}
	return payload, version, nil
}

func (b *envBackend) commit(_ context.Context, payload []byte, _ bool) (string, error) {
	return b.history.record(payload), nil
}

func (b *envBackend) versions(context.Context) ([]versionInfo, error) {
	return b.history.list(), nil
}

func (b *envBackend) remove(context.Context) error {
	return secretstore.ErrUnsupported
}

func (b *envBackend) close() error { return nil }
