package providers

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

// Factory opens a store of one backend type from an inline config map.
type Factory func(ctx context.Context, secret string, config map[string]interface{}, opts Options) (*SecretStore, error)

// Registry maps backend type keys to factories. Selection is always by
// explicit type key.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in backends
func NewRegistry() *Registry {
	registry := &Registry{
		factories: make(map[string]Factory),
	}

	registry.RegisterFactory("gcp.secretmanager", newGCPSecretManagerFactory)
	registry.RegisterFactory("aws.secretsmanager", newAWSSecretsManagerFactory)
	registry.RegisterFactory("aws.ssm", newAWSSSMFactory)
	registry.RegisterFactory("azure.keyvault", newAzureKeyVaultFactory)
	registry.RegisterFactory("sql", newSQLFactory)
	registry.RegisterFactory("env", newEnvFactory)
	registry.RegisterFactory("file", newFileFactory)

	return registry
}

// RegisterFactory registers a factory for a given type
func (r *Registry) RegisterFactory(storeType string, factory Factory) {
	r.factories[storeType] = factory
}

// Open creates a store for secret using the factory registered for storeType
func (r *Registry) Open(ctx context.Context, storeType, secret string, config map[string]interface{}, opts Options) (*SecretStore, error) {
	factory, exists := r.factories[storeType]
	if !exists {
		return nil, fmt.Errorf("unknown store type: %s (supported: %v)", storeType, r.GetSupportedTypes())
	}
	if config == nil {
		config = map[string]interface{}{}
	}
	return factory(ctx, secret, config, opts)
}

// GetSupportedTypes returns the registered type keys, sorted
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for storeType := range r.factories {
		types = append(types, storeType)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a type is registered
func (r *Registry) IsSupported(storeType string) bool {
	_, exists := r.factories[storeType]
	return exists
}

// parseCredentials reads the "credentials" key
func parseCredentials(configMap map[string]interface{}) (CredentialSource, error) {
	raw, _ := configMap["credentials"].(string)
	return ParseCredentialSource(raw)
}

// Factory functions for built-in backends

func newGCPSecretManagerFactory(ctx context.Context, secret string, config map[string]interface{}, opts Options) (*SecretStore, error) {
	var cfg GCPSecretManagerConfig
	if project, ok := config["project"].(string); ok {
		cfg.Project = project
	} else if project, ok := config["project_id"].(string); ok {
		cfg.Project = project
	}
	if endpoint, ok := config["endpoint"].(string); ok {
		cfg.Endpoint = endpoint
	}
	creds, err := parseCredentials(config)
	if err != nil {
		return nil, err
	}
	cfg.Credentials = creds

	return NewGCPSecretManagerStore(ctx, secret, cfg, opts)
}

func newAWSSecretsManagerFactory(ctx context.Context, secret string, config map[string]interface{}, opts Options) (*SecretStore, error) {
	cfg, err := parseAWSSecretsManagerConfig(config)
	if err != nil {
		return nil, err
	}
	return NewAWSSecretsManagerStore(ctx, secret, cfg, opts)
}

func newAWSSSMFactory(ctx context.Context, secret string, config map[string]interface{}, opts Options) (*SecretStore, error) {
	cfg, err := parseSSMConfig(config)
	if err != nil {
		return nil, err
	}
	return NewAWSSSMStore(ctx, secret, cfg, opts)
}

func newAzureKeyVaultFactory(ctx context.Context, secret string, config map[string]interface{}, opts Options) (*SecretStore, error) {
	cfg, err := parseAzureKeyVaultConfig(config)
	if err != nil {
		return nil, err
	}
	return NewAzureKeyVaultStore(ctx, secret, cfg, opts)
}

func newSQLFactory(ctx context.Context, secret string, config map[string]interface{}, opts Options) (*SecretStore, error) {
	cfg, err := parseSQLConfig(config)
	if err != nil {
		return nil, err
	}
	return NewSQLStore(ctx, secret, cfg, opts)
}

func newEnvFactory(ctx context.Context, secret string, config map[string]interface{}, opts Options) (*SecretStore, error) {
	var cfg EnvConfig
	if raw, ok := config["environ"].([]interface{}); ok {
		cfg.Environ = []string{}
		for _, item := range raw {
			if kv, ok := item.(string); ok && !slices.Contains(cfg.Environ, kv) {
				cfg.Environ = append(cfg.Environ, kv)
			}
		}
	}
	return NewEnvStore(ctx, secret, cfg, opts)
}

func newFileFactory(ctx context.Context, secret string, config map[string]interface{}, opts Options) (*SecretStore, error) {
	cfg := FileConfig{Path: secret}
	if path, ok := config["path"].(string); ok && path != "" {
		cfg.Path = path
	}
	path, err := expandHome(cfg.Path)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return NewFileStore(ctx, cfg, opts)
}
