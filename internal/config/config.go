package config

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/logging"
	"github.com/systmms/cloudsecrets/internal/providers"
	"github.com/systmms/cloudsecrets/pkg/secretstore"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "cloudsecrets.yaml"

const defaultTimeout = 30 * time.Second

//go:embed schema.json
var schema []byte

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the cloudsecrets.yaml structure
type Definition struct {
	Version int                    `yaml:"version"`
	Stores  map[string]StoreConfig `yaml:"stores"`
}

// StoreConfig binds one Secret Resource to a backend. Backend settings
// (project, region, vault_url, dsn, credentials, ...) stay inline.
type StoreConfig struct {
	Type               string                 `yaml:"type"`
	Secret             string                 `yaml:"secret"`
	Version            string                 `yaml:"version,omitempty"`
	PollInterval       string                 `yaml:"poll_interval,omitempty"`
	CreateIfNotPresent *bool                  `yaml:"create_if_not_present,omitempty"`
	TimeoutMs          int                    `yaml:"timeout_ms,omitempty"`
	Settings           map[string]interface{} `yaml:",inline"`
}

// Load reads, parses and validates the configuration file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create " + DefaultPath + " or pass --type and --secret",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}

	if c.Logger != nil {
		c.Logger.Debug("Loaded %d stores from %s", len(def.Stores), c.Path)
	}
	c.Definition = def
	return nil
}

// Parse decodes and validates a configuration document
func Parse(data []byte) (*Definition, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if version, ok := raw["version"]; ok && version != 0 {
		return nil, dserrors.ConfigError{
			Field:      "version",
			Value:      version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your " + DefaultPath,
		}
	}

	if err := validate(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message: fmt.Sprintf("invalid configuration: %v", err),
		}
	}
	return &def, nil
}

// validate checks the decoded document against the embedded JSON schema.
func validate(raw map[string]interface{}) error {
	if raw == nil {
		raw = map[string]interface{}{}
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return dserrors.ConfigError{
			Message:    "configuration does not match the schema:\n  - " + strings.Join(errorMessages, "\n  - "),
			Suggestion: "Every store needs a type and a secret",
		}
	}
	return nil
}

// StoreNames returns the configured store names, sorted
func (c *Config) StoreNames() []string {
	if c.Definition == nil {
		return nil
	}
	names := make([]string, 0, len(c.Definition.Stores))
	for name := range c.Definition.Stores {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetStore returns the configuration for a named store
func (c *Config) GetStore(name string) (StoreConfig, error) {
	if c.Definition == nil {
		return StoreConfig{}, dserrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}

	if store, ok := c.Definition.Stores[name]; ok {
		return store, nil
	}

	suggestion := "Add the store to the 'stores:' section of your " + DefaultPath
	if available := c.StoreNames(); len(available) > 0 {
		suggestion = fmt.Sprintf("Available stores: %s", strings.Join(available, ", "))
	}
	return StoreConfig{}, dserrors.ConfigError{
		Field:      "store",
		Value:      name,
		Message:    "store not found in configuration",
		Suggestion: suggestion,
	}
}

// Timeout returns the per-call timeout, 30s by default
func (s StoreConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return defaultTimeout
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Options builds the lifecycle options for the store
func (s StoreConfig) Options(logger *logging.Logger, onDiagnostic func(secretstore.Diagnostic)) (providers.Options, error) {
	opts := providers.Options{
		Version:            s.Version,
		CreateIfNotPresent: s.CreateIfNotPresent,
		Logger:             logger,
		OnDiagnostic:       onDiagnostic,
	}

	if s.PollInterval != "" {
		interval, err := time.ParseDuration(s.PollInterval)
		if err != nil {
			return providers.Options{}, dserrors.ConfigError{
				Field:      "poll_interval",
				Value:      s.PollInterval,
				Message:    "invalid duration",
				Suggestion: "Use a Go duration such as 30s or 5m",
			}
		}
		opts.PollInterval = interval
	}
	return opts, nil
}

// BackendSettings returns the inline settings handed to the backend
// factory. GCP stores without a project fall back to the environment.
func (s StoreConfig) BackendSettings() map[string]interface{} {
	settings := make(map[string]interface{}, len(s.Settings)+1)
	for k, v := range s.Settings {
		settings[k] = v
	}

	if s.Type == "gcp.secretmanager" {
		explicit, _ := settings["project"].(string)
		if explicit == "" {
			explicit, _ = settings["project_id"].(string)
		}
		if project := ResolveProject(explicit); project != "" {
			settings["project"] = project
		}
	}
	return settings
}

// Open constructs the store through registry
func (s StoreConfig) Open(ctx context.Context, registry *providers.Registry, logger *logging.Logger, onDiagnostic func(secretstore.Diagnostic)) (*providers.SecretStore, error) {
	opts, err := s.Options(logger, onDiagnostic)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout())
	defer cancel()

	return registry.Open(ctx, s.Type, s.Secret, s.BackendSettings(), opts)
}
