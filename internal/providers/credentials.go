package providers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/zalando/go-keyring"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/secure"
)

// CredentialKind selects how a backend authenticates.
type CredentialKind string

const (
	// CredentialDefault uses the vendor's standard discovery chain.
	CredentialDefault CredentialKind = "default"
	// CredentialFile reads material from a file.
	CredentialFile CredentialKind = "file"
	// CredentialKeyring reads material from the OS keyring ("service/account").
	CredentialKeyring CredentialKind = "keyring"
	// CredentialImpersonate impersonates a GCP service account.
	CredentialImpersonate CredentialKind = "impersonate"
	// CredentialProfile selects an AWS shared config profile.
	CredentialProfile CredentialKind = "profile"
	// CredentialAssumeRole assumes an AWS role ARN.
	CredentialAssumeRole CredentialKind = "assume-role"
	// CredentialManagedIdentity uses an Azure managed identity, optionally
	// user-assigned by client ID.
	CredentialManagedIdentity CredentialKind = "managed-identity"
)

// CredentialSource is a parsed "kind:ref" credential string.
type CredentialSource struct {
	Kind CredentialKind
	Ref  string
}

// ParseCredentialSource parses values like "keyring:cloudsecrets/prod" or
// "profile:staging". Empty means default discovery.
func ParseCredentialSource(s string) (CredentialSource, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == string(CredentialDefault) {
		return CredentialSource{Kind: CredentialDefault}, nil
	}

	kind, ref, _ := strings.Cut(s, ":")
	src := CredentialSource{Kind: CredentialKind(kind), Ref: ref}

	switch src.Kind {
	case CredentialManagedIdentity:
		return src, nil
	case CredentialFile, CredentialImpersonate, CredentialProfile, CredentialAssumeRole:
	case CredentialKeyring:
		if service, account, ok := strings.Cut(ref, "/"); !ok || service == "" || account == "" {
			return CredentialSource{}, dserrors.ConfigError{
				Field:      "credentials",
				Value:      s,
				Message:    "keyring credentials must name a service and an account",
				Suggestion: "Use keyring:<service>/<account>",
			}
		}
	default:
		return CredentialSource{}, dserrors.ConfigError{
			Field:      "credentials",
			Value:      s,
			Message:    fmt.Sprintf("unknown credential source %q", kind),
			Suggestion: "Use default, file:, keyring:, impersonate:, profile:, assume-role: or managed-identity",
		}
	}

	if ref == "" {
		return CredentialSource{}, dserrors.ConfigError{
			Field:   "credentials",
			Value:   s,
			Message: fmt.Sprintf("credential source %s requires a value after ':'", kind),
		}
	}
	return src, nil
}

func (c CredentialSource) String() string {
	if c.Ref == "" {
		return string(c.Kind)
	}
	return string(c.Kind) + ":" + c.Ref
}

// IsDefault reports whether vendor discovery should be used.
func (c CredentialSource) IsDefault() bool {
	return c.Kind == "" || c.Kind == CredentialDefault
}

// require returns a ConfigError unless c is default or one of kinds.
func (c CredentialSource) require(backend string, kinds ...CredentialKind) error {
	if c.IsDefault() || slices.Contains(kinds, c.Kind) {
		return nil
	}
	return dserrors.ConfigError{
		Field:   "credentials",
		Value:   c.String(),
		Message: fmt.Sprintf("%s does not support %s credentials", backend, c.Kind),
	}
}

// material loads file or keyring credentials into an enclave.
func (c CredentialSource) material() (*secure.Credential, error) {
	switch c.Kind {
	case CredentialFile:
		path, err := expandHome(c.Ref)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		return secure.NewCredential(c.String(), data)

	case CredentialKeyring:
		service, account, _ := strings.Cut(c.Ref, "/")
		secret, err := keyring.Get(service, account)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return nil, dserrors.UserError{
					Message:    fmt.Sprintf("keyring entry %s not found", c.Ref),
					Suggestion: "Store the credential with your OS keychain tool or 'secret-tool store'",
					Err:        err,
				}
			}
			return nil, fmt.Errorf("failed to read keyring entry %s: %w", c.Ref, err)
		}
		return secure.NewCredential(c.String(), []byte(secret))
	}

	return nil, fmt.Errorf("credential source %s carries no material", c)
}

// expandHome resolves a leading "~/".
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
