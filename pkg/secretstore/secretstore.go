package secretstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// Store presents one upstream Secret Resource as a versioned mapping of
// string keys to string values.
//
// Reads (Get, All, Secrets, Version) are served from the local cache and
// never block on the network. Every mutating call commits the full payload
// upstream as a new version before it becomes visible locally.
//
// Implementations must be safe for concurrent use, including concurrent use
// with a background poller.
type Store interface {
	// Name returns the Secret Resource name this store is bound to.
	Name() string

	// Get returns the decoded value for key from the local cache.
	// A missing key returns ("", false); it is never an error.
	Get(key string) (string, bool)

	// Set stores value under key and commits.
	//
	// Non-string values are serialized as JSON literals before encoding;
	// []byte values are taken as raw text. Overwriting an existing key and
	// storing a non-string value emit diagnostics, not errors.
	Set(ctx context.Context, key string, value any) error

	// Unset removes key if present and commits. Unsetting a missing key
	// still commits.
	Unset(ctx context.Context, key string) error

	// Update commits the current cache as a new version.
	Update(ctx context.Context) error

	// Version returns the version token the local cache reflects.
	Version() string

	// Versions lists known version tokens, oldest first.
	Versions(ctx context.Context) ([]string, error)

	// Rollback reloads the local cache from the version selected by spec,
	// discarding uncommitted local state.
	//
	// Returns an error wrapping ErrVersionOutOfRange when spec does not
	// resolve to a known version.
	Rollback(ctx context.Context, spec VersionSpec) error

	// Refresh reloads the pinned version, or the latest one when the store
	// is not pinned.
	Refresh(ctx context.Context) error

	// Exists reports whether the Secret Resource is present upstream.
	// Backends without a remote existence concept always report true.
	Exists(ctx context.Context) (bool, error)

	// All yields (key, value) pairs over a snapshot of the cache taken when
	// All is called. The sequence may be ranged over more than once.
	All() iter.Seq2[string, string]

	// Secrets returns a copy of the decoded cache.
	Secrets() map[string]string

	// Delete removes the whole Secret Resource upstream. It is
	// irreversible; the next commit creates a fresh resource.
	Delete(ctx context.Context) error

	// Close stops background polling and releases backend clients.
	Close() error
}

// VersionSpec selects a version for Rollback: either an exact token or an
// offset relative to the current version.
type VersionSpec struct {
	token    string
	offset   int
	relative bool
}

// Exact selects the version with the given token.
func Exact(token string) VersionSpec {
	return VersionSpec{token: token}
}

// Relative selects the version offset positions from the current one in the
// oldest-to-newest version list. Offsets must be zero or negative.
func Relative(offset int) VersionSpec {
	return VersionSpec{offset: offset, relative: true}
}

// IsRelative reports whether v is an offset from the current version.
func (v VersionSpec) IsRelative() bool { return v.relative }

// Token returns the exact token, empty for relative specs.
func (v VersionSpec) Token() string { return v.token }

// Offset returns the relative offset, zero for exact specs.
func (v VersionSpec) Offset() int { return v.offset }

func (v VersionSpec) String() string {
	if v.relative {
		return fmt.Sprintf("%+d", v.offset)
	}
	return v.token
}

// Resolve picks the target token from versions (oldest first) given the
// current token.
func (v VersionSpec) Resolve(versions []string, current string) (string, error) {
	if !v.relative {
		for _, candidate := range versions {
			if candidate == v.token {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("%w: version %q is not known", ErrVersionOutOfRange, v.token)
	}

	if v.offset > 0 {
		return "", fmt.Errorf("%w: offset %d must not be positive", ErrVersionOutOfRange, v.offset)
	}

	pos := -1
	for i, candidate := range versions {
		if candidate == current {
			pos = i
			break
		}
	}
	if pos < 0 {
		return "", fmt.Errorf("%w: current version %q is not in the version list", ErrVersionOutOfRange, current)
	}

	target := pos + v.offset
	if target < 0 || target >= len(versions) {
		return "", fmt.Errorf("%w: offset %d from version %q (%d known)", ErrVersionOutOfRange, v.offset, current, len(versions))
	}
	return versions[target], nil
}

// DiagnosticKind classifies a non-fatal condition observed during Set.
type DiagnosticKind string

const (
	// DiagnosticOverwrite is emitted when Set replaces an existing key.
	DiagnosticOverwrite DiagnosticKind = "overwrite_key"

	// DiagnosticNonString is emitted when Set serializes a non-string value
	// as JSON.
	DiagnosticNonString DiagnosticKind = "non_string_value"
)

// Diagnostic is a warning raised by a store operation that still succeeded.
type Diagnostic struct {
	Kind  DiagnosticKind
	Store string
	Key   string
}

func (d Diagnostic) String() string {
	switch d.Kind {
	case DiagnosticOverwrite:
		return fmt.Sprintf("overwriting existing key %q in %s", d.Key, d.Store)
	case DiagnosticNonString:
		return fmt.Sprintf("value for key %q in %s is not a string, serializing as JSON", d.Key, d.Store)
	default:
		return fmt.Sprintf("%s: key %q in %s", d.Kind, d.Key, d.Store)
	}
}

// Sentinel errors returned by stores.
var (
	// ErrVersionOutOfRange means a rollback target does not exist.
	ErrVersionOutOfRange = errors.New("version out of range")

	// ErrClosed is returned by mutating calls after Close.
	ErrClosed = errors.New("secret store is closed")

	// ErrUnsupported is returned when a backend cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by backend")
)

// NotFoundError indicates that the Secret Resource does not exist and the
// store was not allowed to create it.
type NotFoundError struct {
	// Store is the backend type, e.g. "gcp.secretmanager".
	Store string

	// Secret is the Secret Resource name.
	Secret string
}

// Error implements the error interface.
func (e NotFoundError) Error() string {
	return fmt.Sprintf("secret %s does not exist in %s and creation is disabled", e.Secret, e.Store)
}

// FetchError indicates that loading a version from upstream failed.
//
// It is distinct from an empty payload: on FetchError the local cache keeps
// whatever it held before the load was attempted.
type FetchError struct {
	Store   string
	Secret  string
	Version string
	Err     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	version := e.Version
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("failed to fetch %s@%s from %s: %v", e.Secret, version, e.Store, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// OperationError wraps a failed upstream commit, list or delete call.
type OperationError struct {
	Store  string
	Secret string
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s on %s failed: %v", e.Store, e.Op, e.Secret, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsFetchError reports whether err is or wraps a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
