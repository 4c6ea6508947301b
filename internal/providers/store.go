package providers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/logging"
	"github.com/systmms/cloudsecrets/pkg/secretstore"
)

// LatestVersion is accepted as an alias for "no pinned version".
const LatestVersion = "latest"

// Options configures the lifecycle shared by every backend.
type Options struct {
	// Version pins the store to one version token. Empty or "latest" follows
	// the newest version.
	Version string

	// PollInterval enables background refresh when positive. It cannot be
	// combined with a pinned Version.
	PollInterval time.Duration

	// CreateIfNotPresent creates a missing Secret Resource during
	// construction. Nil means true.
	CreateIfNotPresent *bool

	// Logger receives warnings and debug output. Defaults to stderr.
	Logger *logging.Logger

	// OnDiagnostic is called for every non-fatal diagnostic raised by Set.
	// It runs outside the store locks.
	OnDiagnostic func(secretstore.Diagnostic)
}

// Bool returns a pointer to v, for Options.CreateIfNotPresent.
func Bool(v bool) *bool {
	return &v
}

func (o Options) pinned() string {
	if o.Version == LatestVersion {
		return ""
	}
	return o.Version
}

func (o Options) createIfNotPresent() bool {
	return o.CreateIfNotPresent == nil || *o.CreateIfNotPresent
}

func (o Options) validate() error {
	if o.PollInterval < 0 {
		return dserrors.ConfigError{
			Field:      "poll_interval",
			Value:      o.PollInterval,
			Message:    "poll interval must not be negative",
			Suggestion: "Use 0 to disable background refresh",
		}
	}
	if o.PollInterval > 0 && o.pinned() != "" {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      o.Version,
			Message:    "a pinned version cannot be combined with polling",
			Suggestion: "Remove version to follow the latest version, or set poll_interval to 0",
		}
	}
	return nil
}

// errNoVersions is returned by backend.fetch when the resource exists but
// holds no version yet.
var errNoVersions = errors.New("secret resource has no versions")

type versionInfo struct {
	token   string
	created time.Time
}

// backend is the per-vendor I/O surface. Implementations do not lock; the
// lifecycle serialises every call.
type backend interface {
	kind() string
	exists(ctx context.Context) (bool, error)
	// create makes an empty resource. An "already exists" answer is success.
	create(ctx context.Context) error
	// fetch returns the encoded payload and version token. An empty version
	// means latest.
	fetch(ctx context.Context, version string) ([]byte, string, error)
	// commit stores payload as a new version. create is set when the resource
	// is known to be absent.
	commit(ctx context.Context, payload []byte, create bool) (string, error)
	versions(ctx context.Context) ([]versionInfo, error)
	remove(ctx context.Context) error
	close() error
}

// SecretStore implements secretstore.Store on top of a backend.
type SecretStore struct {
	name         string
	backend      backend
	logger       *logging.Logger
	pinned       string
	onDiagnostic func(secretstore.Diagnostic)
	poller       *poller
	closed       atomic.Bool

	// opMu serialises upstream calls and cache mutations.
	opMu sync.Mutex

	mu      sync.RWMutex
	decoded map[string]string
	encoded map[string]string
	version string
	present bool
}

var _ secretstore.Store = (*SecretStore)(nil)

// newSecretStore binds b to name, creates the resource if allowed and
// performs the initial load. b is closed if construction fails.
func newSecretStore(ctx context.Context, name string, b backend, opts Options) (*SecretStore, error) {
	if err := opts.validate(); err != nil {
		_ = b.close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.New(false, false)
	}

	s := &SecretStore{
		name:         name,
		backend:      b,
		logger:       logger,
		pinned:       opts.pinned(),
		onDiagnostic: opts.OnDiagnostic,
		decoded:      map[string]string{},
		encoded:      map[string]string{},
	}

	err := s.open(ctx, opts.createIfNotPresent())
	recordOperation(b.kind(), "open", err)
	if err != nil {
		_ = b.close()
		return nil, err
	}

	if opts.PollInterval > 0 {
		s.poller = newPoller(b.kind(), opts.PollInterval, s.pollCycle, logger)
		s.poller.Start()
		s.logger.Debug("Polling %s every %s", name, opts.PollInterval)
	}

	return s, nil
}

func (s *SecretStore) open(ctx context.Context, createIfNotPresent bool) error {
	s.logger.Debug("Checking whether %s exists in %s", s.name, s.backend.kind())
	ok, err := s.backend.exists(ctx)
	if err != nil {
		return s.operationError("exists", err)
	}

	if !ok {
		if !createIfNotPresent {
			return secretstore.NotFoundError{Store: s.backend.kind(), Secret: s.name}
		}
		s.logger.Debug("Creating secret resource %s in %s", s.name, s.backend.kind())
		if err := s.backend.create(ctx); err != nil {
			s.logger.Error("Failed to create secret resource %s: %v", s.name, err)
			return s.operationError("create", err)
		}
	}
	s.present = true

	return s.load(ctx, s.pinned)
}

// Name returns the Secret Resource name.
func (s *SecretStore) Name() string {
	return s.name
}

// Backend returns the backend type key.
func (s *SecretStore) Backend() string {
	return s.backend.kind()
}

// PollState reports the background refresh state; PollIdle when polling is
// disabled.
func (s *SecretStore) PollState() PollState {
	if s.poller == nil {
		return PollIdle
	}
	return s.poller.State()
}

// Get returns the decoded value for key.
func (s *SecretStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.decoded[key]
	return value, ok
}

// Version returns the version token the cache reflects.
func (s *SecretStore) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Secrets returns a copy of the decoded cache.
func (s *SecretStore) Secrets() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.decoded)
}

// All iterates over a snapshot of the cache in key order.
func (s *SecretStore) All() iter.Seq2[string, string] {
	snapshot := s.Secrets()
	keys := slices.Sorted(maps.Keys(snapshot))
	return func(yield func(string, string) bool) {
		for _, key := range keys {
			if !yield(key, snapshot[key]) {
				return
			}
		}
	}
}

// Set stores value under key and commits the payload.
func (s *SecretStore) Set(ctx context.Context, key string, value any) error {
	text, isString, err := secretstore.Stringify(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	var diags []secretstore.Diagnostic
	if !isString {
		diags = append(diags, s.diagnostic(secretstore.DiagnosticNonString, key))
	}

	s.logger.Debug("Setting %s=%v in %s", key, logging.Secret(text), s.name)
	err = s.mutate(ctx, "set", func(decoded, encoded map[string]string) {
		if _, ok := decoded[key]; ok {
			diags = append(diags, s.diagnostic(secretstore.DiagnosticOverwrite, key))
		}
		decoded[key] = text
		encoded[key] = secretstore.EncodeValue(text)
	})

	if err != nil {
		return err
	}
	for _, d := range diags {
		s.emit(d)
	}
	return nil
}

// Unset removes key if present and commits the payload.
func (s *SecretStore) Unset(ctx context.Context, key string) error {
	return s.mutate(ctx, "unset", func(decoded, encoded map[string]string) {
		delete(decoded, key)
		delete(encoded, key)
	})
}

// Update commits the cache as a new version.
func (s *SecretStore) Update(ctx context.Context) error {
	return s.mutate(ctx, "update", func(map[string]string, map[string]string) {})
}

// mutate applies change to a copy of the cache, commits the copy and swaps
// it in. On failure the cache is left untouched.
func (s *SecretStore) mutate(ctx context.Context, op string, change func(decoded, encoded map[string]string)) (err error) {
	defer func() { recordOperation(s.backend.kind(), op, err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed.Load() {
		return secretstore.ErrClosed
	}

	s.mu.RLock()
	decoded := maps.Clone(s.decoded)
	encoded := maps.Clone(s.encoded)
	create := !s.present
	s.mu.RUnlock()

	change(decoded, encoded)

	payload, err := secretstore.MarshalPayload(encoded)
	if err != nil {
		return err
	}

	s.logger.Debug("Committing %d keys to %s (%s)", len(encoded), s.name, op)
	token, err := s.backend.commit(ctx, payload, create)
	if err != nil {
		s.logger.Error("Failed to commit %s to %s: %v", s.name, s.backend.kind(), err)
		return s.operationError("commit", err)
	}

	s.mu.Lock()
	s.decoded = decoded
	s.encoded = encoded
	s.version = token
	s.present = true
	s.mu.Unlock()

	return nil
}

// Versions lists version tokens, oldest first.
func (s *SecretStore) Versions(ctx context.Context) (tokens []string, err error) {
	defer func() { recordOperation(s.backend.kind(), "versions", err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed.Load() {
		return nil, secretstore.ErrClosed
	}
	return s.listVersions(ctx)
}

func (s *SecretStore) listVersions(ctx context.Context) ([]string, error) {
	infos, err := s.backend.versions(ctx)
	if err != nil {
		s.logger.Error("Failed to list versions of %s: %v", s.name, err)
		return nil, s.operationError("versions", err)
	}

	slices.SortStableFunc(infos, func(a, b versionInfo) int {
		return a.created.Compare(b.created)
	})

	tokens := make([]string, 0, len(infos))
	for _, info := range infos {
		tokens = append(tokens, info.token)
	}
	return tokens, nil
}

// Rollback loads the version selected by spec.
func (s *SecretStore) Rollback(ctx context.Context, spec secretstore.VersionSpec) (err error) {
	defer func() { recordOperation(s.backend.kind(), "rollback", err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed.Load() {
		return secretstore.ErrClosed
	}

	tokens, err := s.listVersions(ctx)
	if err != nil {
		return err
	}

	target, err := spec.Resolve(tokens, s.Version())
	if err != nil {
		return fmt.Errorf("rollback %s: %w", s.name, err)
	}

	s.logger.Debug("Rolling back %s to version %s", s.name, target)
	return s.load(ctx, target)
}

// Refresh reloads the pinned version, or the latest one.
func (s *SecretStore) Refresh(ctx context.Context) (err error) {
	defer func() { recordOperation(s.backend.kind(), "refresh", err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed.Load() {
		return secretstore.ErrClosed
	}
	return s.load(ctx, s.pinned)
}

func (s *SecretStore) pollCycle(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed.Load() {
		return nil
	}
	return s.load(ctx, "")
}

// load fetches version and replaces the cache. The caller holds opMu.
func (s *SecretStore) load(ctx context.Context, version string) error {
	payload, token, err := s.backend.fetch(ctx, version)
	if errors.Is(err, errNoVersions) {
		if err := s.confirmPresent(ctx); err != nil {
			return err
		}
		payload, token, err = nil, "", nil
	}
	if err != nil {
		if secretstore.IsNotFound(err) {
			return err
		}
		return s.fetchError(version, err)
	}

	encoded, err := secretstore.UnmarshalPayload(payload)
	if err != nil {
		return s.fetchError(version, err)
	}
	decoded, err := secretstore.DecodePayload(encoded)
	if err != nil {
		return s.fetchError(version, err)
	}

	s.mu.Lock()
	s.decoded = decoded
	s.encoded = encoded
	s.version = token
	s.mu.Unlock()

	s.logger.Debug("Loaded %s version %s (%d keys)", s.name, token, len(decoded))
	return nil
}

// confirmPresent tells an empty resource apart from one deleted upstream.
// A deleted resource keeps the cache and is recreated by the next commit.
func (s *SecretStore) confirmPresent(ctx context.Context) error {
	ok, err := s.backend.exists(ctx)
	if err != nil {
		return s.fetchError("", err)
	}
	if ok {
		return nil
	}

	s.mu.Lock()
	s.present = false
	s.mu.Unlock()

	s.logger.Warn("Secret resource %s no longer exists in %s", s.name, s.backend.kind())
	return secretstore.NotFoundError{Store: s.backend.kind(), Secret: s.name}
}

// Exists probes the backend for the Secret Resource.
func (s *SecretStore) Exists(ctx context.Context) (ok bool, err error) {
	defer func() { recordOperation(s.backend.kind(), "exists", err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed.Load() {
		return false, secretstore.ErrClosed
	}

	ok, err = s.backend.exists(ctx)
	if err != nil {
		return false, s.operationError("exists", err)
	}
	return ok, nil
}

// Delete removes the Secret Resource upstream and empties the cache.
func (s *SecretStore) Delete(ctx context.Context) (err error) {
	defer func() { recordOperation(s.backend.kind(), "delete", err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed.Load() {
		return secretstore.ErrClosed
	}

	s.logger.Debug("Deleting secret resource %s from %s", s.name, s.backend.kind())
	if err := s.backend.remove(ctx); err != nil {
		if errors.Is(err, secretstore.ErrUnsupported) {
			return fmt.Errorf("delete %s from %s: %w", s.name, s.backend.kind(), err)
		}
		s.logger.Error("Failed to delete %s: %v", s.name, err)
		return s.operationError("delete", err)
	}

	s.mu.Lock()
	s.decoded = map[string]string{}
	s.encoded = map[string]string{}
	s.version = ""
	s.present = false
	s.mu.Unlock()

	return nil
}

// Close stops polling and releases the backend. Reads keep working on the
// last loaded cache.
func (s *SecretStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	// The poller must be stopped before taking opMu: an in-flight cycle
	// holds it.
	if s.poller != nil {
		s.poller.Stop()
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.backend.close()
}

func (s *SecretStore) diagnostic(kind secretstore.DiagnosticKind, key string) secretstore.Diagnostic {
	return secretstore.Diagnostic{Kind: kind, Store: s.name, Key: key}
}

func (s *SecretStore) emit(d secretstore.Diagnostic) {
	s.logger.Warn("%s", d)
	if s.onDiagnostic != nil {
		s.onDiagnostic(d)
	}
}

func (s *SecretStore) fetchError(version string, err error) error {
	return &secretstore.FetchError{
		Store:   s.backend.kind(),
		Secret:  s.name,
		Version: version,
		Err:     err,
	}
}

func (s *SecretStore) operationError(op string, err error) error {
	return &secretstore.OperationError{
		Store:  s.backend.kind(),
		Secret: s.name,
		Op:     op,
		Err:    err,
	}
}
