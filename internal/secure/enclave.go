package secure

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

var (
	// ErrEmpty is returned when credential material is empty.
	ErrEmpty = errors.New("credential material is empty")

	// ErrDestroyed is returned by Use after Destroy.
	ErrDestroyed = errors.New("credential material has been destroyed")
)

// Credential holds credential material (a service account key, an access
// key pair, a DSN) encrypted in memory until a client is built from it.
type Credential struct {
	source string

	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewCredential seals data into an enclave. data is wiped by the call.
// source describes where the material came from and is safe to log.
func NewCredential(source string, data []byte) (*Credential, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", source, ErrEmpty)
	}
	return &Credential{
		source:  source,
		enclave: memguard.NewEnclave(data),
	}, nil
}

// Source returns the description given to NewCredential.
func (c *Credential) Source() string {
	return c.source
}

// Use decrypts the material into locked memory for the duration of fn.
// fn must not retain the slice.
func (c *Credential) Use(fn func(plaintext []byte) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.destroyed {
		return fmt.Errorf("%s: %w", c.source, ErrDestroyed)
	}

	locked, err := c.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open credential %s: %w", c.source, err)
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Destroy drops the enclave. It is idempotent. Call memguard.Purge at
// process exit to wipe the session key as well.
func (c *Credential) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enclave = nil
	c.destroyed = true
}

// IsDestroyed reports whether Destroy has been called.
func (c *Credential) IsDestroyed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.destroyed
}
