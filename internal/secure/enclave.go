// Package secure wraps memguard to keep long-lived static credentials
// (IAM User access key pairs) encrypted in process memory between the
// moment they are read from the OS keystore and the moment they are
// handed to a provider client or the credential file writer.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Enclave holds a single sensitive string in an encrypted, mlocked
// memory region. The plaintext only exists while a caller holds the
// LockedBuffer returned by Open.
type Enclave struct {
	enclave *memguard.Enclave
	mu      sync.RWMutex
	sealed  bool
}

// Seal copies value into a protected region and returns the enclave.
// The caller should drop its own reference to value immediately.
func Seal(value string) *Enclave {
	return &Enclave{
		enclave: memguard.NewEnclave([]byte(value)),
	}
}

// Open decrypts the enclave. The caller must Destroy() the returned
// buffer as soon as the plaintext is no longer needed.
func (e *Enclave) Open() (*memguard.LockedBuffer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.sealed || e.enclave == nil {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return e.enclave.Open()
}

// String decrypts the enclave, copies the plaintext out and wipes the
// locked buffer. Convenient for handing values to SDK clients that take
// plain strings.
func (e *Enclave) String() (string, error) {
	buf, err := e.Open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// Wipe marks the enclave unusable. Idempotent. The encrypted backing data
// is left for the garbage collector; call memguard.Purge() at process exit
// for full cleanup.
func (e *Enclave) Wipe() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sealed {
		return
	}
	e.enclave = nil
	e.sealed = true
}
