// Package encryption seals metadata snapshots before they leave the server.
package encryption

import (
	"errors"
	"io"
)

// ErrAlreadyConfigured is returned by Setup when a key pair already exists.
var ErrAlreadyConfigured = errors.New("encryption keys already exist")

// Encryptor seals snapshots with a public key. Opening them needs the
// passphrase that protects the private key, so a compromised archive alone
// reveals nothing.
type Encryptor interface {
	// Setup generates the key pair and protects the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	// Needs only the public key.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock opens the private key for the rest of the session.
	Unlock(passphrase string) (Decryptor, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// Decryptor holds an unlocked private key in memory.
type Decryptor interface {
	Decrypt(r io.Reader, w io.Writer) error
}
