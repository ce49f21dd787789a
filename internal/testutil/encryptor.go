package testutil

import "syncservice/internal/encryption"

// NewTestEncryptor returns an encryptor that needs no keys or passphrase.
func NewTestEncryptor() encryption.Encryptor {
	return encryption.NewPlainEncryptor()
}
