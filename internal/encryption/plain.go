package encryption

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// plainMagic marks data written by PlainEncryptor.
var plainMagic = []byte("SYNCPLN1")

// PlainEncryptor frames data without encrypting it. It is for tests and
// for deployments whose archive is already encrypted at rest; the frame
// still catches restoring a file that was never a snapshot.
type PlainEncryptor struct{}

func NewPlainEncryptor() *PlainEncryptor {
	return &PlainEncryptor{}
}

func (*PlainEncryptor) Setup(string) error { return nil }

func (*PlainEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(plainMagic); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (*PlainEncryptor) Unlock(string) (Decryptor, error) {
	return plainDecryptor{}, nil
}

func (*PlainEncryptor) IsConfigured() bool { return true }

type plainDecryptor struct{}

func (plainDecryptor) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	header, err := br.Peek(len(plainMagic))
	if err != nil || !bytes.Equal(header, plainMagic) {
		return fmt.Errorf("not a plain snapshot")
	}
	br.Discard(len(plainMagic))
	if _, err := io.Copy(w, br); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

// Compile-time check that PlainEncryptor implements Encryptor
var _ Encryptor = (*PlainEncryptor)(nil)
