package encryption

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"syncservice/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "syncservice.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "syncservice.key"),
	})
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)

	if e.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup")
	}
	if err := e.Setup("test-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup")
	}

	pub, err := e.Recipient()
	if err != nil || !strings.HasPrefix(pub, "age1") {
		t.Errorf("Recipient() = %q, %v; want an age1 key", pub, err)
	}

	if err := e.Setup("other"); !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("second Setup() error = %v, want ErrAlreadyConfigured", err)
	}
}

func TestAgeEncryptor_SetupEmptyPassphrase(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)
	if err := e.Setup(""); err == nil {
		t.Error("Setup(\"\") succeeded, want error")
	}
	if e.IsConfigured() {
		t.Error("failed Setup left keys behind")
	}
}

func TestAgeEncryptor_RoundTrip(t *testing.T) {
	t.Parallel()

	const passphrase = "test-passphrase"
	e := newTestAgeEncryptor(t)
	if err := e.Setup(passphrase); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "sqlite header", input: []byte("SQLite format 3\x00")},
		{name: "empty", input: []byte{}},
		{name: "large snapshot", input: bytes.Repeat([]byte("item-version"), 20000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var sealed bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &sealed); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(sealed.Bytes(), tt.input) {
				t.Error("ciphertext contains the plaintext")
			}

			d, err := e.Unlock(passphrase)
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var opened bytes.Buffer
			if err := d.Decrypt(&sealed, &opened); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(opened.Bytes(), tt.input) {
				t.Errorf("round-trip got %d bytes, want %d", opened.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeEncryptor_Failures(t *testing.T) {
	t.Parallel()

	t.Run("wrong passphrase", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Setup("correct"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if _, err := e.Unlock("wrong"); err == nil {
			t.Error("Unlock() with wrong passphrase succeeded")
		}
	})

	t.Run("encrypt before setup", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if err := e.Encrypt(strings.NewReader("data"), &bytes.Buffer{}); err == nil {
			t.Error("Encrypt() before Setup succeeded")
		}
	})

	t.Run("unlock before setup", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		if _, err := e.Unlock("passphrase"); err == nil {
			t.Error("Unlock() before Setup succeeded")
		}
	})

	t.Run("decrypt garbage", func(t *testing.T) {
		e := newTestAgeEncryptor(t)
		e.Setup("p")
		d, err := e.Unlock("p")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		if err := d.Decrypt(strings.NewReader("not age"), &bytes.Buffer{}); err == nil {
			t.Error("Decrypt() of garbage succeeded")
		}
	})
}
