package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	masterOnce sync.Once
	masterKey  []byte
	masterErr  error
	masterPath string
)

// SetMasterKeyPath configures where the master sealing key is loaded from.
// Must be called before the first Seal/Open.
func SetMasterKeyPath(path string) {
	masterPath = path
}

// loadMasterKey derives a 32-byte key from, in order of preference: the
// configured key file, the CONSOLE_MASTER_KEY environment variable, or an
// ephemeral random key. The ephemeral fallback means cached credentials do
// not survive a restart in development, which is acceptable there.
func loadMasterKey() ([]byte, error) {
	var material []byte

	switch {
	case masterPath != "":
		data, err := os.ReadFile(masterPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read master key file: %w", err)
		}
		material = data
	case os.Getenv("CONSOLE_MASTER_KEY") != "":
		material = []byte(os.Getenv("CONSOLE_MASTER_KEY"))
	default:
		material = make([]byte, 32)
		if _, err := rand.Read(material); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral master key: %w", err)
		}
	}

	sum := sha256.Sum256(material)
	return sum[:], nil
}

func getMasterKey() ([]byte, error) {
	masterOnce.Do(func() {
		masterKey, masterErr = loadMasterKey()
	})
	return masterKey, masterErr
}

// Seal encrypts plaintext with ChaCha20-Poly1305 under the master key.
// The nonce is prepended to the returned ciphertext.
func Seal(plaintext []byte) ([]byte, error) {
	key, err := getMasterKey()
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func Open(sealed []byte) ([]byte, error) {
	key, err := getMasterKey()
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed data too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed data: %w", err)
	}
	return plaintext, nil
}
