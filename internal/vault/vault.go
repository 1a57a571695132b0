// Package vault stores provider passwords outside the catalog database.
//
// The preferred backend is the operating system keychain; accounts stored
// there carry an opaque sentinel handle in the database. When no keychain is
// available (headless servers, containers) the password is sealed with
// AES-256-GCM under a key derived from a per-installation salt file mixed
// with a machine identifier, and the handle is the ciphertext blob itself.
// Either way the plaintext password never lands in the database, logs, or
// API responses.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/streamforge/streamforge/internal/models"
)

const (
	// keyringService is the service name under which passwords are filed in
	// the OS keychain.
	keyringService = "iptv"

	// keychainPrefix marks handles whose secret lives in the OS keychain.
	keychainPrefix = "keychain:"

	// saltFileName is the per-installation salt file under the data directory.
	saltFileName = "credential_salt"

	saltSize  = 32
	nonceSize = 12
)

// ErrNotFound is returned when a handle resolves to no stored secret.
var ErrNotFound = errors.New("vault: credential not found")

// ErrInvalidHandle is returned for handles that are neither a keychain
// sentinel nor a well-formed sealed blob.
var ErrInvalidHandle = errors.New("vault: invalid credential handle")

// keychain abstracts the OS keyring for tests.
type keychain interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

// osKeychain is the real OS keyring backed by zalando/go-keyring.
type osKeychain struct{}

func (osKeychain) Set(service, user, password string) error { return keyring.Set(service, user, password) }
func (osKeychain) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (osKeychain) Delete(service, user string) error        { return keyring.Delete(service, user) }

// Vault stores and retrieves provider passwords by opaque handle.
type Vault struct {
	ring keychain
	key  []byte
}

// New creates a Vault rooted at the given data directory. The salt file is
// created on first use with permissions 0600.
func New(dataDir string) (*Vault, error) {
	return newWithKeychain(dataDir, osKeychain{})
}

func newWithKeychain(dataDir string, ring keychain) (*Vault, error) {
	salt, err := loadOrCreateSalt(filepath.Join(dataDir, saltFileName))
	if err != nil {
		return nil, err
	}
	return &Vault{ring: ring, key: deriveKey(salt, machineID())}, nil
}

// deriveKey builds the sealing key from the install salt XORed with a
// machine identifier, stretched through SHA-256. Copying the database and
// salt file to another host is not enough to open sealed handles.
func deriveKey(salt, machine []byte) []byte {
	machineHash := sha256.Sum256(machine)

	mixed := make([]byte, saltSize)
	for i := range mixed {
		mixed[i] = salt[i] ^ machineHash[i]
	}

	key := sha256.Sum256(append([]byte("credential.v1:"), mixed...))
	return key[:]
}

// machineID returns a stable per-host identifier: /etc/machine-id where
// present, else the hostname.
func machineID() []byte {
	if id, err := os.ReadFile("/etc/machine-id"); err == nil {
		if trimmed := strings.TrimSpace(string(id)); trimmed != "" {
			return []byte(trimmed)
		}
	}
	hostname, err := os.Hostname()
	if err != nil {
		return []byte("localhost")
	}
	return []byte(hostname)
}

// loadOrCreateSalt reads the salt file, generating it when absent.
func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, fmt.Errorf("vault: salt file %s has %d bytes, want %d", path, len(salt), saltSize)
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("vault: reading salt file: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: generating salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("vault: writing salt file: %w", err)
	}
	return salt, nil
}

// Store persists the password for an account and returns the handle to save
// in its database row. The keychain is tried first; on failure the password
// is sealed into the handle itself.
func (v *Vault) Store(accountID models.ULID, password string) ([]byte, error) {
	if err := v.ring.Set(keyringService, accountID.String(), password); err == nil {
		return []byte(keychainPrefix + accountID.String()), nil
	}
	return v.seal(password)
}

// Retrieve resolves a handle back to the plaintext password.
func (v *Vault) Retrieve(handle []byte) (string, error) {
	if len(handle) == 0 {
		return "", ErrInvalidHandle
	}
	if strings.HasPrefix(string(handle), keychainPrefix) {
		user := strings.TrimPrefix(string(handle), keychainPrefix)
		password, err := v.ring.Get(keyringService, user)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", ErrNotFound
			}
			return "", fmt.Errorf("vault: keychain read: %w", err)
		}
		return password, nil
	}
	return v.open(handle)
}

// Delete removes the stored password for a handle. Sealed handles carry the
// secret inline, so deleting the database row is sufficient for them.
func (v *Vault) Delete(handle []byte) error {
	if !strings.HasPrefix(string(handle), keychainPrefix) {
		return nil
	}
	user := strings.TrimPrefix(string(handle), keychainPrefix)
	if err := v.ring.Delete(keyringService, user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("vault: keychain delete: %w", err)
	}
	return nil
}

// seal encrypts a password into a nonce||ciphertext blob with AES-256-GCM.
func (v *Vault) seal(password string) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm init: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(password), nil), nil
}

// open decrypts a sealed nonce||ciphertext blob.
func (v *Vault) open(blob []byte) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return "", fmt.Errorf("vault: gcm init: %w", err)
	}
	if len(blob) < nonceSize+gcm.Overhead() {
		return "", ErrInvalidHandle
	}
	plaintext, err := gcm.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	return string(plaintext), nil
}
