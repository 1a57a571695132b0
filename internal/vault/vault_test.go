package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/streamforge/streamforge/internal/models"
)

// fakeKeychain is an in-memory keychain for tests.
type fakeKeychain struct {
	entries map[string]string
	broken  bool
}

func newFakeKeychain() *fakeKeychain {
	return &fakeKeychain{entries: make(map[string]string)}
}

func (f *fakeKeychain) Set(service, user, password string) error {
	if f.broken {
		return errors.New("keychain unavailable")
	}
	f.entries[service+"/"+user] = password
	return nil
}

func (f *fakeKeychain) Get(service, user string) (string, error) {
	if f.broken {
		return "", errors.New("keychain unavailable")
	}
	password, ok := f.entries[service+"/"+user]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return password, nil
}

func (f *fakeKeychain) Delete(service, user string) error {
	if f.broken {
		return errors.New("keychain unavailable")
	}
	if _, ok := f.entries[service+"/"+user]; !ok {
		return keyring.ErrNotFound
	}
	delete(f.entries, service+"/"+user)
	return nil
}

func TestVault_KeychainRoundTrip(t *testing.T) {
	ring := newFakeKeychain()
	v, err := newWithKeychain(t.TempDir(), ring)
	require.NoError(t, err)

	id := models.NewULID()
	handle, err := v.Store(id, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "keychain:"+id.String(), string(handle), "keychain handles are sentinels, not ciphertext")

	password, err := v.Retrieve(handle)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", password)

	require.NoError(t, v.Delete(handle))
	_, err = v.Retrieve(handle)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVault_SealedFallbackRoundTrip(t *testing.T) {
	ring := newFakeKeychain()
	ring.broken = true
	v, err := newWithKeychain(t.TempDir(), ring)
	require.NoError(t, err)

	handle, err := v.Store(models.NewULID(), "fallback-pass")
	require.NoError(t, err)
	assert.NotContains(t, string(handle), "fallback-pass", "sealed handle must not embed the plaintext")
	assert.Greater(t, len(handle), nonceSize)

	password, err := v.Retrieve(handle)
	require.NoError(t, err)
	assert.Equal(t, "fallback-pass", password)

	// Sealed handles need no keychain cleanup.
	require.NoError(t, v.Delete(handle))
}

func TestVault_SealedHandleTamperDetected(t *testing.T) {
	ring := newFakeKeychain()
	ring.broken = true
	v, err := newWithKeychain(t.TempDir(), ring)
	require.NoError(t, err)

	handle, err := v.Store(models.NewULID(), "secret")
	require.NoError(t, err)

	handle[len(handle)-1] ^= 0xff
	_, err = v.Retrieve(handle)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestVault_SaltPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ring := newFakeKeychain()
	ring.broken = true

	v1, err := newWithKeychain(dir, ring)
	require.NoError(t, err)
	handle, err := v1.Store(models.NewULID(), "durable")
	require.NoError(t, err)

	// A second vault over the same data directory derives the same key.
	v2, err := newWithKeychain(dir, ring)
	require.NoError(t, err)
	password, err := v2.Retrieve(handle)
	require.NoError(t, err)
	assert.Equal(t, "durable", password)

	info, err := os.Stat(filepath.Join(dir, saltFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, int64(saltSize), info.Size())
}

func TestVault_KeychainServiceName(t *testing.T) {
	ring := newFakeKeychain()
	v, err := newWithKeychain(t.TempDir(), ring)
	require.NoError(t, err)

	id := models.NewULID()
	_, err = v.Store(id, "s3cret")
	require.NoError(t, err)

	// Secrets are filed under the shared IPTV service name.
	_, ok := ring.entries["iptv/"+id.String()]
	assert.True(t, ok)
}

func TestVault_KeyBoundToMachine(t *testing.T) {
	salt := make([]byte, saltSize)
	for i := range salt {
		salt[i] = byte(i)
	}

	here := &Vault{key: deriveKey(salt, []byte("machine-a"))}
	there := &Vault{key: deriveKey(salt, []byte("machine-b"))}
	assert.NotEqual(t, here.key, there.key)

	handle, err := here.seal("portable?")
	require.NoError(t, err)

	// Same salt on a different machine cannot open the blob.
	_, err = there.open(handle)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	password, err := here.open(handle)
	require.NoError(t, err)
	assert.Equal(t, "portable?", password)
}

func TestVault_InvalidHandles(t *testing.T) {
	v, err := newWithKeychain(t.TempDir(), newFakeKeychain())
	require.NoError(t, err)

	_, err = v.Retrieve(nil)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	_, err = v.Retrieve([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidHandle)
}
