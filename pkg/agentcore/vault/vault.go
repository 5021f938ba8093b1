// Package vault provides encrypted secret storage and resolution for
// the agent runtime. Secrets live in a local file encrypted with
// AES-256-GCM under an Argon2id-derived key; the master password is
// never written anywhere. Resolution falls back to the OS keyring and
// then to environment variables, so a host that never creates a vault
// file still gets working secret lookup.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	// DefaultFile is the vault file name relative to the data dir.
	DefaultFile = ".agentcore.vault"

	// Argon2id parameters (OWASP recommended).
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32

	saltLen = 16

	// verifyKey is the internal entry used to detect a wrong password
	// without decrypting a real secret.
	verifyKey = "__verify__"
)

// entry holds one encrypted secret on disk.
type entry struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// fileData is the on-disk format.
type fileData struct {
	Version int              `json:"version"`
	Salt    string           `json:"salt"`
	Entries map[string]entry `json:"entries"`
}

// FileVault is the encrypted file-backed secret store. It is not
// usable until Create or Unlock has run.
type FileVault struct {
	path string

	mu   sync.RWMutex
	data *fileData
	key  []byte
}

// NewFile points a FileVault at path without touching the disk.
func NewFile(path string) *FileVault {
	return &FileVault{path: path}
}

// Exists reports whether the vault file is present on disk.
func (v *FileVault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// IsUnlocked reports whether the derived key is held in memory.
func (v *FileVault) IsUnlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key != nil
}

// Create initializes a new vault file under the given master password.
func (v *FileVault) Create(password string) error {
	if v.Exists() {
		return fmt.Errorf("vault already exists at %s", v.path)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.key = deriveKey(password, salt)
	v.data = &fileData{
		Version: 1,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Entries: make(map[string]entry),
	}
	ve, err := seal(v.key, []byte("vault-ok"))
	if err != nil {
		return err
	}
	v.data.Entries[verifyKey] = ve
	return v.saveLocked()
}

// Unlock loads the vault file and verifies the master password against
// the verification entry.
func (v *FileVault) Unlock(password string) error {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("reading vault: %w", err)
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing vault: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(data.Salt)
	if err != nil {
		return fmt.Errorf("decoding salt: %w", err)
	}

	key := deriveKey(password, salt)
	if verify, ok := data.Entries[verifyKey]; ok {
		if _, err := open(key, verify); err != nil {
			return fmt.Errorf("wrong password")
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = key
	v.data = &data
	return nil
}

// Lock zeroes the derived key, locking the vault again.
func (v *FileVault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
}

// Set encrypts and stores a secret. The vault must be unlocked.
func (v *FileVault) Set(name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return fmt.Errorf("vault is locked")
	}
	e, err := seal(v.key, []byte(value))
	if err != nil {
		return fmt.Errorf("encrypting %s: %w", name, err)
	}
	v.data.Entries[name] = e
	return v.saveLocked()
}

// Get decrypts a secret. Missing keys return ("", nil).
func (v *FileVault) Get(name string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.key == nil {
		return "", fmt.Errorf("vault is locked")
	}
	e, ok := v.data.Entries[name]
	if !ok {
		return "", nil
	}
	plain, err := open(v.key, e)
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", name, err)
	}
	return string(plain), nil
}

// Has reports whether a secret exists. A locked vault reports false.
func (v *FileVault) Has(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil || v.data == nil {
		return false
	}
	_, ok := v.data.Entries[name]
	return ok
}

// Delete removes a secret. The vault must be unlocked.
func (v *FileVault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return fmt.Errorf("vault is locked")
	}
	delete(v.data.Entries, name)
	return v.saveLocked()
}

// Keys lists stored secret names, excluding internal entries.
func (v *FileVault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil || v.data == nil {
		return nil
	}
	var keys []string
	for k := range v.data.Entries {
		if k == verifyKey {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

func (v *FileVault) saveLocked() error {
	data, err := json.MarshalIndent(v.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling vault: %w", err)
	}
	if err := os.WriteFile(v.path, data, 0o600); err != nil {
		return fmt.Errorf("writing vault: %w", err)
	}
	return nil
}

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func seal(key, plaintext []byte) (entry, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return entry{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return entry{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return entry{}, err
	}
	return entry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}, nil
}

func open(key []byte, e entry) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(e.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password?)")
	}
	return plain, nil
}
