// OS keyring backend: Linux Secret Service / GNOME Keyring, macOS
// Keychain, Windows Credential Manager.
package vault

import "github.com/zalando/go-keyring"

// keyringService namespaces this process's entries in the OS keyring.
const keyringService = "agentcore"

// Keyring stores secrets in the operating system's native keyring.
type Keyring struct{}

// Set saves a secret to the OS keyring.
func (Keyring) Set(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// Get retrieves a secret from the OS keyring; missing keys return "".
func (Keyring) Get(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// Delete removes a secret from the OS keyring.
func (Keyring) Delete(key string) error {
	return keyring.Delete(keyringService, key)
}

// Available probes the keyring with a write+delete cycle.
func (Keyring) Available() bool {
	const testKey = "__agentcore_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}
