package vault

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/agentcore/runtime/pkg/agentcore/redact"
)

// Resolver answers the runtime's secret lookups. Resolution order:
//
//  1. unlocked file vault
//  2. OS keyring
//  3. environment variable
//
// Every value handed out is registered with the redactor (when one is
// attached) so it never survives into persisted assistant or tool
// output.
type Resolver struct {
	file     *FileVault
	keyring  *Keyring
	redactor *redact.Redactor
}

// NewResolver builds a Resolver. file and keyring may each be nil to
// skip that tier.
func NewResolver(file *FileVault, keyring *Keyring, redactor *redact.Redactor) *Resolver {
	return &Resolver{file: file, keyring: keyring, redactor: redactor}
}

// Get resolves one secret by name. A missing secret is an error — the
// caller names secrets it requires, not secrets it would like.
func (r *Resolver) Get(key string) (string, error) {
	if r.file != nil && r.file.IsUnlocked() && r.file.Has(key) {
		val, err := r.file.Get(key)
		if err != nil {
			return "", err
		}
		r.register(val)
		return val, nil
	}
	if r.keyring != nil {
		if val := r.keyring.Get(key); val != "" {
			r.register(val)
			return val, nil
		}
	}
	if val := os.Getenv(key); val != "" {
		r.register(val)
		return val, nil
	}
	return "", fmt.Errorf("secret %q not found in vault, keyring, or environment", key)
}

// Has reports whether Get would succeed for key.
func (r *Resolver) Has(key string) bool {
	if r.file != nil && r.file.IsUnlocked() && r.file.Has(key) {
		return true
	}
	if r.keyring != nil && r.keyring.Get(key) != "" {
		return true
	}
	return os.Getenv(key) != ""
}

// SetSkillEnv resolves every named secret into an env map for a
// skill-scoped tool execution. Resolution is all-or-nothing: a skill
// that declares a secret it can't get must not run half-configured.
func (r *Resolver) SetSkillEnv(names []string) (map[string]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(names))
	for _, name := range names {
		val, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		env[name] = val
	}
	return env, nil
}

func (r *Resolver) register(value string) {
	if r.redactor != nil && value != "" {
		r.redactor.Register(value)
	}
}

// ReadPassword prompts on stderr and reads a password from the
// terminal without echo. Falls back to an error when stdin is not a
// terminal — scripted callers should use the environment instead.
func ReadPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("stdin is not a terminal; set the secret via environment instead")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}
