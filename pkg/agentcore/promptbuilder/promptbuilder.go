// Package promptbuilder assembles the system prompt from independently
// contributed layers — identity, workspace bootstrap files, active
// skill instructions, runtime state — ordered by priority so that when
// the assembled prompt must be trimmed to fit a budget, the
// lowest-priority layers go first.
package promptbuilder

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/agentcore/runtime/pkg/agentcore/tokens"
)

// Layer is an integer priority for a prompt contribution. Lower values
// are higher priority and are the last to be trimmed when the
// assembled prompt exceeds its budget.
type Layer int

const (
	LayerCore       Layer = 0
	LayerIdentity   Layer = 10
	LayerWorkspace  Layer = 20
	LayerSkills     Layer = 40
	LayerMemory     Layer = 60
	LayerRuntime    Layer = 80
)

type layerEntry struct {
	layer   Layer
	content string
}

// Composer assembles the layered system prompt for a turn.
type Composer struct {
	mu      sync.Mutex
	entries []layerEntry

	fileCacheTTL time.Duration
	fileCache    map[string]fileCacheEntry
}

type fileCacheEntry struct {
	content  string
	hash     [32]byte
	cachedAt time.Time
}

// NewComposer builds an empty Composer. fileCacheTTL controls how long
// a disk-read layer (e.g. a workspace bootstrap file) is reused before
// being re-read and re-fingerprinted.
func NewComposer(fileCacheTTL time.Duration) *Composer {
	if fileCacheTTL <= 0 {
		fileCacheTTL = 30 * time.Second
	}
	return &Composer{
		fileCacheTTL: fileCacheTTL,
		fileCache:    make(map[string]fileCacheEntry),
	}
}

// Add contributes content at the given layer. Calling Add multiple
// times in one turn accumulates entries; call Reset between turns if a
// fresh composition is wanted.
func (c *Composer) Add(layer Layer, content string) {
	if content == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, layerEntry{layer: layer, content: content})
}

// AddFile contributes the content of a file on disk as a layer,
// caching the read for fileCacheTTL and skipping re-fingerprinting
// within that window. If the file cannot be read, it is silently
// skipped — a missing optional bootstrap file should never break
// prompt assembly.
func (c *Composer) AddFile(layer Layer, path string) {
	c.mu.Lock()
	if entry, ok := c.fileCache[path]; ok && time.Since(entry.cachedAt) < c.fileCacheTTL {
		c.mu.Unlock()
		c.Add(layer, entry.content)
		return
	}
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	content := string(data)
	hash := sha256.Sum256(data)

	c.mu.Lock()
	c.fileCache[path] = fileCacheEntry{content: content, hash: hash, cachedAt: time.Now()}
	c.mu.Unlock()

	c.Add(layer, content)
}

// Reset clears the accumulated entries, keeping the file cache intact.
func (c *Composer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Build assembles the layers in priority order (lowest Layer value
// first) joined by blank lines, trimming lowest-priority (highest
// Layer value) entries first if the result exceeds maxTokens. A
// maxTokens of 0 disables trimming.
func (c *Composer) Build(maxTokens int) string {
	c.mu.Lock()
	entries := append([]layerEntry(nil), c.entries...)
	c.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].layer < entries[j].layer })

	if maxTokens <= 0 {
		return join(entries)
	}

	// Trim from the end (highest-priority-number / lowest-priority
	// layers) until the assembled prompt fits the budget.
	for len(entries) > 0 && tokens.Estimate(join(entries)) > maxTokens {
		entries = entries[:len(entries)-1]
	}
	return join(entries)
}

func join(entries []layerEntry) string {
	out := ""
	for i, e := range entries {
		if i > 0 {
			out += "\n\n"
		}
		out += e.content
	}
	return out
}

// Fingerprint returns the SHA-256 digest of a file's last-cached
// content, or an error if it has never been cached. This lets callers
// (e.g. a skill registry) decide whether a reload is actually needed
// rather than unconditionally re-parsing on every TTL expiry.
func (c *Composer) Fingerprint(path string) ([32]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.fileCache[path]
	if !ok {
		return [32]byte{}, fmt.Errorf("no cached content for %s", path)
	}
	return entry.hash, nil
}
