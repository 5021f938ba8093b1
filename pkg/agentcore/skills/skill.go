// Package skills loads, matches, and tracks the lifecycle of a skill:
// the markdown-bodied instruction bundle that gets folded into the
// system prompt when a user's query matches it. It also owns the
// persisted side of a skill's life beyond its file on disk — versions,
// trust level, and outcome history — since those drive the learning
// hooks' rollback and evolution decisions.
package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Trust classifies how much autonomy a skill has earned. Only
// Trusted and Verified skills are eligible for self-reflection and
// autonomous evolution; Blocked skills are never matched into
// the active set regardless of query relevance.
type Trust string

const (
	TrustTrusted   Trust = "trusted"
	TrustVerified  Trust = "verified"
	TrustUntrusted Trust = "untrusted"
	TrustBlocked   Trust = "blocked"
)

// Skill is an immutable record loaded from disk. Name must be
// filename-safe: no path separators, no "..", so a skill directory can
// never be used to escape itself.
type Skill struct {
	Name            string
	Description     string
	Body            string
	RequiredSecrets []string
	SourceDir       string
}

// ValidName reports whether name is safe to use as a skill identifier
// and as a path component under a skills directory.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return !strings.Contains(name, "..")
}

// fingerprint hashes a skill's body and description, used by Registry
// to decide whether a reload actually changed anything.
func fingerprint(s Skill) string {
	sum := sha256.Sum256([]byte(s.Description + "\x00" + s.Body))
	return hex.EncodeToString(sum[:])
}

// Loader discovers skills from one source (a directory, a bundled
// built-in set, a remote catalog). Registry composes zero or more
// Loaders.
type Loader interface {
	Load() ([]Skill, error)
}

// DirLoader loads one skill per ".md" file in a directory. The file's
// base name (without extension) is the skill name; the first line
// starting with "description:" is the description, and the remainder
// of the file is the body.
type DirLoader struct {
	Dir string
}

// Load implements Loader.
func (d DirLoader) Load() ([]Skill, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading skills directory %s: %w", d.Dir, err)
	}

	var out []Skill
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		if !ValidName(name) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.Dir, e.Name()))
		if err != nil {
			continue
		}
		desc, body := splitDescription(string(data))
		out = append(out, Skill{Name: name, Description: desc, Body: body, SourceDir: d.Dir})
	}
	return out, nil
}

func splitDescription(content string) (description, body string) {
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) > 0 && strings.HasPrefix(strings.ToLower(lines[0]), "description:") {
		description = strings.TrimSpace(lines[0][len("description:"):])
		if len(lines) > 1 {
			body = lines[1]
		}
		return description, body
	}
	return "", content
}

// Matcher scores a skill's relevance to a query. The zero-value
// Matcher (nil function) makes Registry.Match fall back to "all skills
// active".
type Matcher func(query string, s Skill) float64

// KeywordMatcher is a cheap fallback matcher: it scores a skill by how
// many of the query's lowercased words appear in the skill's name or
// description.
func KeywordMatcher(query string, s Skill) float64 {
	q := strings.ToLower(query)
	score := 0.0
	for _, word := range strings.Fields(q) {
		if strings.Contains(strings.ToLower(s.Name), word) || strings.Contains(strings.ToLower(s.Description), word) {
			score++
		}
	}
	return score
}

// Registry is the runtime's swapped-wholesale view of every loaded
// skill. It is owned by the agent runtime but rebuilt by Reload rather
// than mutated in place, so an in-flight turn always sees a consistent
// snapshot.
type Registry struct {
	mu      sync.RWMutex
	loaders []Loader
	skills  map[string]Skill
	prints  map[string]string
	matcher Matcher
	trust   map[string]Trust
}

// NewRegistry builds an empty Registry. matcher may be nil to always
// fall back to "all skills active".
func NewRegistry(matcher Matcher, loaders ...Loader) *Registry {
	return &Registry{
		loaders: loaders,
		skills:  make(map[string]Skill),
		prints:  make(map[string]string),
		matcher: matcher,
		trust:   make(map[string]Trust),
	}
}

// Reload re-runs every loader and swaps the registry's skill set
// wholesale. It returns the set of skill names whose fingerprint
// actually changed (added, removed, or edited), so callers can decide
// whether a reload was worth announcing.
func (r *Registry) Reload() ([]string, error) {
	fresh := make(map[string]Skill)
	for _, l := range r.loaders {
		loaded, err := l.Load()
		if err != nil {
			return nil, err
		}
		for _, s := range loaded {
			fresh[s.Name] = s
		}
	}

	freshPrints := make(map[string]string, len(fresh))
	for name, s := range fresh {
		freshPrints[name] = fingerprint(s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []string
	for name, fp := range freshPrints {
		if r.prints[name] != fp {
			changed = append(changed, name)
		}
	}
	for name := range r.prints {
		if _, ok := freshPrints[name]; !ok {
			changed = append(changed, name)
		}
	}

	r.skills = fresh
	r.prints = freshPrints
	return changed, nil
}

// All returns every loaded skill, sorted by name for deterministic
// output.
func (r *Registry) All() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns one skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// SetTrust records the trust level for a skill, persisted at the
// caller's discretion (Registry itself is in-memory; a Store persists
// trust across restarts via SetSkillTrust/SkillTrust).
func (r *Registry) SetTrust(name string, t Trust) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trust[name] = t
}

// TrustOf returns a skill's trust level, defaulting to untrusted for a
// skill that was never explicitly classified.
func (r *Registry) TrustOf(name string) Trust {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.trust[name]; ok {
		return t
	}
	return TrustUntrusted
}

// Match scores every non-blocked skill against
// query, returning up to maxActive matches ordered by descending score.
// When the registry has no matcher configured, every non-blocked skill
// is returned (capped to maxActive) — the "fall back to all
// skills active".
func (r *Registry) Match(query string, maxActive int) []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		if r.trust[s.Name] == TrustBlocked {
			continue
		}
		candidates = append(candidates, s)
	}

	if r.matcher == nil {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
		if maxActive > 0 && len(candidates) > maxActive {
			candidates = candidates[:maxActive]
		}
		return candidates
	}

	type scored struct {
		skill Skill
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, s := range candidates {
		ranked = append(ranked, scored{skill: s, score: r.matcher(query, s)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]Skill, 0, len(ranked))
	for _, rk := range ranked {
		out = append(out, rk.skill)
	}
	if maxActive > 0 && len(out) > maxActive {
		out = out[:maxActive]
	}
	return out
}

// PromptBlock renders a skill's body as the form injected into the
// system prompt.
func PromptBlock(s Skill) string {
	return fmt.Sprintf("## Skill: %s\n%s\n\n%s", s.Name, s.Description, s.Body)
}

// CatalogBlock renders the one-line "remaining skills" catalog entry
// for a skill that wasn't activated this turn but could be asked for.
func CatalogBlock(s Skill) string {
	return fmt.Sprintf("- %s: %s", s.Name, s.Description)
}
