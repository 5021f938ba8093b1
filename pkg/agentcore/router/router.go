// Package router resolves an incoming message's origin (channel, user,
// group) to an agent profile: a model override, instruction override,
// skill subset, and turn budget. Resolution happens once before a run
// starts; the tool loop itself never consults the router.
package router

import (
	"log/slog"
	"strings"
)

// Profile is one specialized agent configuration.
type Profile struct {
	// ID uniquely identifies this profile.
	ID string `yaml:"id"`

	// Model overrides the default LLM model for this profile.
	Model string `yaml:"model"`

	// Instructions override the base system prompt.
	Instructions string `yaml:"instructions"`

	// Skills restricts the profile to a subset of skill names. Empty
	// means every skill is eligible.
	Skills []string `yaml:"skills"`

	// Channels, Users, and Groups route matching origins here.
	Channels []string `yaml:"channels"`
	Users    []string `yaml:"users"`
	Groups   []string `yaml:"groups"`

	// MaxTurns caps the tool loop's turn budget (0 = profile default).
	MaxTurns int `yaml:"max_turns"`
}

// Config holds all profiles plus the fallback profile id.
type Config struct {
	Profiles []Profile `yaml:"profiles"`
	Default  string    `yaml:"default"`
}

// Router maps an origin to a profile. Safe for concurrent readers
// after construction; profiles are never mutated in place.
type Router struct {
	profiles  map[string]*Profile
	byChannel map[string]string
	byUser    map[string]string
	byGroup   map[string]string
	defaultID string
	logger    *slog.Logger
}

// New indexes the configured profiles for lookup. User routing wins
// over group routing, group over channel — the more specific origin is
// the stronger signal of intent.
func New(cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		profiles:  make(map[string]*Profile),
		byChannel: make(map[string]string),
		byUser:    make(map[string]string),
		byGroup:   make(map[string]string),
		defaultID: cfg.Default,
		logger:    logger,
	}
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		r.profiles[p.ID] = p
		for _, ch := range p.Channels {
			r.byChannel[strings.ToLower(ch)] = p.ID
		}
		for _, u := range p.Users {
			r.byUser[u] = p.ID
		}
		for _, g := range p.Groups {
			r.byGroup[g] = p.ID
		}
	}
	if r.defaultID != "" {
		if _, ok := r.profiles[r.defaultID]; !ok {
			logger.Warn("default profile not found", "profile", r.defaultID)
			r.defaultID = ""
		}
	}
	return r
}

// Resolve returns the profile for an origin, or nil when nothing
// matches and no default is configured — the caller then runs with its
// base configuration unchanged.
func (r *Router) Resolve(channel, user, group string) *Profile {
	if id, ok := r.byUser[user]; ok && user != "" {
		return r.profiles[id]
	}
	if id, ok := r.byGroup[group]; ok && group != "" {
		return r.profiles[id]
	}
	if id, ok := r.byChannel[strings.ToLower(channel)]; ok && channel != "" {
		return r.profiles[id]
	}
	if r.defaultID != "" {
		return r.profiles[r.defaultID]
	}
	return nil
}

// Get returns a profile by id, or nil.
func (r *Router) Get(id string) *Profile { return r.profiles[id] }

// IDs lists every configured profile id.
func (r *Router) IDs() []string {
	out := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		out = append(out, id)
	}
	return out
}

// AllowsSkill reports whether a profile permits a skill by name. A nil
// profile or an empty skill list permits everything.
func (p *Profile) AllowsSkill(name string) bool {
	if p == nil || len(p.Skills) == 0 {
		return true
	}
	for _, s := range p.Skills {
		if s == name {
			return true
		}
	}
	return false
}
