// Package learning implements the agent runtime's skill-learning
// hooks: recording how a turn that used a skill turned out, attempting
// one self-reflection retry on failure, and — gated heavily — proposing
// and rolling back evolved skill versions. This is the feedback loop
// that lets a skill earn or lose trust over many turns; it is distinct
// from the lifecycle bus in package hooks, which fires lifecycle events
// (some vetoable) rather than tracking skill outcomes.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentcore/runtime/pkg/agentcore/llm"
	"github.com/agentcore/runtime/pkg/agentcore/skills"
)

// Config gates every autonomous behavior this package performs. The
// zero-value Config disables everything — a deployment must opt in.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// ReflectionTrustLevels lists the trust levels eligible for
	// self-reflection; skills below any of these are left to fail
	// plainly.
	ReflectionTrustLevels map[skills.Trust]bool `yaml:"-"`

	// Cooldown bounds how often generate_improved_skill may run for
	// the same skill.
	Cooldown time.Duration `yaml:"cooldown"`

	// MinFailures is how many recorded failures a skill needs before
	// an improvement attempt is considered at all.
	MinFailures int `yaml:"min_failures"`

	// ImproveThreshold is the minimum severity score (from the LLM's
	// own SkillEvaluation) required to actually attempt an
	// improvement.
	ImproveThreshold float64 `yaml:"improve_threshold"`

	// GrowthFactor bounds how much larger an improved skill body may be
	// than its predecessor, as a guard against runaway generation.
	GrowthFactor float64 `yaml:"growth_factor"`

	// MaxVersions is the ceiling PruneVersions enforces per skill.
	MaxVersions int `yaml:"max_versions"`

	Rollback skills.RollbackConfig `yaml:"rollback"`
}

// DefaultConfig matches the values proven out in practice.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		ReflectionTrustLevels: map[skills.Trust]bool{
			skills.TrustTrusted:  true,
			skills.TrustVerified: true,
		},
		Cooldown:         1 * time.Hour,
		MinFailures:      3,
		ImproveThreshold: 0.5,
		GrowthFactor:     2.0,
		MaxVersions:      5,
		Rollback:         skills.DefaultRollbackConfig(),
	}
}

// ReflectFunc re-enters the response driver with an appended reflection
// prompt and reports whether a new assistant message appeared (treated
// as retry-success). It is supplied by the tool loop rather than
// imported directly, since toolloop already imports this package's
// sibling packages and a direct import back would cycle.
type ReflectFunc func(ctx context.Context, prompt string) (newAssistantMessage string, ok bool, err error)

// EvaluateFunc asks an LLM whether a failing skill is worth improving.
// It returns a typed decision rather than free text so Hooks never has
// to guess-parse a model's opinion.
type EvaluateFunc func(ctx context.Context, skillBody, errorContext string) (SkillEvaluation, error)

// ImproveFunc asks an LLM to rewrite a skill body given the failure
// context and (if present) the successful reflection response and any
// direct user feedback.
type ImproveFunc func(ctx context.Context, skillBody, errorContext, successfulResponse, userFeedback string) (newBody string, err error)

// SkillEvaluation is the LLM's structured opinion on whether a skill
// should be improved.
type SkillEvaluation struct {
	ShouldImprove bool
	Issues        []string
	Severity      float64
}

// Hooks is the runtime's learning-hooks engine, bound to one skill
// store and registry for the process lifetime. reflectionUsed is reset
// once per turn by the caller (ResetTurn) — a single boolean
// guard; promoting it to a counter under
// nested tool calls is left as a guard the caller can tighten by
// calling ResetTurn less often.
type Hooks struct {
	cfg      Config
	store    *skills.Store
	registry *skills.Registry
	logger   *slog.Logger

	reflectionUsed bool
	lastImprove    map[string]time.Time
}

// New builds a Hooks engine.
func New(cfg Config, store *skills.Store, registry *skills.Registry, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{cfg: cfg, store: store, registry: registry, logger: logger, lastImprove: make(map[string]time.Time)}
}

// ResetTurn clears the single-shot reflection guard for a new turn.
func (h *Hooks) ResetTurn() { h.reflectionUsed = false }

// RecordSkillOutcomes appends
// one outcome row per currently active skill, then run check_rollback
// for each on any non-success outcome.
func (h *Hooks) RecordSkillOutcomes(activeSkills []skills.Skill, conversationID string, outcome skills.Outcome, errorContext string) {
	if h.store == nil {
		return
	}
	for _, s := range activeSkills {
		if err := h.store.RecordOutcome(s.Name, conversationID, outcome, errorContext); err != nil {
			h.logger.Warn("recording skill outcome", "skill", s.Name, "error", err)
			continue
		}
		if outcome == skills.OutcomeSuccess {
			continue
		}
		rolledBack, err := skills.CheckRollback(h.store, h.cfg.Rollback, s.Name)
		if err != nil {
			h.logger.Warn("checking skill rollback", "skill", s.Name, "error", err)
			continue
		}
		if rolledBack {
			h.logger.Info("skill version rolled back after sustained failures", "skill", s.Name)
		}
	}
}

// AttemptSelfReflection runs the single-shot reflection retry:
// single-shot per turn, gated by Config.Enabled and the first active
// skill's trust level. Returns whether the reflection produced a retry
// success.
func (h *Hooks) AttemptSelfReflection(ctx context.Context, activeSkills []skills.Skill, errorContext, toolOutput string, reflect ReflectFunc) (string, bool) {
	if !h.cfg.Enabled || h.reflectionUsed || reflect == nil {
		return "", false
	}
	if len(activeSkills) == 0 {
		return "", false
	}
	h.reflectionUsed = true

	first := activeSkills[0]
	trust := h.registry.TrustOf(first.Name)
	if !h.cfg.ReflectionTrustLevels[trust] {
		return "", false
	}

	prompt := fmt.Sprintf(
		"Your last attempt failed. Skill instructions:\n%s\n\nError context: %s\n\nTool output:\n%s\n\nReconsider your approach and try again.",
		first.Body, errorContext, toolOutput,
	)

	response, ok, err := reflect(ctx, prompt)
	if err != nil {
		h.logger.Warn("self-reflection attempt failed", "skill", first.Name, "error", err)
		return "", false
	}
	return response, ok
}

// GenerateImprovedSkill evolves a skill after repeated failures. If
// userDriven is false, evaluate first asks the LLM whether the skill is
// even worth touching; a nil evaluate always proceeds (used by the
// user-driven /feedback path, which skips the gate).
func (h *Hooks) GenerateImprovedSkill(
	ctx context.Context,
	name, errorContext, successfulResponse, userFeedback string,
	userDriven bool,
	evaluate EvaluateFunc,
	improve ImproveFunc,
) (skills.Version, bool, error) {
	if !h.cfg.Enabled || improve == nil {
		return skills.Version{}, false, nil
	}

	trust := h.registry.TrustOf(name)
	if !userDriven && trust != skills.TrustTrusted && trust != skills.TrustVerified {
		return skills.Version{}, false, nil
	}

	if last, ok := h.lastImprove[name]; ok && time.Since(last) < h.cfg.Cooldown {
		return skills.Version{}, false, nil
	}

	active, ok, err := h.store.ActiveVersion(name)
	if err != nil {
		return skills.Version{}, false, fmt.Errorf("loading active skill version: %w", err)
	}
	if !ok {
		return skills.Version{}, false, fmt.Errorf("skill %q has no active version", name)
	}
	if !userDriven && active.FailureCount < h.cfg.MinFailures {
		return skills.Version{}, false, nil
	}

	if !userDriven && evaluate != nil {
		eval, err := evaluate(ctx, active.Body, errorContext)
		if err != nil {
			return skills.Version{}, false, fmt.Errorf("evaluating skill for improvement: %w", err)
		}
		if !eval.ShouldImprove || eval.Severity < h.cfg.ImproveThreshold {
			return skills.Version{}, false, nil
		}
	}

	newBody, err := improve(ctx, active.Body, errorContext, successfulResponse, userFeedback)
	if err != nil {
		return skills.Version{}, false, fmt.Errorf("improving skill: %w", err)
	}
	if newBody == "" {
		return skills.Version{}, false, fmt.Errorf("improved skill body was empty")
	}
	if float64(len(newBody)) > float64(len(active.Body))*h.cfg.GrowthFactor {
		return skills.Version{}, false, fmt.Errorf("improved skill body exceeds growth factor (%d vs %d bytes)", len(newBody), len(active.Body))
	}

	nextID, err := h.store.NextVersionID(name)
	if err != nil {
		return skills.Version{}, false, fmt.Errorf("computing next skill version id: %w", err)
	}

	source := skills.SourceAuto
	if userDriven {
		source = skills.SourceUser
	}
	v := skills.Version{
		SkillName:     name,
		VersionID:     nextID,
		Body:          newBody,
		Description:   active.Description,
		Source:        source,
		PredecessorID: active.VersionID,
		CreatedAt:     time.Now(),
	}
	if err := h.store.InsertVersion(v); err != nil {
		return skills.Version{}, false, fmt.Errorf("inserting improved skill version: %w", err)
	}

	h.lastImprove[name] = time.Now()
	if err := h.store.PruneVersions(name, h.cfg.MaxVersions); err != nil {
		h.logger.Warn("pruning old skill versions", "skill", name, "error", err)
	}
	return v, true, nil
}

// ActivateVersion marks a previously-generated version as active,
// persisting it to the skill's on-disk body so future reloads pick it
// up. writeToDisk is supplied by the caller since the exact layout of a
// skill file belongs to the skills package's Loader, not to learning.
func (h *Hooks) ActivateVersion(name string, versionID int, writeToDisk func(body string) error) error {
	versions, err := h.store.Versions(name)
	if err != nil {
		return fmt.Errorf("loading skill versions: %w", err)
	}
	var target *skills.Version
	for i := range versions {
		if versions[i].VersionID == versionID {
			target = &versions[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("version %d of skill %q does not exist", versionID, name)
	}
	if writeToDisk != nil {
		if err := writeToDisk(target.Body); err != nil {
			return fmt.Errorf("writing activated skill to disk: %w", err)
		}
	}
	return h.store.SetActiveVersion(name, versionID)
}

// LLMEvaluate adapts an llm.Client into an EvaluateFunc using a simple
// heuristic parse of the model's terse verdict line, avoiding a
// dependency on any particular structured-output capability the
// provider may lack.
func LLMEvaluate(client *llm.Client) EvaluateFunc {
	return func(ctx context.Context, skillBody, errorContext string) (SkillEvaluation, error) {
		prompt := fmt.Sprintf(
			"A skill failed repeatedly. Skill body:\n%s\n\nFailure context: %s\n\n"+
				"Reply with exactly one line: either \"IMPROVE: <severity 0-1> <comma-separated issues>\" "+
				"or \"SKIP\".", skillBody, errorContext,
		)
		resp, err := client.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}})
		if err != nil {
			return SkillEvaluation{}, err
		}
		text, ok := resp.(llm.TextResponse)
		if !ok {
			return SkillEvaluation{}, fmt.Errorf("unexpected response type %T from skill evaluator", resp)
		}
		return parseEvaluation(text.Content), nil
	}
}
