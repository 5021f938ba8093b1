// Package toolguard enforces the permission boundary in front of tool
// dispatch: who is allowed to call which tool, which commands require
// an explicit confirmation before they run, and an append-only audit
// trail of every decision.
package toolguard

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"
)

// Level is a caller's access level, ordered from least to most
// privileged.
type Level int

const (
	LevelPublic Level = iota
	LevelUser
	LevelAdmin
	LevelOwner
)

func (l Level) String() string {
	switch l {
	case LevelOwner:
		return "owner"
	case LevelAdmin:
		return "admin"
	case LevelUser:
		return "user"
	default:
		return "public"
	}
}

// ParseLevel converts a config string into a Level, defaulting to
// LevelPublic for unrecognized values so a typo in config fails open to
// the least-trusted caller, never open to the most.
func ParseLevel(s string) Level {
	switch s {
	case "owner":
		return LevelOwner
	case "admin":
		return LevelAdmin
	case "user":
		return LevelUser
	default:
		return LevelPublic
	}
}

// Profile is a named bundle of tool permission overrides, letting a
// deployment switch between e.g. "minimal" (read-only tools only) and
// "full" (everything) without restating every tool's permission.
type Profile struct {
	Name        string
	Permissions map[string]Level
}

// Config controls guard behavior.
type Config struct {
	Enabled          bool              `yaml:"enabled"`
	AuditLogPath     string            `yaml:"audit_log_path"`
	Profile          string            `yaml:"profile"`
	ToolPermissions  map[string]string `yaml:"tool_permissions"`
	AllowDestructive bool              `yaml:"allow_destructive"`
	AllowSudo        bool              `yaml:"allow_sudo"`
	AllowReboot      bool              `yaml:"allow_reboot"`
	DangerousPatterns []string         `yaml:"dangerous_commands"`
}

// DefaultDangerousPatterns blocks the classic footguns unless the
// config explicitly opts back in.
func DefaultDangerousPatterns() []string {
	return []string{
		`rm\s+-rf\s+/`,
		`:(){ :\|:& };:`,
		`mkfs\.`,
		`dd\s+if=.*of=/dev/`,
	}
}

// AuditEntry is one append-only record of a permission decision.
type AuditEntry struct {
	Timestamp  time.Time
	ToolName   string
	CallerID   string
	CallerLevel Level
	Allowed    bool
	Reason     string
}

// AuditSink persists audit entries. Implementations typically wrap a
// relational store or an append-only file.
type AuditSink interface {
	Append(entry AuditEntry) error
}

// Guard evaluates whether a caller may dispatch a tool.
type Guard struct {
	mu          sync.RWMutex
	cfg         Config
	permissions map[string]Level
	dangerous   []*regexp.Regexp
	audit       AuditSink
	logger      *slog.Logger
}

// New builds a Guard from cfg. audit may be nil, in which case
// decisions are only logged, not persisted.
func New(cfg Config, audit AuditSink, logger *slog.Logger) (*Guard, error) {
	if logger == nil {
		logger = slog.Default()
	}

	perms := make(map[string]Level, len(cfg.ToolPermissions))
	for tool, level := range cfg.ToolPermissions {
		perms[tool] = ParseLevel(level)
	}

	patterns := cfg.DangerousPatterns
	if len(patterns) == 0 {
		patterns = DefaultDangerousPatterns()
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling dangerous command pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	return &Guard{
		cfg:         cfg,
		permissions: perms,
		dangerous:   compiled,
		audit:       audit,
		logger:      logger,
	}, nil
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed              bool
	RequiresConfirmation bool
	Reason               string
}

// Check evaluates whether callerLevel may invoke toolName, optionally
// inspecting commandText (e.g. a shell command argument) for
// destructive patterns. While the guard is enabled, every call is
// recorded to the audit sink regardless of outcome; a disabled guard
// allows everything and records nothing.
func (g *Guard) Check(toolName, callerID string, callerLevel Level, commandText string) Decision {
	if !g.cfg.Enabled {
		return Decision{Allowed: true}
	}

	g.mu.RLock()
	required, explicit := g.permissions[toolName]
	g.mu.RUnlock()

	decision := Decision{Allowed: true}

	if explicit && callerLevel < required {
		decision = Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("tool %q requires %s access, caller has %s", toolName, required, callerLevel),
		}
	} else if commandText != "" && g.matchesDangerous(commandText) && !g.cfg.AllowDestructive {
		decision = Decision{
			Allowed:              false,
			RequiresConfirmation: true,
			Reason:               "command matches a dangerous pattern and requires confirmation",
		}
	}

	g.recordAudit(toolName, callerID, callerLevel, decision)
	return decision
}

func (g *Guard) matchesDangerous(text string) bool {
	for _, re := range g.dangerous {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (g *Guard) recordAudit(toolName, callerID string, callerLevel Level, decision Decision) {
	entry := AuditEntry{
		Timestamp:   time.Now(),
		ToolName:    toolName,
		CallerID:    callerID,
		CallerLevel: callerLevel,
		Allowed:     decision.Allowed,
		Reason:      decision.Reason,
	}

	if g.audit != nil {
		if err := g.audit.Append(entry); err != nil {
			g.logger.Error("writing tool audit entry", "error", err)
		}
	}

	if !decision.Allowed {
		g.logger.Warn("tool call blocked",
			"tool", toolName, "caller", callerID, "level", callerLevel.String(), "reason", decision.Reason)
	}
}

// SetToolPermission overrides a single tool's required level at
// runtime, e.g. from a command-dispatcher admin command.
func (g *Guard) SetToolPermission(toolName string, level Level) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.permissions[toolName] = level
}
