package skills

import "fmt"

// RollbackConfig tunes the automatic rollback check.
type RollbackConfig struct {
	MinEvaluations   int     `yaml:"min_evaluations"`
	RollbackThreshold float64 `yaml:"rollback_threshold"`
}

// DefaultRollbackConfig matches the values proven out in practice: wait
// for at least 5 evaluations before judging a version, and roll back
// an auto-generated version whose success rate falls below 50%.
func DefaultRollbackConfig() RollbackConfig {
	return RollbackConfig{MinEvaluations: 5, RollbackThreshold: 0.5}
}

// CheckRollback restores a predecessor version: if the active
// version's recent evaluations (at least MinEvaluations of them) show a
// success rate below RollbackThreshold, and that version's source is
// "auto", its predecessor is restored as active. Returns whether a
// rollback happened.
func CheckRollback(store *Store, cfg RollbackConfig, skillName string) (bool, error) {
	active, ok, err := store.ActiveVersion(skillName)
	if err != nil {
		return false, fmt.Errorf("loading active version for rollback check: %w", err)
	}
	if !ok || active.Source != SourceAuto {
		return false, nil
	}
	if active.PredecessorID == 0 {
		return false, nil
	}

	stats, err := store.RecentEvaluations(skillName, cfg.MinEvaluations)
	if err != nil {
		return false, fmt.Errorf("loading evaluations for rollback check: %w", err)
	}
	if stats.Total < cfg.MinEvaluations {
		return false, nil
	}
	if stats.SuccessRate >= cfg.RollbackThreshold {
		return false, nil
	}

	if err := store.SetActiveVersion(skillName, active.PredecessorID); err != nil {
		return false, fmt.Errorf("restoring predecessor version: %w", err)
	}
	return true, nil
}
