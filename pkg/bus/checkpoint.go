package bus

import (
	"sync"
	"time"

	"github.com/slimbus-go/slimbus/pkg/errors"
)

// CheckpointConfig is the (after, every) pair that must be identical for
// every consumer settings sharing one (topic, group) (invariant 3, §4.2).
type CheckpointConfig struct {
	// After commits once this many messages have been processed since the
	// last reset. Zero disables the counter trigger.
	After int

	// Every commits once this much wall-clock time has elapsed since the
	// last reset. Zero disables the timer trigger.
	Every time.Duration
}

// checkpointTrigger accumulates a counter and/or wall-clock window and
// signals "checkpoint now" via Increment (§4.2 "Checkpoint trigger").
type checkpointTrigger struct {
	cfg CheckpointConfig

	mu      sync.Mutex
	count   int
	started time.Time
}

func newCheckpointTrigger(cfg CheckpointConfig) *checkpointTrigger {
	return &checkpointTrigger{cfg: cfg, started: time.Now()}
}

// Increment records one processed message and reports whether a checkpoint
// is due.
func (t *checkpointTrigger) Increment() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++

	if t.cfg.After > 0 && t.count >= t.cfg.After {
		return true
	}
	if t.cfg.Every > 0 && time.Since(t.started) >= t.cfg.Every {
		return true
	}
	return false
}

// Reset clears both the counter and the elapsed-time window. Called after a
// commit, and on partition (re)assignment.
func (t *checkpointTrigger) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count = 0
	t.started = time.Now()
}

// ValidateCheckpointConsistency enforces invariant 3: every endpoint sharing
// a (Path, Group) must declare the identical CheckpointConfig. It is called
// once at Bus.Start and fails fast with a descriptive error otherwise.
func ValidateCheckpointConsistency(endpoints []Endpoint) error {
	type key struct {
		path  string
		group string
	}
	seen := make(map[key]CheckpointConfig)

	for _, ep := range endpoints {
		if ep.Group == "" {
			continue
		}
		k := key{path: ep.Path, group: ep.Group}
		cfg, ok := seen[k]
		if !ok {
			seen[k] = ep.Checkpoint
			continue
		}
		if cfg != ep.Checkpoint {
			return errors.New(CodeConfigInvalid,
				"checkpoint settings differ for topic "+ep.Path+" group "+ep.Group, nil)
		}
	}
	return nil
}
