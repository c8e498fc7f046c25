package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/poltergeist/conveyor/pkg/logger"
	"github.com/poltergeist/conveyor/pkg/types"
)

// ErrRunFinished is returned by Update once the run reached a terminal status
var ErrRunFinished = errors.New("run already finished")

// Saver persists snapshots; satisfied by FileStore and SQLiteStore
type Saver interface {
	Save(snapshot ExecutionState) error
}

// Tracker guards an ExecutionState. Every mutation goes through Update,
// which applies it under one lock acquisition and then persists the result.
type Tracker struct {
	mu     sync.RWMutex
	state  ExecutionState
	saver  Saver
	logger logger.Logger
}

// NewTracker creates a tracker holding a not-started record
func NewTracker(initial ExecutionState, saver Saver, log logger.Logger) *Tracker {
	if log == nil {
		log = logger.Discard()
	}
	return &Tracker{
		state:  initial.Clone(),
		saver:  saver,
		logger: log,
	}
}

// Snapshot returns a deep copy of the current record
func (t *Tracker) Snapshot() ExecutionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Clone()
}

// Update applies fn to a working copy and commits it if the resulting status
// transition is allowed. Persistence failures are logged, not returned, so a
// broken store never changes the outcome of a run.
func (t *Tracker) Update(fn func(s *ExecutionState)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status.IsTerminal() {
		return ErrRunFinished
	}

	next := t.state.Clone()
	fn(&next)

	if !transitionAllowed(t.state.Status, next.Status) {
		return fmt.Errorf("invalid status transition %s -> %s", t.state.Status, next.Status)
	}
	t.state = next

	if t.saver != nil {
		if err := t.saver.Save(t.state.Clone()); err != nil {
			t.logger.Warn("Failed to persist execution state",
				logger.WithField("pipeline", t.state.PipelineName),
				logger.WithError(err))
		}
	}
	return nil
}

var statusRank = map[types.PipelineStatus]int{
	types.StatusNotStarted: 0,
	types.StatusRunning:    1,
	types.StatusStopped:    2,
	types.StatusFailed:     2,
	types.StatusCompleted:  2,
}

func transitionAllowed(from, to types.PipelineStatus) bool {
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank >= statusRank[from]
}
