package storage

import (
	"fmt"

	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/schema"
)

// State is a step of the per-store mutation cycle.
type State int

const (
	StateIdle State = iota
	StateBackedUp
	StateWorkingCopyOpen
	StateCountedAffected
	StateDeleted
	StateCommitted
	StateCompacted
	StateSwapped
	StateBackupRemoved
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:            "Idle",
	StateBackedUp:        "BackedUp",
	StateWorkingCopyOpen: "WorkingCopyOpen",
	StateCountedAffected: "CountedAffected",
	StateDeleted:         "Deleted",
	StateCommitted:       "Committed",
	StateCompacted:       "Compacted",
	StateSwapped:         "Swapped",
	StateBackupRemoved:   "BackupRemoved",
	StateDone:            "Done",
	StateFailed:          "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MutationResult is the outcome of one store's cycle.
type MutationResult struct {
	Path   string
	Family schema.Family

	// RowsRemoved is the affected-visit count taken before deletion.
	RowsRemoved  int64
	PagesRemoved int64

	Succeeded bool
	// Skipped stores were never touched: missing, or the window is finer
	// than the store supports.
	Skipped bool

	// State is Done on success, otherwise the last state reached before
	// the failure.
	State State
	Err   error

	// BackupPath is set when a backup file was left on disk.
	BackupPath       string
	RestoreAttempted bool
}

// ErrorDetail returns the failure message, or "" on success.
func (r MutationResult) ErrorDetail() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Kind returns the failure kind name, e.g. "SwapFailed".
func (r MutationResult) Kind() string {
	return hxerr.KindOf(r.Err)
}
