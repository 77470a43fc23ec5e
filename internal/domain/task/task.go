// Package task defines the task lifecycle state machine and dedup grouping rules.
package task

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Status is a task lifecycle state.
type Status string

const (
	// StatusOpen is the initial actionable state.
	StatusOpen Status = "open"
	// StatusBlocked marks a task waiting on other tasks.
	StatusBlocked Status = "blocked"
	// StatusInProgress marks active work.
	StatusInProgress Status = "in_progress"
	// StatusDone is the successful terminal-ish state; done tasks can reopen.
	StatusDone Status = "done"
	// StatusCancelled is the hard terminal state.
	StatusCancelled Status = "cancelled"
	// StatusSnoozed marks a task deferred until a wake time.
	StatusSnoozed Status = "snoozed"
)

// Priority is a task priority band, p0 highest.
type Priority string

const (
	PriorityP0 Priority = "p0"
	PriorityP1 Priority = "p1"
	PriorityP2 Priority = "p2"
	PriorityP3 Priority = "p3"
)

// IsValid reports whether the status is a recognized lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusBlocked, StatusInProgress, StatusDone, StatusCancelled, StatusSnoozed:
		return true
	}
	return false
}

// IsValid reports whether the priority is a recognized band.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Cancelled is terminal. Done only allows reopening.
func CanTransition(from, to Status) bool {
	if !from.IsValid() || !to.IsValid() || from == to {
		return false
	}
	switch from {
	case StatusCancelled:
		return false
	case StatusDone:
		return to == StatusOpen
	}
	return true
}

// DedupGroupID derives the dedup group for a task from its normalized
// content. Tasks with the same normalized title, body, and project land in
// the same group.
func DedupGroupID(title, body, project string) string {
	normalized := normalize(title) + "|" + normalize(body) + "|" + normalize(project)
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
