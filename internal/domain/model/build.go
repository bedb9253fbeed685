package model

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Build is one test run's unit of work. It is a value type: every operation
// below returns a new Build and leaves its input untouched, so snapshots held
// by readers never change underneath them.
type Build struct {
	ID          string
	Name        string
	Branch      string
	Commit      string
	Environment string
	Mode        Mode
	URL         string // Remote build URL; empty in local mode.
	Status      BuildStatus
	CreatedAt   time.Time
	CompletedAt time.Time
	Screenshots []Screenshot
	Metadata    map[string]string
}

// FinalizeResult carries the outcome recorded on a build when it is finalized.
type FinalizeResult struct {
	Success   bool
	Cancelled bool
	Elapsed   time.Duration
	Metadata  map[string]string
	At        time.Time
}

// NewBuild allocates a pending build with a fresh random identifier.
func NewBuild(opts RunOptions, mode Mode) Build {
	return newBuildWithID(uuid.NewString(), opts, mode)
}

// NewBuildWithID allocates a pending build mirroring an identifier issued elsewhere,
// e.g. by the remote build API.
func NewBuildWithID(id string, opts RunOptions, mode Mode) Build {
	return newBuildWithID(id, opts, mode)
}

func newBuildWithID(id string, opts RunOptions, mode Mode) Build {
	name := opts.BuildName
	if name == "" {
		name = "Build " + time.Now().UTC().Format(time.RFC3339)
	}
	return Build{
		ID:          id,
		Name:        name,
		Branch:      opts.Branch,
		Commit:      opts.Commit,
		Environment: opts.Environment,
		Mode:        mode,
		Status:      BuildStatusPending,
		CreatedAt:   time.Now().UTC(),
		Metadata:    map[string]string{},
	}
}

// Clone returns a deep copy that shares no mutable state with b.
func (b Build) Clone() Build {
	c := b
	if b.Screenshots != nil {
		c.Screenshots = make([]Screenshot, len(b.Screenshots))
		for i, s := range b.Screenshots {
			c.Screenshots[i] = s.Clone()
		}
	}
	if b.Metadata != nil {
		c.Metadata = maps.Clone(b.Metadata)
	}
	return c
}

// IsTerminal reports whether the build has reached a terminal status.
func (b Build) IsTerminal() bool {
	return b.Status.IsTerminal()
}

// Elapsed returns the run duration, or zero while the build is still open.
func (b Build) Elapsed() time.Duration {
	if b.CompletedAt.IsZero() {
		return 0
	}
	return b.CompletedAt.Sub(b.CreatedAt)
}

// Transition moves b to status to and applies update to the copy. Transitions
// out of a terminal status and transitions that move backwards are rejected
// with ErrInvalidTransition.
func Transition(b Build, to BuildStatus, update func(*Build)) (Build, error) {
	if to.rank() < 0 {
		return b, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if b.Status.IsTerminal() {
		return b, fmt.Errorf("%w: build %s is already %s", ErrInvalidTransition, b.ID, b.Status)
	}
	if to.rank() <= b.Status.rank() {
		return b, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}

	next := b.Clone()
	next.Status = to
	if update != nil {
		update(&next)
	}
	return next, nil
}

// AttachScreenshot appends s to the build identified by buildID.
func AttachScreenshot(b Build, buildID string, s Screenshot) (Build, error) {
	if b.ID != buildID {
		return b, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}
	if b.Status.IsTerminal() {
		return b, fmt.Errorf("%w: build %s is %s", ErrBuildClosed, b.ID, b.Status)
	}

	next := b.Clone()
	if s.AttachedAt.IsZero() {
		s.AttachedAt = time.Now().UTC()
	}
	next.Screenshots = append(next.Screenshots, s.Clone())
	return next, nil
}

// Finalize records the run outcome. A build that is already terminal is
// returned unchanged so finalize can be reached from more than one exit path.
func Finalize(b Build, result FinalizeResult) Build {
	if b.Status.IsTerminal() {
		return b
	}

	to := BuildStatusFailed
	switch {
	case result.Cancelled:
		to = BuildStatusCancelled
	case result.Success:
		to = BuildStatusCompleted
	}

	at := result.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	next, err := Transition(b, to, func(nb *Build) {
		nb.CompletedAt = at
		if nb.Metadata == nil {
			nb.Metadata = map[string]string{}
		}
		for k, v := range result.Metadata {
			nb.Metadata[k] = v
		}
		if result.Elapsed > 0 {
			nb.Metadata["elapsed_ms"] = fmt.Sprintf("%d", result.Elapsed.Milliseconds())
		}
	})
	if err != nil {
		// b is non-terminal, so every terminal target outranks it.
		return b
	}
	return next
}
