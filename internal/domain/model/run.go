package model

import (
	"fmt"
	"strings"
	"time"
)

// MaxRunTimeout is the upper bound accepted for RunOptions.Timeout.
const MaxRunTimeout = 24 * time.Hour

// RunOptions is the immutable configuration snapshot for one invocation.
// It is passed by value and never mutated after construction.
type RunOptions struct {
	Command      string
	Port         int // 0 binds an ephemeral port.
	Timeout      time.Duration
	BuildName    string
	Branch       string
	Commit       string
	Environment  string
	AllowNoToken bool
	Wait         bool
	WaitTimeout  time.Duration
	SetBaseline  bool
	Local        bool
}

// Validate checks the options and returns a *ValidationError listing every problem.
func (o RunOptions) Validate() error {
	var problems []string

	if strings.TrimSpace(o.Command) == "" {
		problems = append(problems, "test command is required")
	}
	if o.Port < 0 || o.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d is outside 0-65535", o.Port))
	}
	if o.Timeout < 0 {
		problems = append(problems, "timeout must not be negative")
	}
	if o.Timeout > MaxRunTimeout {
		problems = append(problems, fmt.Sprintf("timeout %s exceeds %s", o.Timeout, MaxRunTimeout))
	}
	if o.WaitTimeout < 0 {
		problems = append(problems, "wait timeout must not be negative")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ResolveMode decides how a run routes screenshots given whether an API token
// is available. It returns ErrTokenRequired when remote integration is needed
// but no token is configured.
func (o RunOptions) ResolveMode(hasToken bool) (Mode, error) {
	switch {
	case o.Local:
		return ModeLocal, nil
	case hasToken:
		return ModeAPI, nil
	case o.SetBaseline:
		// Baselines can be recorded locally without remote integration.
		return ModeLocal, nil
	case o.AllowNoToken:
		return ModeDisabled, nil
	default:
		return "", ErrTokenRequired
	}
}

// ComparisonSummary is the remote comparison outcome reported after processing.
type ComparisonSummary struct {
	Total  int
	Passed int
	Failed int
	New    int
}

// RunResult is produced exactly once per run, after teardown completes.
type RunResult struct {
	BuildID             string // Empty when no build was created.
	BuildURL            string
	Status              BuildStatus
	TestsPassed         int
	TestsFailed         int
	ScreenshotsCaptured int
	Comparisons         *ComparisonSummary
	Failed              bool
}
