package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
	"github.com/ericfisherdev/shotrun/internal/domain/port/driven"
)

// WaitPolicy bounds polling for remote processing after a build is finalized.
type WaitPolicy struct {
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultWaitPolicy polls with exponential backoff for up to five minutes.
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		Timeout:         5 * time.Minute,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxRetries:      120,
	}
}

var errNotProcessed = errors.New("build still processing")

// waitForProcessing polls the remote build until its comparisons are ready.
// A missing build is permanent; every other failure is retried until the
// policy is exhausted.
func waitForProcessing(ctx context.Context, api driven.BuildAPI, buildID string, policy WaitPolicy) (model.ComparisonSummary, error) {
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	expo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		expo.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		expo.MaxInterval = policy.MaxInterval
	}
	// The context deadline bounds the total wait.
	expo.MaxElapsedTime = 0

	var b backoff.BackOff = expo
	if policy.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, policy.MaxRetries)
	}

	var summary model.ComparisonSummary
	op := func() error {
		state, err := api.GetBuild(ctx, buildID)
		if err != nil {
			if errors.Is(err, model.ErrBuildNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		if !state.Processed {
			return errNotProcessed
		}
		summary = state.Comparisons
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return model.ComparisonSummary{}, fmt.Errorf("wait for build %s: %w", buildID, err)
	}
	return summary, nil
}
