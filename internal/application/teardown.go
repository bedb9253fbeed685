package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
)

// teardownStep is one named action of the teardown sequence.
type teardownStep struct {
	name string
	run  func(ctx context.Context) error
}

// runTeardown executes every step in order. A step that fails or panics is
// recorded and the sequence continues, so later steps (stopping the server)
// always run. The aggregated error is for reporting only; callers must never
// let it replace the run's primary error.
func runTeardown(ctx context.Context, logger *slog.Logger, steps ...teardownStep) error {
	var result *multierror.Error

	for _, step := range steps {
		if err := runStep(ctx, step); err != nil {
			logger.Error("teardown step failed", "step", step.name, "error", err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		logger.Debug("teardown step complete", "step", step.name)
	}

	return result.ErrorOrNil()
}

func runStep(ctx context.Context, step teardownStep) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return step.run(ctx)
}
