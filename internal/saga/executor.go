// Package saga contains the generic compensating-transaction executor and
// the offer-acceptance saga built on top of it.
package saga

import (
	"context"
	"log"
	"time"

	"offer-pipeline/internal/retry"
	"offer-pipeline/internal/telemetry"
)

// Step pairs a forward action with its compensation. Rollback may be nil for
// steps with nothing to undo.
type Step struct {
	Name     string
	Execute  func(ctx context.Context) error
	Rollback func(ctx context.Context) error
}

// TxResult is the outcome of one transaction run.
type TxResult struct {
	TransactionID    string
	Success          bool
	ExecutedSteps    []string
	RollbackExecuted bool
	Duration         time.Duration
	Err              error
}

// Executor runs ordered step lists with per-step timeouts, reverse-order
// compensation on failure, and optional whole-transaction retry.
type Executor struct {
	stepTimeout time.Duration
	retryPolicy retry.Policy
}

// NewExecutor builds an executor. Zero values fall back to a 30s step
// timeout and a 3-attempt exponential retry budget.
func NewExecutor(stepTimeout time.Duration, maxAttempts int, backoffBase time.Duration) *Executor {
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &Executor{
		stepTimeout: stepTimeout,
		retryPolicy: retry.Policy{MaxAttempts: maxAttempts, Backoff: retry.Exponential(backoffBase)},
	}
}

// txContext is the ephemeral per-run state. It is created at transaction
// start and discarded at the end; it is never persisted.
type txContext struct {
	id           string
	steps        []Step
	currentStep  int
	rollbackDone bool
}

// Execute runs the steps strictly in order. On the first failure at index i
// it compensates steps i..0 in reverse and reports the step's error.
func (e *Executor) Execute(ctx context.Context, id string, steps []Step) TxResult {
	start := time.Now()
	tc := &txContext{id: id, steps: steps}

	for i, step := range steps {
		tc.currentStep = i
		if err := e.runStep(ctx, step); err != nil {
			e.rollbackFrom(ctx, tc, i)
			return TxResult{
				TransactionID:    id,
				Success:          false,
				ExecutedSteps:    stepNames(steps[:i]),
				RollbackExecuted: tc.rollbackDone,
				Duration:         time.Since(start),
				Err:              err,
			}
		}
	}

	return TxResult{
		TransactionID: id,
		Success:       true,
		ExecutedSteps: stepNames(steps),
		Duration:      time.Since(start),
	}
}

// ExecuteWithRetry re-runs the whole transaction with exponential backoff,
// returning the first successful result or the last failed one.
func (e *Executor) ExecuteWithRetry(ctx context.Context, id string, steps []Step) TxResult {
	var result TxResult
	err := e.retryPolicy.Do(ctx, func(ctx context.Context) error {
		result = e.Execute(ctx, id, steps)
		if !result.Success {
			return result.Err
		}
		return nil
	})
	if err != nil && result.Err == nil {
		// Context cancellation during a backoff wait.
		result = TxResult{TransactionID: id, Success: false, Err: err}
	}
	return result
}

// runStep executes one step under the configured timeout. The step function
// runs in its own goroutine so a step that ignores its context cannot stall
// the transaction past the deadline.
func (e *Executor) runStep(ctx context.Context, step Step) error {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- step.Execute(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &StepExecutionError{Step: step.Name, Err: err}
		}
		return nil
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return &StepExecutionError{Step: step.Name, Err: ctx.Err()}
		}
		return &StepTimeoutError{Step: step.Name, Timeout: e.stepTimeout}
	}
}

// rollbackFrom compensates steps failedIdx..0 in reverse order. It is
// idempotent per transaction context, and a failing compensation never
// blocks the remaining ones.
func (e *Executor) rollbackFrom(ctx context.Context, tc *txContext, failedIdx int) {
	if tc.rollbackDone {
		return
	}
	tc.rollbackDone = true

	for i := failedIdx; i >= 0; i-- {
		step := tc.steps[i]
		if step.Rollback == nil {
			continue
		}
		if err := step.Rollback(ctx); err != nil {
			rbErr := &RollbackError{Step: step.Name, Err: err}
			telemetry.SagaRollbackErrors.Inc()
			log.Printf("transaction %s: %v", tc.id, rbErr)
		}
	}
}

func stepNames(steps []Step) []string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Name)
	}
	return names
}
