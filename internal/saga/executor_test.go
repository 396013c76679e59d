package saga

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingStep(name string, order *[]string, failExecute bool) Step {
	return Step{
		Name: name,
		Execute: func(context.Context) error {
			*order = append(*order, "exec:"+name)
			if failExecute {
				return errors.New(name + " exploded")
			}
			return nil
		},
		Rollback: func(context.Context) error {
			*order = append(*order, "rollback:"+name)
			return nil
		},
	}
}

func TestExecuteRunsStepsInOrder(t *testing.T) {
	ex := NewExecutor(time.Second, 1, time.Millisecond)
	var order []string

	result := ex.Execute(context.Background(), "tx-1", []Step{
		recordingStep("A", &order, false),
		recordingStep("B", &order, false),
		recordingStep("C", &order, false),
	})

	if !result.Success {
		t.Fatalf("expected success, got %v", result.Err)
	}
	if result.RollbackExecuted {
		t.Fatalf("rollback should not run on success")
	}
	want := []string{"exec:A", "exec:B", "exec:C"}
	assertOrder(t, order, want)
	if len(result.ExecutedSteps) != 3 {
		t.Fatalf("expected 3 executed steps, got %v", result.ExecutedSteps)
	}
}

func TestExecuteCompensatesInReverseOrder(t *testing.T) {
	ex := NewExecutor(time.Second, 1, time.Millisecond)
	var order []string

	result := ex.Execute(context.Background(), "tx-2", []Step{
		recordingStep("A", &order, false),
		recordingStep("B", &order, false),
		recordingStep("C", &order, true),
	})

	if result.Success {
		t.Fatalf("expected failure")
	}
	if !result.RollbackExecuted {
		t.Fatalf("expected rollback to run")
	}
	var stepErr *StepExecutionError
	if !errors.As(result.Err, &stepErr) || stepErr.Step != "C" {
		t.Fatalf("expected StepExecutionError for C, got %v", result.Err)
	}
	assertOrder(t, order, []string{"exec:A", "exec:B", "exec:C", "rollback:C", "rollback:B", "rollback:A"})
}

func TestExecuteStepTimeout(t *testing.T) {
	ex := NewExecutor(20*time.Millisecond, 1, time.Millisecond)
	rolledBack := 0

	result := ex.Execute(context.Background(), "tx-3", []Step{
		{
			Name: "slow",
			Execute: func(context.Context) error {
				time.Sleep(200 * time.Millisecond)
				return nil
			},
			Rollback: func(context.Context) error {
				rolledBack++
				return nil
			},
		},
	})

	if result.Success {
		t.Fatalf("expected timeout failure")
	}
	var timeoutErr *StepTimeoutError
	if !errors.As(result.Err, &timeoutErr) {
		t.Fatalf("expected StepTimeoutError, got %v", result.Err)
	}
	if rolledBack != 1 {
		t.Fatalf("expected the timed-out step to be compensated once, got %d", rolledBack)
	}
}

func TestRollbackIsIdempotentPerContext(t *testing.T) {
	ex := NewExecutor(time.Second, 1, time.Millisecond)
	rollbackCalls := 0
	steps := []Step{
		{
			Name:    "only",
			Execute: func(context.Context) error { return nil },
			Rollback: func(context.Context) error {
				rollbackCalls++
				return nil
			},
		},
	}

	tc := &txContext{id: "tx-4", steps: steps}
	ex.rollbackFrom(context.Background(), tc, 0)
	ex.rollbackFrom(context.Background(), tc, 0)

	if rollbackCalls != 1 {
		t.Fatalf("expected exactly one rollback call, got %d", rollbackCalls)
	}
}

func TestRollbackFailureDoesNotBlockEarlierSteps(t *testing.T) {
	ex := NewExecutor(time.Second, 1, time.Millisecond)
	var order []string

	steps := []Step{
		recordingStep("A", &order, false),
		{
			Name:    "B",
			Execute: func(context.Context) error { order = append(order, "exec:B"); return nil },
			Rollback: func(context.Context) error {
				order = append(order, "rollback:B")
				return errors.New("compensation broke")
			},
		},
		recordingStep("C", &order, true),
	}

	result := ex.Execute(context.Background(), "tx-5", steps)
	if result.Success {
		t.Fatalf("expected failure")
	}
	assertOrder(t, order, []string{"exec:A", "exec:B", "exec:C", "rollback:C", "rollback:B", "rollback:A"})
}

func TestExecuteWithRetrySucceedsOnLaterAttempt(t *testing.T) {
	ex := NewExecutor(time.Second, 3, time.Millisecond)
	attempts := 0

	result := ex.ExecuteWithRetry(context.Background(), "tx-6", []Step{
		{
			Name: "flaky",
			Execute: func(context.Context) error {
				attempts++
				if attempts < 3 {
					return errors.New("transient")
				}
				return nil
			},
		},
	})

	if !result.Success {
		t.Fatalf("expected eventual success, got %v", result.Err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsLastFailure(t *testing.T) {
	ex := NewExecutor(time.Second, 2, time.Millisecond)
	attempts := 0

	result := ex.ExecuteWithRetry(context.Background(), "tx-7", []Step{
		{
			Name: "doomed",
			Execute: func(context.Context) error {
				attempts++
				return errors.New("permanent")
			},
		},
	})

	if result.Success {
		t.Fatalf("expected failure")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
