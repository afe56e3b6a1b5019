package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	applogger "StockPulse/pkg/logger"
)

// Executor is the pure work function of one worker kind. It knows nothing
// about retries, timeouts, or state transitions.
type Executor interface {
	Kind() models.AnalysisKind
	Execute(ctx context.Context, inv *models.Invocation) ([]byte, error)
}

// TerminalFunc is invoked after the harness performs a sub-task's terminal
// transition. The coordinator registers one on the data-fetch kind to drive
// the analysis fan-out.
type TerminalFunc func(ctx context.Context, taskID string, succeeded bool) error

// Policy bounds one invocation: total wall-clock budget, attempt count, and
// the backoff window between transient failures.
type Policy struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	Timeout     time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BackoffMin <= 0 {
		p.BackoffMin = 200 * time.Millisecond
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = 5 * time.Second
	}
	if p.Timeout <= 0 {
		p.Timeout = 60 * time.Second
	}
	return p
}

// Harness wraps executors into broker handlers. It is the only place retry
// and timeout policy lives: idempotency guard against duplicate delivery,
// bounded retry with exponential backoff for transient errors, a wall-clock
// budget after which the sub-task is timed out, and the terminal write.
type Harness struct {
	store   drepo.TaskStore
	metrics drepo.Metrics
	logger  *applogger.Logger
}

func NewHarness(store drepo.TaskStore, metrics drepo.Metrics, logger *applogger.Logger) *Harness {
	return &Harness{store: store, metrics: metrics, logger: logger}
}

// Handler builds the broker handler for one executor. onTerminal may be nil.
func (h *Harness) Handler(exec Executor, policy Policy, onTerminal TerminalFunc) drepo.InvocationHandler {
	policy = policy.withDefaults()

	return func(ctx context.Context, inv *models.Invocation) error {
		kind := exec.Kind()
		log := h.logger.With(
			applogger.String("task_id", inv.TaskID),
			applogger.String("kind", string(kind)),
		)

		// Idempotency guard: a record already terminal means a duplicate
		// delivery, a missing record means the task expired. Both drop.
		current, err := h.store.GetSubTask(ctx, inv.TaskID, kind)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				log.Debug("invocation for unknown sub-task dropped")
				return nil
			}
			return err
		}
		if current.State.Terminal() {
			log.Debug("duplicate delivery dropped", applogger.String("state", string(current.State)))
			return nil
		}

		start := time.Now().UTC()
		runCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		defer cancel()

		final, result, execErr := h.run(runCtx, exec, inv, current, policy, log)
		if errors.Is(execErr, errLostRace) {
			log.Debug("concurrent delivery finished first")
			return nil
		}

		now := time.Now().UTC()
		terminal := &models.SubTask{
			TaskID:       inv.TaskID,
			Kind:         kind,
			State:        final,
			AttemptCount: current.AttemptCount,
			StartedAt:    current.StartedAt,
			FinishedAt:   &now,
		}
		switch final {
		case models.StateSucceeded:
			terminal.Result = result
		default:
			terminal.Error = execErr.Error()
		}

		if err := h.store.TransitionSubTask(ctx, terminal); err != nil {
			if errors.Is(err, models.ErrTerminalState) {
				// A concurrent delivery finished first; its outcome stands.
				log.Debug("terminal write lost race")
				return nil
			}
			if errors.Is(err, models.ErrNotFound) {
				log.Debug("task expired before terminal write")
				return nil
			}
			return err
		}

		h.metrics.RecordSubTaskTerminal(string(kind), string(final))
		h.metrics.RecordExecutionLatency(string(kind), time.Since(start).Seconds())
		if final != models.StateSucceeded {
			h.metrics.RecordError(string(kind))
			log.Warn("sub-task failed",
				applogger.String("state", string(final)),
				applogger.Int("attempts", terminal.AttemptCount),
				applogger.Error(execErr),
			)
		} else {
			log.Info("sub-task succeeded", applogger.Int("attempts", terminal.AttemptCount))
		}

		if onTerminal != nil {
			return onTerminal(ctx, inv.TaskID, final == models.StateSucceeded)
		}
		return nil
	}
}

// errLostRace signals that another delivery reached the terminal state while
// this one was still marking the sub-task running.
var errLostRace = errors.New("sub-task already terminal")

// run drives the attempt loop and returns the terminal state plus result or
// last error. current is mutated to track attempt count and start time.
func (h *Harness) run(
	ctx context.Context,
	exec Executor,
	inv *models.Invocation,
	current *models.SubTask,
	policy Policy,
	log *applogger.Logger,
) (models.SubTaskState, []byte, error) {
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if current.StartedAt == nil {
			t := time.Now().UTC()
			current.StartedAt = &t
		}
		current.State = models.StateRunning
		current.AttemptCount = attempt
		if err := h.store.TransitionSubTask(ctx, current); err != nil {
			if errors.Is(err, models.ErrTerminalState) {
				return models.StateFailed, nil, errLostRace
			}
			return models.StateFailed, nil, fmt.Errorf("mark running: %w", err)
		}

		result, err := exec.Execute(ctx, inv)
		if err == nil {
			return models.StateSucceeded, result, nil
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return models.StateTimedOut, nil, fmt.Errorf("wall-clock budget of %s exceeded: %w", policy.Timeout, lastErr)
		}
		if !models.IsTransient(err) {
			return models.StateFailed, nil, lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := backoffDelay(policy.BackoffMin, policy.BackoffMax, attempt)
		log.Debug("transient error, retrying",
			applogger.Int("attempt", attempt),
			applogger.Duration("backoff_ms", delay),
			applogger.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return models.StateTimedOut, nil, fmt.Errorf("wall-clock budget of %s exceeded: %w", policy.Timeout, lastErr)
		}
	}

	return models.StateFailed, nil, fmt.Errorf("gave up after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// backoffDelay doubles per attempt within [min, max] and adds up to 25%
// jitter to spread synchronized retries.
func backoffDelay(min, max time.Duration, attempt int) time.Duration {
	d := min << (attempt - 1)
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	if d+jitter > max {
		return max
	}
	return d + jitter
}
