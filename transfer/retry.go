package transfer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AttemptState is the state of an object type's retry loop.
type AttemptState int

const (
	Attempting AttemptState = iota
	DoneSuccess
	DonePartial
	Retry
	DoneExhausted
)

var attemptStateNames = [...]string{
	Attempting:    "ATTEMPTING",
	DoneSuccess:   "DONE_SUCCESS",
	DonePartial:   "DONE_PARTIAL",
	Retry:         "RETRY",
	DoneExhausted: "DONE_EXHAUSTED",
}

func (s AttemptState) String() string {
	if s < 0 || int(s) >= len(attemptStateNames) {
		return fmt.Sprintf("AttemptState(%d)", int(s))
	}
	return attemptStateNames[s]
}

func (s AttemptState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Done reports whether the loop stops in this state.
func (s AttemptState) Done() bool {
	return s == DoneSuccess || s == DonePartial || s == DoneExhausted
}

// Cycle performs one full attempt for an object type: read, resolve, split and
// transfer. It must re-read its records on every call.
type Cycle func(ctx context.Context, attempt int) (TransferOutcome, error)

// RetryCoordinator runs a cycle until no record fails or the attempts run out.
type RetryCoordinator struct {
	MaxRetries       int
	TolerateFailures bool
	Delay            time.Duration
	Logger           *zap.Logger
	Metrics          *Metrics
	// OnTransition is called on every state change, if set.
	OnTransition func(objecttype string, attempt int, state AttemptState)
}

// Next returns the state after an attempt (0 based) ended with failure failed records.
func (c RetryCoordinator) Next(attempt, failure int) AttemptState {
	switch {
	case failure == 0:
		return DoneSuccess
	case attempt+1 < c.MaxRetries:
		return Retry
	case c.TolerateFailures:
		return DonePartial
	default:
		return DoneExhausted
	}
}

// Run drives the retry loop for one object type. Only the outcome of the last
// attempt is returned. A DONE_EXHAUSTED loop returns an *ExhaustedError alongside
// the outcome. Hook and configuration errors from the cycle end the loop at once;
// other cycle errors use up an attempt.
func (c RetryCoordinator) Run(ctx context.Context, objecttype string, cycle Cycle) (TransferOutcome, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("object", objecttype))
	maxretries := c.MaxRetries
	if maxretries < 1 {
		maxretries = 1
	}

	var outcome TransferOutcome
	for attempt := 0; attempt < maxretries; attempt++ {
		c.transition(objecttype, attempt, Attempting)
		if attempt > 0 {
			if err := c.wait(ctx); err != nil {
				return outcome, err
			}
		}

		o, err := cycle(ctx, attempt)
		o.ObjectType = objecttype
		o.Attempts = attempt + 1
		if err != nil {
			if !retryable(err) || ctx.Err() != nil {
				return o, err
			}
			if attempt+1 >= maxretries {
				o.State = DoneExhausted
				c.transition(objecttype, attempt, DoneExhausted)
				return o, fmt.Errorf("%s gave up after %d attempts %w", objecttype, attempt+1, err)
			}
			logger.Warn("attempt failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
			c.transition(objecttype, attempt, Retry)
			outcome = o
			continue
		}

		if o.Total == 0 && o.Requests == 0 {
			// nothing staged, nothing sent
			o.Attempts = 0
			o.State = DoneSuccess
			c.transition(objecttype, attempt, DoneSuccess)
			return o, nil
		}

		o.State = c.Next(attempt, o.Failure)
		c.transition(objecttype, attempt, o.State)
		switch o.State {
		case DoneSuccess:
			return o, nil
		case DonePartial:
			logger.Warn("tolerating failed records", zap.Int("failure", o.Failure), zap.Int("total", o.Total))
			return o, nil
		case DoneExhausted:
			return o, &ExhaustedError{Outcome: o}
		}
		logger.Info("retrying", zap.Int("attempt", attempt+1), zap.Int("failure", o.Failure), zap.Int("total", o.Total))
		outcome = o
	}
	return outcome, nil
}

func (c RetryCoordinator) transition(objecttype string, attempt int, state AttemptState) {
	if state.Done() || state == Retry {
		c.Metrics.observeAttempt(objecttype, state)
	}
	if c.OnTransition != nil {
		c.OnTransition(objecttype, attempt, state)
	}
}

func (c RetryCoordinator) wait(ctx context.Context) error {
	if c.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
