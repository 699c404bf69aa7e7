// Package resilience drives a generation call through an ordered chain of
// provider candidates, retrying whole rounds with linear backoff when every
// candidate reports a retryable failure.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	DefaultMaxRounds = 3
	DefaultBaseDelay = 2 * time.Second
)

var (
	// ErrFatal marks an attempt failure that must not be retried.
	ErrFatal = errors.New("fatal provider failure")
	// ErrExhausted is returned when every round ended with retryable failures.
	ErrExhausted = errors.New("provider candidates exhausted")
	// ErrNoCandidates is returned when Generate is called with an empty chain.
	ErrNoCandidates = errors.New("no provider candidates configured")
)

// Candidate is one provider in the fallback chain. Lower Priority runs first.
type Candidate struct {
	ID       string
	Priority int
}

// Ordered returns a copy of candidates sorted by Priority. Candidates with
// equal priority keep their relative order.
func Ordered(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Kind classifies the outcome of one provider call.
type Kind int

const (
	KindSuccess Kind = iota + 1
	KindRetryable
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return "invalid"
	}
}

// Outcome is the tagged result of a single provider call.
type Outcome[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

func Success[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: KindSuccess, Value: v}
}

func Retryable[T any](err error) Outcome[T] {
	if err == nil {
		err = errors.New("retryable failure")
	}
	return Outcome[T]{Kind: KindRetryable, Err: err}
}

func Fatal[T any](err error) Outcome[T] {
	if err == nil {
		err = errors.New("fatal failure")
	}
	return Outcome[T]{Kind: KindFatal, Err: err}
}

// CallFunc performs one provider call for the given candidate.
type CallFunc[T any] func(ctx context.Context, c Candidate) Outcome[T]

// Attempt describes one finished call, reported to Options.Observer.
type Attempt struct {
	Candidate Candidate
	Round     int
	Kind      Kind
	Err       error
	Duration  time.Duration
}

// Options tunes a Generate run. The zero value uses the package defaults.
type Options struct {
	MaxRounds int
	BaseDelay time.Duration

	// Sleep waits between rounds. It must return early with ctx.Err() when
	// ctx is cancelled. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error

	// Observer, when set, is called after every attempt.
	Observer func(Attempt)
}

func (o Options) withDefaults() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.BaseDelay < 0 {
		o.BaseDelay = 0
	} else if o.BaseDelay == 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// Result summarises a Generate run.
type Result struct {
	Candidate Candidate
	Attempts  int
	Rounds    int
}

// Error carries the candidate and round of a terminal failure. It matches
// ErrFatal or ErrExhausted with errors.Is and unwraps to the provider reason.
type Error struct {
	Kind      Kind
	Candidate Candidate
	Round     int
	Err       error
}

func (e *Error) Error() string {
	if e.Kind == KindFatal {
		return fmt.Sprintf("candidate %s failed (round %d): %v", e.Candidate.ID, e.Round, e.Err)
	}
	return fmt.Sprintf("all candidates rate limited after %d rounds, last %s: %v", e.Round, e.Candidate.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrFatal:
		return e.Kind == KindFatal
	case ErrExhausted:
		return e.Kind == KindRetryable
	}
	return false
}

// Generate invokes call for each candidate in priority order, round after
// round, until one succeeds, one fails fatally, or MaxRounds rounds have
// ended with retryable failures. Between rounds it waits BaseDelay*round.
//
// Generate holds no state between invocations; concurrent calls are
// independent.
func Generate[T any](ctx context.Context, call CallFunc[T], candidates []Candidate, opts Options) (T, Result, error) {
	var zero T
	opts = opts.withDefaults()

	chain := Ordered(candidates)
	if len(chain) == 0 {
		return zero, Result{}, ErrNoCandidates
	}

	var res Result
	var last *Error
	for round := 1; round <= opts.MaxRounds; round++ {
		res.Rounds = round
		for _, c := range chain {
			if err := ctx.Err(); err != nil {
				return zero, res, err
			}

			start := time.Now()
			out := call(ctx, c)
			res.Attempts++

			// A call that resolves after the caller gave up is discarded.
			if err := ctx.Err(); err != nil {
				return zero, res, err
			}

			if opts.Observer != nil {
				opts.Observer(Attempt{Candidate: c, Round: round, Kind: out.Kind, Err: out.Err, Duration: time.Since(start)})
			}

			switch out.Kind {
			case KindSuccess:
				res.Candidate = c
				return out.Value, res, nil
			case KindRetryable:
				last = &Error{Kind: KindRetryable, Candidate: c, Round: round, Err: out.Err}
			case KindFatal:
				res.Candidate = c
				return zero, res, &Error{Kind: KindFatal, Candidate: c, Round: round, Err: out.Err}
			default:
				res.Candidate = c
				return zero, res, &Error{Kind: KindFatal, Candidate: c, Round: round, Err: fmt.Errorf("invalid outcome kind %d", out.Kind)}
			}
		}

		if round < opts.MaxRounds {
			if err := opts.Sleep(ctx, opts.BaseDelay*time.Duration(round)); err != nil {
				return zero, res, err
			}
		}
	}

	res.Candidate = last.Candidate
	return zero, res, last
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
