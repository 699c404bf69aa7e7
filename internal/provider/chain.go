package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrisense/agrisensed/internal/resilience"
)

// ChainOptions configures a Chain.
type ChainOptions struct {
	MaxRounds int
	BaseDelay time.Duration
	// Timeout bounds one call to one candidate. Zero leaves only the
	// provider's own HTTP timeout.
	Timeout time.Duration
	Limiter *Limiter
	// Observer receives every attempt (metrics).
	Observer func(resilience.Attempt)
	// Sleep overrides the backoff wait (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Chain is the ordered set of candidates handed to the orchestrator.
type Chain struct {
	candidates []resilience.Candidate
	byID       map[string]Provider
	opts       ChainOptions
	now        func() time.Time
}

// NewChain orders providers by their position in the argument list.
// Duplicate names keep the first occurrence.
func NewChain(opts ChainOptions, providers ...Provider) *Chain {
	c := &Chain{byID: make(map[string]Provider, len(providers)), opts: opts, now: time.Now}
	for _, p := range providers {
		if p == nil {
			continue
		}
		id := p.Name()
		if _, dup := c.byID[id]; dup {
			continue
		}
		c.byID[id] = p
		c.candidates = append(c.candidates, resilience.Candidate{ID: id, Priority: len(c.candidates)})
	}
	return c
}

// Candidates returns the chain in priority order.
func (c *Chain) Candidates() []resilience.Candidate {
	return resilience.Ordered(c.candidates)
}

func (c *Chain) Len() int { return len(c.candidates) }

func (c *Chain) call(req Request) resilience.CallFunc[string] {
	return func(ctx context.Context, cand resilience.Candidate) resilience.Outcome[string] {
		p := c.byID[cand.ID]
		if p == nil {
			return resilience.Fatal[string](fmt.Errorf("unknown candidate %q", cand.ID))
		}
		if !c.opts.Limiter.Allow(cand.ID, c.now()) {
			return resilience.Retryable[string](fmt.Errorf("%w: local budget for %s spent", ErrRateLimited, cand.ID))
		}

		callCtx := ctx
		if c.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
			defer cancel()
		}

		text, err := p.Generate(callCtx, req)
		if err == nil && req.Accept != nil {
			if aerr := req.Accept(text); aerr != nil {
				err = fmt.Errorf("%w: unusable answer from %s: %v", ErrUnavailable, cand.ID, aerr)
			}
		}
		out := Outcome(text, err)
		if out.Kind != resilience.KindSuccess {
			slog.Debug("provider attempt failed", "candidate", cand.ID, "kind", out.Kind, "error", err)
		}
		return out
	}
}

// Generate runs req through the orchestrator over the chain.
func (c *Chain) Generate(ctx context.Context, req Request) (string, resilience.Result, error) {
	return resilience.Generate(ctx, c.call(req), c.candidates, resilience.Options{
		MaxRounds: c.opts.MaxRounds,
		BaseDelay: c.opts.BaseDelay,
		Sleep:     c.opts.Sleep,
		Observer:  c.opts.Observer,
	})
}
