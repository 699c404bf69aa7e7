package provider

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Probe reports whether the providers' network is reachable. Any HTTP
// response from target counts as online; the answer is cached for ttl.
// Callers arriving while a check is in flight share its result.
type Probe struct {
	target string
	client *http.Client
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu      sync.Mutex
	checked time.Time
	online  bool
}

func NewProbe(target string, ttl time.Duration) *Probe {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Probe{
		target: target,
		client: &http.Client{Timeout: 3 * time.Second},
		ttl:    ttl,
		now:    time.Now,
	}
}

func (p *Probe) Online(ctx context.Context) bool {
	if online, ok := p.cached(); ok {
		return online
	}

	// The check outlives any one caller; the client timeout bounds it.
	ch := p.group.DoChan(p.target, func() (any, error) {
		online := p.check(context.WithoutCancel(ctx))
		p.mu.Lock()
		p.online, p.checked = online, p.now()
		p.mu.Unlock()
		return online, nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (p *Probe) cached() (online, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checked.IsZero() || p.now().Sub(p.checked) >= p.ttl {
		return false, false
	}
	return p.online, true
}

func (p *Probe) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.target, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Static is a fixed connectivity answer.
type Static bool

func (s Static) Online(context.Context) bool { return bool(s) }
