package edge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// PeriodicSync refreshes every route registered for tag and returns the
// first refresh failure.
func (in *Intermediary) PeriodicSync(ctx context.Context, tag string) error {
	routes, ok := in.manifest.Periodic[tag]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	var g errgroup.Group
	g.SetLimit(in.installLimit)
	for _, route := range routes {
		g.Go(func() error {
			if err := in.refresh(ctx, route); err != nil {
				return fmt.Errorf("refreshing %s: %w", route, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// RunPeriodic fires every periodic tag once per interval until ctx is
// cancelled.
func (in *Intermediary) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	tags := make([]string, 0, len(in.manifest.Periodic))
	for tag := range in.manifest.Periodic {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tag := range tags {
				if err := in.PeriodicSync(ctx, tag); err != nil {
					in.logger.Warn("periodic sync failed", "tag", tag, "error", err)
				}
			}
		}
	}
}
