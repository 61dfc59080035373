package journal

import (
	"context"
	"time"
)

// Pruner removes entries older than a retention window.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Logger is the subset of the application logger retention uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// RunRetention prunes once immediately and then every interval until ctx
// is cancelled.
func RunRetention(ctx context.Context, p Pruner, retention, interval time.Duration, log Logger) {
	prune := func() {
		n, err := p.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("journal prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			log.Info("journal pruned", "deleted", n, "retention", retention.String())
		}
	}

	prune()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
