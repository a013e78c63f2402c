package checks

import (
	"context"
	"time"

	"github.com/charlesng35/marketlive/internal/cache"
	"github.com/charlesng35/marketlive/internal/monitoring"
)

// StateStore probes the client-state store. In-memory stores are always up.
func StateStore(store cache.Store) monitoring.Check {
	return monitoring.NewCheck("state_store", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "state store not configured"}
		}

		pinger, ok := store.(cache.Pinger)
		if !ok {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "in-memory", Duration: time.Since(start)}
		}
		return monitoring.ResultFromError("state_store", pinger.Ping(ctx), time.Since(start))
	})
}
