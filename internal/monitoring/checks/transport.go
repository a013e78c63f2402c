package checks

import (
	"context"
	"sort"
	"strings"

	"github.com/charlesng35/marketlive/internal/monitoring"
	"github.com/charlesng35/marketlive/internal/services"
	"github.com/charlesng35/marketlive/internal/transport"
)

// StatusSource reports realtime channel states.
type StatusSource interface {
	Status() services.TransportStatus
}

// Transport reports degraded when a realtime channel is disabled. Notifications keep
// flowing through polling, so the probe never reports down.
func Transport(source StatusSource) monitoring.Check {
	return monitoring.NewCheck("transport", func(context.Context) monitoring.ProbeResult {
		if source == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "realtime not configured"}
		}

		var disabled []string
		for channel, state := range source.Status() {
			if state == transport.StateDisabled {
				disabled = append(disabled, channel)
			}
		}
		if len(disabled) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp}
		}
		sort.Strings(disabled)
		return monitoring.ProbeResult{
			Status:  monitoring.StatusDegraded,
			Details: "disabled: " + strings.Join(disabled, ", "),
		}
	})
}
