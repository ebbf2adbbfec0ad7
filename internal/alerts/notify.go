package alerts

import "context"

// Notifier delivers critical alerts to the people who can act on them.
type Notifier interface {
	NotifyCriticalAlerts(ctx context.Context, recipients []string, items []Alert) error
}

// Critical returns the critical-severity subset of items, preserving order.
func Critical(items []Alert) []Alert {
	out := make([]Alert, 0, len(items))
	for _, a := range items {
		if a.Severity == SeverityCritical {
			out = append(out, a)
		}
	}
	return out
}
