package chathook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithEvents restricts the extension to the listed events. By default
// every event is reported. Unknown events are silently ignored.
func WithEvents(events ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(events))
		for _, ev := range events {
			e.enabled[ev] = true
		}
	}
}

// WithLogger sets a custom logger for the extension.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}
