package engine

// Option configures an Engine at construction time, the functional-options
// idiom used throughout this module for optional, additive configuration.
type Option func(*Engine)

// WithObserver attaches a diagnostics observer. The default is a no-op.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}
