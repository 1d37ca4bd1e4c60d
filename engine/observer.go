package engine

// Observer is an optional hook for diagnostics (logging, metrics) around
// the engine's operation lifecycle. It is not part of spec §4.E/§6 — the
// core is externally silent — but SPEC_FULL.md wires it so the telemetry
// and diagnostics packages can observe a running engine without coupling
// to its internals. All methods must return promptly: they run on the
// reactor worker driving the operation.
type Observer interface {
	OperationStarted(kind string)
	OperationCompleted(kind string, err error)
	SocketRebound(fd int)
}

type noopObserver struct{}

func (noopObserver) OperationStarted(string)          {}
func (noopObserver) OperationCompleted(string, error)  {}
func (noopObserver) SocketRebound(int)                 {}
