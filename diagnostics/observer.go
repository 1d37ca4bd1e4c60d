package diagnostics

// Observer adapts a Stream into the engine.Observer shape so an Engine
// can be constructed with engine.WithObserver(diagnostics.NewObserver(stream)).
type Observer struct {
	stream *Stream
}

// NewObserver wraps stream as an engine.Observer.
func NewObserver(stream *Stream) *Observer {
	return &Observer{stream: stream}
}

func (o *Observer) OperationStarted(kind string) {
	o.stream.Publish(Event{Kind: "operation_started", Operation: kind})
}

func (o *Observer) OperationCompleted(kind string, err error) {
	ev := Event{Kind: "operation_completed", Operation: kind}
	if err != nil {
		ev.Kind = "operation_failed"
		ev.Error = err.Error()
	}
	o.stream.Publish(ev)
}

func (o *Observer) SocketRebound(fd int) {
	o.stream.Publish(Event{Kind: "socket_rebound", FD: fd})
}
