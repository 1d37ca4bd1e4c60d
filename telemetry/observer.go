package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// EngineObserver implements engine.Observer (duck-typed here to avoid a
// telemetry->engine import edge the other direction doesn't need): it
// logs operation lifecycle events and records counters against the
// configured meter provider.
type EngineObserver struct {
	logger             Logger
	operationsStarted  metric.Int64Counter
	operationsComplete metric.Int64Counter
	operationsFailed   metric.Int64Counter
	rebinds            metric.Int64Counter
}

// NewEngineObserver builds an observer recording metrics through mp and
// logging through logger. A nil logger falls back to the package-global
// Log().
func NewEngineObserver(mp metric.MeterProvider, logger Logger) (*EngineObserver, error) {
	if logger == nil {
		logger = Log()
	}
	meter := mp.Meter("github.com/coachpo/pgreactor/engine")

	started, err := meter.Int64Counter("pgreactor.operations.started")
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64Counter("pgreactor.operations.completed")
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("pgreactor.operations.failed")
	if err != nil {
		return nil, err
	}
	rebinds, err := meter.Int64Counter("pgreactor.socket.rebinds")
	if err != nil {
		return nil, err
	}

	return &EngineObserver{
		logger:             logger,
		operationsStarted:  started,
		operationsComplete: completed,
		operationsFailed:   failed,
		rebinds:            rebinds,
	}, nil
}

func (o *EngineObserver) OperationStarted(kind string) {
	o.operationsStarted.Add(context.Background(), 1)
	o.logger.Debug("operation started", Field{Key: "kind", Value: kind})
}

func (o *EngineObserver) OperationCompleted(kind string, err error) {
	if err != nil {
		o.operationsFailed.Add(context.Background(), 1)
		o.logger.Error("operation failed", Field{Key: "kind", Value: kind}, Field{Key: "error", Value: err.Error()})
		return
	}
	o.operationsComplete.Add(context.Background(), 1)
	o.logger.Debug("operation completed", Field{Key: "kind", Value: kind})
}

func (o *EngineObserver) SocketRebound(fd int) {
	o.rebinds.Add(context.Background(), 1)
	o.logger.Debug("socket rebound", Field{Key: "fd", Value: fd})
}
