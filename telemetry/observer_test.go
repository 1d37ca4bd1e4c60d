package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

type recordingLogger struct {
	debugs []string
	errors []string
}

func (l *recordingLogger) Debug(msg string, fields ...Field) { l.debugs = append(l.debugs, msg) }
func (l *recordingLogger) Info(msg string, fields ...Field)  {}
func (l *recordingLogger) Error(msg string, fields ...Field) { l.errors = append(l.errors, msg) }

func TestEngineObserverRecordsLifecycle(t *testing.T) {
	logger := &recordingLogger{}
	obs, err := NewEngineObserver(noop.NewMeterProvider(), logger)
	require.NoError(t, err)

	obs.OperationStarted("query")
	obs.OperationCompleted("query", nil)
	obs.OperationCompleted("query", errBoom)
	obs.SocketRebound(5)

	require.Len(t, logger.debugs, 3)
	require.Len(t, logger.errors, 1)
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
