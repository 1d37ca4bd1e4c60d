//go:build integration

// Package integration re-exercises the happy-path, failed-connect and
// timeout end-to-end scenarios, plus reconnect-with-backoff, against the
// wiring cmd/pgreactor-demo assembles (config, reactor, socket binder,
// engine, ops, diagnostics, reconnect) rather than engine_test.go's
// narrower raw-reactor-plus-ops unit coverage.
package integration

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/pgreactor/config"
	"github.com/coachpo/pgreactor/diagnostics"
	"github.com/coachpo/pgreactor/driver"
	"github.com/coachpo/pgreactor/driver/fake"
	"github.com/coachpo/pgreactor/engine"
	"github.com/coachpo/pgreactor/ops"
	"github.com/coachpo/pgreactor/reactor"
	"github.com/coachpo/pgreactor/reconnect"
	"github.com/coachpo/pgreactor/socket"
)

func newTestReactor(t *testing.T) reactor.Reactor {
	t.Helper()
	cfg := config.Default()
	r, err := reactor.New(reactor.Backend(cfg.Reactor.Backend), cfg.Reactor.Workers, cfg.Reactor.QueueDepth)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func dialWebsocket(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) diagnostics.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev diagnostics.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

// Scenario 1: happy-path batch, observed through the diagnostics stream
// an operator would actually connect a dashboard to.
func TestHappyPathBatchIsObservableEndToEnd(t *testing.T) {
	srv, err := fake.StartEchoServer()
	require.NoError(t, err)
	defer srv.Close()

	stream := diagnostics.NewStream(1000, 1000, time.Second)
	httpSrv := httptest.NewServer(stream)
	defer httpSrv.Close()
	wsConn := dialWebsocket(t, httpSrv)
	time.Sleep(50 * time.Millisecond)

	r := newTestReactor(t)
	dup := socket.NewDefaultDuplicator()

	connect, err := ops.NewConnect(func() (driver.Handle, error) {
		return fake.Dial(srv.Addr(), []fake.Step{{Status: driver.PollOK}})
	})
	require.NoError(t, err)

	eng, err := connect.Attach(r, dup, engine.WithObserver(diagnostics.NewObserver(stream)))
	require.NoError(t, err)
	defer eng.Close()

	_, err = connect.Completion().Wait()
	require.NoError(t, err)
	require.Equal(t, "operation_completed", readEvent(t, wsConn).Kind)

	create := ops.NewQuery(`CREATE TABLE "widgets" ("id" int)`, ops.ExpectCommandOK())
	eng.Add(create)
	_, err = create.Completion().Wait()
	require.NoError(t, err)
	require.Equal(t, "operation_completed", readEvent(t, wsConn).Kind)

	insert := ops.NewQuery(`INSERT INTO "widgets" ("id") VALUES (9)`, ops.ExpectCommandOK())
	eng.Add(insert)
	_, err = insert.Completion().Wait()
	require.NoError(t, err)
	require.Equal(t, "operation_completed", readEvent(t, wsConn).Kind)

	count := ops.NewQuery(`SELECT COUNT(*) FROM "widgets"`, ops.ExtractInt64Column(0))
	eng.Add(count)
	rows, err := count.Completion().Wait()
	require.NoError(t, err)
	require.Equal(t, []int64{1}, rows)
	require.Equal(t, "operation_completed", readEvent(t, wsConn).Kind)

	stream.Close()
}

// Scenario 2: a failed connect fails every operation queued behind it,
// and the diagnostics stream reports the failure rather than staying
// silent.
func TestFailedConnectFailsQueuedOperationsAndReportsFailure(t *testing.T) {
	srv, err := fake.StartStallServer()
	require.NoError(t, err)
	defer srv.Close()

	stream := diagnostics.NewStream(1000, 1000, time.Second)
	httpSrv := httptest.NewServer(stream)
	defer httpSrv.Close()
	wsConn := dialWebsocket(t, httpSrv)
	time.Sleep(50 * time.Millisecond)

	r := newTestReactor(t)
	dup := socket.NewDefaultDuplicator()

	connect, err := ops.NewConnect(func() (driver.Handle, error) {
		return fake.Dial(srv.Addr(), []fake.Step{{Status: driver.PollFailed, Message: "server closed connection"}})
	})
	require.NoError(t, err)

	eng, err := connect.Attach(r, dup, engine.WithObserver(diagnostics.NewObserver(stream)))
	require.NoError(t, err)
	defer eng.Close()

	queued := ops.NewQuery(`SELECT 1`, ops.ExpectCommandOK())

	eng.Add(queued)

	_, err = connect.Completion().Wait()
	require.Error(t, err)
	ev := readEvent(t, wsConn)
	require.Equal(t, "operation_failed", ev.Kind)
	require.NotEmpty(t, ev.Error)

	_, err = queued.Completion().Wait()
	require.Error(t, err, "operations queued behind a failed connect must also fail")

	stream.Close()
}

// Scenario 3: connect timeout, exercised through the same config-driven
// timeout field cmd/pgreactor-demo reads.
func TestConnectTimeoutThroughConfig(t *testing.T) {
	srv, err := fake.StartStallServer()
	require.NoError(t, err)
	defer srv.Close()

	r := newTestReactor(t)
	dup := socket.NewDefaultDuplicator()

	cfg := config.Default()
	cfg = config.Apply(cfg, config.WithConnectTimeout(5*time.Millisecond))

	connect, err := ops.NewConnect(func() (driver.Handle, error) {
		return fake.Dial(srv.Addr(), []fake.Step{{Status: driver.PollReading}, {Status: driver.PollReading}})
	})
	require.NoError(t, err)
	connect.WithTimeout(cfg.Connect.Timeout)

	eng, err := connect.Attach(r, dup)
	require.NoError(t, err)
	defer eng.Close()

	_, err = connect.Completion().Wait()
	require.Error(t, err)
}

// Reconnect: a flaky dial succeeds only on its third attempt, driven
// through reconnect.Run the way cmd/pgreactor-demo drives its initial
// connect.
func TestReconnectRetriesUntilConnectSucceeds(t *testing.T) {
	srv, err := fake.StartEchoServer()
	require.NoError(t, err)
	defer srv.Close()

	r := newTestReactor(t)
	dup := socket.NewDefaultDuplicator()

	attempts := 0
	policy := reconnect.Policy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsedTime: time.Second}

	eng, err := reconnect.Run(context.Background(), policy, func(ctx context.Context) (*engine.Engine, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("dial refused")
		}
		connect, err := ops.NewConnect(func() (driver.Handle, error) {
			return fake.Dial(srv.Addr(), []fake.Step{{Status: driver.PollOK}})
		})
		if err != nil {
			return nil, err
		}
		eng, err := connect.Attach(r, dup)
		if err != nil {
			return nil, err
		}
		if _, err := connect.Completion().Wait(); err != nil {
			eng.Close()
			return nil, err
		}
		return eng, nil
	})
	require.NoError(t, err)
	defer eng.Close()
	require.Equal(t, 3, attempts)

	query := ops.NewQuery(`CREATE TABLE "test" ("foo" int)`, ops.ExpectCommandOK())
	eng.Add(query)
	_, err = query.Completion().Wait()
	require.NoError(t, err)
}
