// Command pgreactor-demo wires every package in this module together
// end to end: configuration, telemetry, the reactor, the socket
// binder, the execution engine, the connect/reset/query operations,
// the diagnostics websocket stream, and reconnect-with-backoff.
//
// It drives the fake driver (package driver/fake) rather than a real
// Postgres wire-protocol client: the execution core this module
// implements is defined entirely in terms of the driver.Handle
// contract, and no concrete libpq-style client ships in this module
// (see DESIGN.md). Any type satisfying driver.Handle plugs into the
// same engine, ops, and socket wiring demonstrated here.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coachpo/pgreactor/config"
	"github.com/coachpo/pgreactor/diagnostics"
	"github.com/coachpo/pgreactor/driver"
	"github.com/coachpo/pgreactor/driver/fake"
	"github.com/coachpo/pgreactor/engine"
	"github.com/coachpo/pgreactor/ops"
	"github.com/coachpo/pgreactor/reactor"
	"github.com/coachpo/pgreactor/reconnect"
	"github.com/coachpo/pgreactor/socket"
	"github.com/coachpo/pgreactor/telemetry"
)

const demoLoggerPrefix = "pgreactor-demo "

func main() {
	cfgPath := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, demoLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
	telemetry.SetLogger(stdlibAdapter{logger})

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	providers, shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		logger.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	metricsObserver, err := telemetry.NewEngineObserver(providers.MeterProvider, telemetry.Log())
	if err != nil {
		logger.Fatalf("init metrics observer: %v", err)
	}

	stream := diagnostics.NewStream(cfg.Diagnostics.EventsPerSecond, cfg.Diagnostics.Burst, cfg.Diagnostics.WriteTimeout)
	mux := http.NewServeMux()
	mux.Handle("/diagnostics", stream)
	diagServer := &http.Server{Addr: cfg.Diagnostics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := diagServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("diagnostics server: %v", err)
		}
	}()
	logger.Printf("diagnostics stream listening on %s", cfg.Diagnostics.ListenAddr)

	srv, err := fake.StartEchoServer()
	if err != nil {
		logger.Fatalf("start loopback server: %v", err)
	}
	defer srv.Close()

	r, err := reactor.New(reactor.Backend(cfg.Reactor.Backend), cfg.Reactor.Workers, cfg.Reactor.QueueDepth)
	if err != nil {
		logger.Fatalf("init reactor: %v", err)
	}

	dup := socket.NewDefaultDuplicator()

	eng, err := connectWithRetry(ctx, cfg, srv, r, dup, metricsObserver, stream)
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer eng.Close()
	logger.Print("connected; running demo queries")

	if err := runDemoQueries(eng); err != nil {
		logger.Printf("demo queries: %v", err)
	}

	logger.Print("demo running; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := diagServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("diagnostics server shutdown: %v", err)
	}
	stream.Close()
}

func parseFlags() string {
	path := flag.String("config", "", "path to a pgreactor YAML configuration file (optional)")
	flag.Parse()
	return *path
}

func connectWithRetry(ctx context.Context, cfg config.Settings, srv *fake.EchoServer, r reactor.Reactor, dup socket.Duplicator, metricsObserver engine.Observer, stream *diagnostics.Stream) (*engine.Engine, error) {
	policy := reconnect.Policy{
		InitialInterval: cfg.Reconnect.InitialInterval,
		MaxInterval:     cfg.Reconnect.MaxInterval,
		MaxElapsedTime:  cfg.Reconnect.MaxElapsedTime,
	}

	return reconnect.Run(ctx, policy, func(ctx context.Context) (*engine.Engine, error) {
		connect, err := ops.NewConnect(func() (driver.Handle, error) {
			return fake.Dial(srv.Addr(), []fake.Step{{Status: driver.PollOK}})
		})
		if err != nil {
			return nil, err
		}
		if cfg.Connect.Timeout > 0 {
			connect.WithTimeout(cfg.Connect.Timeout)
		}

		eng, err := connect.Attach(r, dup,
			engine.WithObserver(multiObserver{metricsObserver, diagnostics.NewObserver(stream)}),
		)
		if err != nil {
			return nil, err
		}
		if _, err := connect.Completion().Wait(); err != nil {
			eng.Close()
			return nil, err
		}
		return eng, nil
	})
}

func runDemoQueries(eng *engine.Engine) error {
	create := ops.NewQuery(`CREATE TABLE "demo" ("value" int)`, ops.ExpectCommandOK())
	eng.Add(create)
	if _, err := create.Completion().Wait(); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	insert := ops.NewQuery(`INSERT INTO "demo" ("value") VALUES (1)`, ops.ExpectCommandOK())
	eng.Add(insert)
	if _, err := insert.Completion().Wait(); err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	count := ops.NewQuery(`SELECT COUNT(*) FROM "demo"`, ops.ExtractInt64Column(0))
	eng.Add(count)
	rows, err := count.Completion().Wait()
	if err != nil {
		return fmt.Errorf("select count: %w", err)
	}
	if len(rows) != 1 {
		return fmt.Errorf("select count: expected one row, got %d", len(rows))
	}
	return nil
}

// multiObserver fans engine.Observer callbacks out to every delegate.
type multiObserver []engine.Observer

func (m multiObserver) OperationStarted(kind string) {
	for _, o := range m {
		o.OperationStarted(kind)
	}
}

func (m multiObserver) OperationCompleted(kind string, err error) {
	for _, o := range m {
		o.OperationCompleted(kind, err)
	}
}

func (m multiObserver) SocketRebound(fd int) {
	for _, o := range m {
		o.SocketRebound(fd)
	}
}

// stdlibAdapter routes telemetry.Logger calls through a *log.Logger, the
// same ambient logging surface the teacher's cmd/gateway/main.go uses.
type stdlibAdapter struct {
	logger *log.Logger
}

func (a stdlibAdapter) Debug(msg string, fields ...telemetry.Field) { a.log("DEBUG", msg, fields) }
func (a stdlibAdapter) Info(msg string, fields ...telemetry.Field)  { a.log("INFO", msg, fields) }
func (a stdlibAdapter) Error(msg string, fields ...telemetry.Field) { a.log("ERROR", msg, fields) }

func (a stdlibAdapter) log(level, msg string, fields []telemetry.Field) {
	a.logger.Printf("%s %s %v", level, msg, fields)
}
