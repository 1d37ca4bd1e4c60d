package ops

import (
	"testing"

	"github.com/coachpo/pgreactor/driver"
	"github.com/coachpo/pgreactor/driver/fake"
	"github.com/coachpo/pgreactor/pgerr"
)

func TestResetBeginFailsWhenStartResetRejected(t *testing.T) {
	srv, err := fake.StartEchoServer()
	if err != nil {
		t.Fatalf("StartEchoServer: %v", err)
	}
	defer srv.Close()

	h, err := fake.Dial(srv.Addr(), []fake.Step{{Status: driver.PollOK}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	// No reset script configured: StartReset reports false.
	r := NewReset()
	_, err = r.Begin(h)
	if !pgerr.IsConnectionError(err) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestResetBeginReturnsWriteOnSuccess(t *testing.T) {
	srv, err := fake.StartEchoServer()
	if err != nil {
		t.Fatalf("StartEchoServer: %v", err)
	}
	defer srv.Close()

	h, err := fake.Dial(srv.Addr(), []fake.Step{{Status: driver.PollOK}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	h.SetResetScript([]fake.Step{{Status: driver.PollOK}})

	r := NewReset()
	status, err := r.Begin(h)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if status.String() != "write" {
		t.Fatalf("expected write, got %v", status)
	}
}

func TestResetPerformMapsPollStatuses(t *testing.T) {
	srv, err := fake.StartEchoServer()
	if err != nil {
		t.Fatalf("StartEchoServer: %v", err)
	}
	defer srv.Close()

	h, err := fake.Dial(srv.Addr(), []fake.Step{{Status: driver.PollOK}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	h.SetResetScript([]fake.Step{
		{Status: driver.PollReading},
		{Status: driver.PollOK},
	})

	r := NewReset()
	if _, err := r.Begin(h); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	status, err := r.Perform(h, driver.Readable)
	if err != nil || status.String() != "read" {
		t.Fatalf("step 1: status=%v err=%v", status, err)
	}
	status, err = r.Perform(h, driver.Readable)
	if err != nil || status.String() != "done" {
		t.Fatalf("step 2: status=%v err=%v", status, err)
	}
}

func TestResetCompleteFailurePropagates(t *testing.T) {
	r := NewReset()
	boom := pgerr.NewConnectionError("boom")
	r.Complete(boom)
	if _, err := r.Completion().Wait(); err != boom {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}
