package fake

import (
	"testing"

	"github.com/coachpo/pgreactor/driver"
)

func TestStoreHappyPathBatch(t *testing.T) {
	s := NewStore()

	if _, err := s.Exec(`CREATE TABLE "test" ("foo" int)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := s.Exec(`INSERT INTO "test" ("foo") VALUES (1)`); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := s.Exec(`INSERT INTO "test" ("foo") VALUES (2)`); err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	countRes, err := s.Exec(`SELECT COUNT(*) FROM "test"`)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if got := countRes.GetValue(0, 0); got != "2" {
		t.Fatalf("expected count 2, got %q", got)
	}

	minRes, err := s.Exec(`SELECT MIN("foo") FROM "test"`)
	if err != nil {
		t.Fatalf("min: %v", err)
	}
	if got := minRes.GetValue(0, 0); got != "1" {
		t.Fatalf("expected min 1, got %q", got)
	}
}

func TestStoreInsertWithoutTableErrors(t *testing.T) {
	s := NewStore()
	if _, err := s.Exec(`INSERT INTO "test" ("foo") VALUES (1)`); err == nil {
		t.Fatal("expected error inserting before table creation")
	}
}

func TestStoreUnrecognizedStatement(t *testing.T) {
	s := NewStore()
	if _, err := s.Exec(`DROP TABLE "test"`); err == nil {
		t.Fatal("expected error for unrecognized statement")
	}
}

func TestHandleDialAndFinishOnce(t *testing.T) {
	srv, err := StartEchoServer()
	if err != nil {
		t.Fatalf("start echo server: %v", err)
	}
	defer srv.Close()

	h, err := Dial(srv.Addr(), []Step{{Status: driver.PollWriting}, {Status: driver.PollOK}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if h.Socket() < 0 {
		t.Fatal("expected a valid socket fd")
	}

	h.Finish()
	if !h.Finished() {
		t.Fatal("expected Finished() to report true")
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on double Finish")
		}
	}()
	h.Finish()
}

func TestHandleConnectScriptFailure(t *testing.T) {
	srv, err := StartStallServer()
	if err != nil {
		t.Fatalf("start stall server: %v", err)
	}
	defer srv.Close()

	h, err := Dial(srv.Addr(), []Step{{Status: driver.PollFailed, Message: "connection refused\n"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer h.Finish()

	if got := h.ConnectPoll(); got != driver.PollFailed {
		t.Fatalf("expected PollFailed, got %v", got)
	}
	if msg := h.LastFailureMessage(); msg != "connection refused\n" {
		t.Fatalf("unexpected failure message: %q", msg)
	}
}
