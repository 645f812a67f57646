package worker

import (
	"context"
	"io"
	"log/slog"
	"syscall"
	"testing"
	"time"

	"github.com/hen6003/iodine/unitfile"
	"github.com/hen6003/iodine/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForStatus(t *testing.T, h *Handle, want wire.StateTag, timeout time.Duration) wire.ServiceStatus {
	t.Helper()
	deadline := time.After(timeout)
	for {
		st := h.Status()
		if st.Tag == want {
			return st
		}
		select {
		case <-deadline:
			t.Fatalf("status did not reach %v within %v, last seen %+v", want, timeout, st)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func killProcess(t *testing.T, pid int) {
	t.Helper()
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		t.Fatalf("kill pid %d: %v", pid, err)
	}
}

func TestWorkerUpDown(t *testing.T) {
	unit, err := unitfile.Parse([]byte(`
[commands.start]
command = "sleep 5"
`))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Start(ctx, "echo", unit, discardLogger())

	st := waitForStatus(t, h, wire.StatusRunning, time.Second)
	if st.PID == 0 {
		t.Fatal("expected a positive pid")
	}

	// Down alone only clears want_up; the supervisor is responsible for
	// signalling the child. Kill it ourselves to let the worker observe
	// the exit and publish Down once applyPendingCommand sees the Down.
	h.Send(wire.CommandDown)
	killProcess(t, int(st.PID))

	waitForStatus(t, h, wire.StatusDown, time.Second)

	// No respawn should happen while want_up is false.
	time.Sleep(50 * time.Millisecond)
	if got := h.Status(); got.Tag != wire.StatusDown {
		t.Errorf("worker respawned after Down: status = %+v", got)
	}
}

func TestWorkerOneshot(t *testing.T) {
	unit, err := unitfile.Parse([]byte(`
[service]
oneshot = true

[commands.start]
command = "true"
`))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Start(ctx, "once", unit, discardLogger())

	st := waitForStatus(t, h, wire.StatusCrashed, time.Second)
	if st.Exit.Code != 0 {
		t.Errorf("exit code = %d, want 0", st.Exit.Code)
	}

	// A oneshot service must not be auto-respawned; status should stay Crashed.
	time.Sleep(50 * time.Millisecond)
	if got := h.Status(); got.Tag != wire.StatusCrashed {
		t.Errorf("oneshot respawned itself: status = %+v", got)
	}

	// An explicit Up triggers exactly one more run.
	h.Send(wire.CommandUp)
	waitForStatus(t, h, wire.StatusRunning, time.Second)
	waitForStatus(t, h, wire.StatusCrashed, time.Second)
}

func TestWorkerRestartGetsNewPID(t *testing.T) {
	unit, err := unitfile.Parse([]byte(`
[commands.start]
command = "sleep 5"
`))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Start(ctx, "echo", unit, discardLogger())

	first := waitForStatus(t, h, wire.StatusRunning, time.Second)

	// Simulate what the supervisor does on Restart: enqueue the
	// command, then signal the child directly.
	h.Send(wire.CommandRestart)
	killProcess(t, int(first.PID))

	deadline := time.After(2 * time.Second)
	for {
		st := h.Status()
		if st.Tag == wire.StatusRunning && st.PID != first.PID {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("never observed a new pid after restart; last=%+v first=%+v", st, first)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWorkerSpawnFailureBackoffGivesUp(t *testing.T) {
	unit, err := unitfile.Parse([]byte(`
[commands.start]
command = "true"
user = "this-user-should-not-exist-anywhere"
`))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Start(ctx, "broken", unit, discardLogger())

	// Every spawn attempt fails; after DefaultMaxSpawnRetries the
	// worker should give up and stop trying, leaving status Crashed.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("worker never settled after exhausting spawn retries")
		default:
		}
		time.Sleep(200 * time.Millisecond)
		if h.Status().Tag == wire.StatusCrashed {
			break
		}
	}

	settled := h.Status()
	time.Sleep(300 * time.Millisecond)
	if got := h.Status(); got != settled {
		t.Errorf("worker kept retrying past the spawn retry cap: before=%+v after=%+v", settled, got)
	}
}
