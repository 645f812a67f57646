// Package worker implements the per-service state machine:
// Down → Running → Exited → (Down|Running). One Worker owns one
// supervised child process over its entire supervised lifetime; it
// never propagates failures outward except through its status cell.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/hen6003/iodine/unitfile"
	"github.com/hen6003/iodine/wire"
)

// Backoff bounds for the spawn-retry policy: a worker whose spawn
// fails waits, doubling each time, before trying again.
const (
	DefaultBackoffMin      = 10 * time.Millisecond
	DefaultBackoffMax      = 1 * time.Second
	DefaultMaxSpawnRetries = 5
)

// Handle is what the supervisor keeps in its worker map: the status
// cell to read and the command channel to send on. Exactly one
// Handle exists per running service.
type Handle struct {
	status   *statusCell
	commands chan wire.ServiceCommand
}

// Status returns the worker's current status. Safe for concurrent use.
func (h *Handle) Status() wire.ServiceStatus {
	return h.status.get()
}

// Send enqueues a command for the worker to observe. It never blocks:
// the channel is large enough to hold one pending command, which is
// all the supervisor's single-request-at-a-time protocol ever needs.
func (h *Handle) Send(cmd wire.ServiceCommand) {
	select {
	case h.commands <- cmd:
	default:
		// A command is already queued; draining it and replacing it
		// with the newest one keeps "the last word wins" semantics
		// without blocking the connection handler.
		select {
		case <-h.commands:
		default:
		}
		h.commands <- cmd
	}
}

// Worker is the per-service supervising goroutine's private state.
type Worker struct {
	name    string
	unit    unitfile.UnitFile
	log     *slog.Logger
	wantUp  bool
	backoff time.Duration
	failed  int
}

// Start launches the worker goroutine for unit and returns the Handle
// the supervisor uses to control it. The worker begins with want_up
// true.
func Start(ctx context.Context, name string, unit unitfile.UnitFile, log *slog.Logger) *Handle {
	h := &Handle{
		status:   newStatusCell(),
		commands: make(chan wire.ServiceCommand, 1),
	}

	w := &Worker{
		name:    name,
		unit:    unit,
		log:     log,
		wantUp:  true,
		backoff: DefaultBackoffMin,
	}

	go w.run(ctx, h)

	return h
}

// run is the worker's main loop. It returns only when ctx is
// cancelled, which it checks between iterations and while waiting for
// a command, not while a child is running.
func (w *Worker) run(ctx context.Context, h *Handle) {
	for {
		if ctx.Err() != nil {
			return
		}

		if w.wantUp {
			w.runOnce(ctx, h)
			continue
		}

		select {
		case cmd := <-h.commands:
			w.applyDownCommand(cmd)
		case <-ctx.Done():
			return
		}
	}
}

// runOnce spawns the start command, publishes Running, waits for
// exit, publishes Crashed, applies oneshot policy, then drains any
// pending command without blocking.
func (w *Worker) runOnce(ctx context.Context, h *Handle) {
	cmd, err := w.unit.Start().Spawn()
	if err != nil {
		w.log.Warn("spawn failed", "service", w.name, "error", err)
		h.status.set(wire.Crashed(wire.ExitStatus{Kind: wire.ExitCode, Code: 255}))
		w.applyOneshot()
		w.applySpawnBackoff()
		w.applyPendingCommand(ctx, h)
		return
	}

	w.failed = 0
	w.backoff = DefaultBackoffMin

	h.status.set(wire.Running(uint32(cmd.Process.Pid)))
	w.log.Info("service started", "service", w.name, "pid", cmd.Process.Pid)

	exit := wait(cmd)
	h.status.set(wire.Crashed(exit))
	w.log.Info("service exited", "service", w.name, "exit", exit)

	w.applyOneshot()
	w.applyPendingCommand(ctx, h)
}

// applyOneshot is the oneshot policy: a oneshot service is never
// auto-respawned after it exits, successfully or not.
func (w *Worker) applyOneshot() {
	if w.unit.Service.Oneshot {
		w.wantUp = false
	}
}

// applySpawnBackoff is the capped-exponential-backoff policy for a
// worker whose spawn itself failed (as opposed to a supervised child
// that ran and then exited). After DefaultMaxSpawnRetries consecutive
// spawn failures the worker stops auto-respawning and waits for an
// explicit command.
func (w *Worker) applySpawnBackoff() {
	if !w.wantUp {
		return // oneshot already turned off auto-respawn
	}

	w.failed++
	if w.failed >= DefaultMaxSpawnRetries {
		w.log.Warn("spawn retry limit reached, waiting for a command", "service", w.name, "attempts", w.failed)
		w.wantUp = false
		return
	}

	time.Sleep(w.backoff)
	w.backoff *= 2
	if w.backoff > DefaultBackoffMax {
		w.backoff = DefaultBackoffMax
	}
}

// applyPendingCommand performs the non-blocking poll the state
// diagram calls for right after an exit: a queued Down/Kill wins over
// the respawn loop, while Up/Restart simply confirms want_up.
func (w *Worker) applyPendingCommand(ctx context.Context, h *Handle) {
	select {
	case cmd := <-h.commands:
		switch cmd {
		case wire.CommandDown, wire.CommandKill:
			w.wantUp = false
			h.status.set(wire.Down())
		case wire.CommandUp, wire.CommandRestart:
			w.wantUp = true
			w.failed = 0
			w.backoff = DefaultBackoffMin
		case wire.CommandStatus:
			// Status is never delivered to a worker; ignore defensively.
		}
	case <-ctx.Done():
	default:
	}
}

// applyDownCommand handles the blocking recv a down worker performs
// while waiting for its next command.
func (w *Worker) applyDownCommand(cmd wire.ServiceCommand) {
	switch cmd {
	case wire.CommandDown, wire.CommandKill:
		// Already down; nothing changes.
	case wire.CommandUp, wire.CommandRestart:
		w.wantUp = true
		w.failed = 0
		w.backoff = DefaultBackoffMin
	case wire.CommandStatus:
	}
}

// wait blocks for the child to exit and classifies how it exited.
func wait(cmd *exec.Cmd) wire.ExitStatus {
	err := cmd.Wait()
	if err == nil {
		return wire.ExitStatus{Kind: wire.ExitCode, Code: 0}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return wire.ExitStatus{Kind: wire.ExitSignal, Signal: int32(ws.Signal())}
		}
		return wire.ExitStatus{Kind: wire.ExitCode, Code: uint8(exitErr.ExitCode())}
	}

	return wire.ExitStatus{Kind: wire.ExitCode, Code: 255}
}
