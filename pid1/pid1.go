// Package pid1 implements the PID 1 init process: it strictly refuses
// to run as anything other than process 1, drives the
// start/service/shutdown stage scripts, and reaps every orphaned
// child for the life of the system.
package pid1

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
)

// Version is reported by the -v flag.
const Version = "0.1.0"

// Stage directory and script names; these are the only files init
// ever spawns directly. Declared as vars, not consts, so tests can
// point them at fixture scripts instead of /etc/iodine.
var (
	stageDir       = "/etc/iodine"
	startScript    = stageDir + "/start"
	serviceScript  = stageDir + "/service"
	shutdownScript = stageDir + "/shutdown"
)

// bootSuccessCode is the exit status the start stage must return for
// boot to be considered successful; anything else is a boot failure.
const bootSuccessCode = 111

// ShutdownMode selects which stage argument and reboot command the
// shutdown path uses.
type ShutdownMode int

const (
	PowerOff ShutdownMode = iota
	Reboot
	CtrlAltDelete
)

func (m ShutdownMode) String() string {
	switch m {
	case PowerOff:
		return "poweroff"
	case Reboot:
		return "reboot"
	case CtrlAltDelete:
		return "ctrlaltdelete"
	default:
		return "unknown"
	}
}

// ErrNotPID1 is returned, and treated as fatal, when Init is invoked
// by a process other than PID 1.
var ErrNotPID1 = fmt.Errorf("pid1: must run as process 1")

// Init runs the full PID 1 lifecycle: boot, supervise, and (eventually)
// shutdown. It never returns on success — the process ends via the
// Linux reboot syscall. It returns an error only when this process is
// not PID 1.
func Init(log *slog.Logger) error {
	if os.Getpid() != 1 {
		return ErrNotPID1
	}

	if log == nil {
		log = slog.Default()
	}

	if !boot(log) {
		log.Error("start stage did not report success, powering off")
		shutdown(log, PowerOff)
		return nil
	}

	supervise(log)
	return nil
}

// spawnStage starts one of the three stage scripts as a direct child
// and returns immediately without waiting, except for the start stage
// whose caller waits explicitly.
func spawnStage(path string, args ...string) (*exec.Cmd, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pid1: spawning %s: %w", path, err)
	}
	return cmd, nil
}

// boot spawns the start stage, then masks all signals on the current
// OS thread while it waits for the stage, and reports whether it
// exited with the boot-success code.
func boot(log *slog.Logger) bool {
	cmd, err := spawnStage(startScript)
	if err != nil {
		log.Error("failed to spawn start stage", "error", err)
		return false
	}

	// Keep the mask and the unmask on the same OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := blockAllSignals(); err != nil {
		log.Error("failed to mask signals for boot", "error", err)
	}

	err = cmd.Wait()

	if uerr := unblockAllSignals(); uerr != nil {
		log.Error("failed to unmask signals after boot", "error", uerr)
	}

	if err == nil {
		return cmd.ProcessState.ExitCode() == bootSuccessCode
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode() == bootSuccessCode
	}

	return false
}

// supervise installs the PID 1 signal handling facility, disables the
// kernel's own Ctrl-Alt-Delete handling, spawns the service stage, and
// runs the signal loop forever.
func supervise(log *slog.Logger) {
	sigCh := installSignals()

	if err := disableCtrlAltDelete(); err != nil {
		log.Warn("failed to redirect ctrl-alt-delete to SIGINT", "error", err)
	}

	if _, err := spawnStage(serviceScript); err != nil {
		log.Error("failed to spawn service stage", "error", err)
	}

	signalLoop(context.Background(), log, sigCh)
}

// shutdown spawns the shutdown stage with the right mode argument
// (best-effort, not waited on), syncs the filesystem, and invokes the
// reboot syscall. On success this call never returns.
func shutdown(log *slog.Logger, mode ShutdownMode) {
	if _, err := spawnStage(shutdownScript, mode.String()); err != nil {
		log.Error("failed to spawn shutdown stage", "mode", mode, "error", err)
	}

	if err := syncFS(); err != nil {
		log.Error("sync failed", "error", err)
	}

	if err := rebootFor(mode); err != nil {
		log.Error("reboot syscall failed", "mode", mode, "error", err)
	}
}
