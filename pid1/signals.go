package pid1

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// heartbeat is the belt-and-braces alarm interval: even a lost SIGCHLD
// is eventually followed by a reap within this many seconds.
const heartbeat = 30 * time.Second

// watchedSignals is the set of signals the supervise stage reacts to.
var watchedSignals = []os.Signal{
	syscall.SIGUSR1,
	syscall.SIGUSR2,
	syscall.SIGCHLD,
	syscall.SIGALRM,
	syscall.SIGINT,
}

// fullSigset returns a signal set with every bit set, used to block
// and later restore the complete signal mask around the start stage.
func fullSigset() unix.Sigset_t {
	var set unix.Sigset_t
	for i := range set.Val {
		set.Val[i] = ^uint64(0)
	}
	return set
}

// blockAllSignals masks every signal on the calling OS thread for the
// duration of the start stage. The other threads of the Go runtime
// are not masked, so signals sent to the process can still be taken
// on them.
func blockAllSignals() error {
	set := fullSigset()
	return unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil)
}

// unblockAllSignals restores normal signal delivery on the calling OS
// thread after boot.
func unblockAllSignals() error {
	set := fullSigset()
	return unix.PthreadSigmask(unix.SIG_UNBLOCK, &set, nil)
}

// installSignals arms Go's signal dispatcher for the supervise stage's
// watched set and returns the channel the signal loop reads from.
func installSignals() chan os.Signal {
	ch := make(chan os.Signal, len(watchedSignals)*4)
	signal.Notify(ch, watchedSignals...)
	return ch
}

// disableCtrlAltDelete asks the kernel to stop translating the console
// Ctrl-Alt-Delete combination into an immediate reboot and instead
// deliver it to PID 1 as SIGINT.
func disableCtrlAltDelete() error {
	return unix.Reboot(unix.LINUX_REBOOT_CMD_CAD_OFF)
}

// signalLoop is the never-returning core of the supervise stage: for
// every delivered signal it dispatches a shutdown or reaps children.
// A timer re-arms the heartbeat alarm after every reap so a lost
// SIGCHLD is still eventually followed by one.
func signalLoop(ctx context.Context, log *slog.Logger, sigCh chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				shutdown(log, PowerOff)
			case syscall.SIGUSR2:
				shutdown(log, Reboot)
			case syscall.SIGINT:
				shutdown(log, CtrlAltDelete)
			case syscall.SIGCHLD, syscall.SIGALRM:
				reapOneBatch(log)
				_, _ = unix.Alarm(uint(heartbeat.Seconds()))
			}
		}
	}
}

// reapOneBatch performs a non-blocking waitpid(-1, WNOHANG) loop,
// collecting every already-exited child without blocking the signal
// loop on any one that is still running.
func reapOneBatch(log *slog.Logger) {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
		log.Debug("reaped child", "pid", pid)
	}
}
