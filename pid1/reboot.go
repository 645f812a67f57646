package pid1

import "golang.org/x/sys/unix"

// syncFS flushes filesystem buffers before a reboot.
func syncFS() error {
	unix.Sync()
	return nil
}

// rebootFor invokes the Linux reboot syscall with the command matching
// mode. On success this call does not return; the kernel tears the
// process down as part of the reboot/power-off sequence.
func rebootFor(mode ShutdownMode) error {
	switch mode {
	case PowerOff:
		return unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF)
	case Reboot, CtrlAltDelete:
		return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
	default:
		return unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF)
	}
}
