// Package system holds the process-wide primitives shared by the
// connectivity and update components.
//
// This package provides:
//   - EventLoop: the single consumer that delivers transport events to the
//     connection managers, installed once per process and never torn down
//   - Restarter: the unconditional restart primitive used after the link
//     retry ceiling and after a committed firmware update
//
// The boot supervisor (cmd/baozi-boot) relaunches the daemon whenever it
// exits with RestartExitCode, loading whichever slot is the boot target.
package system
