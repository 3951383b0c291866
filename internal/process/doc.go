// Package process supervises the node daemon from the boot stage.
//
// The supervisor resolves the binary to run on every launch, so a firmware
// update committed to the other slot takes effect the next time the daemon
// exits. Exit codes are interpreted as follows:
//   - the restart code (system.RestartExitCode): relaunch at once, resolving
//     the binary again; not counted as a failure
//   - 0: the daemon stopped on purpose; supervision ends
//   - anything else: a crash; relaunch after RestartDelay, giving up after
//     MaxRestartAttempts consecutive crashes
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:    "baozi-node",
//	    Resolve: func() (string, error) { return slots.ActiveImage(ctx) },
//	    Args:    []string{"--config", "/etc/baozi/config.yaml"},
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	<-mgr.Done()
package process
