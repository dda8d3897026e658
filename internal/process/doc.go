// Package process supervises the external BLE-to-TCP adapter that spherod
// talks to when the adapter type is "tcp".
//
// The manager starts the binary in its own process group, waits for its
// listen address to accept connections, then watches it. An unexpected
// exit or a run of failed TCP health probes triggers a restart with
// exponential backoff; the backoff resets once a run has been stable.
//
//	mgr := process.NewManager(process.Config{
//	    Binary:  "/usr/local/bin/sphero-ble-bridge",
//	    Args:    []string{"--listen", "127.0.0.1:50004"},
//	    Address: "127.0.0.1:50004",
//	}, log.Component("adapter"))
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
