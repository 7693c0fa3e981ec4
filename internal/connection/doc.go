// Package connection owns the device-connection lifecycle.
//
// A Manager knows whether the motor controller is reachable, recovers the
// link after disconnections (expected ones around save, reboot and erase as
// well as unplugs and brown-outs) and exposes one consistent state to any
// number of concurrent callers.
//
// # Components
//
//   - state: handle, identity and the lost/rebooting flags, guarded by one mutex
//   - Probe: a single cheap property read that decides liveness
//   - supervisor: a background loop that reacquires a handle for the same
//     serial number, honouring a reboot grace period and an attempt ceiling
//   - Manager: Connect, Disconnect, CheckConnection, protected operations,
//     Status, plus serialised property access for the API
//
// # Locking
//
// Manager.mu guards every field of the state and the supervisor. It is never
// held across discovery or a device call. Device calls are serialised by a
// second lock, opMu, so a status request never waits on the USB link.
//
// Handles carry a generation number. A probe or property call whose
// generation no longer matches when it returns has its result discarded.
//
// # Usage
//
//	mgr := connection.NewManager(connection.DefaultConfig(), drv)
//	mgr.SetLogger(log.Component("connection"))
//	defer mgr.Close()
//
//	if _, err := mgr.Connect(ctx, ""); err != nil {
//	    return err
//	}
//	go mgr.Run(ctx) // watchdog
package connection
