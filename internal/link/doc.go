// Package link manages association with the wireless network.
//
// The Manager is a state machine (Offline, AccessPointMode, Connecting,
// Connected) driven by user requests and by Transport events. It recovers
// from connection drops on its own: a loss while Connected goes back to
// Connecting, and losses while Connecting are counted. Once the count exceeds
// the retry ceiling the process is restarted. That restart is the only way
// out of a link that never comes back.
//
// # Events
//
// Transports deliver events through the process event loop
// (system.EventLoop), never synchronously from inside a Transport method.
//
// # Usage
//
//	mgr := link.NewManager(transport, link.Config{RetryCeiling: 15}, restarter)
//	mgr.SetLogger(log)
//	if !mgr.Connect(ssid, password) {
//	    // rejected: empty credentials or already connected
//	}
package link
