// Package connectivity brings a node online.
//
// Node.Start runs the startup sequence in order: associate the link with
// the configured or stored credentials, locate the MQTT broker (fixed
// address or mDNS browse), connect the bus and announce the node as
// online, then advertise the node over mDNS so update tools can find it.
// Each wait is bounded; a node that cannot associate falls back to access
// point mode.
//
// OTAReporter publishes firmware update outcomes on the device's OTA topic.
package connectivity
