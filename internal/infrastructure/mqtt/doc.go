// Package mqtt provides the MQTT transport behind the bus manager.
//
// This package manages:
//   - Connection to the broker with paho's auto-reconnect
//   - Non-blocking publish and subscribe
//   - Last Will and Testament (LWT) for offline detection
//   - Device topic naming
//
// Every paho callback becomes a bus event posted to the process event loop:
//
//	connection attempt  -> BeforeConnect
//	on connect          -> SessionEstablished
//	connection lost     -> Disconnected
//	connect token error -> TransportError
//	inbound message     -> IncomingMessage
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, mqtt.Topics{Device: name})
//	manager := bus.NewManager(client)
//	err := manager.Connect(onConnected)
package mqtt
