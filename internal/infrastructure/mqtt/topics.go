package mqtt

// Presence payloads published on the device status topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics provides builders for a device's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Device: "baozi-a1b2c3d4e5f6"}
//	topics.Status() // "baozi-a1b2c3d4e5f6/status"
type Topics struct {
	Device string
}

// Status returns the presence topic carrying online/offline.
//
// Example: baozi-a1b2c3d4e5f6/status
func (t Topics) Status() string {
	return t.Device + "/status"
}

// OTA returns the topic firmware-update outcomes are reported on.
//
// Example: baozi-a1b2c3d4e5f6/ota
func (t Topics) OTA() string {
	return t.Device + "/ota"
}

// Commands returns the pattern matching every command sent to the device.
//
// Pattern: baozi-a1b2c3d4e5f6/command/#
func (t Topics) Commands() string {
	return t.Device + "/command/#"
}

// Command returns the topic for a single named command.
//
// Example: baozi-a1b2c3d4e5f6/command/restart
func (t Topics) Command(name string) string {
	return t.Device + "/command/" + name
}
