package mqtt

import "fmt"

// Topic prefixes for the Hearth MQTT surface.
//
// Device topics use the scheme: hearth/devices/{machine_label}/...
// System topics use: hearth/system/...
const (
	// TopicPrefix is the base for all Hearth topics.
	TopicPrefix = "hearth"

	// TopicPrefixDevices is the base for device topics.
	TopicPrefixDevices = "hearth/devices"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "hearth/system"
)

// Topics provides builders for Hearth MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	statusTopic := topics.DeviceStatus("porch-light")
//	// Returns: "hearth/devices/porch-light/status"
type Topics struct{}

// DeviceStatus returns the topic carrying a device's status snapshots.
//
// This is a purely observational broadcast: there is no feedback path
// from this topic into the engine.
//
// Example: hearth/devices/porch-light/status
func (Topics) DeviceStatus(machineLabel string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixDevices, machineLabel)
}

// DeviceCommandStatus returns the topic carrying command lifecycle updates
// for a device.
//
// Example: hearth/devices/porch-light/command_status
func (Topics) DeviceCommandStatus(machineLabel string) string {
	return fmt.Sprintf("%s/%s/command_status", TopicPrefixDevices, machineLabel)
}

// DeviceSetStatus returns the topic on which external producers inject
// status reports for a device. The gateway subscribes to this pattern and
// routes payloads into the device status engine.
//
// Example: hearth/devices/porch-light/set_status
func (Topics) DeviceSetStatus(machineLabel string) string {
	return fmt.Sprintf("%s/%s/set_status", TopicPrefixDevices, machineLabel)
}

// SystemStatus returns the gateway online/offline status topic.
//
// Example: hearth/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceSetStatus returns a pattern matching status injections for all
// devices.
//
// Pattern: hearth/devices/+/set_status
func (Topics) AllDeviceSetStatus() string {
	return fmt.Sprintf("%s/+/set_status", TopicPrefixDevices)
}

// AllDeviceStatuses returns a pattern matching all device status snapshots.
//
// Pattern: hearth/devices/+/status
func (Topics) AllDeviceStatuses() string {
	return fmt.Sprintf("%s/+/status", TopicPrefixDevices)
}

// AllTopics returns a pattern matching all Hearth topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: hearth/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
