// Package mqtt provides the MQTT client for Hearth Core.
//
// The gateway uses MQTT for its outward-facing, purely observational
// surface: retained device status snapshots on
// hearth/devices/{machine_label}/status, command lifecycle updates on
// hearth/devices/{machine_label}/command_status, and the gateway's own
// online/offline status (with a Last Will for crash detection) on
// hearth/system/status.
//
// Inbound, the gateway subscribes to hearth/devices/+/set_status so
// external status producers (bridges, sensors, companion services) can
// inject device status reports.
//
// The package wraps eclipse/paho.mqtt.golang with connection management,
// automatic re-subscription on reconnect, payload limits, and panic
// recovery around message handlers.
//
// Topic construction must always go through the Topics builders to keep
// naming consistent across the codebase.
package mqtt
