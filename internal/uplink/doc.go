// Package uplink connects the bridge to the rest of Gray Logic.
//
// A Relay subscribes to entity registry events and, for every created or
// updated entity, publishes a retained JSON state document to
//
//	{root}/state/zwave/{device_id}/{unit}
//
// and writes updated values to InfluxDB. In the other direction it
// subscribes to {root}/command/zwave/+/+ and hands each command body
// ({"command", "level", "color"}) to the Z-Wave command dispatcher,
// recording each one in the audit trail when one is configured.
package uplink
