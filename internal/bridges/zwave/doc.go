// Package zwave implements the Z-Wave JS bridge for Gray Logic.
//
// A Z-Wave JS gateway (zwavejs2mqtt / Z-Wave JS UI) announces every value it
// exposes with a Home-Assistant-style discovery message, then publishes the
// value on the state topic named in that announcement. This package learns
// the device topology from those announcements and translates state messages
// into host entity updates and host commands back into gateway payloads.
//
// # Architecture
//
//	┌──────────────┐  PUBLISH   ┌────────────┐   Apply    ┌──────────────┐
//	│   Z-Wave JS  │───────────►│   broker   │──────────►│  Discovery   │──┐
//	│   gateway    │◄───────────│  session   │           │  Synchronizer│  │ Host
//	└──────────────┘  PUBLISH   └────────────┘◄──────────│  Dispatcher  │◄─┘
//	                                           Broadcast  └──────────────┘
//
// # Components
//
//   - Registry: immutable table of semantic types (dimmer, switch,
//     electric_kwh_value, ...) with their host category, decoder and
//     optional command encoder
//   - Table: the device/endpoint/attribute mapping plus the topic index
//     derived from it
//   - Discovery: the only writer of the Table; persists every mutation
//     through a ConfigStore before it becomes visible
//   - Synchronizer: resolves state topics and applies decoded values to
//     host entities, discarding out-of-order events
//   - Dispatcher: encodes host commands and broadcasts them to the
//     connected gateway clients
//
// # Topic Namespaces
//
// Discovery messages arrive on five-segment topics whose fourth segment is
// the semantic type name:
//
//	homeassistant/light/nodeID_5/dimmer/config
//
// State messages arrive on whatever state topic discovery registered,
// normally under the "zwave" prefix.
//
// # Thread Safety
//
// Discovery, Synchronizer and Dispatcher are safe for concurrent use. The
// Table is guarded by a single lock owned by Discovery; the other engines
// only ever see copies.
package zwave
