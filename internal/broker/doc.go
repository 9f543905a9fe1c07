// Package broker is the embedded MQTT broker the Z-Wave gateway connects to.
//
// It implements only what the gateway needs:
//
//	CONNECT     -> CONNACK (version and credential checks)
//	PUBLISH     -> PUBACK for QoS 1, then routed by first topic segment
//	SUBSCRIBE   -> SUBACK granting QoS 0 for every filter
//	PINGREQ     -> PINGRESP
//	DISCONNECT  -> session closed
//
// Publishes whose first topic segment is the discovery prefix go to
// Router.HandleDiscovery, the state prefix to Router.HandleState. Nothing
// is retained and subscriptions are not tracked: outbound commands are
// broadcast to every client in the ClientSet, which is what zwave.Bridge
// uses as its Publisher.
//
// Packets are framed and encoded with mochi-mqtt's packets package. A
// Session is transport independent (it writes to an io.Writer) so the state
// machine is tested without sockets; Server adds TCP and TLS listeners,
// keepalive deadlines and connection bookkeeping.
package broker
