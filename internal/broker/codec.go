package broker

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/mochi-mqtt/server/v2/packets"
)

// Return codes this broker sends. CONNACK codes follow MQTT 3.1.1, PUBACK
// codes follow MQTT 5 (they are only put on the wire for protocol 5).
const (
	connackAccepted            byte = 0x00
	connackUnacceptableProto   byte = 0x01
	connackBadCredentials      byte = 0x04
	pubackSuccess              byte = 0x00
	pubackPayloadFormatInvalid byte = 0x99
	subackGrantedQoS0          byte = 0x00
)

// readPacket reads and decodes one packet. version is the protocol level
// negotiated by CONNECT (0 before it), which decides whether v5 properties
// are present. Packets with a remaining length above limit are rejected
// before their body is read.
func readPacket(r *bufio.Reader, version byte, limit int) (*packets.Packet, error) {
	hb, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	fh := packets.FixedHeader{}
	if err := fh.Decode(hb); err != nil {
		return nil, fmt.Errorf("%w: fixed header: %w", ErrProtocolViolation, err)
	}

	rem, _, err := packets.DecodeLength(r)
	if err != nil {
		return nil, fmt.Errorf("%w: remaining length: %w", ErrProtocolViolation, err)
	}
	if limit > 0 && rem > limit {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrPacketTooLarge, rem, limit)
	}
	fh.Remaining = rem

	buf := make([]byte, rem)
	if rem > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}

	pk := &packets.Packet{FixedHeader: fh, ProtocolVersion: version}
	switch fh.Type {
	case packets.Connect:
		err = pk.ConnectDecode(buf)
	case packets.Publish:
		err = pk.PublishDecode(buf)
	case packets.Subscribe:
		err = pk.SubscribeDecode(buf)
	case packets.Unsubscribe:
		err = pk.UnsubscribeDecode(buf)
	case packets.Puback:
		err = pk.PubackDecode(buf)
	case packets.Pingreq:
		err = pk.PingreqDecode(buf)
	case packets.Disconnect:
		err = pk.DisconnectDecode(buf)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrProtocolViolation, packetName(fh.Type), err)
	}
	return pk, nil
}

// encodePacket serialises the packet types this broker sends.
func encodePacket(pk *packets.Packet) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch pk.FixedHeader.Type {
	case packets.Connack:
		err = pk.ConnackEncode(&buf)
	case packets.Suback:
		err = pk.SubackEncode(&buf)
	case packets.Pingresp:
		err = pk.PingrespEncode(&buf)
	case packets.Publish:
		err = pk.PublishEncode(&buf)
	case packets.Puback:
		err = pk.PubackEncode(&buf)
	default:
		return nil, fmt.Errorf("unsupported packet type for writing: %s", packetName(pk.FixedHeader.Type))
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// packetName is the metrics and log label for a packet type.
func packetName(t byte) string {
	switch t {
	case packets.Connect:
		return "connect"
	case packets.Connack:
		return "connack"
	case packets.Publish:
		return "publish"
	case packets.Puback:
		return "puback"
	case packets.Pubrec:
		return "pubrec"
	case packets.Pubrel:
		return "pubrel"
	case packets.Pubcomp:
		return "pubcomp"
	case packets.Subscribe:
		return "subscribe"
	case packets.Suback:
		return "suback"
	case packets.Unsubscribe:
		return "unsubscribe"
	case packets.Unsuback:
		return "unsuback"
	case packets.Pingreq:
		return "pingreq"
	case packets.Pingresp:
		return "pingresp"
	case packets.Disconnect:
		return "disconnect"
	case packets.Auth:
		return "auth"
	default:
		return "unknown"
	}
}
