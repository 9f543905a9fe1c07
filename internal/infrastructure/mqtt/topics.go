package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTopicRoot is used when the configured topic root is empty.
const DefaultTopicRoot = "graylogic"

// protocolSegment names this bridge in the flat topic scheme
// {root}/{category}/{protocol}/...
const protocolSegment = "zwave"

// Topics builds the uplink topics for one topic root.
//
//	topics := mqtt.NewTopics("graylogic")
//	topics.EntityState("zwave-c7a1-node12", 1)
//	// "graylogic/state/zwave/zwave-c7a1-node12/1"
type Topics struct {
	root string
}

// NewTopics returns topic builders under root.
func NewTopics(root string) Topics {
	root = strings.Trim(root, "/")
	if root == "" {
		root = DefaultTopicRoot
	}
	return Topics{root: root}
}

// EntityState is the retained state topic of one entity.
func (t Topics) EntityState(deviceID string, unit int) string {
	return fmt.Sprintf("%s/state/%s/%s/%d", t.root, protocolSegment, deviceID, unit)
}

// EntityCommand is the command topic of one entity.
func (t Topics) EntityCommand(deviceID string, unit int) string {
	return fmt.Sprintf("%s/command/%s/%s/%d", t.root, protocolSegment, deviceID, unit)
}

// AllEntityCommands matches every entity command topic.
func (t Topics) AllEntityCommands() string {
	return fmt.Sprintf("%s/command/%s/+/+", t.root, protocolSegment)
}

// BridgeHealth is the retained online/offline status topic, also used as
// the last will.
func (t Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/health/%s", t.root, protocolSegment)
}

// ParseEntityCommand extracts the device id and unit from a topic built
// by EntityCommand.
func (t Topics) ParseEntityCommand(topic string) (deviceID string, unit int, err error) {
	rest, ok := strings.CutPrefix(topic, t.root+"/command/"+protocolSegment+"/")
	if !ok {
		return "", 0, fmt.Errorf("%w: %q is not a command topic", ErrInvalidTopic, topic)
	}
	deviceID, unitStr, ok := strings.Cut(rest, "/")
	if !ok || deviceID == "" || strings.Contains(unitStr, "/") {
		return "", 0, fmt.Errorf("%w: %q is not a command topic", ErrInvalidTopic, topic)
	}
	unit, err = strconv.Atoi(unitStr)
	if err != nil || unit < 1 {
		return "", 0, fmt.Errorf("%w: bad unit in %q", ErrInvalidTopic, topic)
	}
	return deviceID, unit, nil
}
