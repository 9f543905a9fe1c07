package zwave

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed discovery_schema.json
var discoverySchemaJSON []byte

var discoverySchema = mustCompileSchema(discoverySchemaJSON)

func mustCompileSchema(raw []byte) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("zwave: compiling discovery schema: %v", err))
	}
	return schema
}

// DiscoveryMessage is a parsed discovery announcement.
type DiscoveryMessage struct {
	DeviceID     string
	Name         string
	Manufacturer string
	Model        string
	Topics       map[string]string // every string field whose name contains "topic"

	PayloadOn       Value
	PayloadOff      Value
	OnCommandType   string
	BrightnessScale int
}

// StateTopic returns the announced state topic.
func (m DiscoveryMessage) StateTopic() string { return m.Topics[FieldStateTopic] }

// Description renders "manufacturer - model".
func (m DiscoveryMessage) Description() string {
	switch {
	case m.Manufacturer != "" && m.Model != "":
		return m.Manufacturer + " - " + m.Model
	case m.Manufacturer != "":
		return m.Manufacturer
	default:
		return m.Model
	}
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type discoveryFields struct {
	Name            string          `json:"name"`
	Device          discoveryDevice `json:"device"`
	PayloadOn       Value           `json:"payload_on"`
	PayloadOff      Value           `json:"payload_off"`
	OnCommandType   string          `json:"on_command_type"`
	BrightnessScale json.Number     `json:"brightness_scale"`
}

// ParseDiscoveryMessage validates a discovery payload against the embedded
// schema and extracts the fields the bridge uses.
func ParseDiscoveryMessage(payload []byte) (DiscoveryMessage, error) {
	if !json.Valid(payload) {
		return DiscoveryMessage{}, fmt.Errorf("%w: discovery payload is not JSON", ErrMalformedPayload)
	}

	result, err := discoverySchema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return DiscoveryMessage{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if !result.Valid() {
		return DiscoveryMessage{}, fmt.Errorf("%w: %s", ErrInvalidDiscovery, formatSchemaErrors(result.Errors()))
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(payload, &all); err != nil {
		return DiscoveryMessage{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var fields discoveryFields
	if err := dec.Decode(&fields); err != nil {
		return DiscoveryMessage{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	msg := DiscoveryMessage{
		DeviceID:      fields.Device.Identifiers[0],
		Name:          fields.Name,
		Manufacturer:  fields.Device.Manufacturer,
		Model:         fields.Device.Model,
		Topics:        make(map[string]string),
		PayloadOn:     fields.PayloadOn,
		PayloadOff:    fields.PayloadOff,
		OnCommandType: fields.OnCommandType,
	}
	if fields.BrightnessScale != "" {
		if scale, err := fields.BrightnessScale.Float64(); err == nil {
			msg.BrightnessScale = int(scale)
		}
	}

	for key, raw := range all {
		if !strings.Contains(key, "topic") {
			continue
		}
		var topic string
		if err := json.Unmarshal(raw, &topic); err != nil {
			continue
		}
		msg.Topics[key] = topic
	}
	return msg, nil
}

func formatSchemaErrors(errs []gojsonschema.ResultError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Field()+": "+e.Description())
	}
	return strings.Join(parts, "; ")
}

// ParseDiscoveryTopic splits a discovery topic and returns the reported
// component (second segment) and semantic type name (fourth segment).
func ParseDiscoveryTopic(topic string) (reported, typeName string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 {
		return "", "", fmt.Errorf("%w: %q has %d segments, want 5", ErrTopicStructure, topic, len(parts))
	}
	return parts[1], parts[3], nil
}
