package influxdb

import (
	"context"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// entityMeasurement is the measurement name for entity state history.
const entityMeasurement = "zwave_entity"

// EntityPoint is one recorded state change of a host entity.
type EntityPoint struct {
	DeviceID     string
	Unit         int
	TypeName     string
	Numeric      int
	Text         string
	BatteryLevel int
	Time         time.Time
}

// WriteEntityState records an entity state change. Tags are the device id,
// unit and type name; fields carry the numeric value, the text value and
// the battery level.
//
//	client.WriteEntityState(ctx, influxdb.EntityPoint{
//	    DeviceID: "zwave-c7a1-node12", Unit: 1, TypeName: "Switch",
//	    Numeric: 1, Text: "On", BatteryLevel: 255, Time: at,
//	})
func (c *Client) WriteEntityState(ctx context.Context, p EntityPoint) error {
	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"device_id": p.DeviceID,
		"unit":      strconv.Itoa(p.Unit),
	}
	if p.TypeName != "" {
		tags["type"] = p.TypeName
	}

	return c.writePoint(ctx, write.NewPoint(
		entityMeasurement,
		tags,
		map[string]interface{}{
			"n_value":       p.Numeric,
			"s_value":       p.Text,
			"battery_level": p.BatteryLevel,
		},
		ts,
	))
}
