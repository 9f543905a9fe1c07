package zwave

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultBrightnessScale is the gateway's dimmer range when discovery does
// not announce brightness_scale.
const DefaultBrightnessScale = 99

// hostLevelScale is the host's dimmer slider range.
const hostLevelScale = 99

// Dimmer numeric indicators.
const (
	dimmerOff     = 0
	dimmerOn      = 1
	dimmerPartial = 2
)

var (
	decimal15  = decimal.NewFromInt(15)
	decimal100 = decimal.NewFromInt(100)
)

// touchOrUpdate touches the entity when next equals cur and updates it
// otherwise.
func touchOrUpdate(cur, next EntityState, logChange bool) Decision {
	if next.Numeric == cur.Numeric && next.Text == cur.Text && next.LastLevel == cur.LastLevel {
		return Decision{Action: ActionTouch, State: cur}
	}
	return Decision{Action: ActionUpdate, State: next, LogChange: logChange}
}

// ─── Binary ─────────────────────────────────────────────────

// binaryType is an on/off value: contacts, security sensors and switches.
type binaryType struct {
	name     string
	category Category
}

func (t binaryType) Name() string       { return t.name }
func (t binaryType) Category() Category { return t.category }

func (t binaryType) Decode(ep Endpoint, cur EntityState, v Value) (Decision, error) {
	next := cur
	if v.Equal(ep.OnPayload()) {
		next.Numeric, next.Text = 1, "On"
	} else {
		next.Numeric, next.Text = 0, "Off"
	}
	return touchOrUpdate(cur, next, true), nil
}

// switchType is a binary type that also accepts On/Off commands.
type switchType struct {
	binaryType
}

func (switchType) Encode(ep Endpoint, cmd Command) ([]byte, error) {
	switch cmd.Name {
	case "On":
		return ep.OnPayload().Raw(), nil
	case "Off":
		return ep.OffPayload().Raw(), nil
	default:
		return nil, fmt.Errorf("%w: %q for switch", ErrInvalidCommand, cmd.Name)
	}
}

// ─── Dimmer ─────────────────────────────────────────────────

type dimmerType struct{}

func (dimmerType) Name() string       { return "dimmer" }
func (dimmerType) Category() Category { return NamedCategory("Dimmer") }

func (dimmerType) Decode(ep Endpoint, cur EntityState, v Value) (Decision, error) {
	d, ok := v.Decimal()
	if !ok {
		return Decision{}, fmt.Errorf("%w: dimmer level %s", ErrInvalidValue, v)
	}

	next := cur
	switch {
	case d.Equal(decimal.NewFromInt(int64(ep.Scale()))):
		next.Numeric = dimmerOn
	case d.IsPositive():
		next.Numeric = dimmerPartial
	default:
		next.Numeric = dimmerOff
	}
	next.Text = v.Text()
	if d.IsPositive() {
		next.LastLevel = int(d.IntPart())
	}
	return touchOrUpdate(cur, next, true), nil
}

// Encode maps "Set Level" from the host's 0-99 slider onto the endpoint's
// brightness scale. Any other command name is sent as-is.
func (dimmerType) Encode(ep Endpoint, cmd Command) ([]byte, error) {
	if cmd.Name != "Set Level" {
		return []byte(cmd.Name), nil
	}
	return []byte(strconv.Itoa(ScaleLevel(cmd.Level, ep.Scale()))), nil
}

// ScaleLevel converts a host level (0-99) to the gateway's brightness scale,
// rounded to the nearest integer and clamped to [0, scale]. Rounding, not
// truncation: level 50 on a 255 scale is 129, where truncating gives 128.
func ScaleLevel(level, scale int) int {
	if scale <= 0 {
		scale = DefaultBrightnessScale
	}
	v := int(math.Round(float64(level) * float64(scale) / hostLevelScale))
	if v > scale {
		return scale
	}
	if v < 0 {
		return 0
	}
	return v
}

// ─── Colour dimmer ──────────────────────────────────────────

type colorDimmerType struct{}

func (colorDimmerType) Name() string { return "rgb_dimmer" }
func (colorDimmerType) Category() Category {
	return NumericCategory("Color Switch", 241, 2, 7)
}

// Decode applies scalar brightness. Composite colour objects are not
// translated and leave the entity untouched.
func (colorDimmerType) Decode(_ Endpoint, cur EntityState, v Value) (Decision, error) {
	if v.IsObject() {
		return Decision{Action: ActionNone, State: cur}, nil
	}
	d, ok := v.Decimal()
	if !ok {
		return Decision{}, fmt.Errorf("%w: colour level %s", ErrInvalidValue, v)
	}
	next := cur
	next.Text = v.Text()
	next.Numeric = int(d.Mul(decimal15).Div(decimal100).Floor().IntPart())
	return touchOrUpdate(cur, next, true), nil
}

// Encode accepts colour commands without producing a payload.
func (colorDimmerType) Encode(_ Endpoint, cmd Command) ([]byte, error) {
	return nil, fmt.Errorf("%w: %q for rgb_dimmer", ErrNotTranslated, cmd.Name)
}

// ─── Meters ─────────────────────────────────────────────────

// meterType stores a formatted numeric reading in the entity text.
type meterType struct {
	name     string
	category Category
	format   func(v Value, d decimal.Decimal) string
}

func (t meterType) Name() string       { return t.name }
func (t meterType) Category() Category { return t.category }

func (t meterType) Decode(_ Endpoint, cur EntityState, v Value) (Decision, error) {
	d, ok := v.Decimal()
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s reading %s", ErrInvalidValue, t.name, v)
	}
	next := cur
	next.Text = t.format(v, d)
	return touchOrUpdate(cur, next, false), nil
}

// formatCurrent fills the three-phase layout with the single reading.
func formatCurrent(v Value, _ decimal.Decimal) string {
	return v.Text() + ";0.0;0.0"
}

func formatRaw(v Value, _ decimal.Decimal) string {
	return v.Text()
}

func formatUsage(_ Value, d decimal.Decimal) string {
	return d.StringFixed(3)
}

// formatEnergy renders kWh with three decimals and no decimal point; the
// host divides by 1000.
func formatEnergy(_ Value, d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(3), ".", "", 1)
}

// ─── Scenes ─────────────────────────────────────────────────

// sceneType creates a push button but does not decode press sequences.
type sceneType struct {
	name string
}

func (t sceneType) Name() string     { return t.name }
func (sceneType) Category() Category { return NamedCategory("Push On") }

func (sceneType) Decode(_ Endpoint, cur EntityState, _ Value) (Decision, error) {
	return Decision{Action: ActionNone, State: cur}, nil
}

// ─── Device attributes ──────────────────────────────────────

type batteryHandler struct{}

func (batteryHandler) Name() string { return "battery_level" }

func (batteryHandler) Apply(cur EntityState, v Value) (Decision, error) {
	level, ok := v.Int()
	if !ok {
		return Decision{}, fmt.Errorf("%w: battery level %s", ErrInvalidValue, v)
	}
	if level == cur.BatteryLevel {
		return Decision{Action: ActionNone, State: cur}, nil
	}
	next := cur
	next.BatteryLevel = level
	return Decision{Action: ActionUpdate, State: next}, nil
}
