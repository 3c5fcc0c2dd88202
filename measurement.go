package faultline

import (
	"sort"

	"github.com/faultline-dev/faultline-go/internal/wire"
)

// MeasurementUnit describes the unit of a measurement value. An empty unit
// means the value is a bare number.
type MeasurementUnit string

// Duration units.
const (
	UnitNanosecond  MeasurementUnit = "nanosecond"
	UnitMicrosecond MeasurementUnit = "microsecond"
	UnitMillisecond MeasurementUnit = "millisecond"
	UnitSecond      MeasurementUnit = "second"
	UnitMinute      MeasurementUnit = "minute"
	UnitHour        MeasurementUnit = "hour"
)

// Information units, 1024-based.
const (
	UnitBit      MeasurementUnit = "bit"
	UnitByte     MeasurementUnit = "byte"
	UnitKibibyte MeasurementUnit = "kibibyte"
	UnitMebibyte MeasurementUnit = "mebibyte"
	UnitGibibyte MeasurementUnit = "gibibyte"
)

// Fraction units.
const (
	UnitRatio   MeasurementUnit = "ratio"
	UnitPercent MeasurementUnit = "percent"
)

// UnitNone marks an explicitly unitless measurement.
const UnitNone MeasurementUnit = "none"

// A Measurement is a named numeric observation attached to a transaction,
// such as a web vital or a custom duration.
type Measurement struct {
	Value float64
	Unit  MeasurementUnit
}

// WriteTo serializes the measurement. The unit is omitted when empty.
func (m Measurement) WriteTo(w *wire.Writer) {
	w.BeginObject()
	w.FloatAlways("value", m.Value)
	w.String("unit", string(m.Unit))
	w.EndObject()
}

// MarshalJSON implements json.Marshaler.
func (m Measurement) MarshalJSON() ([]byte, error) {
	return serialize(m.WriteTo)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	n, err := wire.Parse(data)
	if err != nil {
		return err
	}
	*m = measurementFromNode(n)
	return nil
}

func measurementFromNode(n wire.Node) Measurement {
	m := Measurement{}
	m.Value, _ = n.Get("value").Float64()
	if v, ok := n.Get("unit").Str(); ok {
		m.Unit = MeasurementUnit(v)
	}
	return m
}

func sortedMeasurementNames(ms map[string]Measurement) []string {
	names := make([]string, 0, len(ms))
	for name := range ms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
