package process

import (
	"strconv"
	"time"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/recorder"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// LogRow is one line of the temperature log, written once per setpoint.
type LogRow struct {
	Timestamp     time.Time
	Setpoint      float64
	TemperatureA  float64
	TemperatureB  float64
	HeaterOutput1 float64
	HeaterOutput2 float64
}

func newLogRow(at time.Time, setpoint float64, r device.Reading) LogRow {
	return LogRow{
		Timestamp:     at,
		Setpoint:      setpoint,
		TemperatureA:  r.TemperatureA,
		TemperatureB:  r.TemperatureB,
		HeaterOutput1: r.HeaterOutput1,
		HeaterOutput2: r.HeaterOutput2,
	}
}

// Row renders the log line in column order.
func (l LogRow) Row() recorder.Row {
	return recorder.Row{
		{Name: "timestamp", Value: l.Timestamp.Format(timestampLayout)},
		{Name: "setpoint", Value: strconv.FormatFloat(l.Setpoint, 'f', 2, 64)},
		{Name: "temperature_a", Value: strconv.FormatFloat(l.TemperatureA, 'f', 4, 64)},
		{Name: "temperature_b", Value: strconv.FormatFloat(l.TemperatureB, 'f', 4, 64)},
		{Name: "heater_output_1", Value: strconv.FormatFloat(l.HeaterOutput1, 'f', 2, 64)},
		{Name: "heater_output_2", Value: strconv.FormatFloat(l.HeaterOutput2, 'f', 2, 64)},
	}
}
