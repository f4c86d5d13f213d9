// Package sensors defines the narrow contract the control-plane core
// consumes from the hardware abstraction layer (spec.md §1, "DELIBERATELY
// OUT OF SCOPE": the core only relies on Sensors.Measure()).
package sensors

import "math"

// Reading is one sample across every attached sensor. Any field may be NaN
// when its underlying sensor failed to produce a value (spec.md §3).
type Reading struct {
	AirTempC           float32
	AirHumidityPct     float32
	AirHeatIndexC      float32
	SoilResistivityRaw uint16
	SoilTempC          float32
}

// Valid reports whether every floating field is a real number. A reading
// with any NaN field is still sent to the server as-is; this helper exists
// for tests and logging, not to gate transmission.
func (r Reading) Valid() bool {
	return !math.IsNaN(float64(r.AirTempC)) &&
		!math.IsNaN(float64(r.AirHumidityPct)) &&
		!math.IsNaN(float64(r.AirHeatIndexC)) &&
		!math.IsNaN(float64(r.SoilTempC))
}

// Sensors is the operation the Event Loop drives once per measurement tick.
type Sensors interface {
	Measure() Reading
}

// Sim is a deterministic in-memory Sensors implementation for tests and the
// iop-sim host binary.
type Sim struct {
	Next Reading
}

// NewSim creates a Sim sensor bank that always returns reading.
func NewSim(reading Reading) *Sim {
	return &Sim{Next: reading}
}

// Measure returns the currently configured reading.
func (s *Sim) Measure() Reading {
	return s.Next
}
