package bms

const (
	// Cell voltage encoding: volts = raw/2000 + 1.0
	CellVoltageDivisor = 2000.0
	CellVoltageOffset  = 1.0

	// Temperature encoding: °C = raw*0.5 - 40
	TempScale  = 0.5
	TempOffset = -40.0

	// Pack and bus voltage step (V per bit)
	PackVoltageScale = 0.25

	// Current encoding: amps = (raw - 40000) * 0.25 / 10
	CurrentRawOffset = 40000
	CurrentScale     = 0.25
	CurrentDivisor   = 10.0

	// Reported by the bus voltage PID when the HV contactors are open
	BusVoltageOffSentinel uint16 = 0xfffe

	// Fixed current limit reported during CCS charging
	CcsCurrentLimitAmps = 82.0

	// WLTP rated range used for the ideal range estimate
	WltpRangeKm = 262.0

	// SoC thresholds for the charge state transitions
	TopOffSoC     = 99.5
	ChargeDoneSoC = 97.0
)

// CellVolts converts a raw cell voltage reading to volts.
func CellVolts(raw uint16) float64 {
	return float64(raw)/CellVoltageDivisor + CellVoltageOffset
}

// TempCelsius converts a raw temperature byte to °C.
func TempCelsius(raw uint8) float64 {
	return float64(raw)*TempScale + TempOffset
}

// PackVolts converts a raw pack or bus voltage reading to volts.
func PackVolts(raw uint16) float64 {
	return float64(raw) * PackVoltageScale
}

// Amps converts a raw battery current reading to amps. Values below the
// offset are negative, which is the charging direction.
func Amps(raw uint16) float64 {
	return float64(int32(raw)-CurrentRawOffset) * CurrentScale / CurrentDivisor
}

// PowerKW derives battery power in kW from voltage and current. The sign
// is inverted so that charging reports positive power.
func PowerKW(volts, amps float64) float64 {
	return -(volts * amps) / 1000.0
}

// SoHPercent converts a raw state-of-health reading to a percentage.
func SoHPercent(raw uint16) float64 {
	return float64(raw) / 100.0
}

// RangeKm converts a raw estimated range reading to km.
func RangeKm(raw uint16) float64 {
	return float64(raw) / 10.0
}

// IdealRangeKm estimates ideal range as the SoC fraction of the WLTP
// rated range.
func IdealRangeKm(soc float64) float64 {
	return WltpRangeKm * (soc / 100.0)
}
