package bms

// Calibration is the raw depth-of-discharge range that maps to 0-100%
// state of charge. The range depends on the BMU firmware revision.
type Calibration struct {
	Lower int
	Upper int
}

var (
	// RevisedFirmwareCalibration is the DoD range of the updated BMU firmware
	RevisedFirmwareCalibration = Calibration{Lower: 25, Upper: 940}

	// OriginalFirmwareCalibration is the DoD range of the original BMU firmware
	OriginalFirmwareCalibration = Calibration{Lower: 60, Upper: 970}
)

// Normalize maps a raw SoC reading onto the calibrated 0-100 range. The
// result is not clamped: raw values outside the calibration legitimately
// yield results below 0 or above 100.
func (c Calibration) Normalize(raw uint16) float64 {
	return float64(int(raw)-c.Lower) * 100.0 / float64(c.Upper-c.Lower)
}

// Config supplies the firmware-revision flag that selects the SoC
// calibration. It is consulted on every normalization so the flag can
// change at runtime.
type Config interface {
	// UpdatedFirmware reports whether the BMU runs the revised firmware
	UpdatedFirmware() bool
}

// StaticConfig is a fixed-value Config, mainly for tests.
type StaticConfig bool

func (c StaticConfig) UpdatedFirmware() bool { return bool(c) }

// CalibrationFor returns the calibration selected by the config flag.
// A nil config defaults to the revised firmware.
func CalibrationFor(config Config) Calibration {
	if config == nil || config.UpdatedFirmware() {
		return RevisedFirmwareCalibration
	}
	return OriginalFirmwareCalibration
}
