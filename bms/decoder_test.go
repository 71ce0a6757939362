package bms

import (
	"math"
	"testing"
)

// testLogger implements Logger for testing
type testLogger struct{}

func (l *testLogger) Printf(format string, v ...interface{}) {}
func (l *testLogger) Debug(format string, v ...interface{})  {}
func (l *testLogger) Info(format string, v ...interface{})   {}
func (l *testLogger) Warn(format string, v ...interface{})   {}
func (l *testLogger) Error(format string, v ...interface{})  {}
func (l *testLogger) DebugPID(direction string, pid uint16, data []byte, remain uint16) {
}

func newTestDecoder(updatedFirmware bool) (*Decoder, *MemoryStore) {
	store := NewMemoryStore()
	return NewDecoder(store, StaticConfig(updatedFirmware), &testLogger{}), store
}

func u16be(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// --- Scaling tests ---

func TestCellVolts(t *testing.T) {
	tests := []struct {
		raw      uint16
		expected float64
	}{
		{0, 1.0},
		{2000, 2.0},
		{4096, 4096.0/2000.0 + 1.0},
		{65535, 65535.0/2000.0 + 1.0},
	}

	for _, tt := range tests {
		if got := CellVolts(tt.raw); got != tt.expected {
			t.Errorf("CellVolts(%d): expected %f, got %f", tt.raw, tt.expected, got)
		}
	}
}

func TestCellVolts_Monotonic(t *testing.T) {
	prev := CellVolts(0)
	for raw := uint16(1); raw < 1000; raw++ {
		cur := CellVolts(raw)
		if cur <= prev {
			t.Fatalf("CellVolts not monotonic at raw=%d: %f <= %f", raw, cur, prev)
		}
		prev = cur
	}
}

func TestTempCelsius(t *testing.T) {
	tests := []struct {
		raw      uint8
		expected float64
	}{
		{0, -40.0},
		{80, 0.0},
		{100, 10.0},
		{150, 35.0},
		{255, 87.5},
	}

	for _, tt := range tests {
		if got := TempCelsius(tt.raw); got != tt.expected {
			t.Errorf("TempCelsius(%d): expected %f, got %f", tt.raw, tt.expected, got)
		}
	}
}

func TestAmps(t *testing.T) {
	tests := []struct {
		raw      uint16
		expected float64
	}{
		{40000, 0.0},
		{41000, 25.0},  // discharging
		{36000, -100.0}, // charging
		{0, -1000.0},
	}

	for _, tt := range tests {
		if got := Amps(tt.raw); got != tt.expected {
			t.Errorf("Amps(%d): expected %f, got %f", tt.raw, tt.expected, got)
		}
	}
}

func TestPowerKW(t *testing.T) {
	// Charging current is negative, so power comes out positive
	if got := PowerKW(400.0, -100.0); got != 40.0 {
		t.Errorf("PowerKW(400, -100): expected 40.0, got %f", got)
	}
	if got := PowerKW(400.0, 25.0); got != -10.0 {
		t.Errorf("PowerKW(400, 25): expected -10.0, got %f", got)
	}
}

// --- SoC calibration tests ---

func TestCalibration_Endpoints(t *testing.T) {
	tests := []struct {
		name string
		cal  Calibration
	}{
		{"revised", RevisedFirmwareCalibration},
		{"original", OriginalFirmwareCalibration},
	}

	for _, tt := range tests {
		if got := tt.cal.Normalize(uint16(tt.cal.Lower)); got != 0.0 {
			t.Errorf("%s: Normalize(lower): expected 0, got %f", tt.name, got)
		}
		if got := tt.cal.Normalize(uint16(tt.cal.Upper)); got != 100.0 {
			t.Errorf("%s: Normalize(upper): expected 100, got %f", tt.name, got)
		}
	}
}

func TestCalibration_Unclamped(t *testing.T) {
	if got := RevisedFirmwareCalibration.Normalize(0); got >= 0 {
		t.Errorf("Normalize(0) should be negative, got %f", got)
	}
	if got := RevisedFirmwareCalibration.Normalize(1000); got <= 100 {
		t.Errorf("Normalize(1000) should exceed 100, got %f", got)
	}
}

func TestCalibration_Affine(t *testing.T) {
	cal := OriginalFirmwareCalibration
	expected := float64(500-cal.Lower) * 100.0 / float64(cal.Upper-cal.Lower)
	if got := cal.Normalize(500); got != expected {
		t.Errorf("Normalize(500): expected %f, got %f", expected, got)
	}
}

func TestCalibrationFor(t *testing.T) {
	if CalibrationFor(StaticConfig(true)) != RevisedFirmwareCalibration {
		t.Error("flag true should select the revised calibration")
	}
	if CalibrationFor(StaticConfig(false)) != OriginalFirmwareCalibration {
		t.Error("flag false should select the original calibration")
	}
	if CalibrationFor(nil) != RevisedFirmwareCalibration {
		t.Error("missing config should default to the revised calibration")
	}
}

// --- Cell stat reconstruction tests ---

func TestCellStats_TwoChunkAssembly(t *testing.T) {
	d, store := newTestDecoder(true)

	// First chunk: vmin 0x1000, carry byte 0x2A
	d.HandleResponse(Cell3StatPid, []byte{0x10, 0x00, 0x2A}, 4)
	// Second chunk: vmax low byte, tmin, tmax, PCB temp
	d.HandleResponse(Cell3StatPid, []byte{0x30, 0x64, 0x96, 0x00}, 0)

	vmins := store.Vector(MetricCellVoltageMin)
	if len(vmins) != 3 {
		t.Fatalf("expected vmin vector of length 3, got %d", len(vmins))
	}
	if expected := CellVolts(0x1000); vmins[2] != expected {
		t.Errorf("vmin: expected %f, got %f", expected, vmins[2])
	}

	vmaxs := store.Vector(MetricCellVoltageMax)
	if expected := CellVolts(0x2A30); vmaxs[2] != expected {
		t.Errorf("vmax: expected %f, got %f", expected, vmaxs[2])
	}

	if got := store.Vector(MetricCellTempMin)[2]; got != 10.0 {
		t.Errorf("tmin: expected 10.0, got %f", got)
	}
	if got := store.Vector(MetricCellTempMax)[2]; got != 35.0 {
		t.Errorf("tmax: expected 35.0, got %f", got)
	}
}

func TestCellStats_PackAggregates(t *testing.T) {
	d, store := newTestDecoder(true)

	// Cell 1: vmin 3.048V, vmax 6.4V, tmin 10°C, tmax 35°C
	d.HandleResponse(Cell1StatPid, []byte{0x10, 0x00, 0x2A}, 4)
	d.HandleResponse(Cell1StatPid, []byte{0x30, 0x64, 0x96, 0x00}, 0)
	// Cell 2: vmin 2.0V, vmax 2.5V, tmin 0°C, tmax 45°C
	d.HandleResponse(Cell2StatPid, []byte{0x07, 0xD0, 0x0B}, 4)
	d.HandleResponse(Cell2StatPid, []byte{0xB8, 0x50, 0xAA, 0x00}, 0)

	if got := store.Float(MetricPackVoltageMin); got != 2.0 {
		t.Errorf("pack vmin: expected 2.0, got %f", got)
	}
	if got := store.Float(MetricPackVoltageMax); got != CellVolts(0x2A30) {
		t.Errorf("pack vmax: expected %f, got %f", CellVolts(0x2A30), got)
	}
	if got := store.Float(MetricPackTempMin); got != 0.0 {
		t.Errorf("pack tmin: expected 0.0, got %f", got)
	}
	if got := store.Float(MetricPackTempMax); got != 45.0 {
		t.Errorf("pack tmax: expected 45.0, got %f", got)
	}
}

func TestCellStats_CarrySlotSharedAcrossCells(t *testing.T) {
	// The carry slot is global, not per index: interleaving two first
	// chunks corrupts the first cell's vmax with the second cell's
	// carry byte. This documents the upstream behavior; the transport
	// must never interleave sequences.
	d, store := newTestDecoder(true)

	d.HandleResponse(Cell1StatPid, []byte{0x10, 0x00, 0x2A}, 4)
	d.HandleResponse(Cell2StatPid, []byte{0x10, 0x00, 0x0B}, 4)
	d.HandleResponse(Cell1StatPid, []byte{0x30, 0x64, 0x96, 0x00}, 0)

	// Last cached byte wins: 0x0B from cell 2, not 0x2A from cell 1
	corrupted := CellVolts(0x0B30)
	if got := store.Vector(MetricCellVoltageMax)[0]; got != corrupted {
		t.Errorf("vmax: expected corrupted value %f, got %f", corrupted, got)
	}
}

// --- Dispatcher tests ---

func TestBusVoltage(t *testing.T) {
	d, store := newTestDecoder(true)

	d.HandleResponse(BatteryBusVoltagePid, u16be(1500), 0)
	if got := store.Float(MetricBatteryVoltage); got != 375.0 {
		t.Errorf("bus voltage: expected 375.0, got %f", got)
	}
}

func TestBusVoltage_OffSentinel(t *testing.T) {
	d, store := newTestDecoder(true)

	// Pack voltage 400V, then the bus reports the contactors-open
	// sentinel: the pack voltage must be substituted, never a scaled
	// 0xFFFE.
	d.HandleResponse(BatteryVoltagePid, u16be(1600), 0)
	d.HandleResponse(BatteryBusVoltagePid, u16be(0xFFFE), 0)

	if got := store.Float(MetricBatteryVoltage); got != 400.0 {
		t.Errorf("bus voltage: expected pack voltage 400.0, got %f", got)
	}
}

func TestCurrentAndPower(t *testing.T) {
	d, store := newTestDecoder(true)

	d.HandleResponse(BatteryBusVoltagePid, u16be(1600), 0) // 400V
	d.HandleResponse(BatteryCurrentPid, u16be(36000), 0)   // -100A, charging

	if got := store.Float(MetricBatteryCurrent); got != -100.0 {
		t.Errorf("current: expected -100.0, got %f", got)
	}
	if got := store.Float(MetricBatteryPower); got != 40.0 {
		t.Errorf("power: expected 40.0 kW, got %f", got)
	}
}

func TestCoolantTemp(t *testing.T) {
	d, store := newTestDecoder(true)

	d.HandleResponse(BatteryCoolantTempPid, []byte{0x6E}, 0)
	if got := store.Float(MetricBatteryTemp); got != 15.0 {
		t.Errorf("coolant temp: expected 15.0, got %f", got)
	}
}

func TestSoH(t *testing.T) {
	d, store := newTestDecoder(true)

	d.HandleResponse(BatterySoHPid, u16be(9850), 0)
	if got := store.Float(MetricBatterySoH); got != 98.5 {
		t.Errorf("SoH: expected 98.5, got %f", got)
	}
}

func TestEstimatedRange(t *testing.T) {
	d, store := newTestDecoder(true)

	d.HandleResponse(BmsRangePid, u16be(1857), 0)
	if got := store.Float(MetricRangeEstimated); got != 185.7 {
		t.Errorf("range: expected 185.7, got %f", got)
	}
}

func TestSoC_Decode(t *testing.T) {
	d, store := newTestDecoder(true)

	d.HandleResponse(BatterySoCPid, u16be(940), 0)

	if got := store.Float(MetricBatterySoCRaw); got != 94.0 {
		t.Errorf("raw SoC: expected 94.0, got %f", got)
	}
	if got := store.Float(MetricBatterySoC); got != 100.0 {
		t.Errorf("SoC: expected 100.0, got %f", got)
	}
	if got := store.Float(MetricRangeIdeal); got != 262.0 {
		t.Errorf("ideal range: expected 262.0, got %f", got)
	}
	// Not charging, so no charge state must have been written
	if got := store.String(MetricChargeState); got != "" {
		t.Errorf("charge state should be unset, got %q", got)
	}
}

func TestSoC_OriginalFirmwareCalibration(t *testing.T) {
	d, store := newTestDecoder(false)

	d.HandleResponse(BatterySoCPid, u16be(970), 0)
	if got := store.Float(MetricBatterySoC); got != 100.0 {
		t.Errorf("SoC: expected 100.0, got %f", got)
	}
}

func TestSoC_ChargingStates(t *testing.T) {
	d, store := newTestDecoder(true)

	d.ApplyStatus(StatusCharging)

	// SoC below the top-off threshold
	d.HandleResponse(BatterySoCPid, u16be(500), 0)
	if got := store.String(MetricChargeState); got != ChargeStateCharging {
		t.Errorf("charge state: expected %q, got %q", ChargeStateCharging, got)
	}

	// 940 normalizes to 100% with the revised calibration
	d.HandleResponse(BatterySoCPid, u16be(940), 0)
	if got := store.String(MetricChargeState); got != ChargeStateTopOff {
		t.Errorf("charge state: expected %q, got %q", ChargeStateTopOff, got)
	}
}

func TestIdealRange_ScalesWithSoC(t *testing.T) {
	d, store := newTestDecoder(true)

	d.HandleResponse(BatterySoCPid, u16be(500), 0)
	soc := store.Float(MetricBatterySoC)
	if got := store.Float(MetricRangeIdeal); !approx(got, 262.0*soc/100.0) {
		t.Errorf("ideal range: expected %f, got %f", 262.0*soc/100.0, got)
	}
}

func TestHandleResponse_UnknownPid(t *testing.T) {
	store := &recordingStore{MetricStore: NewMemoryStore()}
	d := NewDecoder(store, StaticConfig(true), &testLogger{})

	d.HandleResponse(0x1234, []byte{0xDE, 0xAD}, 0)

	if store.writes != 0 {
		t.Errorf("unknown PID should not write metrics, got %d writes", store.writes)
	}
}

// --- Charge state machine tests ---

func TestChargeSequence_Done(t *testing.T) {
	d, store := newTestDecoder(true)
	store.SetFloat(MetricBatterySoC, 98.0)

	d.ApplyStatus(StatusCharging)
	d.ApplyStatus(StatusCcsCharging)
	d.ApplyStatus(StatusIdle)

	if store.Bool(MetricChargeInProgress) {
		t.Error("charge should no longer be in progress")
	}
	if got := store.String(MetricChargeState); got != ChargeStateDone {
		t.Errorf("charge state: expected %q, got %q", ChargeStateDone, got)
	}
	if got := store.String(MetricChargeType); got != ChargeTypeNone {
		t.Errorf("charge type: expected %q, got %q", ChargeTypeNone, got)
	}
}

func TestChargeSequence_Stopped(t *testing.T) {
	d, store := newTestDecoder(true)
	store.SetFloat(MetricBatterySoC, 50.0)

	d.ApplyStatus(StatusCharging)
	d.ApplyStatus(StatusCcsCharging)
	d.ApplyStatus(StatusIdle)

	if store.Bool(MetricChargeInProgress) {
		t.Error("charge should no longer be in progress")
	}
	if got := store.String(MetricChargeState); got != ChargeStateStopped {
		t.Errorf("charge state: expected %q, got %q", ChargeStateStopped, got)
	}
}

func TestChargeStatus_Type2(t *testing.T) {
	d, store := newTestDecoder(true)

	d.ApplyStatus(StatusStartingCharge)

	if !store.Bool(MetricChargeInProgress) {
		t.Error("charge should be in progress")
	}
	if got := store.String(MetricChargeType); got != ChargeTypeType2 {
		t.Errorf("charge type: expected %q, got %q", ChargeTypeType2, got)
	}
}

func TestChargeStatus_CcsMirrorsElectrical(t *testing.T) {
	d, store := newTestDecoder(true)

	d.HandleResponse(BatteryBusVoltagePid, u16be(1600), 0) // 400V
	d.HandleResponse(BatteryCurrentPid, u16be(36000), 0)   // -100A
	d.ApplyStatus(StatusCcsCharging)

	if got := store.String(MetricChargeType); got != ChargeTypeCcs {
		t.Errorf("charge type: expected %q, got %q", ChargeTypeCcs, got)
	}
	if got := store.Float(MetricChargeCurrent); got != 100.0 {
		t.Errorf("charge current: expected 100.0, got %f", got)
	}
	if got := store.Float(MetricChargePower); got != 40.0 {
		t.Errorf("charge power: expected 40.0, got %f", got)
	}
	if got := store.Float(MetricChargeVoltage); got != 400.0 {
		t.Errorf("charge voltage: expected 400.0, got %f", got)
	}
	if got := store.Float(MetricChargeCurrentLimit); got != CcsCurrentLimitAmps {
		t.Errorf("charge current limit: expected %f, got %f", CcsCurrentLimitAmps, got)
	}
}

func TestChargeStatus_IdempotentWhenNotCharging(t *testing.T) {
	mem := NewMemoryStore()
	store := &recordingStore{MetricStore: mem}
	d := NewDecoder(store, StaticConfig(true), &testLogger{})

	d.ApplyStatus(StatusCharging)
	d.ApplyStatus(StatusIdle)

	// Session is torn down; a repeated non-charging status must not
	// touch the store at all.
	before := store.writes
	d.ApplyStatus(StatusIdle)
	if store.writes != before {
		t.Errorf("repeated non-charging status wrote %d metrics", store.writes-before)
	}
	d.ApplyStatus(StatusAboutToSleep)
	if store.writes != before {
		t.Errorf("unlisted status wrote %d metrics", store.writes-before)
	}
}

func TestBmsStatus_String(t *testing.T) {
	if got := StatusCcsCharging.String(); got != "ccs charging" {
		t.Errorf("expected %q, got %q", "ccs charging", got)
	}
	if got := BmsStatus(0xEE).String(); got != "unknown" {
		t.Errorf("expected %q, got %q", "unknown", got)
	}
}

// recordingStore counts writes on top of a MetricStore
type recordingStore struct {
	MetricStore
	writes int
}

func (s *recordingStore) SetFloat(name string, value float64) {
	s.writes++
	s.MetricStore.SetFloat(name, value)
}

func (s *recordingStore) SetBool(name string, value bool) {
	s.writes++
	s.MetricStore.SetBool(name, value)
}

func (s *recordingStore) SetString(name string, value string) {
	s.writes++
	s.MetricStore.SetString(name, value)
}

func (s *recordingStore) SetVectorElem(name string, index int, value float64) {
	s.writes++
	s.MetricStore.SetVectorElem(name, index, value)
}
