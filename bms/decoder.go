package bms

import (
	"encoding/binary"
	"log"
)

// Decoder turns raw BMS diagnostic responses into engineering-unit
// telemetry on a MetricStore. It is single-threaded by contract: each
// response chunk is handled completely before the next arrives.
type Decoder struct {
	store  MetricStore
	config Config
	logger Logger

	// Carry byte between the two chunks of a cell-stat response. A
	// single slot shared by all cell indices: correct only while the
	// transport delivers both chunks of a sequence back to back.
	cellCache byte
}

func NewDecoder(store MetricStore, config Config, logger Logger) *Decoder {
	if logger == nil {
		logger = NewStdLogger(log.Default())
	}
	return &Decoder{
		store:  store,
		config: config,
		logger: logger,
	}
}

// HandleResponse routes one diagnostic response chunk to its decoder.
// remain is the number of payload bytes still outstanding after this
// chunk; it is nonzero only on the first chunk of a split cell-stat
// response. Unrecognized PIDs are ignored. Payloads are trusted to be
// well-formed and long enough for their PID.
func (d *Decoder) HandleResponse(pid uint16, data []byte, remain uint16) {
	d.logger.DebugPID("RX", pid, data, remain)

	if index, ok := cellStatIndex(pid); ok {
		d.processCellStats(index, data, remain)
		return
	}

	switch pid {
	case BatteryBusVoltagePid:
		raw := binary.BigEndian.Uint16(data)
		if raw == BusVoltageOffSentinel {
			// HV contactors are open; report the last pack voltage
			// rather than a scaled sentinel
			d.store.SetFloat(MetricBatteryVoltage, d.store.Float(MetricBatteryPackVoltage))
		} else {
			d.store.SetFloat(MetricBatteryVoltage, PackVolts(raw))
		}
	case BatteryCurrentPid:
		amps := Amps(binary.BigEndian.Uint16(data))
		d.store.SetFloat(MetricBatteryCurrent, amps)
		d.store.SetFloat(MetricBatteryPower, PowerKW(d.store.Float(MetricBatteryVoltage), amps))
	case BatteryVoltagePid:
		// Kept separately from the bus voltage; used as its fallback
		d.store.SetFloat(MetricBatteryPackVoltage, PackVolts(binary.BigEndian.Uint16(data)))
	case BatterySoCPid:
		d.handleSoC(binary.BigEndian.Uint16(data))
	case BmsStatusPid:
		d.ApplyStatus(BmsStatus(data[0]))
	case BatteryCoolantTempPid:
		d.store.SetFloat(MetricBatteryTemp, TempCelsius(data[0]))
	case BatterySoHPid:
		d.store.SetFloat(MetricBatterySoH, SoHPercent(binary.BigEndian.Uint16(data)))
	case BmsRangePid:
		d.store.SetFloat(MetricRangeEstimated, RangeKm(binary.BigEndian.Uint16(data)))
	}
}

func (d *Decoder) handleSoC(raw uint16) {
	// Raw value kept for the charging diagnostics page
	d.store.SetFloat(MetricBatterySoCRaw, float64(raw)/10.0)

	soc := CalibrationFor(d.config).Normalize(raw)

	if d.store.Bool(MetricChargeInProgress) {
		if soc < TopOffSoC {
			d.store.SetString(MetricChargeState, ChargeStateCharging)
		} else {
			d.store.SetString(MetricChargeState, ChargeStateTopOff)
		}
	}

	d.store.SetFloat(MetricBatterySoC, soc)
	d.store.SetFloat(MetricRangeIdeal, IdealRangeKm(soc))
}

// processCellStats assembles the two-chunk cell statistics response for
// one block. The stats are per block rather than per cell, but they are
// recorded per "cell". Rather than buffering the whole split response,
// only the one byte that straddles the chunk boundary is cached.
func (d *Decoder) processCellStats(index int, data []byte, remain uint16) {
	if remain != 0 {
		vmin := binary.BigEndian.Uint16(data)
		d.cellCache = data[2]

		d.store.SetVectorElem(MetricCellVoltageMin, index, CellVolts(vmin))
		d.store.SetFloat(MetricPackVoltageMin, vectorMin(d.store.Vector(MetricCellVoltageMin)))
		return
	}

	vmax := uint16(d.cellCache)<<8 | uint16(data[0])
	tmin := data[1]
	tmax := data[2]
	// data[3] is the block PCB temperature at the same scale; not reported

	d.store.SetVectorElem(MetricCellVoltageMax, index, CellVolts(vmax))
	d.store.SetVectorElem(MetricCellTempMin, index, TempCelsius(tmin))
	d.store.SetVectorElem(MetricCellTempMax, index, TempCelsius(tmax))

	d.store.SetFloat(MetricPackVoltageMax, vectorMax(d.store.Vector(MetricCellVoltageMax)))
	d.store.SetFloat(MetricPackTempMin, vectorMin(d.store.Vector(MetricCellTempMin)))
	d.store.SetFloat(MetricPackTempMax, vectorMax(d.store.Vector(MetricCellTempMax)))
}

// ApplyStatus drives the charge session metrics from a BMS status code.
// The transitions depend only on the code and the current in-progress
// and SoC metrics; repeated non-charging codes are idempotent once the
// session has been torn down.
func (d *Decoder) ApplyStatus(status BmsStatus) {
	d.logger.Debug("BMS status 0x%x: %s", uint8(status), status)

	switch status {
	case StatusStartingCharge, StatusCharging:
		d.store.SetBool(MetricChargeInProgress, true)
		d.store.SetString(MetricChargeType, ChargeTypeType2)
	case StatusCcsCharging:
		d.store.SetBool(MetricChargeInProgress, true)
		d.store.SetString(MetricChargeType, ChargeTypeCcs)
		d.store.SetFloat(MetricChargeCurrent, -d.store.Float(MetricBatteryCurrent))
		d.store.SetFloat(MetricChargePower, d.store.Float(MetricBatteryPower))
		d.store.SetFloat(MetricChargeCurrentLimit, CcsCurrentLimitAmps)
		d.store.SetFloat(MetricChargeVoltage, d.store.Float(MetricBatteryVoltage))
	default:
		if !d.store.Bool(MetricChargeInProgress) {
			return
		}
		d.store.SetString(MetricChargeType, ChargeTypeNone)
		if d.store.Float(MetricBatterySoC) >= ChargeDoneSoC {
			d.store.SetString(MetricChargeState, ChargeStateDone)
		} else {
			d.store.SetString(MetricChargeState, ChargeStateStopped)
		}
		d.store.SetBool(MetricChargeInProgress, false)
	}
}

func vectorMin(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	min := v[0]
	for _, x := range v[1:] {
		if x < min {
			min = x
		}
	}
	return min
}

func vectorMax(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	max := v[0]
	for _, x := range v[1:] {
		if x > max {
			max = x
		}
	}
	return max
}
