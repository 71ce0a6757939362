package bms

// BMS diagnostic PIDs (ReadDataByIdentifier) recognized by the decoder.
// Responses to any other identifier are ignored.
const (
	BatteryBusVoltagePid  uint16 = 0xb041
	BatteryCurrentPid     uint16 = 0xb042
	BatteryVoltagePid     uint16 = 0xb043
	BatterySoCPid         uint16 = 0xb046
	BmsStatusPid          uint16 = 0xb048
	BatteryCoolantTempPid uint16 = 0xb05c
	BatterySoHPid         uint16 = 0xb061
	BmsRangePid           uint16 = 0xb0ce

	// Per-block cell statistics. Each response is split over two chunks:
	// the first carries vmin and the high byte of vmax, the second the
	// rest of vmax plus the block temperatures.
	Cell1StatPid uint16 = 0xb102
	Cell2StatPid uint16 = 0xb103
	Cell3StatPid uint16 = 0xb104
	Cell4StatPid uint16 = 0xb105
	Cell5StatPid uint16 = 0xb106
	Cell6StatPid uint16 = 0xb107
	Cell7StatPid uint16 = 0xb108
	Cell8StatPid uint16 = 0xb109
	Cell9StatPid uint16 = 0xb10a
)

// CellStatCount is the number of reported battery blocks.
const CellStatCount = 9

// cellStatIndex maps a cell-stat PID to its block index.
func cellStatIndex(pid uint16) (int, bool) {
	if pid < Cell1StatPid || pid > Cell9StatPid {
		return 0, false
	}
	return int(pid - Cell1StatPid), true
}

// BmsStatus represents the battery status code reported by BmsStatusPid
type BmsStatus uint8

const (
	StatusConnectedNotCharging BmsStatus = 0x0 // Connected but not locked
	StatusIdle                 BmsStatus = 0x1 // Ignition off
	StatusRunning              BmsStatus = 0x3 // Ignition on aux or running
	StatusCharging             BmsStatus = 0x6 // Charging normally (AC)
	StatusCcsCharging          BmsStatus = 0x7 // Charging on a rapid CCS charger
	StatusAboutToSleep         BmsStatus = 0x8 // Seen just before going to sleep
	StatusConnected            BmsStatus = 0xa // Connected but not charging
	StatusStartingCharge       BmsStatus = 0xc // Charge about to start
)

var statusDescriptions = map[BmsStatus]string{
	StatusConnectedNotCharging: "connected, not charging",
	StatusIdle:                 "idle",
	StatusRunning:              "running",
	StatusCharging:             "charging",
	StatusCcsCharging:          "ccs charging",
	StatusAboutToSleep:         "about to sleep",
	StatusConnected:            "connected",
	StatusStartingCharge:       "starting charge",
}

// String returns a human-readable description of a status code
func (s BmsStatus) String() string {
	if desc, ok := statusDescriptions[s]; ok {
		return desc
	}
	return "unknown"
}
