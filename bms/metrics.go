package bms

import "sync"

// Metric names written by the decoder
const (
	MetricBatteryVoltage     = "battery:voltage"
	MetricBatteryCurrent     = "battery:current"
	MetricBatteryPower       = "battery:power"
	MetricBatteryPackVoltage = "battery:pack-voltage"
	MetricBatterySoC         = "battery:soc"
	MetricBatterySoCRaw      = "battery:soc-raw"
	MetricBatteryTemp        = "battery:temperature"
	MetricBatterySoH         = "battery:soh"
	MetricRangeEstimated     = "range:estimated"
	MetricRangeIdeal         = "range:ideal"

	// Per-block vectors, indexed by cell stat index
	MetricCellVoltageMin = "cell:voltage-min"
	MetricCellVoltageMax = "cell:voltage-max"
	MetricCellTempMin    = "cell:temp-min"
	MetricCellTempMax    = "cell:temp-max"

	// Pack-wide aggregates over the cell vectors
	MetricPackVoltageMin = "pack:voltage-min"
	MetricPackVoltageMax = "pack:voltage-max"
	MetricPackTempMin    = "pack:temp-min"
	MetricPackTempMax    = "pack:temp-max"

	MetricChargeInProgress   = "charge:in-progress"
	MetricChargeType         = "charge:type"
	MetricChargeState        = "charge:state"
	MetricChargeCurrent      = "charge:current"
	MetricChargePower        = "charge:power"
	MetricChargeVoltage      = "charge:voltage"
	MetricChargeCurrentLimit = "charge:current-limit"
)

// Charge type values
const (
	ChargeTypeNone  = "not charging"
	ChargeTypeType2 = "type2"
	ChargeTypeCcs   = "ccs"
)

// Charge state values
const (
	ChargeStateCharging = "charging"
	ChargeStateTopOff   = "topoff"
	ChargeStateStopped  = "stopped"
	ChargeStateDone     = "done"
)

// MetricStore is the shared telemetry store the decoder writes into.
// Scalars are keyed by name; vector metrics additionally take an element
// index and support a full read for pack-wide aggregation.
type MetricStore interface {
	SetFloat(name string, value float64)
	Float(name string) float64

	SetBool(name string, value bool)
	Bool(name string) bool

	SetString(name string, value string)
	String(name string) string

	SetVectorElem(name string, index int, value float64)
	Vector(name string) []float64
}

// MemoryStore is an in-process MetricStore. It backs the Redis store as
// a read mirror and is used directly in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	floats  map[string]float64
	bools   map[string]bool
	strings map[string]string
	vectors map[string][]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		floats:  make(map[string]float64),
		bools:   make(map[string]bool),
		strings: make(map[string]string),
		vectors: make(map[string][]float64),
	}
}

func (s *MemoryStore) SetFloat(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floats[name] = value
}

func (s *MemoryStore) Float(name string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.floats[name]
}

func (s *MemoryStore) SetBool(name string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bools[name] = value
}

func (s *MemoryStore) Bool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bools[name]
}

func (s *MemoryStore) SetString(name string, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[name] = value
}

func (s *MemoryStore) String(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strings[name]
}

func (s *MemoryStore) SetVectorElem(name string, index int, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vectors[name]
	for len(v) <= index {
		v = append(v, 0)
	}
	v[index] = value
	s.vectors[name] = v
}

func (s *MemoryStore) Vector(name string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := s.vectors[name]
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// Ensure MemoryStore implements MetricStore at compile time
var _ MetricStore = (*MemoryStore)(nil)
