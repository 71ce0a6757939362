package main

import (
	"context"
	"fmt"
	"sync"

	"bms-service/bms"

	"github.com/go-redis/redis/v8"
)

const (
	telemetryHashKey          = "bms"
	chargeEventStream         = "events:charge"
	chargeEventStreamMaxLen   = 1000
	chargeNotificationChannel = "bms"
)

// RedisStore is the production bms.MetricStore: every write lands on an
// in-process mirror for read-back and is pushed through to the "bms"
// Redis hash. Charge session transitions additionally go out as events
// on a capped stream plus a pub/sub notification.
type RedisStore struct {
	log   *LeveledLogger
	redis *redis.Client
	mem   *bms.MemoryStore
	mu    sync.Mutex
	ctx   context.Context
}

func NewRedisStore(logger *LeveledLogger, redis *redis.Client) *RedisStore {
	return &RedisStore{
		log:   logger,
		redis: redis,
		mem:   bms.NewMemoryStore(),
		ctx:   context.Background(),
	}
}

func (s *RedisStore) Destroy() {}

func (s *RedisStore) SetFloat(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem.SetFloat(name, value)
	if err := s.redis.HSet(s.ctx, telemetryHashKey, name, value).Err(); err != nil {
		s.log.Error("Failed to write %s: %v", name, err)
	}
}

func (s *RedisStore) Float(name string) float64 {
	return s.mem.Float(name)
}

func (s *RedisStore) SetBool(name string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.mem.Bool(name) != value
	s.mem.SetBool(name, value)

	if err := s.redis.HSet(s.ctx, telemetryHashKey,
		name, map[bool]string{true: "true", false: "false"}[value],
	).Err(); err != nil {
		s.log.Error("Failed to write %s: %v", name, err)
	}

	if name == bms.MetricChargeInProgress && changed {
		s.reportChargeTransition(value)
	}
}

func (s *RedisStore) Bool(name string) bool {
	return s.mem.Bool(name)
}

func (s *RedisStore) SetString(name string, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.mem.String(name) != value
	s.mem.SetString(name, value)

	pipe := s.redis.Pipeline()
	pipe.HSet(s.ctx, telemetryHashKey, name, value)
	if name == bms.MetricChargeState && changed {
		pipe.Publish(s.ctx, chargeNotificationChannel, "charge-state")
	}

	if _, err := pipe.Exec(s.ctx); err != nil {
		s.log.Error("Failed to write %s: %v", name, err)
	}
}

func (s *RedisStore) String(name string) string {
	return s.mem.String(name)
}

func (s *RedisStore) SetVectorElem(name string, index int, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem.SetVectorElem(name, index, value)
	field := fmt.Sprintf("%s:%d", name, index)
	if err := s.redis.HSet(s.ctx, telemetryHashKey, field, value).Err(); err != nil {
		s.log.Error("Failed to write %s: %v", field, err)
	}
}

func (s *RedisStore) Vector(name string) []float64 {
	return s.mem.Vector(name)
}

// reportChargeTransition emits a charge start/stop event with the SoC
// at the time of the transition. Called with s.mu held.
func (s *RedisStore) reportChargeTransition(inProgress bool) {
	event := "stop"
	if inProgress {
		event = "start"
	}

	s.log.Info("Charge session %s (SoC %.1f%%)", event, s.mem.Float(bms.MetricBatterySoC))

	pipe := s.redis.Pipeline()

	pipe.XAdd(s.ctx, &redis.XAddArgs{
		Stream: chargeEventStream,
		MaxLen: chargeEventStreamMaxLen,
		Values: map[string]interface{}{
			"event": event,
			"soc":   s.mem.Float(bms.MetricBatterySoC),
			"type":  s.mem.String(bms.MetricChargeType),
		},
	})

	pipe.Publish(s.ctx, chargeNotificationChannel, "charge")

	if _, err := pipe.Exec(s.ctx); err != nil {
		s.log.Error("Failed to report charge transition: %v", err)
	}
}

// writeDefaults seeds the telemetry hash so consumers see a complete
// field set before the first poll cycle completes.
func (s *RedisStore) writeDefaults() {
	s.SetFloat(bms.MetricBatteryVoltage, 0)
	s.SetFloat(bms.MetricBatteryCurrent, 0)
	s.SetFloat(bms.MetricBatteryPower, 0)
	s.SetFloat(bms.MetricBatteryPackVoltage, 0)
	s.SetFloat(bms.MetricBatterySoC, 0)
	s.SetFloat(bms.MetricBatterySoCRaw, 0)
	s.SetFloat(bms.MetricBatteryTemp, 0)
	s.SetFloat(bms.MetricBatterySoH, 0)
	s.SetFloat(bms.MetricRangeEstimated, 0)
	s.SetFloat(bms.MetricRangeIdeal, 0)
	s.SetBool(bms.MetricChargeInProgress, false)
	s.SetString(bms.MetricChargeType, bms.ChargeTypeNone)

	s.log.Info("Default telemetry state written")
}

// Ensure RedisStore implements bms.MetricStore at compile time
var _ bms.MetricStore = (*RedisStore)(nil)
