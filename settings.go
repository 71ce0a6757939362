package main

import (
	"context"

	"bms-service/bms"

	"github.com/go-redis/redis/v8"
)

const (
	settingsHashKey       = "settings"
	settingsFirmwareField = "bms:updated-firmware"
)

// RedisConfig reads the BMU firmware flag from Redis on every call so
// the SoC calibration can be switched at runtime without a restart.
// When the setting is absent or unreadable, the fallback from the
// command line applies.
type RedisConfig struct {
	log      *LeveledLogger
	redis    *redis.Client
	ctx      context.Context
	fallback bool
}

func NewRedisConfig(logger *LeveledLogger, redis *redis.Client, fallback bool) *RedisConfig {
	return &RedisConfig{
		log:      logger,
		redis:    redis,
		ctx:      context.Background(),
		fallback: fallback,
	}
}

func (c *RedisConfig) UpdatedFirmware() bool {
	value, err := c.redis.HGet(c.ctx, settingsHashKey, settingsFirmwareField).Result()
	if err == redis.Nil {
		return c.fallback
	}
	if err != nil {
		c.log.Error("Failed to read firmware setting: %v", err)
		return c.fallback
	}

	switch value {
	case "true", "1", "on":
		return true
	case "false", "0", "off":
		return false
	default:
		c.log.Warn("Unrecognized firmware setting %q, using fallback", value)
		return c.fallback
	}
}

// Ensure RedisConfig implements bms.Config at compile time
var _ bms.Config = (*RedisConfig)(nil)
