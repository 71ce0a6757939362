package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"bms-service/bms"

	"github.com/brutella/can"
	"github.com/go-redis/redis/v8"
)

type BmsApp struct {
	log       *LeveledLogger
	redis     *redis.Client
	telemetry *RedisStore
	config    *RedisConfig
	decoder   *bms.Decoder
	poller    *Poller
	bus       *can.Bus
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewBmsApp(opts *Options) (*BmsApp, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &BmsApp{
		log:    NewLeveledLogger(log.New(os.Stderr, fmt.Sprintf("%s: ", ProjectName), log.LstdFlags), opts.LogLevel),
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize Redis client with timeouts
	app.redis = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.RedisServerAddr, opts.RedisServerPort),
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	// Test Redis connection with timeout
	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()

	app.log.Info("Connecting to Redis at %s:%d...", opts.RedisServerAddr, opts.RedisServerPort)

	if err := app.redis.Ping(connectCtx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}
	app.log.Info("Successfully connected to Redis")

	app.telemetry = NewRedisStore(app.log, app.redis)
	app.telemetry.writeDefaults()

	// Start health check goroutine
	go app.redisHealthCheck()

	app.config = NewRedisConfig(app.log, app.redis, opts.UpdatedBmu)
	app.decoder = bms.NewDecoder(app.telemetry, app.config, app.log)
	app.log.Info("Decoder initialized")

	// Initialize CAN bus
	bus, err := can.NewBusForInterfaceWithName(opts.CANDevice)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize CAN bus: %v", err)
	}
	app.bus = bus

	app.poller = NewPoller(app.log, bus, app.decoder, opts.PollInterval)
	bus.Subscribe(&frameHandler{poller: app.poller})

	// Start CAN message publishing
	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			app.log.Error("CAN bus publish error: %v", err)
		}
	}()

	app.poller.Start()
	app.log.Info("Poller started on %s", opts.CANDevice)

	return app, nil
}

// Frame handler for CAN messages
type frameHandler struct {
	poller *Poller
}

func (h *frameHandler) Handle(frame can.Frame) {
	h.poller.HandleFrame(frame)
}

func (app *BmsApp) redisHealthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(app.ctx, 2*time.Second)
			if err := app.redis.Ping(ctx).Err(); err != nil {
				app.log.Error("Redis health check failed: %v", err)
			}
			cancel()
		}
	}
}

func (app *BmsApp) Destroy() {
	app.log.Info("Shutting down BMS service...")

	if app.cancel != nil {
		app.cancel()
	}

	if app.poller != nil {
		app.poller.Destroy()
		app.log.Info("Poller shutdown complete")
	}

	if app.bus != nil {
		if err := app.bus.Disconnect(); err != nil {
			app.log.Error("Error disconnecting CAN bus: %v", err)
		}
	}

	if app.telemetry != nil {
		app.telemetry.Destroy()
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.log.Error("Error closing Redis connection: %v", err)
		} else {
			app.log.Info("Redis connection closed")
		}
	}

	app.log.Info("BMS service shutdown complete")
}
