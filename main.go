package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	version      = flag.Bool("version", false, "Print version info")
	help         = flag.Bool("help", false, "Print help")
	logLevel     = flag.Int("log", 3, "Log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	redisServer  = flag.String("redis_server", "127.0.0.1", "Redis server address")
	redisPort    = flag.Int("redis_port", 6379, "Redis server port")
	canDevice    = flag.String("can_device", "can0", "CAN device name")
	pollInterval = flag.Duration("poll_interval", 10*time.Second, "BMS poll cycle interval")
	updatedBmu   = flag.Bool("updated_bmu", true, "Assume revised BMU firmware when the setting is absent")
)

const (
	ProjectName    = "bms-service"
	ProjectVersion = "1.0.0"
)

func printVersion() {
	fmt.Printf("%s v%s\n", ProjectName, ProjectVersion)
}

func printHelp() {
	printVersion()
	flag.PrintDefaults()
}

func main() {
	flag.Parse()

	if *version {
		printVersion()
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	// Validate log level
	if *logLevel < 0 || *logLevel > 4 {
		log.Fatalf("invalid log level %d", *logLevel)
	}

	opts := &Options{
		LogLevel:        LogLevel(*logLevel),
		RedisServerAddr: *redisServer,
		RedisServerPort: uint16(*redisPort),
		CANDevice:       *canDevice,
		PollInterval:    *pollInterval,
		UpdatedBmu:      *updatedBmu,
	}

	app, err := NewBmsApp(opts)
	if err != nil {
		log.Fatalf("failed to create BMS app: %v", err)
	}
	defer app.Destroy()

	// Handle SIGINT and SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Run until signal received
	<-sigChan
}
