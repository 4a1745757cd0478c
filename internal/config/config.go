// Package config holds the server's constructor parameters and their
// defaults.
package config

import (
	"fmt"
	"time"

	"github.com/kfcemployee/cinder/internal/dbpool"
	"github.com/kfcemployee/cinder/internal/logging"
)

// TriggerMode selects which of the listen/connection fds are registered
// edge-triggered: values 0..3 independently toggle the edge-triggered
// flag on the listen and connection masks.
type TriggerMode int

const (
	// TriggerLevelLevel: both listen and connection sockets level-triggered.
	TriggerLevelLevel TriggerMode = iota
	// TriggerLevelEdge: listen level-triggered, connections edge-triggered.
	TriggerLevelEdge
	// TriggerEdgeLevel: listen edge-triggered, connections level-triggered.
	TriggerEdgeLevel
	// TriggerEdgeEdge: both edge-triggered.
	TriggerEdgeEdge
)

// ListenEdgeTriggered reports whether the listen socket should be armed
// edge-triggered under this mode.
func (m TriggerMode) ListenEdgeTriggered() bool {
	return m == TriggerEdgeLevel || m == TriggerEdgeEdge
}

// ConnEdgeTriggered reports whether connection sockets should be armed
// edge-triggered under this mode.
func (m TriggerMode) ConnEdgeTriggered() bool {
	return m == TriggerLevelEdge || m == TriggerEdgeEdge
}

// MaxFD is the maximum number of simultaneous live connections: beyond
// this, new accepts are rejected with an inline "Server busy!" response.
const MaxFD = 65536

// KeepAliveMax / KeepAliveTimeoutSeconds are the values written into the
// "keep-alive: max=6, timeout=120" response header.
const (
	KeepAliveMax            = 6
	KeepAliveTimeoutSeconds = 120
)

// Config is the full set of parameters accepted by the server
// constructor.
type Config struct {
	Port         int
	Trigger      TriggerMode
	IdleTimeout  time.Duration
	Linger       bool
	ResourceRoot string

	DB dbpool.Config

	WorkerCount int

	LogEnabled   bool
	LogLevel     logging.Level
	LogQueueSize int
}

// Default returns a Config with sane defaults for every field (MaxFD
// and the keep-alive parameters are package constants above, not
// configurable).
func Default() Config {
	return Config{
		Port:         8080,
		Trigger:      TriggerEdgeEdge,
		IdleTimeout:  60 * time.Second,
		Linger:       false,
		ResourceRoot: "resources",
		DB: dbpool.Config{
			Host:     "127.0.0.1",
			Port:     3306,
			PoolSize: 8,
		},
		WorkerCount:  8,
		LogEnabled:   true,
		LogLevel:     logging.LevelInfo,
		LogQueueSize: 1024,
	}
}

// Validate checks the invariants expected of constructor parameters:
// port range, a recognized trigger mode, and positive pool sizes.
func (c Config) Validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range [1024,65535]", c.Port)
	}
	if c.Trigger < TriggerLevelLevel || c.Trigger > TriggerEdgeEdge {
		return fmt.Errorf("config: trigger mode %d out of range [0,3]", c.Trigger)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("config: worker count must be positive, got %d", c.WorkerCount)
	}
	if c.DB.PoolSize <= 0 {
		return fmt.Errorf("config: db pool size must be positive, got %d", c.DB.PoolSize)
	}
	return nil
}
