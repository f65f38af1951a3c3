// Package config assembles the settings of the minibroker commands.
//
// Sources, lowest precedence first: defaults, the TOML file
// (~/.minibroker/config.toml), a .env file, MINIBROKER_* environment
// variables, command line flags. A source never overrides a flag the user
// set explicitly.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mini-broker/codec"
	"mini-broker/log"
)

type Config struct {
	LogLevel string

	// Transport
	Codec             string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DialTimeout       time.Duration

	// Registry; empty EtcdEndpoints means static addresses.
	EtcdEndpoints   []string
	EtcdDialTimeout time.Duration
	RegistryTTL     int

	// Broker
	FrontendAddr    string
	BackendAddr     string
	SocketKind      string
	AdminAddr       string
	AdvertiseHost   string
	MaxRedeliveries int
	FrontendRate    float64
	FrontendBurst   int
	ShutdownTimeout time.Duration

	// Client
	BrokerAddr     string
	Payload        string
	RequestTimeout time.Duration
	Retries        int
	PoolSize       int
	Balancer       string
	AffinityKey    string
	ClientRate     float64 // requests per second; 0 is unlimited
	ClientBurst    int

	// Worker
	WorkerAddr   string
	WorkInterval time.Duration
	MaxRequests  int
}

// DefaultConfig returns the settings that reproduce the classic setup:
// clients on 5672, workers on 5673, one request per second per worker.
func DefaultConfig() Config {
	return Config{
		LogLevel:          "info",
		Codec:             "binary",
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		DialTimeout:       5 * time.Second,
		EtcdDialTimeout:   5 * time.Second,
		RegistryTTL:       10,
		FrontendAddr:      "tcp://*:5672",
		BackendAddr:       "tcp://*:5673",
		SocketKind:        "tcp",
		AdminAddr:         ":8086",
		AdvertiseHost:     "127.0.0.1",
		MaxRedeliveries:   1,
		FrontendBurst:     1,
		ShutdownTimeout:   10 * time.Second,
		BrokerAddr:        "tcp://127.0.0.1:5672",
		Payload:           "Hello World",
		RequestTimeout:    30 * time.Second,
		Retries:           0,
		PoolSize:          4,
		Balancer:          "roundrobin",
		ClientBurst:       1,
		WorkerAddr:        "tcp://127.0.0.1:5673",
		WorkInterval:      time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := codec.ParseCodecType(c.Codec); err != nil {
		return err
	}
	if c.FrontendAddr == "" || c.BackendAddr == "" {
		return fmt.Errorf("frontend and backend addresses are required")
	}
	if c.FrontendAddr == c.BackendAddr {
		return fmt.Errorf("frontend and backend must differ (both %s)", c.FrontendAddr)
	}
	switch c.SocketKind {
	case "tcp", "zmq":
	default:
		return fmt.Errorf("socket kind must be tcp or zmq, got %q", c.SocketKind)
	}
	switch c.Balancer {
	case "roundrobin", "weighted", "consistenthash":
	default:
		return fmt.Errorf("unknown balancer %q", c.Balancer)
	}
	if c.HeartbeatInterval < 0 || c.HeartbeatTimeout < 0 {
		return fmt.Errorf("heartbeat durations must not be negative")
	}
	if c.HeartbeatTimeout > 0 && c.HeartbeatInterval > 0 && c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout %s must exceed heartbeat interval %s", c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.WorkInterval < 0 {
		return fmt.Errorf("work interval must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.MaxRedeliveries < 0 || c.Retries < 0 || c.MaxRequests < 0 {
		return fmt.Errorf("counts must not be negative")
	}
	if c.ClientRate < 0 {
		return fmt.Errorf("client rate must not be negative")
	}
	if c.FrontendRate < 0 {
		return fmt.Errorf("frontend rate must not be negative")
	}
	if c.RegistryTTL <= 0 {
		return fmt.Errorf("registry ttl must be positive")
	}
	return nil
}

// configSetter applies values while respecting flag precedence: a value is
// only applied if the corresponding flag hasn't been set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int value, zero included, when present.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int; zero is accepted.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = f
	return nil
}

// splitList splits a comma separated list, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load applies the TOML file at path (skipped when absent), the .env file
// and the environment to cfg, then validates the result.
func Load(cfg *Config, path, dotenv string, changed map[string]bool) error {
	if path != "" && FileExists(path) {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if err := ApplyFileConfig(cfg, fc, changed); err != nil {
			return fmt.Errorf("apply %s: %w", path, err)
		}
	}
	if err := LoadDotEnv(dotenv); err != nil {
		return fmt.Errorf("load %s: %w", dotenv, err)
	}
	if err := ApplyEnvConfig(cfg, changed); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return cfg.Validate()
}
